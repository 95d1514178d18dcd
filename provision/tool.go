package provision

import (
	"os"
	"path/filepath"
	"strings"
)

// Tool identifies one library to provision.
type Tool struct {
	Name    string `json:"name"    jsonschema:"library name, substituted for {name} in the URL template"`
	Version string `json:"version" jsonschema:"library version, substituted for {version} in the URL template"`
	// URLTemplate is the source archive location with {name} and {version}
	// placeholders.
	URLTemplate string `json:"url,omitempty" jsonschema:"source archive URL template"`
	// Library is the shared library base name installed by the tool, used to
	// check that an install is present (for example "libprofiler").
	Library       string   `json:"library,omitempty"        jsonschema:"installed shared library base name"`
	ConfigureArgs []string `json:"configureArgs,omitempty" jsonschema:"extra ./configure arguments"`
}

var (
	// Libunwind is the reference unwinder release.
	Libunwind = Tool{
		Name:        "libunwind",
		Version:     "0.99-beta",
		URLTemplate: "https://download.savannah.nongnu.org/releases/{name}/{name}-{version}.tar.gz",
		Library:     "libunwind",
	}

	// Gperftools is the reference sampling profiler release.
	Gperftools = Tool{
		Name:        "gperftools",
		Version:     "2.7",
		URLTemplate: "https://github.com/gperftools/gperftools/releases/download/{name}-{version}/{name}-{version}.tar.gz",
		Library:     "libprofiler",
	}
)

// WithDefaults fills an empty URL template and library name from the
// reference tool of the same name.
func (t Tool) WithDefaults() Tool {
	for _, ref := range []Tool{Libunwind, Gperftools} {
		if ref.Name != t.Name {
			continue
		}

		if t.URLTemplate == "" {
			t.URLTemplate = ref.URLTemplate
		}

		if t.Library == "" {
			t.Library = ref.Library
		}
	}

	return t
}

// String returns "name-version", which is also the expected top-level
// directory of the source archive.
func (t Tool) String() string {
	return t.Name + "-" + t.Version
}

// URL expands the URL template.
func (t Tool) URL() string {
	return strings.NewReplacer("{name}", t.Name, "{version}", t.Version).Replace(t.URLTemplate)
}

// ArchiveName is the file name the archive is stored under in the install
// root.
func (t Tool) ArchiveName() string {
	return t.String() + ".tar.gz"
}

// stampName is the marker written after a successful install.
func (t Tool) stampName() string {
	return "." + t.String() + ".installed"
}

// libraryName returns the base name used to detect an installed library.
func (t Tool) libraryName() string {
	if t.Library != "" {
		return t.Library
	}

	return "lib" + t.Name
}

// LibraryInstalled reports whether the tool's shared library exists in
// libDir.
func (t Tool) LibraryInstalled(libDir string) bool {
	for _, pattern := range []string{".so", ".so.*", ".dylib", ".*.dylib"} {
		matches, err := filepath.Glob(filepath.Join(libDir, t.libraryName()+pattern))
		if err != nil {
			continue
		}

		for _, m := range matches {
			if _, err := os.Stat(m); err == nil {
				return true
			}
		}
	}

	return false
}
