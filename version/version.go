// Package version reports build information for the harness binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Version is the application version, set via ldflags.
	Version string
	// Branch is the git branch, set via ldflags.
	Branch string
	// BuildUser is the user who built the binary, set via ldflags.
	BuildUser string
	// BuildDate is when the binary was built, set via ldflags.
	BuildDate string

	// Revision is the git commit revision.
	Revision = getRevision(debug.ReadBuildInfo)
	// GoVersion is the Go version used to build.
	GoVersion = runtime.Version()
	// GoOS is the operating system target.
	GoOS = runtime.GOOS
	// GoArch is the architecture target.
	GoArch = runtime.GOARCH
)

// Info is a snapshot of the build metadata.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	Branch    string `json:"branch,omitempty"`
	BuildUser string `json:"buildUser,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the current [Info].
func Get() Info {
	v := Version
	if v == "" {
		v = "dev"
	}

	return Info{
		Version:   v,
		Revision:  Revision,
		Branch:    Branch,
		BuildUser: BuildUser,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  GoOS + "/" + GoArch,
	}
}

// String formats i for display, omitting unset fields.
func (i Info) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "profharness %s (revision %s", i.Version, i.Revision)

	if i.Branch != "" {
		fmt.Fprintf(&b, ", branch %s", i.Branch)
	}

	b.WriteString(")\n")

	if i.BuildDate != "" || i.BuildUser != "" {
		fmt.Fprintf(&b, "  built %s by %s\n", orUnknown(i.BuildDate), orUnknown(i.BuildUser))
	}

	fmt.Fprintf(&b, "  %s %s\n", i.GoVersion, i.Platform)

	return b.String()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}

func getRevision(read func() (*debug.BuildInfo, bool)) string {
	rev := "unknown"

	buildInfo, ok := read()
	if !ok {
		return rev
	}

	modified := false

	for _, v := range buildInfo.Settings {
		switch v.Key {
		case "vcs.revision":
			rev = v.Value
		case "vcs.modified":
			if v.Value == "true" {
				modified = true
			}
		}
	}

	if modified {
		return rev + "-dirty"
	}

	return rev
}
