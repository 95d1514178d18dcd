package build

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
)

// ErrManifest indicates Cargo.toml could not be used to name the binary.
var ErrManifest = errors.New("read cargo manifest")

type manifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Bin []struct {
		Name string `toml:"name"`
	} `toml:"bin"`
}

// BinaryName returns the name of the binary built from the manifest at path:
// the first [[bin]] target, else the package name.
func BinaryName(path string) (string, error) {
	var m manifest

	_, err := toml.DecodeFile(path, &m)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrManifest, err)
	}

	for _, bin := range m.Bin {
		if bin.Name != "" {
			return bin.Name, nil
		}
	}

	if m.Package.Name == "" {
		return "", fmt.Errorf("%w: %s has no package name", ErrManifest, path)
	}

	return m.Package.Name, nil
}
