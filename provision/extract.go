package provision

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrUnsafeArchive indicates an archive entry would be written outside the
// extraction directory.
var ErrUnsafeArchive = errors.New("unsafe archive entry")

// extract unpacks the gzip-compressed tarball at archive into root/topDir.
// The archive must contain topDir as its top-level directory. Extraction
// happens in a staging directory under root which replaces any previous
// root/topDir only after every entry was written.
func extract(archive, root, topDir string) error {
	//nolint:gosec // Path is derived from the configured install root.
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(archive), err)
	}
	defer zr.Close()

	staging, err := os.MkdirTemp(root, ".extract-*")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	err = untar(tar.NewReader(zr), staging)
	if err != nil {
		return fmt.Errorf("extract %s: %w", filepath.Base(archive), err)
	}

	src := filepath.Join(staging, topDir)

	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("extract %s: archive has no top-level directory %q", filepath.Base(archive), topDir)
	}

	dst := filepath.Join(root, topDir)

	err = os.RemoveAll(dst)
	if err != nil {
		return fmt.Errorf("remove stale source tree: %w", err)
	}

	err = os.Rename(src, dst)
	if err != nil {
		return fmt.Errorf("move source tree into place: %w", err)
	}

	return nil
}

func untar(tr *tar.Reader, dir string) error {
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}

		if errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("%w: %w", ErrUnsafeArchive, err)
		}

		if err != nil {
			return err //nolint:wrapcheck // Wrapped by caller.
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, 0o755)

		case tar.TypeReg:
			err = writeFile(target, tr, hdr.FileInfo().Mode().Perm())

		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("%w: %s links to absolute path", ErrUnsafeArchive, hdr.Name)
			}

			if _, err = safeJoin(dir, filepath.Join(filepath.Dir(hdr.Name), hdr.Linkname)); err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(target), 0o755)
			if err == nil {
				err = os.Symlink(hdr.Linkname, target)
			}

		default:
			// Device nodes, hard links and the like never appear in source
			// releases.
			continue
		}

		if err != nil {
			return fmt.Errorf("%s: %w", hdr.Name, err)
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return err //nolint:wrapcheck // Wrapped by caller.
	}

	//nolint:gosec // Path validated by safeJoin.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o200)
	if err != nil {
		return err //nolint:wrapcheck // Wrapped by caller.
	}

	//nolint:gosec // Archives are operator-selected source releases.
	_, err = io.Copy(f, r)
	if err != nil {
		return errors.Join(err, f.Close())
	}

	return f.Close() //nolint:wrapcheck // Wrapped by caller.
}

// safeJoin joins name onto dir and rejects results outside dir.
func safeJoin(dir, name string) (string, error) {
	target := filepath.Join(dir, name)

	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}

	return target, nil
}
