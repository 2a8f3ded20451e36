package archdiff

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// ErrUnsafePath is returned for archive entries that would land outside the
// extraction directory.
var ErrUnsafePath = errors.New("unsafe path in archive")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// openTar returns a tar reader over archive, detecting gzip and xz
// compression from the leading bytes rather than the file name.
func openTar(f io.Reader) (*tar.Reader, error) {
	br := bufio.NewReader(f)
	head, _ := br.Peek(len(xzMagic))

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return tar.NewReader(zr), nil
	case bytes.HasPrefix(head, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			return nil, err
		}
		return tar.NewReader(xr), nil
	}
	return tar.NewReader(br), nil
}

// safeJoin maps an entry name to a path under dest.
func safeJoin(dest, name string) (string, error) {
	clean := path.Clean(name)
	if path.IsAbs(name) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if clean == "." {
		return dest, nil
	}
	return filepath.Join(dest, filepath.FromSlash(clean)), nil
}

// extract unpacks regular files and directories of archive into dest.
// Links and device nodes are skipped; NV archives contain neither.
func extract(archive, dest string) error {
	f, err := os.Open(archive) //nolint:gosec // operator supplied archive
	if err != nil {
		return err
	}
	defer f.Close()

	tr, err := openTar(f)
	if err != nil {
		return fmt.Errorf("%s: %w", archive, err)
	}

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", archive, err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
				return err
			}
			if err := writeEntry(target, tr); err != nil {
				return fmt.Errorf("%s: %s: %w", archive, hdr.Name, err)
			}
		}
	}
}

func writeEntry(target string, r io.Reader) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // path checked by safeJoin
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil { //nolint:gosec // archives are operator supplied backups
		out.Close()
		return err
	}
	return out.Close()
}

// List returns the entry names of archive in stored order without
// extracting anything.
func List(archive string) ([]string, error) {
	f, err := os.Open(archive) //nolint:gosec // operator supplied archive
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tr, err := openTar(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", archive, err)
	}
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", archive, err)
		}
		names = append(names, hdr.Name)
	}
}
