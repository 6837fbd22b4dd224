// Package bundle validates and extracts packaged application bundles and
// parses the embedded app descriptor.
package bundle

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrSecurityViolation indicates an archive entry whose path would escape the
// extraction root.
var ErrSecurityViolation = errors.New("bundle: archive entry escapes extraction root")

// TempStore allocates fresh extraction directories and deletes them again.
// Satisfied by *tempdir.Manager.
type TempStore interface {
	Allocate(appName string) (string, error)
	Release(dir string) error
}

// Extract unpacks the gzip-compressed tar archive at bundlePath into a fresh
// directory from tf and parses the app descriptor. On any failure the partial
// extraction directory is removed before returning.
func Extract(tf TempStore, appName, bundlePath string) (string, *Descriptor, error) {
	// Read the whole archive up front so an unreadable or truncated bundle
	// fails before anything is written to disk.
	raw, err := os.ReadFile(bundlePath)
	if err != nil {
		return "", nil, fmt.Errorf("bundle: failed to read %s: %w", bundlePath, err)
	}

	dir, err := tf.Allocate(appName)
	if err != nil {
		return "", nil, err
	}

	if err := extractArchive(raw, dir); err != nil {
		tf.Release(dir)
		return "", nil, err
	}

	desc, err := ParseDescriptor(dir)
	if err != nil {
		tf.Release(dir)
		return "", nil, err
	}

	return dir, desc, nil
}

func extractArchive(raw []byte, dest string) error {
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("bundle: corrupt archive: %w", err)
	}
	defer gz.Close()

	cleanDest := filepath.Clean(dest)
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bundle: corrupt archive: %w", err)
		}

		target := filepath.Join(dest, header.Name)

		// Positive containment check on the normalized path: the entry must
		// resolve to somewhere inside the extraction root.
		if target != cleanDest && !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("%w: %s", ErrSecurityViolation, header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, header.FileInfo().Mode().Perm()); err != nil {
				return fmt.Errorf("bundle: failed to create directory %s: %w", header.Name, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, header.FileInfo().Mode().Perm(), tr); err != nil {
				return fmt.Errorf("bundle: failed to write %s: %w", header.Name, err)
			}
		default:
			// Links, devices and other special entries have no place in an
			// app bundle; skip them.
		}
	}
}

func writeFile(target string, mode os.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
