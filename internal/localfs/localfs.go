// Package localfs is the small set of local filesystem operations pushbox
// needs: stat, read, list and atomic write. It has no dependency on the
// remote side.
package localfs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultFilePerm is used for files written by pushbox when no existing
// file supplies a mode.
const DefaultFilePerm = fs.FileMode(0o644)

// Info is what the reconciler needs to know about a local file.
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Stat returns Info for a regular file. Directories and other non-regular
// files are rejected; a missing file returns an error matching
// fs.ErrNotExist.
func Stat(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, err
	}

	if !fi.Mode().IsRegular() {
		return Info{}, fmt.Errorf("%s is not a regular file", path)
	}

	return Info{Path: path, Size: fi.Size(), ModTime: fi.ModTime().UTC()}, nil
}

// IsMissing reports whether err means the file is gone.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// ReadFile reads a regular file's bytes.
func ReadFile(path string) ([]byte, error) {
	if _, err := Stat(path); err != nil {
		return nil, err
	}

	return os.ReadFile(path)
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory and a rename, so readers never see a partial file. An existing
// file keeps its permissions; a new one gets perm.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".pushbox-write-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("syncing temp file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	return nil
}
