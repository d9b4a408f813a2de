package localfs

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// ListFiles returns the absolute paths of the regular files under dir,
// sorted. Hidden files and directories (leading dot) and node_modules are
// skipped. With recursive false only dir's direct children are listed.
func ListFiles(dir string, recursive bool) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	var out []string

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if path == root {
			return nil
		}

		name := d.Name()

		if strings.HasPrefix(name, ".") || (d.IsDir() && name == "node_modules") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			if !recursive {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Type().IsRegular() {
			out = append(out, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	sort.Strings(out)

	return out, nil
}
