// Package manifest imports folder definitions from a YAML file into the
// registry, so a set of folders can be declared once and applied on any
// machine.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/localfs"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"gopkg.in/yaml.v3"
)

// Manifest is the top level of a pushbox.yaml file.
//
//	version: 1
//	folders:
//	  - name: notes
//	    files: [~/notes/todo.txt, journal.md]
//	    dirs:
//	      - path: ~/notes/daily
//	        recursive: true
type Manifest struct {
	Version int      `yaml:"version"`
	Folders []Folder `yaml:"folders"`
}

// Folder declares one folder and the files it should contain.
type Folder struct {
	Name  string   `yaml:"name"`
	Files []string `yaml:"files"`
	Dirs  []Dir    `yaml:"dirs"`
}

// Dir adds every regular, non-hidden file under Path.
type Dir struct {
	Path      string `yaml:"path"`
	Recursive bool   `yaml:"recursive"`
}

// Load reads and validates a manifest. Relative paths inside it are
// resolved against the manifest's own directory.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}

	if errs := Validate(&m); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	home, _ := os.UserHomeDir()

	for i := range m.Folders {
		f := &m.Folders[i]
		for j := range f.Files {
			f.Files[j] = resolve(base, home, f.Files[j])
		}

		for j := range f.Dirs {
			f.Dirs[j].Path = resolve(base, home, f.Dirs[j].Path)
		}
	}

	return &m, nil
}

func resolve(base, home, p string) string {
	switch {
	case p == "~" && home != "":
		return home
	case strings.HasPrefix(p, "~/") && home != "":
		return filepath.Join(home, p[2:])
	case filepath.IsAbs(p):
		return filepath.Clean(p)
	default:
		return filepath.Join(base, p)
	}
}

// ValidationError holds multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks a manifest for semantic correctness and returns every
// problem found.
func Validate(m *Manifest) []string {
	var errs []string

	if m.Version != 1 {
		errs = append(errs, fmt.Sprintf("unsupported version %d, only version 1 is supported", m.Version))
	}

	seen := make(map[string]bool)

	for i, f := range m.Folders {
		prefix := fmt.Sprintf("folder[%d]", i)
		if f.Name != "" {
			prefix = fmt.Sprintf("folder '%s'", f.Name)
		}

		if err := registry.ValidateName(f.Name); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", prefix, err))
		} else if seen[f.Name] {
			errs = append(errs, fmt.Sprintf("%s: declared twice", prefix))
		}

		seen[f.Name] = true

		for j, p := range f.Files {
			if strings.TrimSpace(p) == "" {
				errs = append(errs, fmt.Sprintf("%s: files[%d] is empty", prefix, j))
			}
		}

		for j, d := range f.Dirs {
			if strings.TrimSpace(d.Path) == "" {
				errs = append(errs, fmt.Sprintf("%s: dirs[%d] has no path", prefix, j))
			}
		}
	}

	return errs
}

// Registry is the part of the registry Import writes to.
type Registry interface {
	CreateFolder(name string) (registry.FolderRecord, error)
	AddFiles(name string, paths []string) ([]registry.FileRef, error)
}

// Report says what Import changed.
type Report struct {
	Created []string
	Added   map[string][]registry.FileRef
}

// Import applies m to reg: missing folders are created, then their files
// added. Both steps are idempotent, so importing the same manifest twice
// changes nothing the second time. The first registry error stops the
// import; folders already applied stay applied.
func Import(reg Registry, m *Manifest) (*Report, error) {
	rep := &Report{Added: make(map[string][]registry.FileRef)}

	for _, f := range m.Folders {
		_, err := reg.CreateFolder(f.Name)
		switch {
		case err == nil:
			rep.Created = append(rep.Created, f.Name)
		case errors.Is(err, pberrors.ErrDuplicateName):
		default:
			return rep, fmt.Errorf("folder %q: %w", f.Name, err)
		}

		paths := append([]string(nil), f.Files...)

		for _, d := range f.Dirs {
			files, err := localfs.ListFiles(d.Path, d.Recursive)
			if err != nil {
				return rep, fmt.Errorf("folder %q: %w", f.Name, err)
			}

			paths = append(paths, files...)
		}

		if len(paths) == 0 {
			continue
		}

		added, err := reg.AddFiles(f.Name, paths)
		if err != nil {
			return rep, fmt.Errorf("folder %q: %w", f.Name, err)
		}

		if len(added) > 0 {
			rep.Added[f.Name] = added
		}
	}

	return rep, nil
}
