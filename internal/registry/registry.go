// Package registry owns the user's virtual folders: named, ordered groups
// of local files, each mirrored to one remote repository. Folders live in
// the "virtual_folders" key of a JSON settings document that other parts
// of the application may also write to; keys the registry does not own are
// preserved on save.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/localfs"
	"golang.org/x/text/unicode/norm"
)

// SchemaVersion is the settings document version this build writes.
const SchemaVersion = 1

const (
	keySchemaVersion  = "schema_version"
	keyOnboardingDone = "onboarding_done"
	keyVirtualFolders = "virtual_folders"

	settingsPerm = os.FileMode(0o600)
)

// FileRef is one local file in a folder and the name it is stored under
// remotely.
type FileRef struct {
	LocalPath  string `json:"local_path"`
	RemoteName string `json:"remote_name"`
}

// FolderRecord is a named group of files.
type FolderRecord struct {
	Name    string    `json:"name"`
	Entries []FileRef `json:"entries"`
}

// RemoteName derives the remote name for a local path: its base name in
// Unicode NFC, so the same file added from macOS (NFD) and Linux maps to
// one remote object.
func RemoteName(localPath string) string {
	return norm.NFC.String(filepath.Base(localPath))
}

// ValidateName checks a folder name. Names become repository names, so
// they may not be blank or contain path separators.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: folder name is empty", pberrors.ErrInvalidName)
	}

	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", pberrors.ErrInvalidName, name)
	}

	return nil
}

// Registry is the folder registry backed by one settings file. Several
// handles, in one process or many, may share the file: every mutation
// takes the settings lock, applies itself to the document as it is on disk
// and persists before returning, and reads pick up writes made through
// other handles.
type Registry struct {
	path   string
	logger *slog.Logger

	mu         sync.Mutex
	seen       os.FileInfo // settings file as last read or written
	warned     bool
	extra      map[string]json.RawMessage
	onboarding bool
	folders    map[string]*FolderRecord
}

// Open loads the settings document at path. A missing file is created with
// the default document. A document that cannot be parsed or fails
// validation is moved aside to <path>.corrupt-<unix> and replaced with the
// default. A document from a newer pushbox fails with ErrUnsupportedSchema
// and is left untouched.
func Open(path string, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		path:    path,
		logger:  logger,
		extra:   make(map[string]json.RawMessage),
		folders: make(map[string]*FolderRecord),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}

	unlock, err := lockSettings(path)
	if err != nil {
		return nil, err
	}
	defer unlock()

	info, _ := os.Stat(path)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Info("settings not found, writing defaults", slog.String("path", path))
		return r, r.save()
	}

	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	doc, err := decode(data)
	if err != nil {
		if errors.Is(err, pberrors.ErrUnsupportedSchema) {
			return nil, err
		}

		return r, r.quarantine(err)
	}

	r.apply(doc, info)

	if doc.version < SchemaVersion {
		logger.Info("settings use an older schema, will upgrade on next save",
			slog.Int("schema_version", doc.version),
		)
	}

	return r, nil
}

// quarantine moves the unusable settings file aside and writes defaults.
func (r *Registry) quarantine(cause error) error {
	aside := fmt.Sprintf("%s.corrupt-%d", r.path, time.Now().Unix())
	if err := os.Rename(r.path, aside); err != nil {
		return fmt.Errorf("moving corrupt settings aside: %w", err)
	}

	r.logger.Warn("settings file was invalid, reset to defaults",
		slog.String("path", r.path),
		slog.String("moved_to", aside),
		slog.String("error", cause.Error()),
	)

	return r.save()
}

// apply replaces the in-memory document with one read from disk.
func (r *Registry) apply(doc *document, info os.FileInfo) {
	r.extra = doc.extra
	r.onboarding = doc.onboarding
	r.folders = doc.folders
	r.seen = info
}

// reload re-reads the settings file if another handle has replaced it
// since this one last read or wrote it. Callers hold r.mu.
func (r *Registry) reload() error {
	info, err := os.Stat(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("checking settings: %w", err)
	}

	if r.seen != nil && os.SameFile(r.seen, info) &&
		r.seen.ModTime().Equal(info.ModTime()) && r.seen.Size() == info.Size() {
		return nil
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	doc, err := decode(data)
	if err != nil {
		return fmt.Errorf("settings changed on disk and cannot be read: %w", err)
	}

	r.apply(doc, info)

	return nil
}

// refresh reloads for a read. On failure the last good document is kept
// and the problem is logged once until a reload succeeds again.
func (r *Registry) refresh() {
	err := r.reload()
	if err == nil {
		r.warned = false
		return
	}

	if !r.warned {
		r.logger.Warn("using last loaded settings",
			slog.String("path", r.path),
			slog.String("error", err.Error()),
		)
		r.warned = true
	}
}

// lockAndReload takes the settings lock and brings the document up to date
// so a mutation applies on top of writes from other handles. Callers hold
// r.mu and must call the returned func when done.
func (r *Registry) lockAndReload() (func(), error) {
	unlock, err := lockSettings(r.path)
	if err != nil {
		return nil, err
	}

	if err := r.reload(); err != nil {
		unlock()
		return nil, err
	}

	return unlock, nil
}

// Path returns the settings file location.
func (r *Registry) Path() string {
	return r.path
}

// CreateFolder adds an empty folder. An existing name is an error and the
// registry is left as it was.
func (r *Registry) CreateFolder(name string) (FolderRecord, error) {
	if err := ValidateName(name); err != nil {
		return FolderRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	unlock, err := r.lockAndReload()
	if err != nil {
		return FolderRecord{}, err
	}
	defer unlock()

	if _, ok := r.folders[name]; ok {
		return FolderRecord{}, fmt.Errorf("%w: %q", pberrors.ErrDuplicateName, name)
	}

	rec := &FolderRecord{Name: name}
	r.folders[name] = rec

	if err := r.save(); err != nil {
		delete(r.folders, name)
		return FolderRecord{}, err
	}

	r.logger.Info("folder created", slog.String("folder", name))

	return rec.clone(), nil
}

// AddFiles appends paths to a folder and returns the refs that were new.
// Paths are made absolute; ones already in the folder are skipped. If any
// new path would share a remote name with a different path the whole
// batch is rejected with ErrRemoteNameConflict and nothing changes.
func (r *Registry) AddFiles(name string, paths []string) ([]FileRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	unlock, err := r.lockAndReload()
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, ok := r.folders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", pberrors.ErrUnknownFolder, name)
	}

	byPath := make(map[string]struct{}, len(rec.Entries))
	byRemote := make(map[string]string, len(rec.Entries))

	for _, e := range rec.Entries {
		byPath[e.LocalPath] = struct{}{}
		byRemote[e.RemoteName] = e.LocalPath
	}

	var added []FileRef

	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: empty", pberrors.ErrInvalidPath)
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}

		if _, dup := byPath[abs]; dup {
			continue
		}

		ref := FileRef{LocalPath: abs, RemoteName: RemoteName(abs)}
		if other, taken := byRemote[ref.RemoteName]; taken {
			return nil, fmt.Errorf("%w: %s and %s would both be stored as %q",
				pberrors.ErrRemoteNameConflict, other, abs, ref.RemoteName)
		}

		byPath[abs] = struct{}{}
		byRemote[ref.RemoteName] = abs
		added = append(added, ref)
	}

	if len(added) == 0 {
		return nil, nil
	}

	before := len(rec.Entries)
	rec.Entries = append(rec.Entries, added...)

	if err := r.save(); err != nil {
		rec.Entries = rec.Entries[:before:before]
		return nil, err
	}

	r.logger.Info("files added",
		slog.String("folder", name),
		slog.Int("added", len(added)),
		slog.Int("total", len(rec.Entries)),
	)

	return added, nil
}

// ListEntries returns a copy of the folder's entries in order.
func (r *Registry) ListEntries(name string) ([]FileRef, error) {
	rec, err := r.Folder(name)
	if err != nil {
		return nil, err
	}

	return rec.Entries, nil
}

// Folder returns a copy of one folder.
func (r *Registry) Folder(name string) (FolderRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refresh()

	rec, ok := r.folders[name]
	if !ok {
		return FolderRecord{}, fmt.Errorf("%w: %q", pberrors.ErrUnknownFolder, name)
	}

	return rec.clone(), nil
}

// Folders returns all folder names, sorted.
func (r *Registry) Folders() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refresh()

	names := make([]string, 0, len(r.folders))
	for n := range r.folders {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// FolderFor returns the folders that contain localPath.
func (r *Registry) FolderFor(localPath string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refresh()

	var out []string

	for name, rec := range r.folders {
		for _, e := range rec.Entries {
			if e.LocalPath == localPath {
				out = append(out, name)
				break
			}
		}
	}

	sort.Strings(out)

	return out
}

// OnboardingDone reports the first-run flag.
func (r *Registry) OnboardingDone() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refresh()

	return r.onboarding
}

// SetOnboardingDone sets and persists the first-run flag.
func (r *Registry) SetOnboardingDone(done bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	unlock, err := r.lockAndReload()
	if err != nil {
		return err
	}
	defer unlock()

	prev := r.onboarding
	r.onboarding = done

	if err := r.save(); err != nil {
		r.onboarding = prev
		return err
	}

	return nil
}

// save writes the document. Callers hold r.mu and the settings lock.
func (r *Registry) save() error {
	data, err := encode(r.extra, r.onboarding, r.folders)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	if err := localfs.WriteFileAtomic(r.path, data, settingsPerm); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}

	if info, err := os.Stat(r.path); err == nil {
		r.seen = info
	}

	return nil
}

func (f *FolderRecord) clone() FolderRecord {
	out := FolderRecord{Name: f.Name, Entries: make([]FileRef, len(f.Entries))}
	copy(out.Entries, f.Entries)

	return out
}
