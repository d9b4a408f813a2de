package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
)

// document is a decoded settings file.
type document struct {
	version    int
	onboarding bool
	folders    map[string]*FolderRecord
	extra      map[string]json.RawMessage
}

// decode parses and validates a settings document. A missing
// schema_version is the unversioned layout written before versioning
// existed, which is otherwise identical to version 1.
func decode(data []byte) (*document, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}

	if raw == nil {
		return nil, fmt.Errorf("settings document is not an object")
	}

	doc := &document{
		folders: make(map[string]*FolderRecord),
		extra:   make(map[string]json.RawMessage),
	}

	for k, v := range raw {
		switch k {
		case keySchemaVersion:
			if err := json.Unmarshal(v, &doc.version); err != nil {
				return nil, fmt.Errorf("%s: %w", keySchemaVersion, err)
			}
		case keyOnboardingDone:
			if err := json.Unmarshal(v, &doc.onboarding); err != nil {
				return nil, fmt.Errorf("%s: %w", keyOnboardingDone, err)
			}
		case keyVirtualFolders:
		default:
			doc.extra[k] = v
		}
	}

	if doc.version > SchemaVersion {
		return nil, fmt.Errorf("%w: file has %d, this build supports up to %d",
			pberrors.ErrUnsupportedSchema, doc.version, SchemaVersion)
	}

	if doc.version < 0 {
		return nil, fmt.Errorf("%s: negative version %d", keySchemaVersion, doc.version)
	}

	folders, ok := raw[keyVirtualFolders]
	if !ok || bytes.Equal(bytes.TrimSpace(folders), []byte("null")) {
		return doc, nil
	}

	var paths map[string][]string
	if err := json.Unmarshal(folders, &paths); err != nil {
		return nil, fmt.Errorf("%s: %w", keyVirtualFolders, err)
	}

	for name, list := range paths {
		rec, err := validateFolder(name, list)
		if err != nil {
			return nil, err
		}

		doc.folders[name] = rec
	}

	return doc, nil
}

func validateFolder(name string, paths []string) (*FolderRecord, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	rec := &FolderRecord{Name: name, Entries: make([]FileRef, 0, len(paths))}
	seenPath := make(map[string]struct{}, len(paths))
	seenRemote := make(map[string]string, len(paths))

	for _, p := range paths {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("folder %q: path %q is not absolute", name, p)
		}

		if _, dup := seenPath[p]; dup {
			return nil, fmt.Errorf("folder %q: path %q listed twice", name, p)
		}

		ref := FileRef{LocalPath: p, RemoteName: RemoteName(p)}
		if other, taken := seenRemote[ref.RemoteName]; taken {
			return nil, fmt.Errorf("folder %q: %w: %s and %s", name, pberrors.ErrRemoteNameConflict, other, p)
		}

		seenPath[p] = struct{}{}
		seenRemote[ref.RemoteName] = p
		rec.Entries = append(rec.Entries, ref)
	}

	return rec, nil
}

// encode renders the document. Keys the registry does not own are written
// back verbatim; encoding/json sorts map keys so output is stable.
func encode(extra map[string]json.RawMessage, onboarding bool, folders map[string]*FolderRecord) ([]byte, error) {
	out := make(map[string]any, len(extra)+3)
	for k, v := range extra {
		out[k] = v
	}

	paths := make(map[string][]string, len(folders))
	for name, rec := range folders {
		list := make([]string, 0, len(rec.Entries))
		for _, e := range rec.Entries {
			list = append(list, e.LocalPath)
		}

		paths[name] = list
	}

	out[keySchemaVersion] = SchemaVersion
	out[keyOnboardingDone] = onboarding
	out[keyVirtualFolders] = paths

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, err
	}

	return append(data, '\n'), nil
}
