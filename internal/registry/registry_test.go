package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settingsPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "settings.json")
}

func openRegistry(t *testing.T, path string) *Registry {
	t.Helper()
	r, err := Open(path, logging.Discard())
	require.NoError(t, err)
	return r
}

func readDoc(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

// --- Open ---

func TestOpen_MissingWritesDefault(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)

	assert.Empty(t, r.Folders())
	assert.False(t, r.OnboardingDone())

	doc := readDoc(t, path)
	assert.Equal(t, float64(SchemaVersion), doc["schema_version"])
	assert.Equal(t, false, doc["onboarding_done"])
	assert.Equal(t, map[string]any{}, doc["virtual_folders"])
}

func TestOpen_LegacyDocument(t *testing.T) {
	path := settingsPath(t)
	legacy := `{
  "onboarding_done": true,
  "username": "alice",
  "repos": ["notes"],
  "virtual_folders": {"notes": ["/home/alice/a.txt", "/home/alice/b.txt"]}
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	r := openRegistry(t, path)
	assert.True(t, r.OnboardingDone())
	assert.Equal(t, []string{"notes"}, r.Folders())

	entries, err := r.ListEntries("notes")
	require.NoError(t, err)
	assert.Equal(t, []FileRef{
		{LocalPath: "/home/alice/a.txt", RemoteName: "a.txt"},
		{LocalPath: "/home/alice/b.txt", RemoteName: "b.txt"},
	}, entries)

	// Not rewritten until the next mutation.
	_, hasVersion := readDoc(t, path)["schema_version"]
	assert.False(t, hasVersion)
}

func TestOpen_CorruptJSONMovedAside(t *testing.T) {
	path := settingsPath(t)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	r := openRegistry(t, path)
	assert.Empty(t, r.Folders())

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))

	assert.Equal(t, float64(SchemaVersion), readDoc(t, path)["schema_version"])
}

func TestOpen_InvalidDocumentsMovedAside(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"relative path", `{"virtual_folders": {"notes": ["a.txt"]}}`},
		{"duplicate path", `{"virtual_folders": {"notes": ["/x/a.txt", "/x/a.txt"]}}`},
		{"remote name clash", `{"virtual_folders": {"notes": ["/x/a.txt", "/y/a.txt"]}}`},
		{"blank folder name", `{"virtual_folders": {" ": []}}`},
		{"folders wrong type", `{"virtual_folders": ["notes"]}`},
		{"flag wrong type", `{"onboarding_done": "yes"}`},
		{"not an object", `[1, 2]`},
		{"null", `null`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := settingsPath(t)
			require.NoError(t, os.WriteFile(path, []byte(tt.doc), 0o600))

			r := openRegistry(t, path)
			assert.Empty(t, r.Folders())

			matches, err := filepath.Glob(path + ".corrupt-*")
			require.NoError(t, err)
			assert.Len(t, matches, 1)
		})
	}
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	path := settingsPath(t)
	content := `{"schema_version": 99, "virtual_folders": {}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := Open(path, logging.Discard())
	require.Error(t, err)
	assert.ErrorIs(t, err, pberrors.ErrUnsupportedSchema)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data), "file must be left untouched")
}

func TestOpen_NullFolders(t *testing.T) {
	path := settingsPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version":1,"virtual_folders":null}`), 0o600))

	r := openRegistry(t, path)
	assert.Empty(t, r.Folders())
}

// --- CreateFolder ---

func TestCreateFolder(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)

	rec, err := r.CreateFolder("notes")
	require.NoError(t, err)
	assert.Equal(t, "notes", rec.Name)
	assert.Empty(t, rec.Entries)

	// Persisted synchronously.
	reopened := openRegistry(t, path)
	assert.Equal(t, []string{"notes"}, reopened.Folders())
}

func TestCreateFolder_DuplicateLeavesRegistryUnchanged(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)

	_, err := r.CreateFolder("notes")
	require.NoError(t, err)
	_, err = r.AddFiles("notes", []string{"/x/a.txt"})
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = r.CreateFolder("notes")
	require.ErrorIs(t, err, pberrors.ErrDuplicateName)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	entries, err := r.ListEntries("notes")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCreateFolder_CaseSensitive(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)
	_, err = r.CreateFolder("Notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"Notes", "notes"}, r.Folders())
}

func TestCreateFolder_InvalidNames(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	for _, name := range []string{"", "   ", "a/b", `a\b`, ".", ".."} {
		_, err := r.CreateFolder(name)
		assert.ErrorIs(t, err, pberrors.ErrInvalidName, "name %q", name)
	}
	assert.Empty(t, r.Folders())
}

// --- AddFiles ---

func TestAddFiles_Basic(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	added, err := r.AddFiles("notes", []string{"/x/a.txt", "/x/b.txt"})
	require.NoError(t, err)
	assert.Equal(t, []FileRef{
		{LocalPath: "/x/a.txt", RemoteName: "a.txt"},
		{LocalPath: "/x/b.txt", RemoteName: "b.txt"},
	}, added)
}

func TestAddFiles_Idempotent(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	_, err = r.AddFiles("notes", []string{"/x/a.txt"})
	require.NoError(t, err)
	once, err := r.ListEntries("notes")
	require.NoError(t, err)

	added, err := r.AddFiles("notes", []string{"/x/a.txt", "/x/a.txt"})
	require.NoError(t, err)
	assert.Empty(t, added)

	twice, err := r.ListEntries("notes")
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestAddFiles_DuplicateWithinBatch(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	added, err := r.AddFiles("notes", []string{"/x/a.txt", "/x/a.txt"})
	require.NoError(t, err)
	assert.Len(t, added, 1)
}

func TestAddFiles_RelativePathsMadeAbsolute(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	added, err := r.AddFiles("notes", []string{"rel/a.txt"})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.True(t, filepath.IsAbs(added[0].LocalPath))
	assert.Equal(t, "a.txt", added[0].RemoteName)
}

func TestAddFiles_UnknownFolder(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.AddFiles("missing", []string{"/x/a.txt"})
	assert.ErrorIs(t, err, pberrors.ErrUnknownFolder)
}

func TestAddFiles_EmptyPath(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	_, err = r.AddFiles("notes", []string{"/x/a.txt", ""})
	assert.ErrorIs(t, err, pberrors.ErrInvalidPath)

	entries, err := r.ListEntries("notes")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAddFiles_RemoteNameConflictRejectsBatch(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)
	_, err = r.AddFiles("notes", []string{"/x/a.txt"})
	require.NoError(t, err)

	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = r.AddFiles("notes", []string{"/x/c.txt", "/y/a.txt"})
	require.ErrorIs(t, err, pberrors.ErrRemoteNameConflict)
	assert.Contains(t, err.Error(), "/y/a.txt")

	entries, err := r.ListEntries("notes")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "c.txt must not be added either")

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestAddFiles_RemoteNameIsNFC(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	// e + combining acute, as macOS file dialogs return it.
	decomposed := "/x/cafe\u0301.txt"
	added, err := r.AddFiles("notes", []string{decomposed})
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, "caf\u00e9.txt", added[0].RemoteName)
	assert.Equal(t, decomposed, added[0].LocalPath)

	// The precomposed spelling of the same name conflicts.
	_, err = r.AddFiles("notes", []string{"/y/caf\u00e9.txt"})
	assert.ErrorIs(t, err, pberrors.ErrRemoteNameConflict)
}

func TestAddFiles_Persisted(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)
	_, err = r.AddFiles("notes", []string{"/x/b.txt", "/x/a.txt"})
	require.NoError(t, err)

	reopened := openRegistry(t, path)
	entries, err := reopened.ListEntries("notes")
	require.NoError(t, err)
	assert.Equal(t, "/x/b.txt", entries[0].LocalPath, "entry order survives reload")
	assert.Equal(t, "/x/a.txt", entries[1].LocalPath)
}

// --- Persistence details ---

func TestSave_PreservesUnknownKeys(t *testing.T) {
	path := settingsPath(t)
	legacy := `{"username": "alice", "theme": {"dark": true}, "virtual_folders": {}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	r := openRegistry(t, path)
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	doc := readDoc(t, path)
	assert.Equal(t, "alice", doc["username"])
	assert.Equal(t, map[string]any{"dark": true}, doc["theme"])
	assert.Equal(t, float64(SchemaVersion), doc["schema_version"])
	assert.Contains(t, doc["virtual_folders"], "notes")
}

func TestSetOnboardingDone(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)
	require.NoError(t, r.SetOnboardingDone(true))

	reopened := openRegistry(t, path)
	assert.True(t, reopened.OnboardingDone())
}

func TestListEntries_ReturnsCopy(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)
	_, err = r.AddFiles("notes", []string{"/x/a.txt"})
	require.NoError(t, err)

	entries, err := r.ListEntries("notes")
	require.NoError(t, err)
	entries[0].RemoteName = "mutated"

	again, err := r.ListEntries("notes")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", again[0].RemoteName)
}

func TestListEntries_UnknownFolder(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	_, err := r.ListEntries("nope")
	assert.ErrorIs(t, err, pberrors.ErrUnknownFolder)
}

func TestFolderFor(t *testing.T) {
	r := openRegistry(t, settingsPath(t))
	for _, name := range []string{"notes", "backup"} {
		_, err := r.CreateFolder(name)
		require.NoError(t, err)
		_, err = r.AddFiles(name, []string{"/x/shared.txt"})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"backup", "notes"}, r.FolderFor("/x/shared.txt"))
	assert.Empty(t, r.FolderFor("/x/other.txt"))
}

func TestConcurrentMutationsSerialized(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.AddFiles("notes", []string{filepath.Join("/x", strings.Repeat("f", i+1)+".txt")})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	reopened := openRegistry(t, path)
	entries, err := reopened.ListEntries("notes")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

// --- Shared settings file ---

func TestTwoHandles_MutationsMerge(t *testing.T) {
	path := settingsPath(t)
	a := openRegistry(t, path)
	b := openRegistry(t, path)

	_, err := a.CreateFolder("notes")
	require.NoError(t, err)
	_, err = b.CreateFolder("photos")
	require.NoError(t, err)
	_, err = a.AddFiles("photos", []string{"/x/cat.jpg"})
	require.NoError(t, err, "a sees the folder b created")

	reopened := openRegistry(t, path)
	assert.Equal(t, []string{"notes", "photos"}, reopened.Folders())

	entries, err := reopened.ListEntries("photos")
	require.NoError(t, err)
	assert.Equal(t, []FileRef{{LocalPath: "/x/cat.jpg", RemoteName: "cat.jpg"}}, entries)
}

func TestTwoHandles_ReadsSeeOtherWrites(t *testing.T) {
	path := settingsPath(t)
	watching := openRegistry(t, path)
	assert.Empty(t, watching.Folders())

	other := openRegistry(t, path)
	_, err := other.CreateFolder("notes")
	require.NoError(t, err)
	_, err = other.AddFiles("notes", []string{"/x/a.txt"})
	require.NoError(t, err)

	assert.Equal(t, []string{"notes"}, watching.Folders())
	assert.Equal(t, []string{"notes"}, watching.FolderFor("/x/a.txt"))

	rec, err := watching.Folder("notes")
	require.NoError(t, err)
	assert.Len(t, rec.Entries, 1)
}

func TestTwoHandles_DuplicateNameDetected(t *testing.T) {
	path := settingsPath(t)
	a := openRegistry(t, path)
	b := openRegistry(t, path)

	_, err := a.CreateFolder("notes")
	require.NoError(t, err)

	_, err = b.CreateFolder("notes")
	assert.ErrorIs(t, err, pberrors.ErrDuplicateName)
}

func TestTwoHandles_ConcurrentAddsAllKept(t *testing.T) {
	path := settingsPath(t)
	a := openRegistry(t, path)
	_, err := a.CreateFolder("notes")
	require.NoError(t, err)
	b := openRegistry(t, path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		r := a
		if i%2 == 1 {
			r = b
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.AddFiles("notes", []string{filepath.Join("/x", strings.Repeat("f", i+1)+".txt")})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := openRegistry(t, path).ListEntries("notes")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

func TestMutation_UnreadableSettingsNotOverwritten(t *testing.T) {
	path := settingsPath(t)
	r := openRegistry(t, path)
	_, err := r.CreateFolder("notes")
	require.NoError(t, err)

	garbage := []byte("{ this is not json")
	require.NoError(t, os.WriteFile(path, garbage, 0o600))

	_, err = r.CreateFolder("photos")
	require.ErrorContains(t, err, "cannot be read")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(garbage), string(data))

	assert.Equal(t, []string{"notes"}, r.Folders(), "reads fall back to the last good document")
}
