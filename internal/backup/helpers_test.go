package backup

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote/remotetest"
	"github.com/stretchr/testify/require"
)

// testFile is a local file to create for a folder, in entry order.
type testFile struct {
	name string
	size int
}

// makeFolder writes files under a temp dir and returns a folder record
// listing them in order. A negative size registers the file without
// creating it.
func makeFolder(t *testing.T, name string, files ...testFile) registry.FolderRecord {
	t.Helper()

	dir := t.TempDir()
	rec := registry.FolderRecord{Name: name}

	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if f.size >= 0 {
			require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("x", f.size)), 0o644))
		}

		rec.Entries = append(rec.Entries, registry.FileRef{LocalPath: path, RemoteName: f.name})
	}

	return rec
}

func remoteNames(refs []registry.FileRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.RemoteName)
	}

	return out
}

func failureNames(fs []Failure) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Ref.RemoteName)
	}

	return out
}

// taggingService adds content tags to a mock so unchanged detection runs.
type taggingService struct {
	*remotetest.MockService
}

func (taggingService) ContentTag(data []byte) string {
	return "tag:" + string(data)
}

// recorder collects progress emissions.
type recorder struct {
	percents []int
}

func (r *recorder) emit(p int) {
	r.percents = append(r.percents, p)
}
