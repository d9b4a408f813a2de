package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/pushbox/internal/localfs"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/alexjbarnes/pushbox/internal/state"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrNotSupported is returned when the configured backend lacks an
// optional capability.
var ErrNotSupported = errors.New("not supported by this backend")

// RemoteFiles lists the objects in folder's repository.
func (r *Runner) RemoteFiles(ctx context.Context, folder string) ([]remote.Object, error) {
	if _, err := r.folders.Folder(folder); err != nil {
		return nil, err
	}

	svc, err := r.service(ctx)
	if err != nil {
		return nil, err
	}

	lister, ok := svc.(remote.Lister)
	if !ok {
		return nil, fmt.Errorf("listing objects: %w", ErrNotSupported)
	}

	return lister.ListObjects(ctx, folder)
}

func (r *Runner) fetch(ctx context.Context, folder, remoteName string) ([]byte, error) {
	svc, err := r.service(ctx)
	if err != nil {
		return nil, err
	}

	fetcher, ok := svc.(remote.Fetcher)
	if !ok {
		return nil, fmt.Errorf("fetching objects: %w", ErrNotSupported)
	}

	return fetcher.FetchObject(ctx, folder, remoteName)
}

// Pull downloads remoteName from folder's repository to dest. An empty
// dest restores over the registered local file with that remote name; a
// directory dest receives the file under its remote name. The write is
// atomic. Returns the path written.
func (r *Runner) Pull(ctx context.Context, folder, remoteName, dest string) (string, error) {
	rec, err := r.folders.Folder(folder)
	if err != nil {
		return "", err
	}

	if dest == "" {
		ref, ok := findRemote(rec, remoteName)
		if !ok {
			return "", fmt.Errorf("%q is not a registered file of %q; give a destination", remoteName, folder)
		}

		dest = ref.LocalPath
	} else if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		dest = filepath.Join(dest, filepath.Base(remoteName))
	}

	data, err := r.fetch(ctx, folder, remoteName)
	if err != nil {
		return "", err
	}

	if err := localfs.WriteFileAtomic(dest, data, localfs.DefaultFilePerm); err != nil {
		return "", fmt.Errorf("writing %s: %w", dest, err)
	}

	r.logger.Info("pulled file",
		slog.String("folder", folder),
		slog.String("path", remoteName),
		slog.String("dest", dest),
		slog.Int("bytes", len(data)),
	)

	return dest, nil
}

// Diff compares the remote copy of remoteName with the registered local
// file, line by line. Lines only in the remote copy are prefixed "-",
// lines only in the local file "+". Identical content gives "".
func (r *Runner) Diff(ctx context.Context, folder, remoteName string) (string, error) {
	rec, err := r.folders.Folder(folder)
	if err != nil {
		return "", err
	}

	ref, ok := findRemote(rec, remoteName)
	if !ok {
		return "", fmt.Errorf("%q is not a registered file of %q", remoteName, folder)
	}

	local, err := localfs.ReadFile(ref.LocalPath)
	if err != nil {
		return "", err
	}

	remoteData, err := r.fetch(ctx, folder, remoteName)
	if err != nil {
		return "", err
	}

	return LineDiff(string(remoteData), string(local)), nil
}

// LineDiff renders a line-level diff from a to b.
func LineDiff(a, b string) string {
	if a == b {
		return ""
	}

	dmp := diffmatchpatch.New()
	ca, cb, lines := dmp.DiffLinesToChars(a, b)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(ca, cb, false), lines)

	var sb strings.Builder

	for _, d := range diffs {
		prefix := " "

		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		case diffmatchpatch.DiffEqual:
		}

		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}

			sb.WriteString(prefix)
			sb.WriteString(line)

			if !strings.HasSuffix(line, "\n") {
				sb.WriteString("\n")
			}
		}
	}

	return sb.String()
}

func findRemote(rec registry.FolderRecord, remoteName string) (registry.FileRef, bool) {
	for _, e := range rec.Entries {
		if e.RemoteName == remoteName {
			return e, true
		}
	}

	return registry.FileRef{}, false
}

// FileStatus is the local view of one entry: what is on disk and what was
// last pushed. It never contacts the remote.
type FileStatus struct {
	Ref     registry.FileRef
	Present bool
	Size    int64
	ModTime time.Time
	Last    *state.PushRecord
}

// Pending reports whether the file looks changed since its last push.
// It is a hint; the next push still asks the remote.
func (s FileStatus) Pending() bool {
	if !s.Present {
		return false
	}

	if s.Last == nil {
		return true
	}

	return s.Size != s.Last.Size || s.ModTime.After(s.Last.PushedAt)
}

// Status reports each entry of folder against its push record.
func (r *Runner) Status(folder string) ([]FileStatus, error) {
	rec, err := r.folders.Folder(folder)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]state.PushRecord)

	if r.records != nil {
		records, err := r.records.PushRecords(folder)
		if err != nil {
			return nil, fmt.Errorf("reading push records: %w", err)
		}

		for _, pr := range records {
			byName[pr.RemoteName] = pr
		}
	}

	out := make([]FileStatus, 0, len(rec.Entries))

	for _, e := range rec.Entries {
		fs := FileStatus{Ref: e}

		if info, err := localfs.Stat(e.LocalPath); err == nil {
			fs.Present = true
			fs.Size = info.Size
			fs.ModTime = info.ModTime
		}

		if pr, ok := byName[e.RemoteName]; ok {
			fs.Last = &pr
		}

		out = append(out, fs)
	}

	return out, nil
}
