// Package backup is the upload core: it makes sure a folder's repository
// exists, decides per file whether to create, update or leave it alone,
// writes the files and reports progress.
package backup

import (
	"errors"
	"fmt"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/registry"
)

// Action is what a plan step does to its remote object.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Step is one planned write. VersionTag is set for updates only.
type Step struct {
	Ref        registry.FileRef
	Action     Action
	VersionTag string
	Size       int64
}

// Failure is a file that could not be planned or written, with the cause.
type Failure struct {
	Ref registry.FileRef
	Err error
}

// Warning is reported for entries left out of a run that are not
// failures, currently only files missing from disk.
type Warning struct {
	Ref registry.FileRef
	Err error
}

func (w Warning) Error() string {
	return fmt.Sprintf("%s: %v", w.Ref.LocalPath, w.Err)
}

// Plan is the ordered set of writes for one run. It is never persisted.
type Plan struct {
	Steps      []Step
	Skipped    []Warning
	Failed     []Failure
	Unchanged  []registry.FileRef
	TotalBytes int64
}

// Result is the outcome of a run. Every entry of the folder lands in
// exactly one of Succeeded, Failed, Skipped, Unchanged or NotAttempted.
type Result struct {
	Folder       string
	Succeeded    []registry.FileRef
	Failed       []Failure
	Skipped      []Warning
	Unchanged    []registry.FileRef
	NotAttempted []registry.FileRef
	Cancelled    bool
	Progress     int
}

// Outcome labels the result for logs and metrics.
func (r *Result) Outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case len(r.Failed) == 0:
		return "success"
	case len(r.Succeeded) == 0 && len(r.Unchanged) == 0:
		return "failed"
	default:
		return "partial"
	}
}

// Total is the number of folder entries the result accounts for.
func (r *Result) Total() int {
	return len(r.Succeeded) + len(r.Failed) + len(r.Skipped) + len(r.Unchanged) + len(r.NotAttempted)
}

// Err summarises the result as an error, nil for a full success. Per-file
// causes are joined so callers can match on ErrTimeout and friends.
func (r *Result) Err() error {
	if r.Cancelled {
		return fmt.Errorf("%w: %d of %d files not attempted", pberrors.ErrCancelled, len(r.NotAttempted), r.Total())
	}

	if len(r.Failed) == 0 {
		return nil
	}

	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.Ref.RemoteName, f.Err))
	}

	return fmt.Errorf("%d of %d files failed: %w", len(r.Failed), r.Total(), errors.Join(errs...))
}
