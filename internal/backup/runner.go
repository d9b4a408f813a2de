package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alexjbarnes/pushbox/internal/credentials"
	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/localfs"
	"github.com/alexjbarnes/pushbox/internal/metrics"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/alexjbarnes/pushbox/internal/state"
)

// FolderSource is the part of the registry a run reads.
type FolderSource interface {
	Folder(name string) (registry.FolderRecord, error)
}

// RecordStore keeps the last successful write of each file.
type RecordStore interface {
	SetPushRecord(folder string, rec state.PushRecord) error
	PushRecords(folder string) ([]state.PushRecord, error)
}

// Connector builds a remote service for the given credentials.
type Connector func(ctx context.Context, creds credentials.Credentials) (remote.Service, error)

// Options tunes a Runner. Zero values use the package defaults.
type Options struct {
	Visibility        remote.Visibility
	LookupConcurrency int
	UploadConcurrency int
	CallTimeout       time.Duration
	SkipUnchanged     bool
	CredentialsWait   time.Duration
}

// Callbacks receive a run's events. Any may be nil. OnProgress is never
// called concurrently with itself.
type Callbacks struct {
	OnProgress func(percent int)
	OnWarning  func(w Warning)
	OnComplete func(res *Result)
}

// Outcome is what PushAsync delivers.
type Outcome struct {
	Result *Result
	Err    error
}

// Runner wires the registry, credentials and remote service into push
// runs. It holds no per-run state, so one Runner serves every caller.
type Runner struct {
	folders FolderSource
	creds   credentials.Provider
	connect Connector
	records RecordStore
	locks   *PathLocks
	opts    Options
	logger  *slog.Logger
}

// NewRunner creates a runner. records may be nil to skip push records.
func NewRunner(folders FolderSource, creds credentials.Provider, connect Connector, records RecordStore, opts Options, logger *slog.Logger) *Runner {
	if opts.Visibility == "" {
		opts.Visibility = remote.Private
	}

	return &Runner{
		folders: folders,
		creds:   creds,
		connect: connect,
		records: records,
		locks:   NewPathLocks(),
		opts:    opts,
		logger:  logger,
	}
}

// service waits for credentials and connects. Failures are
// ErrAuthentication so a run aborts before any write.
func (r *Runner) service(ctx context.Context) (remote.Service, error) {
	creds, err := credentials.Await(ctx, r.creds, r.opts.CredentialsWait)
	if err != nil {
		return nil, err
	}

	svc, err := r.connect(ctx, creds)
	if err != nil {
		if errors.Is(err, pberrors.ErrAuthentication) {
			return nil, err
		}

		return nil, fmt.Errorf("connecting to remote: %w", err)
	}

	return svc, nil
}

// Push runs one upload of folder: ensure the repository, plan, execute.
// The returned error is set only when the run is aborted before any file
// is attempted (unknown folder, credentials, empty folder, repository
// failure). Partial failures and cancellation are reported in the Result.
func (r *Runner) Push(ctx context.Context, folder string, cb Callbacks) (*Result, error) {
	start := time.Now()

	res, err := r.push(ctx, folder, cb)
	if err != nil {
		metrics.RecordRun("aborted", time.Since(start))
		r.logger.Warn("push aborted", slog.String("folder", folder), slog.String("error", err.Error()))

		return nil, err
	}

	metrics.RecordRun(res.Outcome(), time.Since(start))
	r.logger.Info("push complete",
		slog.String("folder", folder),
		slog.String("outcome", res.Outcome()),
		slog.Int("succeeded", len(res.Succeeded)),
		slog.Int("failed", len(res.Failed)),
		slog.Int("unchanged", len(res.Unchanged)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if cb.OnComplete != nil {
		cb.OnComplete(res)
	}

	return res, nil
}

// PushAsync runs Push on its own goroutine. The channel receives exactly
// one Outcome and is then closed.
func (r *Runner) PushAsync(ctx context.Context, folder string, cb Callbacks) <-chan Outcome {
	ch := make(chan Outcome, 1)

	go func() {
		defer close(ch)

		res, err := r.Push(ctx, folder, cb)
		ch <- Outcome{Result: res, Err: err}
	}()

	return ch
}

func (r *Runner) push(ctx context.Context, folder string, cb Callbacks) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", pberrors.ErrCancelled, err)
	}

	rec, err := r.folders.Folder(folder)
	if err != nil {
		return nil, err
	}

	if err := checkNotEmpty(rec); err != nil {
		return nil, err
	}

	svc, err := r.service(ctx)
	if err != nil {
		return nil, err
	}

	if err := NewResolver(svc, r.logger).EnsureRepository(ctx, folder, r.opts.Visibility); err != nil {
		return nil, err
	}

	res := &Result{Folder: folder}

	plan, err := NewReconciler(svc, r.opts.LookupConcurrency, r.opts.SkipUnchanged, r.logger).Plan(ctx, folder, rec)
	if errors.Is(err, pberrors.ErrCancelled) {
		res.Cancelled = true
		res.NotAttempted = append(res.NotAttempted, rec.Entries...)

		return res, nil
	}

	if err != nil {
		return nil, err
	}

	for _, w := range plan.Skipped {
		metrics.RecordSkipped("missing")
		r.logger.Warn("skipping missing file", slog.String("folder", folder), slog.String("path", w.Ref.LocalPath))

		if cb.OnWarning != nil {
			cb.OnWarning(w)
		}
	}

	for range plan.Unchanged {
		metrics.RecordSkipped("unchanged")
	}

	progress := NewProgressTracker(plan.TotalBytes, cb.OnProgress)
	exec := NewExecutor(svc, r.locks, r.opts.UploadConcurrency, r.opts.CallTimeout, r.logger).Execute(ctx, folder, plan, progress)

	res.Succeeded = exec.Succeeded()
	res.Failed = append(plan.Failed, exec.Failed...)
	res.Skipped = plan.Skipped
	res.Unchanged = plan.Unchanged
	res.NotAttempted = exec.NotAttempted
	res.Cancelled = exec.Cancelled
	res.Progress = progress.Last()

	r.saveRecords(folder, exec.Written)

	return res, nil
}

// checkNotEmpty rejects folders with no entries or no bytes on disk.
func checkNotEmpty(rec registry.FolderRecord) error {
	if len(rec.Entries) == 0 {
		return fmt.Errorf("%w: %q has no files", pberrors.ErrEmptyFolder, rec.Name)
	}

	var total int64

	for _, e := range rec.Entries {
		if info, err := localfs.Stat(e.LocalPath); err == nil {
			total += info.Size
		}
	}

	if total == 0 {
		return fmt.Errorf("%w: %q has no bytes to upload", pberrors.ErrEmptyFolder, rec.Name)
	}

	return nil
}

func (r *Runner) saveRecords(folder string, written []Written) {
	if r.records == nil {
		return
	}

	now := time.Now().UTC()

	for _, w := range written {
		err := r.records.SetPushRecord(folder, state.PushRecord{
			RemoteName: w.Step.Ref.RemoteName,
			LocalPath:  w.Step.Ref.LocalPath,
			VersionTag: w.VersionTag,
			Size:       w.Step.Size,
			PushedAt:   now,
		})
		if err != nil {
			r.logger.Warn("saving push record",
				slog.String("folder", folder),
				slog.String("path", w.Step.Ref.RemoteName),
				slog.String("error", err.Error()),
			)
		}
	}
}
