package backup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/localfs"
	"github.com/alexjbarnes/pushbox/internal/metrics"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultUploadConcurrency bounds concurrent writes to distinct paths.
	DefaultUploadConcurrency = 1

	// DefaultCallTimeout bounds a single write.
	DefaultCallTimeout = 30 * time.Second
)

// PathLocks serializes writers per remote object. One instance is shared
// by every run in the process so a watcher push and a manual push of the
// same folder cannot race on a version tag.
type PathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewPathLocks returns an empty lock set.
func NewPathLocks() *PathLocks {
	return &PathLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the lock for repo/path and returns its release.
func (l *PathLocks) Lock(repo, path string) func() {
	key := repo + "\x00" + path

	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()

	return m.Unlock
}

// Written is a successful write and the tag the remote returned.
type Written struct {
	Step       Step
	VersionTag string
}

// Execution is what Execute did with a plan's steps.
type Execution struct {
	Written      []Written
	Failed       []Failure
	NotAttempted []registry.FileRef
	Cancelled    bool
}

// Succeeded returns the refs that were written, in step order.
func (e *Execution) Succeeded() []registry.FileRef {
	out := make([]registry.FileRef, 0, len(e.Written))
	for _, w := range e.Written {
		out = append(out, w.Step.Ref)
	}

	return out
}

// Executor performs a plan's writes.
type Executor struct {
	svc         remote.Service
	locks       *PathLocks
	concurrency int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an executor. locks may be nil for a private set;
// concurrency and timeout <= 0 use the defaults.
func NewExecutor(svc remote.Service, locks *PathLocks, concurrency int, timeout time.Duration, logger *slog.Logger) *Executor {
	if locks == nil {
		locks = NewPathLocks()
	}

	if concurrency <= 0 {
		concurrency = DefaultUploadConcurrency
	}

	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &Executor{
		svc:         svc,
		locks:       locks,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
	}
}

type outcomeKind int

const (
	outcomeNotAttempted outcomeKind = iota
	outcomeWritten
	outcomeFailed
)

type outcome struct {
	kind outcomeKind
	tag  string
	err  error
}

// Execute writes each step of plan to repo. A failed step is recorded and
// the next one runs; progress advances by the step's size after every
// attempt either way. Cancellation is checked before each step and leaves
// the remaining steps not attempted; a write already in flight is allowed
// to finish within its timeout.
func (e *Executor) Execute(ctx context.Context, repo string, plan *Plan, progress *ProgressTracker) *Execution {
	if progress == nil {
		progress = NewProgressTracker(plan.TotalBytes, nil)
	}

	outcomes := make([]outcome, len(plan.Steps))

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for i, step := range plan.Steps {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			outcomes[i] = e.write(ctx, repo, step)
			progress.Advance(step.Size)

			return nil
		})
	}

	_ = g.Wait()

	exec := &Execution{}

	for i, step := range plan.Steps {
		o := outcomes[i]
		switch o.kind {
		case outcomeWritten:
			exec.Written = append(exec.Written, Written{Step: step, VersionTag: o.tag})
		case outcomeFailed:
			exec.Failed = append(exec.Failed, Failure{Ref: step.Ref, Err: o.err})
		default:
			exec.NotAttempted = append(exec.NotAttempted, step.Ref)
		}
	}

	exec.Cancelled = len(exec.NotAttempted) > 0
	if !exec.Cancelled {
		progress.Finish()
	}

	return exec
}

func (e *Executor) write(ctx context.Context, repo string, step Step) outcome {
	log := e.logger.With(
		slog.String("repo", repo),
		slog.String("path", step.Ref.RemoteName),
		slog.String("action", string(step.Action)),
	)

	unlock := e.locks.Lock(repo, step.Ref.RemoteName)
	defer unlock()

	data, err := localfs.ReadFile(step.Ref.LocalPath)
	if err != nil {
		log.Warn("reading local file", slog.String("error", err.Error()))
		metrics.RecordUpload(string(step.Action), step.Size, false)

		return outcome{kind: outcomeFailed, err: err}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	tag, err := e.svc.PutObject(callCtx, repo, step.Ref.RemoteName, data, step.VersionTag)
	if err != nil && !errors.Is(err, pberrors.ErrTimeout) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = &remote.TimeoutError{Op: "put object", Err: err}
	}

	metrics.RecordUpload(string(step.Action), int64(len(data)), err == nil)

	if err != nil {
		log.Warn("write failed", slog.String("error", err.Error()))
		return outcome{kind: outcomeFailed, err: err}
	}

	log.Info("written", slog.Int("bytes", len(data)))

	return outcome{kind: outcomeWritten, tag: tag}
}
