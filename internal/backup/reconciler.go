package backup

import (
	"context"
	"fmt"
	"log/slog"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/localfs"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"golang.org/x/sync/errgroup"
)

// DefaultLookupConcurrency bounds concurrent metadata lookups.
const DefaultLookupConcurrency = 4

// Reconciler decides, per file, whether a write is needed and which kind.
type Reconciler struct {
	svc           remote.Service
	concurrency   int
	skipUnchanged bool
	logger        *slog.Logger
}

// NewReconciler creates a reconciler. concurrency <= 0 uses the default.
// With skipUnchanged set and a service that implements
// remote.ContentTagger, files whose content already matches the remote
// tag get no step.
func NewReconciler(svc remote.Service, concurrency int, skipUnchanged bool, logger *slog.Logger) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultLookupConcurrency
	}

	return &Reconciler{
		svc:           svc,
		concurrency:   concurrency,
		skipUnchanged: skipUnchanged,
		logger:        logger,
	}
}

type slotKind int

const (
	slotEmpty slotKind = iota
	slotStep
	slotSkipped
	slotFailed
	slotUnchanged
)

// slot is one entry's planning outcome, kept by index so the plan follows
// entry order however lookups interleave.
type slot struct {
	kind slotKind
	step Step
	err  error
}

// Plan classifies every entry of folder against repo. Missing local files
// become warnings, lookup failures become per-file failures; neither stops
// the plan. The only error returned is ErrCancelled, when ctx is done
// before every lookup has been issued. Lookups already in flight finish.
func (r *Reconciler) Plan(ctx context.Context, repo string, folder registry.FolderRecord) (*Plan, error) {
	slots := make([]slot, len(folder.Entries))
	sizes := make([]int64, len(folder.Entries))

	for i, ref := range folder.Entries {
		info, err := localfs.Stat(ref.LocalPath)
		switch {
		case localfs.IsMissing(err):
			slots[i] = slot{kind: slotSkipped, err: pberrors.ErrSkippedMissingLocalFile}
		case err != nil:
			slots[i] = slot{kind: slotFailed, err: err}
		default:
			sizes[i] = info.Size
		}
	}

	tagger, canTag := r.svc.(remote.ContentTagger)
	canTag = canTag && r.skipUnchanged

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)

	callCtx := context.WithoutCancel(ctx)

	for i, ref := range folder.Entries {
		if slots[i].kind != slotEmpty {
			continue
		}

		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			slots[i] = r.lookup(callCtx, repo, ref, sizes[i], tagger, canTag)

			return nil
		})
	}

	_ = g.Wait()

	// An entry still empty was never looked up.
	for _, s := range slots {
		if s.kind == slotEmpty {
			return nil, fmt.Errorf("%w: %w", pberrors.ErrCancelled, context.Cause(ctx))
		}
	}

	plan := &Plan{}

	for i, ref := range folder.Entries {
		s := slots[i]
		switch s.kind {
		case slotStep:
			plan.Steps = append(plan.Steps, s.step)
			plan.TotalBytes += s.step.Size
		case slotSkipped:
			plan.Skipped = append(plan.Skipped, Warning{Ref: ref, Err: s.err})
		case slotFailed:
			plan.Failed = append(plan.Failed, Failure{Ref: ref, Err: s.err})
		case slotUnchanged:
			plan.Unchanged = append(plan.Unchanged, ref)
		}
	}

	r.logger.Debug("plan ready",
		slog.String("repo", repo),
		slog.Int("steps", len(plan.Steps)),
		slog.Int("unchanged", len(plan.Unchanged)),
		slog.Int("skipped", len(plan.Skipped)),
		slog.Int("failed", len(plan.Failed)),
		slog.Int64("bytes", plan.TotalBytes),
	)

	return plan, nil
}

func (r *Reconciler) lookup(ctx context.Context, repo string, ref registry.FileRef, size int64, tagger remote.ContentTagger, canTag bool) slot {
	md, err := r.svc.ObjectMetadata(ctx, repo, ref.RemoteName)
	if err != nil {
		r.logger.Warn("metadata lookup failed",
			slog.String("repo", repo),
			slog.String("path", ref.RemoteName),
			slog.String("error", err.Error()),
		)

		return slot{kind: slotFailed, err: err}
	}

	if !md.Exists {
		return slot{kind: slotStep, step: Step{Ref: ref, Action: ActionCreate, Size: size}}
	}

	if md.VersionTag == "" {
		return slot{kind: slotFailed, err: fmt.Errorf("%w: %s exists without a version tag", pberrors.ErrRemoteService, ref.RemoteName)}
	}

	if canTag && md.Size == size {
		data, err := localfs.ReadFile(ref.LocalPath)
		switch {
		case localfs.IsMissing(err):
			return slot{kind: slotSkipped, err: pberrors.ErrSkippedMissingLocalFile}
		case err != nil:
			return slot{kind: slotFailed, err: err}
		case tagger.ContentTag(data) == md.VersionTag:
			return slot{kind: slotUnchanged}
		}
	}

	return slot{kind: slotStep, step: Step{Ref: ref, Action: ActionUpdate, VersionTag: md.VersionTag, Size: size}}
}
