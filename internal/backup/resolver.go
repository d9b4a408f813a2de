package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/remote"
)

// Resolver makes sure a folder's repository exists.
type Resolver struct {
	svc    remote.Service
	logger *slog.Logger
}

// NewResolver creates a resolver over svc.
func NewResolver(svc remote.Service, logger *slog.Logger) *Resolver {
	return &Resolver{svc: svc, logger: logger}
}

// EnsureRepository checks for the repository and creates it with the given
// visibility if absent. Calling it again for an existing repository only
// repeats the check. Rejected credentials surface as ErrAuthentication;
// any other failure as ErrRemoteService.
func (r *Resolver) EnsureRepository(ctx context.Context, name string, visibility remote.Visibility) error {
	exists, err := r.svc.RepositoryExists(ctx, name)
	if err != nil {
		return classify(fmt.Sprintf("checking repository %q", name), err)
	}

	if exists {
		r.logger.Debug("repository exists", slog.String("repo", name))
		return nil
	}

	if err := r.svc.CreateRepository(ctx, name, visibility); err != nil {
		return classify(fmt.Sprintf("creating repository %q", name), err)
	}

	r.logger.Info("created repository",
		slog.String("repo", name),
		slog.String("visibility", string(visibility)),
	)

	return nil
}

// classify makes sure err matches one of the two run-fatal sentinels.
func classify(op string, err error) error {
	if errors.Is(err, pberrors.ErrAuthentication) || errors.Is(err, pberrors.ErrRemoteService) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, pberrors.ErrRemoteService, err)
}
