// Package credentials supplies the identity and secret used to talk to the
// remote service. Providers are passed to the components that need them;
// nothing here is process-global.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	pberrors "github.com/alexjbarnes/pushbox/internal/errors"
	"github.com/alexjbarnes/pushbox/internal/state"
)

// ErrUnauthenticated means a provider has no credentials to offer.
var ErrUnauthenticated = errors.New("no credentials available")

// pollInterval is how often Await re-checks while waiting.
const pollInterval = 250 * time.Millisecond

// Credentials is an identity (GitHub user, S3 access key ID) and its secret.
type Credentials struct {
	Identity string
	Secret   string
}

// Provider returns credentials or ErrUnauthenticated.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) (Credentials, error)

func (f ProviderFunc) Credentials(ctx context.Context) (Credentials, error) { return f(ctx) }

// Static serves fixed credentials, typically from the environment. An
// empty secret means none were configured.
type Static Credentials

func (s Static) Credentials(context.Context) (Credentials, error) {
	if s.Secret == "" {
		return Credentials{}, ErrUnauthenticated
	}

	return Credentials(s), nil
}

// LoginStore is the part of the state database Store reads from.
type LoginStore interface {
	Login() (state.Login, bool, error)
}

// Store serves the login saved by `pushbox login`. It reads the state
// database on every call so a login made while pushbox is waiting is seen.
type Store struct {
	logins LoginStore
}

// NewStore returns a provider reading from logins.
func NewStore(logins LoginStore) *Store {
	return &Store{logins: logins}
}

func (s *Store) Credentials(context.Context) (Credentials, error) {
	login, ok, err := s.logins.Login()
	if err != nil {
		return Credentials{}, fmt.Errorf("reading saved login: %w", err)
	}

	if !ok || login.Secret == "" {
		return Credentials{}, ErrUnauthenticated
	}

	return Credentials{Identity: login.Identity, Secret: login.Secret}, nil
}

// Chain asks each provider in turn and returns the first credentials found.
// A provider error other than ErrUnauthenticated stops the chain.
type Chain []Provider

func (c Chain) Credentials(ctx context.Context) (Credentials, error) {
	for _, p := range c {
		creds, err := p.Credentials(ctx)
		if err == nil {
			return creds, nil
		}

		if !errors.Is(err, ErrUnauthenticated) {
			return Credentials{}, err
		}
	}

	return Credentials{}, ErrUnauthenticated
}

// Await asks p for credentials, re-checking until they appear or wait has
// elapsed. With wait zero it checks once. Failure is reported as
// ErrAuthentication wrapping the provider's error, so a run can be aborted
// before anything is written.
func Await(ctx context.Context, p Provider, wait time.Duration) (Credentials, error) {
	creds, err := p.Credentials(ctx)
	if err == nil {
		return creds, nil
	}

	if wait <= 0 || !errors.Is(err, ErrUnauthenticated) {
		return Credentials{}, fmt.Errorf("%w: %w", pberrors.ErrAuthentication, err)
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		case <-deadline.C:
			return Credentials{}, fmt.Errorf("%w: still unavailable after %s: %w", pberrors.ErrAuthentication, wait, err)
		case <-ticker.C:
			creds, err = p.Credentials(ctx)
			if err == nil {
				return creds, nil
			}

			if !errors.Is(err, ErrUnauthenticated) {
				return Credentials{}, fmt.Errorf("%w: %w", pberrors.ErrAuthentication, err)
			}
		}
	}
}
