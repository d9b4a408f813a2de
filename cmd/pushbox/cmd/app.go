package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/pushbox/github"
	"github.com/alexjbarnes/pushbox/internal/backup"
	"github.com/alexjbarnes/pushbox/internal/config"
	"github.com/alexjbarnes/pushbox/internal/credentials"
	"github.com/alexjbarnes/pushbox/internal/logging"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/alexjbarnes/pushbox/internal/remote/s3store"
	"github.com/alexjbarnes/pushbox/internal/state"
	"github.com/spf13/cobra"
)

// app is everything a command needs, opened from the environment.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	state    *state.State
	runner   *backup.Runner
}

// openApp loads config and opens the registry and state database. Neither
// holds a lock between operations, so any number of commands may run
// alongside a watcher or server.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, verbose)

	reg, err := registry.Open(cfg.SettingsPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening folder registry: %w", err)
	}

	st, err := state.LoadAt(cfg.StatePath())
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		state:    st,
	}

	a.runner = backup.NewRunner(reg, a.credentials(), a.connector(), st, backup.Options{
		Visibility:        cfg.Visibility(),
		LookupConcurrency: cfg.LookupConcurrency,
		UploadConcurrency: cfg.UploadConcurrency,
		CallTimeout:       cfg.RemoteTimeout,
		SkipUnchanged:     cfg.SkipUnchanged,
		CredentialsWait:   cfg.CredentialsWait,
	}, logger)

	a.welcome(cmd)

	return a, nil
}

// welcome prints a one-time hint on a fresh install.
func (a *app) welcome(cmd *cobra.Command) {
	if a.registry.OnboardingDone() {
		return
	}

	if !quiet {
		fmt.Fprintf(cmd.ErrOrStderr(), "pushbox keeps its folders in %s\n", a.cfg.Home)
		fmt.Fprintln(cmd.ErrOrStderr(), "Start with: pushbox folder create <name>; pushbox folder add <name> <files...>; pushbox push <name>")
	}

	if err := a.registry.SetOnboardingDone(true); err != nil {
		a.logger.Warn("saving onboarding flag", slog.String("error", err.Error()))
	}
}

// credentials prefers environment credentials over a saved login. S3 may
// also use the ambient AWS chain, so it never reports missing credentials.
func (a *app) credentials() credentials.Provider {
	identity, secret := a.cfg.EnvIdentity()

	chain := credentials.Chain{
		credentials.Static{Identity: identity, Secret: secret},
		credentials.NewStore(a.state),
	}

	if a.cfg.Backend == config.BackendS3 {
		chain = append(chain, credentials.ProviderFunc(func(context.Context) (credentials.Credentials, error) {
			return credentials.Credentials{}, nil
		}))
	}

	return chain
}

// connector builds the configured backend for a set of credentials.
func (a *app) connector() backup.Connector {
	cfg := a.cfg

	if cfg.Backend == config.BackendS3 {
		return func(ctx context.Context, creds credentials.Credentials) (remote.Service, error) {
			store, err := s3store.New(ctx, s3store.Options{
				Region:          cfg.S3Region,
				Endpoint:        cfg.S3Endpoint,
				AccessKeyID:     creds.Identity,
				SecretAccessKey: creds.Secret,
				BucketPrefix:    cfg.S3BucketPrefix,
				Timeout:         cfg.RemoteTimeout,
			})
			if err != nil {
				return nil, err
			}

			return store, nil
		}
	}

	return func(ctx context.Context, creds credentials.Credentials) (remote.Service, error) {
		client := newGitHubClient(cfg, creds.Identity, creds.Secret)

		if client.Owner() == "" {
			user, err := client.AuthenticatedUser(ctx)
			if err != nil {
				return nil, fmt.Errorf("resolving token owner: %w", err)
			}

			client.SetOwner(user)
		}

		return client, nil
	}
}

func newGitHubClient(cfg *config.Config, owner, token string) *github.Client {
	return github.NewClient(github.Options{
		BaseURL: cfg.GitHubAPIURL,
		Owner:   owner,
		Token:   token,
		Timeout: cfg.RemoteTimeout,
	})
}
