package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/alexjbarnes/pushbox/internal/auth"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	BackendGitHub = "github"
	BackendS3     = "s3"

	settingsFile = "settings.json"
	stateFile    = "state.db"

	// maxConcurrency caps both worker pools. The remote services rate
	// limit aggressively and a small pool is all a desktop backup needs.
	maxConcurrency = 16
)

// Config holds all environment-based configuration for pushbox.
type Config struct {
	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Home holds settings.json (folder registry) and state.db. Defaults
	// to ~/.pushbox.
	Home string `env:"PUSHBOX_HOME"`

	// Backend selects the remote repository service: github or s3.
	Backend string `env:"BACKEND" envDefault:"github"`

	// GitHub credentials. Optional here: `pushbox login` stores a token in
	// the state database instead.
	GitHubUser   string `env:"GITHUB_USER"`
	GitHubToken  string `env:"GITHUB_TOKEN"`
	GitHubAPIURL string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`

	// S3 settings. Each folder maps to bucket S3BucketPrefix+name.
	S3Region          string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3BucketPrefix    string `env:"S3_BUCKET_PREFIX"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`

	// Visibility for repositories created on first push.
	RepoVisibility string `env:"REPO_VISIBILITY" envDefault:"private"`

	// Upload run tuning.
	RemoteTimeout     time.Duration `env:"REMOTE_TIMEOUT" envDefault:"30s"`
	LookupConcurrency int           `env:"LOOKUP_CONCURRENCY" envDefault:"4"`
	UploadConcurrency int           `env:"UPLOAD_CONCURRENCY" envDefault:"1"`
	SkipUnchanged     bool          `env:"SKIP_UNCHANGED" envDefault:"true"`
	CredentialsWait   time.Duration `env:"CREDENTIALS_WAIT" envDefault:"0s"`

	// WatchDebounce is how long a watched file must be quiet before its
	// folder is pushed.
	WatchDebounce time.Duration `env:"WATCH_DEBOUNCE" envDefault:"2s"`

	// MCP server settings, used by `pushbox serve`.
	MCPListenAddr string `env:"MCP_LISTEN_ADDR" envDefault:"127.0.0.1:8090"`
	MCPAPIKeys    string `env:"MCP_API_KEYS"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the access token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if cfg.Home == "" {
		home, err := DefaultHome()
		if err != nil {
			return nil, err
		}

		cfg.Home = home
	}

	absHome, err := filepath.Abs(cfg.Home)
	if err != nil {
		return nil, fmt.Errorf("resolving pushbox home to absolute path: %w", err)
	}

	cfg.Home = absHome

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendGitHub:
		u, err := url.Parse(c.GitHubAPIURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("GITHUB_API_URL must be an absolute URL, got %q", c.GitHubAPIURL)
		}
	case BackendS3:
		if c.S3Region == "" {
			return fmt.Errorf("S3_REGION is required when BACKEND=s3")
		}

		if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
			return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
		}
	default:
		return fmt.Errorf("BACKEND must be %q or %q, got %q", BackendGitHub, BackendS3, c.Backend)
	}

	if _, err := remote.ParseVisibility(c.RepoVisibility); err != nil {
		return fmt.Errorf("REPO_VISIBILITY: %w", err)
	}

	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("REMOTE_TIMEOUT must be positive")
	}

	if c.LookupConcurrency < 1 || c.LookupConcurrency > maxConcurrency {
		return fmt.Errorf("LOOKUP_CONCURRENCY must be between 1 and %d", maxConcurrency)
	}

	if c.UploadConcurrency < 1 || c.UploadConcurrency > maxConcurrency {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be between 1 and %d", maxConcurrency)
	}

	if c.CredentialsWait < 0 {
		return fmt.Errorf("CREDENTIALS_WAIT must not be negative")
	}

	if c.WatchDebounce <= 0 {
		return fmt.Errorf("WATCH_DEBOUNCE must be positive")
	}

	return nil
}

// DefaultHome returns ~/.pushbox.
func DefaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".pushbox"), nil
}

// SettingsPath is the JSON application-settings document holding the
// folder registry.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.Home, settingsFile)
}

// StatePath is the bbolt database holding the login token and push records.
func (c *Config) StatePath() string {
	return filepath.Join(c.Home, stateFile)
}

// Visibility returns the parsed REPO_VISIBILITY. validate has already
// rejected bad values.
func (c *Config) Visibility() remote.Visibility {
	v, _ := remote.ParseVisibility(c.RepoVisibility)
	return v
}

// EnvIdentity returns the identity/secret pair configured through the
// environment for the selected backend. Either may be empty.
func (c *Config) EnvIdentity() (identity, secret string) {
	if c.Backend == BackendS3 {
		return c.S3AccessKeyID, c.S3SecretAccessKey
	}

	return c.GitHubUser, c.GitHubToken
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ParseMCPAPIKeys parses the MCP_API_KEYS string.
// Format: "user1:<bcrypt hash>,user2:<bcrypt hash>". Generate hashes with
// `pushbox hash-key`.
func (c *Config) ParseMCPAPIKeys() ([]auth.Key, error) {
	if c.MCPAPIKeys == "" {
		return nil, nil
	}

	seen := make(map[string]struct{})

	var keys []auth.Key

	for _, pair := range strings.Split(c.MCPAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		userID := pair[:idx]

		hash := pair[idx+1:]
		if userID == "" || hash == "" {
			return nil, fmt.Errorf("empty user or hash in entry %d", len(keys)+1)
		}

		if !auth.IsBcryptHash(hash) {
			return nil, fmt.Errorf("API key for %q is not a bcrypt hash (use `pushbox hash-key`)", userID)
		}

		if _, dup := seen[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in MCP_API_KEYS", userID)
		}

		seen[userID] = struct{}{}
		keys = append(keys, auth.Key{UserID: userID, Hash: hash})
	}

	return keys, nil
}
