package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// clearConfigEnv unsets all config env vars so tests start clean.
func clearConfigEnv(t *testing.T) {
	t.Helper()

	for _, key := range []string{
		"ENVIRONMENT",
		"PUSHBOX_HOME",
		"BACKEND",
		"GITHUB_USER",
		"GITHUB_TOKEN",
		"GITHUB_API_URL",
		"S3_REGION",
		"S3_ENDPOINT",
		"S3_BUCKET_PREFIX",
		"S3_ACCESS_KEY_ID",
		"S3_SECRET_ACCESS_KEY",
		"REPO_VISIBILITY",
		"REMOTE_TIMEOUT",
		"LOOKUP_CONCURRENCY",
		"UPLOAD_CONCURRENCY",
		"SKIP_UNCHANGED",
		"CREDENTIALS_WAIT",
		"WATCH_DEBOUNCE",
		"MCP_LISTEN_ADDR",
		"MCP_API_KEYS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// setHome points PUSHBOX_HOME at a temp dir and returns it.
func setHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PUSHBOX_HOME", dir)
	return dir
}

func testHash(t *testing.T) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte("pb_secret"), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

// --- Load: defaults ---

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)
	home := setHome(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, BackendGitHub, cfg.Backend)
	assert.Equal(t, "https://api.github.com", cfg.GitHubAPIURL)
	assert.Equal(t, remote.Private, cfg.Visibility())
	assert.Equal(t, 30*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, 4, cfg.LookupConcurrency)
	assert.Equal(t, 1, cfg.UploadConcurrency)
	assert.True(t, cfg.SkipUnchanged)
	assert.Equal(t, time.Duration(0), cfg.CredentialsWait)
	assert.Equal(t, 2*time.Second, cfg.WatchDebounce)
	assert.Equal(t, "127.0.0.1:8090", cfg.MCPListenAddr)
}

func TestLoad_GitHubCredentials(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("GITHUB_USER", "alice")
	t.Setenv("GITHUB_TOKEN", "ghp_test")

	cfg, err := Load()
	require.NoError(t, err)

	id, secret := cfg.EnvIdentity()
	assert.Equal(t, "alice", id)
	assert.Equal(t, "ghp_test", secret)
}

func TestLoad_S3Backend(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("BACKEND", " S3 ")
	t.Setenv("S3_REGION", "eu-west-2")
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_BUCKET_PREFIX", "pb-")
	t.Setenv("S3_ACCESS_KEY_ID", "AKIA")
	t.Setenv("S3_SECRET_ACCESS_KEY", "shh")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendS3, cfg.Backend)
	assert.Equal(t, "eu-west-2", cfg.S3Region)
	assert.Equal(t, "pb-", cfg.S3BucketPrefix)

	id, secret := cfg.EnvIdentity()
	assert.Equal(t, "AKIA", id)
	assert.Equal(t, "shh", secret)
}

func TestLoad_S3Backend_HalfCredentials(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("BACKEND", "s3")
	t.Setenv("S3_ACCESS_KEY_ID", "AKIA")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_SECRET_ACCESS_KEY")
}

func TestLoad_UnknownBackend(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("BACKEND", "ftp")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND")
}

func TestLoad_InvalidAPIURL(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("GITHUB_API_URL", "not a url")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_API_URL")
}

func TestLoad_PublicVisibility(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("REPO_VISIBILITY", "public")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, remote.Public, cfg.Visibility())
}

func TestLoad_InvalidVisibility(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("REPO_VISIBILITY", "internal")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPO_VISIBILITY")
}

func TestLoad_ConcurrencyBounds(t *testing.T) {
	for _, key := range []string{"LOOKUP_CONCURRENCY", "UPLOAD_CONCURRENCY"} {
		for _, val := range []string{"0", "17"} {
			t.Run(key+"="+val, func(t *testing.T) {
				clearConfigEnv(t)
				setHome(t)
				t.Setenv(key, val)

				_, err := Load()
				require.Error(t, err)
				assert.Contains(t, err.Error(), key)
			})
		}
	}
}

func TestLoad_NonPositiveTimeout(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("REMOTE_TIMEOUT", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REMOTE_TIMEOUT")
}

func TestLoad_NegativeCredentialsWait(t *testing.T) {
	clearConfigEnv(t)
	setHome(t)
	t.Setenv("CREDENTIALS_WAIT", "-1s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CREDENTIALS_WAIT")
}

func TestLoad_ResolvesRelativeHome(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("PUSHBOX_HOME", "relative/home")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cfg.Home))
	assert.Equal(t, "home", filepath.Base(cfg.Home))
}

func TestDefaultHome(t *testing.T) {
	dir, err := DefaultHome()
	require.NoError(t, err)
	assert.Equal(t, ".pushbox", filepath.Base(dir))
}

func TestPaths(t *testing.T) {
	cfg := &Config{Home: "/data/pb"}
	assert.Equal(t, filepath.Join("/data/pb", "settings.json"), cfg.SettingsPath())
	assert.Equal(t, filepath.Join("/data/pb", "state.db"), cfg.StatePath())
}

func TestIsProduction(t *testing.T) {
	assert.True(t, (&Config{Environment: "production"}).IsProduction())
	assert.False(t, (&Config{Environment: "development"}).IsProduction())
}

// --- ParseMCPAPIKeys ---

func TestParseMCPAPIKeys_Valid(t *testing.T) {
	hash := testHash(t)
	cfg := &Config{MCPAPIKeys: "alice:" + hash + ", bob:" + hash}

	keys, err := cfg.ParseMCPAPIKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "alice", keys[0].UserID)
	assert.Equal(t, hash, keys[0].Hash)
	assert.Equal(t, "bob", keys[1].UserID)
}

func TestParseMCPAPIKeys_Empty(t *testing.T) {
	keys, err := (&Config{}).ParseMCPAPIKeys()
	require.NoError(t, err)
	assert.Nil(t, keys)
}

func TestParseMCPAPIKeys_Errors(t *testing.T) {
	hash := testHash(t)
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"missing colon", "alice", "missing ':'"},
		{"empty user", ":" + hash, "empty user"},
		{"empty hash", "alice:", "empty user or hash"},
		{"plaintext", "alice:hunter2", "not a bcrypt hash"},
		{"duplicate", "alice:" + hash + ",alice:" + hash, "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&Config{MCPAPIKeys: tt.in}).ParseMCPAPIKeys()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
