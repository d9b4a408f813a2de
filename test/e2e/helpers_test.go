package e2e_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/pushbox/github"
	"github.com/alexjbarnes/pushbox/github/githubtest"
	"github.com/alexjbarnes/pushbox/internal/auth"
	"github.com/alexjbarnes/pushbox/internal/backup"
	"github.com/alexjbarnes/pushbox/internal/credentials"
	"github.com/alexjbarnes/pushbox/internal/mcpserver"
	"github.com/alexjbarnes/pushbox/internal/registry"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/alexjbarnes/pushbox/internal/server"
	"github.com/alexjbarnes/pushbox/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

const (
	testUser  = "alice"
	testToken = "ghp_e2e"
)

// harness holds the full e2e stack: a fake GitHub, a real registry and
// state database, the runner, and the MCP server behind API-key auth.
type harness struct {
	URL      string
	Key      string
	GitHub   *githubtest.Server
	Registry *registry.Registry
	Runner   *backup.Runner
	Dir      string
	Client   *http.Client
}

// newHarness seeds folder "notes" with two files and starts the HTTP
// stack via server.NewMux.
func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	gh := githubtest.NewServer(testUser, testToken)
	t.Cleanup(gh.Close)

	home := t.TempDir()

	reg, err := registry.Open(filepath.Join(home, "settings.json"), logger)
	require.NoError(t, err)

	st, err := state.LoadAt(filepath.Join(home, "state.db"))
	require.NoError(t, err)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hello.md"), "# Hello\nThis is a test note.\n")
	writeFile(t, filepath.Join(dir, "todo.md"), "- push\n")

	_, err = reg.CreateFolder("notes")
	require.NoError(t, err)

	_, err = reg.AddFiles("notes", []string{filepath.Join(dir, "hello.md"), filepath.Join(dir, "todo.md")})
	require.NoError(t, err)

	connect := func(ctx context.Context, creds credentials.Credentials) (remote.Service, error) {
		client := github.NewClient(github.Options{BaseURL: gh.URL, Token: creds.Secret, Timeout: 5 * time.Second})

		user, err := client.AuthenticatedUser(ctx)
		if err != nil {
			return nil, err
		}

		client.SetOwner(user)

		return client, nil
	}

	runner := backup.NewRunner(reg, credentials.NewStore(st), connect, st, backup.Options{
		LookupConcurrency: 2,
		UploadConcurrency: 2,
		CallTimeout:       5 * time.Second,
		SkipUnchanged:     true,
	}, logger)

	require.NoError(t, st.SetLogin(state.Login{Identity: testUser, Secret: testToken}))

	mcpServer := mcp.NewServer(
		&mcp.Implementation{Name: "pushbox-e2e", Version: "test"},
		nil,
	)
	mcpserver.RegisterTools(mcpServer, reg, runner, logger)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	key, err := auth.GenerateKey()
	require.NoError(t, err)

	hash, err := auth.HashKey(key)
	require.NoError(t, err)

	ts := httptest.NewServer(server.NewMux(server.MuxConfig{
		Keys:       []auth.Key{{UserID: "e2e", Hash: hash}},
		MCPHandler: mcpHandler,
		Logger:     logger,
	}))
	t.Cleanup(ts.Close)

	return &harness{
		URL:      ts.URL,
		Key:      key,
		GitHub:   gh,
		Registry: reg,
		Runner:   runner,
		Dir:      dir,
		Client:   ts.Client(),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// mcpSession creates an MCP client session authenticated with the given
// API key. Uses the MCP SDK's StreamableClientTransport with a custom
// HTTP RoundTripper that injects the Authorization header.
func (h *harness) mcpSession(t *testing.T, key string) *mcp.ClientSession {
	t.Helper()

	transport := &mcp.StreamableClientTransport{
		Endpoint: h.URL + "/mcp",
		HTTPClient: &http.Client{
			Transport: &bearerTransport{
				token: key,
				base:  h.Client.Transport,
			},
		},
		DisableStandaloneSSE: true,
	}

	client := mcp.NewClient(
		&mcp.Implementation{Name: "e2e-test-client", Version: "test"},
		nil,
	)

	session, err := client.Connect(t.Context(), transport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return session
}

// callTool calls name and fails the test on a protocol error.
func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(t.Context(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)

	return result
}

// extractTextContent returns the text of the first content item.
func extractTextContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)

	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")

	return tc.Text
}

// doGet performs an unauthenticated GET and returns status and body.
func (h *harness) doGet(t *testing.T, path string) (int, string) {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, h.URL+path, nil)
	require.NoError(t, err)

	resp, err := h.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, string(body)
}

// bearerTransport is an http.RoundTripper that injects a Bearer token
// into every request's Authorization header.
type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (bt *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+bt.token)

	return bt.base.RoundTrip(req)
}
