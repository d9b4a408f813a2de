// Package github implements the remote repository service on the GitHub
// REST API: one repository per folder, one file per entry, written through
// the contents API.
package github

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // git blob IDs are SHA-1
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/alexjbarnes/pushbox/internal/metrics"
	"github.com/alexjbarnes/pushbox/internal/remote"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// DefaultTimeout bounds each API call.
	DefaultTimeout = 30 * time.Second

	// maxAPIResponseBytes caps JSON response reads.
	maxAPIResponseBytes = 4 * 1024 * 1024

	// maxContentBytes caps raw file downloads. The contents API serves
	// files up to 100MB.
	maxContentBytes = 100 * 1024 * 1024

	// maxReadAttempts bounds retries of idempotent GETs on transient
	// statuses. Writes are never retried.
	maxReadAttempts = 3

	apiVersion = "2022-11-28"
	userAgent  = "pushbox"
)

// Client talks to the GitHub REST API as one user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	owner      string
	token      string
	timeout    time.Duration
	backoff    time.Duration
}

var (
	_ remote.Service       = (*Client)(nil)
	_ remote.Lister        = (*Client)(nil)
	_ remote.Fetcher       = (*Client)(nil)
	_ remote.ContentTagger = (*Client)(nil)
)

// Options configures a Client. Zero values select defaults.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	Owner      string
	Token      string
	Timeout    time.Duration
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so the token never leaves GitHub.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{CheckRedirect: sameHostRedirectPolicy}
	}

	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		owner:      opts.Owner,
		token:      opts.Token,
		timeout:    timeout,
		backoff:    500 * time.Millisecond,
	}
}

// Owner returns the account repositories are created under.
func (c *Client) Owner() string {
	return c.owner
}

// SetOwner sets the account repositories are created under, typically
// from AuthenticatedUser when no identity was configured.
func (c *Client) SetOwner(owner string) {
	c.owner = owner
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// statusError builds a remote.StatusError, preferring GitHub's own
// "message" field over the raw body.
func statusError(op string, code int, body []byte) *remote.StatusError {
	msg := gjson.GetBytes(body, "message").String()
	if msg == "" {
		msg = sanitizeResponseBody(body)
	} else {
		msg = sanitizeResponseBody([]byte(msg))
	}

	return &remote.StatusError{Op: op, StatusCode: code, Message: msg}
}

// do sends one request bounded by the client timeout and returns the
// status and body. body may be nil. Transport failures are classified by
// remote.WrapTransport.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, accept string, limit int64) (code int, respBody []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	defer func() {
		metrics.RecordRemoteCall("github", op, time.Since(start), err == nil && code < http.StatusInternalServerError)
	}()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("%s: marshalling request body: %w", op, err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: creating request: %w", op, err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if accept == "" {
		accept = "application/vnd.github+json"
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	req.Header.Set("User-Agent", userAgent)

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, remote.WrapTransport(op, err)
	}
	defer resp.Body.Close()

	respBody, err = io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return 0, nil, remote.WrapTransport(op, fmt.Errorf("reading response: %w", err))
	}

	return resp.StatusCode, respBody, nil
}

// get issues an idempotent GET, retrying transient statuses with a
// linear backoff.
func (c *Client) get(ctx context.Context, op, endpoint, accept string, limit int64) (int, []byte, error) {
	var (
		code int
		body []byte
		err  error
	)

	for attempt := 1; attempt <= maxReadAttempts; attempt++ {
		code, body, err = c.do(ctx, op, http.MethodGet, endpoint, nil, accept, limit)
		if err != nil || !isTransientStatus(code) || attempt == maxReadAttempts {
			return code, body, err
		}

		select {
		case <-ctx.Done():
			return code, body, nil
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}

	return code, body, err
}

// escapePath escapes each segment of a repository path.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return strings.Join(segs, "/")
}

func (c *Client) repoPath(repo string) string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(repo)
}

func (c *Client) contentsPath(repo, path string) string {
	return c.repoPath(repo) + "/contents/" + escapePath(path)
}

// AuthenticatedUser returns the login of the token's owner. `pushbox
// login` uses it to verify a token before saving it.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	const op = "get authenticated user"

	code, body, err := c.get(ctx, op, "/user", "", maxAPIResponseBytes)
	if err != nil {
		return "", err
	}

	if code != http.StatusOK {
		return "", statusError(op, code, body)
	}

	login := gjson.GetBytes(body, "login").String()
	if login == "" {
		return "", fmt.Errorf("%s: response has no login", op)
	}

	return login, nil
}

// RepositoryExists reports whether owner/name exists and is visible to
// the token.
func (c *Client) RepositoryExists(ctx context.Context, name string) (bool, error) {
	const op = "check repository"

	code, body, err := c.get(ctx, op, c.repoPath(name), "", maxAPIResponseBytes)
	if err != nil {
		return false, err
	}

	switch code {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}

	return false, statusError(op, code, body)
}

// CreateRepository creates a repository under the authenticated user.
// GitHub answers 422 when the name is taken; that is treated as success
// so a create racing another client stays idempotent.
func (c *Client) CreateRepository(ctx context.Context, name string, visibility remote.Visibility) error {
	const op = "create repository"

	req := CreateRepoRequest{
		Name:        name,
		Private:     visibility != remote.Public,
		Description: "Backed up by pushbox",
	}

	code, body, err := c.do(ctx, op, http.MethodPost, "/user/repos", req, "", maxAPIResponseBytes)
	if err != nil {
		return err
	}

	switch {
	case code == http.StatusCreated || code == http.StatusOK:
		return nil
	case code == http.StatusUnprocessableEntity && alreadyExists(body):
		return nil
	}

	return statusError(op, code, body)
}

func alreadyExists(body []byte) bool {
	for _, e := range gjson.GetBytes(body, "errors").Array() {
		if strings.Contains(strings.ToLower(e.Get("message").String()), "already exists") {
			return true
		}
	}

	return false
}

// ObjectMetadata looks up one file. The blob SHA is the version tag.
func (c *Client) ObjectMetadata(ctx context.Context, repo, path string) (remote.Metadata, error) {
	const op = "get file metadata"

	code, body, err := c.get(ctx, op, c.contentsPath(repo, path), "", maxAPIResponseBytes)
	if err != nil {
		return remote.Metadata{}, err
	}

	switch code {
	case http.StatusOK:
	case http.StatusNotFound:
		return remote.Metadata{}, nil
	default:
		return remote.Metadata{}, statusError(op, code, body)
	}

	res := gjson.ParseBytes(body)
	if res.IsArray() || res.Get("type").String() != "file" {
		return remote.Metadata{}, fmt.Errorf("%s: %s is not a file in %s", op, path, repo)
	}

	return remote.Metadata{
		Exists:     true,
		VersionTag: res.Get("sha").String(),
		Size:       res.Get("size").Int(),
	}, nil
}

// PutObject creates or updates one file. versionTag must be the current
// blob SHA to update; GitHub rejects a stale or missing SHA with 409/422.
func (c *Client) PutObject(ctx context.Context, repo, path string, data []byte, versionTag string) (string, error) {
	const op = "put file"

	verb := "Add"
	if versionTag != "" {
		verb = "Update"
	}

	req := PutContentRequest{
		Message: verb + " " + path,
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     versionTag,
	}

	code, body, err := c.do(ctx, op, http.MethodPut, c.contentsPath(repo, path), req, "", maxAPIResponseBytes)
	if err != nil {
		return "", err
	}

	if code != http.StatusOK && code != http.StatusCreated {
		return "", statusError(op, code, body)
	}

	return gjson.GetBytes(body, "content.sha").String(), nil
}

// ListObjects lists the files at the repository root. An empty
// repository (404 from the contents API) lists as nothing.
func (c *Client) ListObjects(ctx context.Context, repo string) ([]remote.Object, error) {
	const op = "list files"

	code, body, err := c.get(ctx, op, c.repoPath(repo)+"/contents/", "", maxAPIResponseBytes)
	if err != nil {
		return nil, err
	}

	switch code {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, statusError(op, code, body)
	}

	var out []remote.Object

	for _, item := range gjson.ParseBytes(body).Array() {
		if item.Get("type").String() != "file" {
			continue
		}

		out = append(out, remote.Object{
			Path:       item.Get("path").String(),
			VersionTag: item.Get("sha").String(),
			Size:       item.Get("size").Int(),
		})
	}

	return out, nil
}

// FetchObject downloads one file's raw content.
func (c *Client) FetchObject(ctx context.Context, repo, path string) ([]byte, error) {
	const op = "download file"

	code, body, err := c.get(ctx, op, c.contentsPath(repo, path), "application/vnd.github.raw+json", maxContentBytes)
	if err != nil {
		return nil, err
	}

	if code != http.StatusOK {
		return nil, statusError(op, code, body)
	}

	return body, nil
}

// ContentTag returns the git blob SHA-1 GitHub would assign to data.
func (c *Client) ContentTag(data []byte) string {
	return BlobSHA(data)
}

// BlobSHA computes a git blob object ID.
func BlobSHA(data []byte) string {
	h := sha1.New() //nolint:gosec // git object IDs are SHA-1
	fmt.Fprintf(h, "blob %d\x00", len(data))
	h.Write(data)

	return hex.EncodeToString(h.Sum(nil))
}
