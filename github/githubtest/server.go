// Package githubtest provides an in-memory GitHub REST API for tests. It
// serves the endpoints the github client uses: the authenticated user,
// repository lookup and creation, and the contents API.
package githubtest

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"

	"github.com/alexjbarnes/pushbox/github"
)

type repo struct {
	private bool
	files   map[string][]byte
}

// Server is a fake GitHub for one user and token.
type Server struct {
	*httptest.Server

	user  string
	token string

	mu    sync.Mutex
	repos map[string]*repo
	puts  int
}

// NewServer starts a fake GitHub that accepts token and reports user as
// its owner. Close it when done.
func NewServer(user, token string) *Server {
	s := &Server{
		user:  user,
		token: token,
		repos: make(map[string]*repo),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /user", s.handleUser)
	mux.HandleFunc("POST /user/repos", s.handleCreateRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}", s.handleGetRepo)
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.handleGetContents)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", s.handlePutContents)

	s.Server = httptest.NewServer(s.authenticate(mux))

	return s
}

// File returns the stored content of path in repo.
func (s *Server) File(repoName, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repos[repoName]
	if !ok {
		return nil, false
	}

	data, ok := r.files[path]

	return data, ok
}

// SetFile stores content directly, as if another client had pushed it.
// The repository is created if needed.
func (s *Server) SetFile(repoName, path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repos[repoName]
	if !ok {
		r = &repo{private: true, files: make(map[string][]byte)}
		s.repos[repoName] = r
	}

	r.files[path] = data
}

// Repo reports whether repoName exists and whether it is private.
func (s *Server) Repo(repoName string) (exists, private bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.repos[repoName]
	if !ok {
		return false, false
	}

	return true, r.private
}

// Puts counts content writes accepted so far.
func (s *Server) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.puts
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+s.token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleUser(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"login": s.user})
}

func (s *Server) handleCreateRepo(w http.ResponseWriter, r *http.Request) {
	var req github.CreateRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Problems parsing JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.repos[req.Name]; ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "Repository creation failed.",
			"errors":  []map[string]any{{"message": "name already exists on this account"}},
		})

		return
	}

	s.repos[req.Name] = &repo{private: req.Private, files: make(map[string][]byte)}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name, "private": req.Private})
}

// lookup returns the repository addressed by the request, writing a 404
// when the owner or repository is unknown. Callers hold s.mu.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*repo, bool) {
	if r.PathValue("owner") != s.user {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return nil, false
	}

	rp, ok := s.repos[r.PathValue("repo")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return nil, false
	}

	return rp, true
}

func (s *Server) handleGetRepo(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rp, ok := s.lookup(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"name": r.PathValue("repo"), "private": rp.private})
}

func (s *Server) handleGetContents(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rp, ok := s.lookup(w, r)
	if !ok {
		return
	}

	path := r.PathValue("path")

	if path == "" {
		if len(rp.files) == 0 {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "This repository is empty."})
			return
		}

		names := make([]string, 0, len(rp.files))
		for name := range rp.files {
			names = append(names, name)
		}

		sort.Strings(names)

		items := make([]map[string]any, 0, len(names))
		for _, name := range names {
			items = append(items, fileJSON(name, rp.files[name]))
		}

		writeJSON(w, http.StatusOK, items)

		return
	}

	data, ok := rp.files[path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}

	if strings.Contains(r.Header.Get("Accept"), "raw") {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)

		return
	}

	writeJSON(w, http.StatusOK, fileJSON(path, data))
}

func (s *Server) handlePutContents(w http.ResponseWriter, r *http.Request) {
	var req github.PutContentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "Problems parsing JSON"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "content is not valid Base64"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rp, ok := s.lookup(w, r)
	if !ok {
		return
	}

	path := r.PathValue("path")
	current, exists := rp.files[path]

	switch {
	case exists && req.SHA == "":
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": `Invalid request. "sha" wasn't supplied.`})
		return
	case exists && req.SHA != github.BlobSHA(current):
		writeJSON(w, http.StatusConflict, map[string]any{"message": path + " does not match " + req.SHA})
		return
	case !exists && req.SHA != "":
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
		return
	}

	rp.files[path] = data
	s.puts++

	code := http.StatusCreated
	if exists {
		code = http.StatusOK
	}

	writeJSON(w, code, map[string]any{"content": fileJSON(path, data)})
}

func fileJSON(path string, data []byte) map[string]any {
	return map[string]any{
		"type": "file",
		"name": path,
		"path": path,
		"sha":  github.BlobSHA(data),
		"size": len(data),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
