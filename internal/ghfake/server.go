// Package ghfake serves an in-memory GitHub Contents API for tests.
//
// It keeps a single file tree whatever the owner, repo or branch, computes
// real git blob shas, answers 422 on a create over an existing path and 409 on a stale
// sha, and counts how many mutating requests are in flight at once.
package ghfake

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Request is a request seen by the server.
type Request struct {
	Method string
	Path   string // repository path, without the contents/ prefix
	Header http.Header
}

// FailureFunc decides whether a request should fail.
// It returns the status and body to answer with, and true to fail.
type FailureFunc func(method, repoPath string) (int, string, bool)

type file struct {
	content []byte
	sha     string
	kind    string // "file", "symlink", "submodule"
}

// Server is an in-memory Contents API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string]*file
	requests []Request
	commits  int
	failure  FailureFunc

	writeDelay time.Duration
	inFlight   atomic.Int32
	peak       atomic.Int32
	writes     atomic.Int32
}

// Option configures the server.
type Option func(*Server)

// WithWriteDelay holds every mutating request for d before answering.
func WithWriteDelay(d time.Duration) Option {
	return func(s *Server) {
		s.writeDelay = d
	}
}

// New starts a server. Stop it with Close.
func New(opts ...Option) *Server {
	s := &Server{files: make(map[string]*file)}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/{owner}/{repo}/contents/{path...}", s.handleGet)
	mux.HandleFunc("PUT /repos/{owner}/{repo}/contents/{path...}", s.handlePut)
	mux.HandleFunc("DELETE /repos/{owner}/{repo}/contents/{path...}", s.handleDelete)
	s.Server = httptest.NewServer(mux)

	return s
}

// BaseURL returns the API base URL, with the trailing slash go-github expects.
func (s *Server) BaseURL() string {
	return s.URL + "/"
}

// Put stores a file without going through the API.
func (s *Server) Put(repoPath string, content []byte) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(repoPath, content, "file")
}

// PutSymlink stores a symlink entry that listings report with type "symlink".
func (s *Server) PutSymlink(repoPath, target string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(repoPath, []byte(target), "symlink")
}

func (s *Server) putLocked(repoPath string, content []byte, kind string) string {
	sha := plumbing.ComputeHash(plumbing.BlobObject, content).String()
	s.files[strings.Trim(repoPath, "/")] = &file{content: content, sha: sha, kind: kind}
	return sha
}

// Content returns the content of a file and whether it exists.
func (s *Server) Content(repoPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[repoPath]
	if !ok {
		return nil, false
	}
	return f.content, true
}

// SHA returns the blob sha of a file, or "" when it does not exist.
func (s *Server) SHA(repoPath string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.files[repoPath]; ok {
		return f.sha
	}
	return ""
}

// Paths returns every stored path, sorted.
func (s *Server) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// SetFailure installs fn to inject failures. A nil fn removes it.
func (s *Server) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failure = fn
}

// Requests returns a copy of the requests seen so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Writes returns the number of mutating requests received (PUT and DELETE).
func (s *Server) Writes() int {
	return int(s.writes.Load())
}

// PeakInFlight returns the highest number of mutating requests handled at once.
func (s *Server) PeakInFlight() int {
	return int(s.peak.Load())
}

// Commits returns the number of successful writes.
func (s *Server) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

type entry struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	Content  []byte `json:"content,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type writeBody struct {
	Message string `json:"message"`
	Content []byte `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

func (s *Server) record(r *http.Request) string {
	repoPath := strings.Trim(r.PathValue("path"), "/")

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: repoPath, Header: r.Header.Clone()})
	s.mu.Unlock()

	return repoPath
}

func (s *Server) injected(w http.ResponseWriter, method, repoPath string) bool {
	s.mu.Lock()
	failure := s.failure
	s.mu.Unlock()

	if failure == nil {
		return false
	}
	status, body, fail := failure(method, repoPath)
	if !fail {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
	return true
}

func (s *Server) enterWrite() func() {
	s.writes.Add(1)
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.writeDelay > 0 {
		time.Sleep(s.writeDelay)
	}
	return func() { s.inFlight.Add(-1) }
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	repoPath := s.record(r)
	if s.injected(w, r.Method, repoPath) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[repoPath]; ok {
		writeJSON(w, http.StatusOK, entry{
			Type:     f.kind,
			Name:     path.Base(repoPath),
			Path:     repoPath,
			SHA:      f.sha,
			Size:     len(f.content),
			Content:  f.content,
			Encoding: "base64",
		})
		return
	}

	entries := s.listLocked(repoPath)
	if entries == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// listLocked returns the immediate children of dir, or nil when dir holds nothing.
func (s *Server) listLocked(dir string) []entry {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}

	seen := map[string]bool{}
	entries := []entry{}
	for p, f := range s.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		name, _, nested := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true

		e := entry{Type: f.kind, Name: name, Path: prefix + name, SHA: f.sha, Size: len(f.content)}
		if nested {
			e = entry{Type: "dir", Name: name, Path: prefix + name, SHA: plumbing.ComputeHash(plumbing.TreeObject, []byte(prefix+name)).String()}
		}
		entries = append(entries, e)
	}

	if len(entries) == 0 && dir != "" {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	repoPath := s.record(r)
	done := s.enterWrite()
	defer done()

	if s.injected(w, r.Method, repoPath) {
		return
	}

	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	status := http.StatusCreated
	if existing, ok := s.files[repoPath]; ok {
		switch {
		case body.SHA == "":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"message": "Invalid request.\n\n\"sha\" wasn't supplied.",
			})
			return
		case body.SHA != existing.sha:
			writeJSON(w, http.StatusConflict, map[string]string{
				"message": fmt.Sprintf("%s does not match %s", repoPath, body.SHA),
			})
			return
		}
		status = http.StatusOK
	}

	sha := s.putLocked(repoPath, body.Content, "file")
	s.commits++
	writeJSON(w, status, map[string]any{
		"content": entry{Type: "file", Name: path.Base(repoPath), Path: repoPath, SHA: sha, Size: len(body.Content)},
		"commit":  map[string]string{"sha": fmt.Sprintf("%040d", s.commits), "message": body.Message},
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	repoPath := s.record(r)
	done := s.enterWrite()
	defer done()

	if s.injected(w, r.Method, repoPath) {
		return
	}

	var body writeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Problems parsing JSON"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.files[repoPath]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
		return
	}
	if body.SHA != existing.sha {
		writeJSON(w, http.StatusConflict, map[string]string{
			"message": fmt.Sprintf("%s does not match %s", repoPath, body.SHA),
		})
		return
	}

	delete(s.files, repoPath)
	s.commits++
	writeJSON(w, http.StatusOK, map[string]any{
		"content": nil,
		"commit":  map[string]string{"sha": fmt.Sprintf("%040d", s.commits), "message": body.Message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
