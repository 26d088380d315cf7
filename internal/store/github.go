package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	gogithub "github.com/google/go-github/v75/github"

	"github.com/fclairamb/ghcdn/internal/apperrors"
	"github.com/fclairamb/ghcdn/internal/cdn"
	"github.com/fclairamb/ghcdn/internal/config"
	"github.com/fclairamb/ghcdn/internal/gate"
)

const (
	// APIVersion pins the GitHub REST API version.
	APIVersion = "2022-11-28"
	// mediaType asks for structured JSON responses.
	mediaType = "application/vnd.github+json"
)

// GitHubStore keeps files in one directory of a GitHub repository through the Contents API.
// Mutating requests go through a gate shared by every operation of the store.
type GitHubStore struct {
	cfg        config.Config
	urls       cdn.Builder
	gh         *gogithub.Client
	gate       *gate.Gate
	committer  *gogithub.CommitAuthor
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
	lookupEnv  func(string) (string, bool)
	progress   ProgressFunc
}

var _ Store = (*GitHubStore)(nil)

// Option configures the store.
type Option func(*GitHubStore)

// WithHTTPClient reuses an existing HTTP client. Its timeout is kept when set.
func WithHTTPClient(c *http.Client) Option {
	return func(s *GitHubStore) {
		s.httpClient = c
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *GitHubStore) {
		s.logger = l
	}
}

// WithClock sets the time source used to rename conflicting uploads.
func WithClock(now func() time.Time) Option {
	return func(s *GitHubStore) {
		s.now = now
	}
}

// WithEnvLookup sets how the token environment fallback is read.
func WithEnvLookup(lookup func(string) (string, bool)) Option {
	return func(s *GitHubStore) {
		s.lookupEnv = lookup
	}
}

// WithProgress sets a callback invoked after each element of a batch.
func WithProgress(fn ProgressFunc) Option {
	return func(s *GitHubStore) {
		s.progress = fn
	}
}

// New creates a store bound to the owner/repo/branch/dir of cfg.
// It fails with apperrors.ErrConfiguration when no token can be resolved.
func New(cfg config.Config, opts ...Option) (*GitHubStore, error) {
	s := &GitHubStore{
		logger:    slog.Default(),
		now:       time.Now,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	token, err := config.ResolveToken(cfg.Token, s.lookupEnv)
	if err != nil {
		return nil, err
	}
	cfg.Token = token

	if cfg.Branch == "" {
		cfg.Branch = config.DefaultBranch
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultTimeout
	}
	cfg.Dir = cdn.NormalizeDir(cfg.Dir)

	s.cfg = cfg
	s.urls = cdn.NewBuilder(cfg.Owner, cfg.Repo, cfg.Branch, cfg.Dir, cfg.CDN)
	s.gate = gate.New(cfg.Concurrency, gate.WithRate(cfg.Rate))

	s.gh = gogithub.NewClient(s.buildHTTPClient(token))
	if cfg.APIURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.APIURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("%w: parse API URL: %w", apperrors.ErrConfiguration, err)
		}
		s.gh.BaseURL = base
	}

	if cfg.AuthorName != "" || cfg.AuthorEmail != "" {
		s.committer = &gogithub.CommitAuthor{}
		if cfg.AuthorName != "" {
			s.committer.Name = gogithub.Ptr(cfg.AuthorName)
		}
		if cfg.AuthorEmail != "" {
			s.committer.Email = gogithub.Ptr(cfg.AuthorEmail)
		}
	}

	return s, nil
}

// buildHTTPClient returns a client sending the fixed authorization headers on every request.
func (s *GitHubStore) buildHTTPClient(token string) *http.Client {
	client := &http.Client{}
	if s.httpClient != nil {
		*client = *s.httpClient
	}
	if client.Timeout == 0 {
		client.Timeout = s.cfg.Timeout
	}

	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept", mediaType)
	header.Set("X-GitHub-Api-Version", APIVersion)
	client.Transport = &headerTransport{base: base, header: header}

	return client
}

// headerTransport sets a fixed set of headers on every outgoing request.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
}

// RoundTrip implements http.RoundTripper.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, values := range t.header {
		req.Header[key] = values
	}
	return t.base.RoundTrip(req)
}

// Dir returns the normalized store directory.
func (s *GitHubStore) Dir() string {
	return s.cfg.Dir
}

// Branch returns the branch files are committed to.
func (s *GitHubStore) Branch() string {
	return s.cfg.Branch
}

// MaxConcurrency returns the number of mutating requests allowed in flight.
func (s *GitHubStore) MaxConcurrency() int {
	return s.gate.Permits()
}

// APIURL returns the Contents API address of a repository path.
func (s *GitHubStore) APIURL(relativePath string) string {
	return s.gh.BaseURL.String() + cdn.APIPath(s.cfg.Owner, s.cfg.Repo, relativePath)
}

// URL returns the CDN URL of filename in the store directory. It does not check existence.
func (s *GitHubStore) URL(filename string) string {
	return s.urls.URL(filename)
}

// RawURL returns the raw.githubusercontent.com URL of filename in the store directory.
func (s *GitHubStore) RawURL(filename string) string {
	return s.urls.RawURL(filename)
}

// call runs one API request, logs it and converts its failure into a RemoteError.
func (s *GitHubStore) call(ctx context.Context, method, op, repoPath string, fn func() (*gogithub.Response, error)) error {
	startTime := time.Now()
	resp, err := fn()

	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	s.logger.DebugContext(ctx, "API call",
		"method", method,
		"path", repoPath,
		"status", status,
		"duration", time.Since(startTime))

	if err != nil {
		return remoteError(op, repoPath, resp, err)
	}
	return nil
}

// remoteError wraps a go-github failure, keeping the raw response body.
func remoteError(op, repoPath string, resp *gogithub.Response, err error) error {
	if resp == nil || resp.Response == nil {
		return apperrors.NewRemoteError(op, repoPath, 0, "", err)
	}

	var body string
	if resp.Body != nil {
		if data, readErr := io.ReadAll(resp.Body); readErr == nil {
			body = strings.TrimSpace(string(data))
		}
	}
	if body == "" {
		var errResp *gogithub.ErrorResponse
		if errors.As(err, &errResp) {
			body = errResp.Message
		}
	}

	return apperrors.NewRemoteError(op, repoPath, resp.StatusCode, body, err)
}

// getContents fetches repoPath on the store branch. Exactly one of file and dir is set on success.
// The request is built here rather than with Repositories.GetContents, which refuses any
// path containing "..", including legal names such as "a..b.png".
func (s *GitHubStore) getContents(
	ctx context.Context,
	repoPath string,
) (*gogithub.RepositoryContent, []*gogithub.RepositoryContent, error) {
	u := cdn.APIPath(s.cfg.Owner, s.cfg.Repo, strings.TrimSuffix(repoPath, "/")) +
		"?ref=" + url.QueryEscape(s.cfg.Branch)

	var raw json.RawMessage
	err := s.call(ctx, http.MethodGet, "get", repoPath, func() (*gogithub.Response, error) {
		req, err := s.gh.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		return s.gh.Do(ctx, req, &raw)
	})
	if err != nil {
		return nil, nil, err
	}

	var file *gogithub.RepositoryContent
	if err := json.Unmarshal(raw, &file); err == nil {
		return file, nil, nil
	}

	var dir []*gogithub.RepositoryContent
	if err := json.Unmarshal(raw, &dir); err != nil {
		return nil, nil, fmt.Errorf("decode contents of %s: %w", repoPath, err)
	}
	return nil, dir, nil
}

// stat fetches the metadata of repoPath. A directory comes back with Type "dir".
func (s *GitHubStore) stat(ctx context.Context, repoPath string) (*RemoteFile, error) {
	file, _, err := s.getContents(ctx, repoPath)
	if err != nil {
		return nil, err
	}

	if file == nil {
		trimmed := strings.TrimSuffix(repoPath, "/")
		return &RemoteFile{Name: baseName(trimmed), Path: trimmed, Type: TypeDir}, nil
	}

	return toRemoteFile(file), nil
}

// list returns the entries of the directory repoPath.
func (s *GitHubStore) list(ctx context.Context, repoPath string) ([]*RemoteFile, error) {
	file, dir, err := s.getContents(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	if file != nil {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrNotADirectory, repoPath)
	}

	entries := make([]*RemoteFile, 0, len(dir))
	for _, item := range dir {
		entries = append(entries, toRemoteFile(item))
	}
	return entries, nil
}

// put creates repoPath, or overwrites it when sha is set, under a gate permit.
func (s *GitHubStore) put(ctx context.Context, repoPath, message string, content []byte, sha string) (*RemoteFile, error) {
	if content == nil {
		content = []byte{}
	}

	opts := &gogithub.RepositoryContentFileOptions{
		Message:   gogithub.Ptr(message),
		Content:   content,
		Branch:    gogithub.Ptr(s.cfg.Branch),
		Committer: s.committer,
	}
	op := "create"
	if sha != "" {
		opts.SHA = gogithub.Ptr(sha)
		op = "update"
	}

	// go-github does not escape the path of writes.
	escaped := cdn.EscapePath(repoPath)

	var res *gogithub.RepositoryContentResponse
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		return s.call(ctx, http.MethodPut, op, repoPath, func() (*gogithub.Response, error) {
			var (
				resp *gogithub.Response
				err  error
			)
			if sha == "" {
				res, resp, err = s.gh.Repositories.CreateFile(ctx, s.cfg.Owner, s.cfg.Repo, escaped, opts)
			} else {
				res, resp, err = s.gh.Repositories.UpdateFile(ctx, s.cfg.Owner, s.cfg.Repo, escaped, opts)
			}
			return resp, err
		})
	})
	if err != nil {
		return nil, err
	}

	written := &RemoteFile{Name: baseName(repoPath), Path: repoPath, Type: TypeFile, Size: len(content)}
	if res != nil && res.Content != nil {
		written = toRemoteFile(res.Content)
	}
	s.verifyBlob(ctx, written, content)

	return written, nil
}

// remove deletes f using its sha as version token, under a gate permit.
func (s *GitHubStore) remove(ctx context.Context, f *RemoteFile, message string) error {
	opts := &gogithub.RepositoryContentFileOptions{
		Message:   gogithub.Ptr(message),
		SHA:       gogithub.Ptr(f.SHA),
		Branch:    gogithub.Ptr(s.cfg.Branch),
		Committer: s.committer,
	}

	return s.gate.Do(ctx, func(ctx context.Context) error {
		return s.call(ctx, http.MethodDelete, "delete", f.Path, func() (*gogithub.Response, error) {
			_, resp, err := s.gh.Repositories.DeleteFile(ctx, s.cfg.Owner, s.cfg.Repo, cdn.EscapePath(f.Path), opts)
			return resp, err
		})
	})
}

// verifyBlob compares the sha reported for a write with the git blob hash of what was sent.
// A mismatch is only logged: the write has already been accepted.
func (s *GitHubStore) verifyBlob(ctx context.Context, written *RemoteFile, content []byte) {
	if written.SHA == "" {
		return
	}
	local := plumbing.ComputeHash(plumbing.BlobObject, content).String()
	if local != written.SHA {
		s.logger.WarnContext(ctx, "remote blob sha differs from local content",
			"path", written.Path,
			"remote_sha", written.SHA,
			"local_sha", local)
	}
}

func toRemoteFile(c *gogithub.RepositoryContent) *RemoteFile {
	return &RemoteFile{
		Name: c.GetName(),
		Path: c.GetPath(),
		Type: c.GetType(),
		SHA:  c.GetSHA(),
		Size: c.GetSize(),
	}
}

func baseName(repoPath string) string {
	if idx := strings.LastIndex(repoPath, "/"); idx != -1 {
		return repoPath[idx+1:]
	}
	return repoPath
}
