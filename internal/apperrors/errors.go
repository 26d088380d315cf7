// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// RemoteError represents a failed Contents API call.
// A zero StatusCode means the request never got a response (transport failure).
type RemoteError struct {
	Op         string // "get", "create", "update", "delete", "list"
	Path       string // repository path the call targeted
	StatusCode int
	Body       string // raw response body
	Err        error  // underlying error, if any
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	case e.Body != "":
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Op, e.Path, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("%s %s: HTTP %d", e.Op, e.Path, e.StatusCode)
	}
}

// Unwrap returns the underlying error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match a RemoteError against the status sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case ErrConflict:
		return IsConflictStatus(e.StatusCode)
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// NewRemoteError creates a new RemoteError.
func NewRemoteError(op, path string, statusCode int, body string, err error) *RemoteError {
	return &RemoteError{Op: op, Path: path, StatusCode: statusCode, Body: body, Err: err}
}

// IsConflictStatus reports whether a status code means the path already exists or its sha is stale.
// GitHub answers 422 for a create on an existing path and 409 for a sha mismatch.
func IsConflictStatus(statusCode int) bool {
	return statusCode == http.StatusConflict || statusCode == http.StatusUnprocessableEntity
}

// Common static errors used throughout the application.
var (
	// ErrConfiguration is the class of errors returned when a store cannot be constructed.
	ErrConfiguration = errors.New("configuration error")

	// ErrTokenRequired is returned when no GitHub token is given explicitly or through the environment.
	ErrTokenRequired = errors.New("github token required (--token, GHCDN_TOKEN or GITHUB_PAT env var)")

	// ErrOwnerRequired is returned when the repository owner is missing.
	ErrOwnerRequired = errors.New("repository owner required (--owner or GHCDN_OWNER)")

	// ErrRepoRequired is returned when the repository name is missing.
	ErrRepoRequired = errors.New("repository name required (--repo or GHCDN_REPO)")

	// ErrInvalidConcurrency is returned when max concurrency is lower than 1.
	ErrInvalidConcurrency = errors.New("max concurrency must be at least 1")

	// ErrFileNotFound is returned when a local file or a remote update target does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrNotFound matches remote errors with a 404 status.
	ErrNotFound = errors.New("remote path not found")

	// ErrConflict matches remote errors caused by an existing path or a stale sha.
	ErrConflict = errors.New("remote conflict")

	// ErrNotAFile is returned when a file operation targets a remote directory.
	ErrNotAFile = errors.New("remote path is not a file")

	// ErrNotADirectory is returned when a directory operation targets a remote file.
	ErrNotADirectory = errors.New("remote path is not a directory")

	// ErrFilenameRequired is returned when a command needs a file name argument.
	ErrFilenameRequired = errors.New("file name required")

	// ErrInvalidPath is returned when a remote file name has a "." or ".." segment.
	ErrInvalidPath = errors.New("invalid remote path")

	// ErrInvalidMapping is returned when an update-many argument is not of the form local=target.
	ErrInvalidMapping = errors.New("invalid mapping, expected local=target")
)
