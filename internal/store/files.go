package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fclairamb/ghcdn/internal/apperrors"
)

const (
	// placeholderName is the empty file that makes a directory visible in git.
	placeholderName = ".gitkeep"
	// renameTimeFormat is the UTC timestamp inserted in the name of a conflicting upload.
	renameTimeFormat = "20060102-150405"
)

// Upload stores a local file under its own name in the store directory and returns its CDN URL.
// If the name is taken, the file is stored once more as {stem}-{YYYYMMDD-HHMMSS}{suffix}
// and the URL of the renamed file is returned. An existing file is never overwritten.
func (s *GitHubStore) Upload(ctx context.Context, localPath string) (string, error) {
	name := filepath.Base(localPath)
	if err := validateName(name); err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	content, err := readLocalFile(localPath)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	s.ensureDirBestEffort(ctx)

	written, err := s.put(ctx, s.urls.RelPath(name), "upload "+name, content, "")
	if isNameConflict(err) {
		renamed := timestampedName(name, s.now())
		s.logger.InfoContext(ctx, "name already taken, uploading under a timestamped name",
			"name", name,
			"renamed", renamed)

		name = renamed
		written, err = s.put(ctx, s.urls.RelPath(name), "upload "+name, content, "")
	}
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}

	s.logger.InfoContext(ctx, "file uploaded", "path", written.Path, "size", len(content))

	return s.URL(name), nil
}

// Update overwrites an existing remote file with the content of localPath and returns its CDN URL.
// The remote name is target, or the local file name when target is empty.
// It fails with apperrors.ErrFileNotFound when the remote file does not exist; it never creates one.
func (s *GitHubStore) Update(ctx context.Context, localPath, target string) (string, error) {
	if target == "" {
		target = filepath.Base(localPath)
	}
	if err := validateName(target); err != nil {
		return "", fmt.Errorf("update: %w", err)
	}

	content, err := readLocalFile(localPath)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", target, err)
	}

	repoPath := s.urls.RelPath(target)
	current, err := s.stat(ctx, repoPath)
	if errors.Is(err, apperrors.ErrNotFound) {
		return "", fmt.Errorf("update %s: %w: %s", target, apperrors.ErrFileNotFound, repoPath)
	}
	if err != nil {
		return "", fmt.Errorf("update %s: %w", target, err)
	}
	if current.IsDir() {
		return "", fmt.Errorf("update %s: %w", target, apperrors.ErrNotAFile)
	}

	written, err := s.put(ctx, repoPath, "update "+target, content, current.SHA)
	if err != nil {
		return "", fmt.Errorf("update %s: %w", target, err)
	}

	s.logger.InfoContext(ctx, "file updated", "path", written.Path, "size", len(content))

	return s.URL(target), nil
}

// Delete removes filename from the store directory.
// A file that does not exist is not an error, and no write is issued for it.
func (s *GitHubStore) Delete(ctx context.Context, filename string) error {
	if err := validateName(filename); err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	repoPath := s.urls.RelPath(filename)

	current, err := s.stat(ctx, repoPath)
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.DebugContext(ctx, "file already absent", "path", repoPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}
	if current.IsDir() {
		return fmt.Errorf("delete %s: %w", filename, apperrors.ErrNotAFile)
	}

	if err := s.remove(ctx, current, "delete "+filename); err != nil {
		return fmt.Errorf("delete %s: %w", filename, err)
	}

	s.logger.InfoContext(ctx, "file deleted", "path", repoPath)

	return nil
}

// Exists returns true if filename is present in the store directory.
// Absence is reported as false with a nil error; other failures come with their error.
func (s *GitHubStore) Exists(ctx context.Context, filename string) (bool, error) {
	if err := validateName(filename); err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	_, err := s.stat(ctx, s.urls.RelPath(filename))
	if errors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", filename, err)
	}
	return true, nil
}

// EnsureDir creates the store directory by writing an empty .gitkeep when it is missing.
// It does nothing for the repository root.
func (s *GitHubStore) EnsureDir(ctx context.Context) error {
	dir := s.cfg.Dir
	if dir == "" {
		return nil
	}

	_, err := s.stat(ctx, dir)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return fmt.Errorf("check directory %s: %w", dir, err)
	}

	_, err = s.put(ctx, dir+placeholderName, "init dir", []byte{}, "")
	if isNameConflict(err) {
		// Created concurrently by another writer.
		return nil
	}
	if err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	s.logger.InfoContext(ctx, "directory created", "dir", dir)

	return nil
}

// ensureDirBestEffort runs EnsureDir and only logs its failure.
func (s *GitHubStore) ensureDirBestEffort(ctx context.Context) {
	if err := s.EnsureDir(ctx); err != nil {
		s.logger.WarnContext(ctx, "failed to ensure directory", "dir", s.cfg.Dir, "error", err)
	}
}

// readLocalFile reads a regular local file, reporting a missing one as apperrors.ErrFileNotFound.
func readLocalFile(localPath string) ([]byte, error) {
	info, err := os.Stat(localPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrFileNotFound, localPath)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", apperrors.ErrFileNotFound, localPath)
	}

	content, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", localPath, err)
	}
	return content, nil
}

// validateName rejects names that would leave the store directory or are not a path at all.
// Dots inside a segment are fine: "a..b.png" is a valid name.
func validateName(name string) error {
	for _, seg := range strings.Split(name, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", apperrors.ErrInvalidPath, name)
		}
	}
	return nil
}

// isNameConflict reports whether a create failed because the path already exists.
func isNameConflict(err error) bool {
	var remoteErr *apperrors.RemoteError
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusUnprocessableEntity
}

// timestampedName inserts the UTC time between the stem and the suffix of name.
func timestampedName(name string, now time.Time) string {
	ext := filepath.Ext(name)
	if ext == name {
		// Dotfiles such as ".env" have no suffix.
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	return fmt.Sprintf("%s-%s%s", stem, now.UTC().Format(renameTimeFormat), ext)
}
