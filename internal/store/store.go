// Package store publishes files to a GitHub repository directory and hands out their CDN URLs.
package store

import (
	"context"
	"sort"
)

// Entry types reported by the Contents API.
const (
	TypeFile      = "file"
	TypeDir       = "dir"
	TypeSymlink   = "symlink"
	TypeSubmodule = "submodule"
)

// RemoteFile describes a path in the repository as last fetched.
// SHA is the version token required to update or delete it; it is never kept beyond one operation.
type RemoteFile struct {
	Name string
	Path string
	Type string
	SHA  string
	Size int
}

// IsFile returns true for regular files.
func (f *RemoteFile) IsFile() bool {
	return f.Type == TypeFile
}

// IsDir returns true for directories.
func (f *RemoteFile) IsDir() bool {
	return f.Type == TypeDir
}

// ClearOptions configures a directory clear.
type ClearOptions struct {
	Keep   map[string]struct{} // file names left in place
	Dir    string              // directory to clear, the store directory when empty
	DryRun bool                // list what would be deleted without deleting
}

// ClearResult contains the result of a directory clear.
type ClearResult struct {
	Dir     string   // normalized directory that was cleared
	Deleted []string // deleted (or, on a dry run, deletable) file names
	Kept    []string // file names matched by Keep
	Skipped []string // entries that are not regular files
}

// Count returns the number of files deleted.
func (r *ClearResult) Count() int {
	return len(r.Deleted)
}

// KeepSet builds a ClearOptions.Keep set from names.
func KeepSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// ProgressFunc is called after each element of a batch completes.
// UploadMany may call it from several goroutines at once.
type ProgressFunc func(item string)

// Store publishes files to one repository directory.
//
//nolint:interfacebloat // Store mirrors the full set of file operations
type Store interface {
	// Single file operations
	Upload(ctx context.Context, localPath string) (string, error)
	Update(ctx context.Context, localPath, target string) (string, error)
	Delete(ctx context.Context, filename string) error
	Exists(ctx context.Context, filename string) (bool, error)

	// URL building, no I/O
	URL(filename string) string
	RawURL(filename string) string

	// Directory operations
	EnsureDir(ctx context.Context) error
	Clear(ctx context.Context, opts ClearOptions) (*ClearResult, error)

	// Batch operations, fail-fast and not transactional
	UploadMany(ctx context.Context, paths []string) (map[string]string, error)
	DeleteMany(ctx context.Context, filenames []string) error
	UpdateMany(ctx context.Context, files map[string]string) (map[string]string, error)
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
