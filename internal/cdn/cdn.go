// Package cdn builds the public and API addresses of files kept in a repository directory.
// Nothing in this package performs I/O.
package cdn

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// JSDelivrBase is the default public CDN serving GitHub repositories.
	JSDelivrBase = "https://cdn.jsdelivr.net/gh"
	// RawBase serves files straight from GitHub, without a CDN.
	RawBase = "https://raw.githubusercontent.com"
)

// NormalizeDir returns dir without leading or repeated separators, ending with exactly one "/".
// An empty or root-only dir yields "".
func NormalizeDir(dir string) string {
	parts := strings.Split(dir, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, "/") + "/"
}

// EscapePath escapes every segment of a repository path for use in a URL.
// Separators are kept, so "my dir/cat #1.png" gives "my%20dir/cat%20%231.png".
func EscapePath(repoPath string) string {
	segments := strings.Split(repoPath, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// APIPath returns the escaped Contents API path of a file relative to the API base URL.
func APIPath(owner, repo, relativePath string) string {
	return fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, EscapePath(strings.TrimPrefix(relativePath, "/")))
}

// Builder builds CDN URLs for one repository directory.
type Builder struct {
	Owner  string
	Repo   string
	Branch string
	Dir    string // normalized, see NormalizeDir
	Base   string // custom CDN base, empty for jsDelivr
}

// NewBuilder creates a Builder. dir is normalized.
func NewBuilder(owner, repo, branch, dir, base string) Builder {
	return Builder{
		Owner:  owner,
		Repo:   repo,
		Branch: branch,
		Dir:    NormalizeDir(dir),
		Base:   base,
	}
}

// RelPath returns the repository path of filename: the directory followed by the name.
func (b Builder) RelPath(filename string) string {
	return strings.TrimPrefix(b.Dir+filename, "/")
}

// URL returns the public URL of filename, escaped. It does not check that the file exists.
func (b Builder) URL(filename string) string {
	rel := EscapePath(b.RelPath(filename))
	if b.Base != "" {
		return strings.TrimRight(b.Base, "/") + "/" + rel
	}
	return fmt.Sprintf("%s/%s/%s@%s/%s", JSDelivrBase, b.Owner, b.Repo, b.Branch, rel)
}

// RawURL returns the raw.githubusercontent.com URL of filename, escaped.
func (b Builder) RawURL(filename string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", RawBase, b.Owner, b.Repo, b.Branch, EscapePath(b.RelPath(filename)))
}
