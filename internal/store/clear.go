package store

import (
	"context"
	"fmt"

	"github.com/fclairamb/ghcdn/internal/cdn"
)

// Clear deletes every regular file of a directory except the names in opts.Keep.
// The directory is listed once; each file is then deleted with its own sha.
// Entries that are not regular files are skipped. The first failed delete stops the clear,
// and the result passed back with the error lists the files already deleted.
func (s *GitHubStore) Clear(ctx context.Context, opts ClearOptions) (*ClearResult, error) {
	dir := s.cfg.Dir
	if opts.Dir != "" {
		dir = cdn.NormalizeDir(opts.Dir)
	}

	result := &ClearResult{Dir: dir}

	s.logger.InfoContext(ctx, "clearing directory",
		"dir", dir,
		"keep", len(opts.Keep),
		"dry_run", opts.DryRun)

	entries, err := s.list(ctx, dir)
	if err != nil {
		return result, fmt.Errorf("list directory %q: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsFile() {
			result.Skipped = append(result.Skipped, entry.Name)
			continue
		}
		if _, keep := opts.Keep[entry.Name]; keep {
			result.Kept = append(result.Kept, entry.Name)
			continue
		}

		if opts.DryRun {
			result.Deleted = append(result.Deleted, entry.Name)
			continue
		}

		if err := s.remove(ctx, entry, "delete "+entry.Name); err != nil {
			return result, fmt.Errorf("clear %q: delete %s: %w", dir, entry.Name, err)
		}
		result.Deleted = append(result.Deleted, entry.Name)

		s.logger.DebugContext(ctx, "file deleted", "path", entry.Path)
	}

	s.logger.InfoContext(ctx, "directory cleared",
		"dir", dir,
		"deleted", result.Count(),
		"kept", len(result.Kept),
		"skipped", len(result.Skipped),
		"dry_run", opts.DryRun)

	return result, nil
}
