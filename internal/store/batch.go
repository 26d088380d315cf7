package store

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// UploadMany uploads paths concurrently, as many at once as the gate allows, and
// returns the CDN URL of each keyed by its local path. The first failure stops
// the batch: uploads already done stay in place and are returned with the error.
func (s *GitHubStore) UploadMany(ctx context.Context, paths []string) (map[string]string, error) {
	var (
		mu      sync.Mutex
		results = make(map[string]string, len(paths))
		seen    = make(map[string]bool, len(paths))
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.gate.Permits())

	for _, localPath := range paths {
		if seen[localPath] {
			continue
		}
		seen[localPath] = true

		group.Go(func() error {
			// Do not start new uploads once one has failed.
			if err := groupCtx.Err(); err != nil {
				return err //nolint:wrapcheck // context error of the batch
			}

			url, err := s.Upload(groupCtx, localPath)
			if err != nil {
				return err
			}

			mu.Lock()
			results[localPath] = url
			mu.Unlock()

			s.notifyProgress(localPath)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return results, fmt.Errorf("upload many: %w", err)
	}

	return results, nil
}

// DeleteMany deletes filenames one after the other and stops at the first failure.
func (s *GitHubStore) DeleteMany(ctx context.Context, filenames []string) error {
	for _, name := range filenames {
		if err := s.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete many: %w", err)
		}
		s.notifyProgress(name)
	}
	return nil
}

// UpdateMany updates each local path of files with the remote name it maps to, in
// local path order, and stops at the first failure. It returns the CDN URL of each
// update done so far keyed by local path.
func (s *GitHubStore) UpdateMany(ctx context.Context, files map[string]string) (map[string]string, error) {
	results := make(map[string]string, len(files))

	for _, localPath := range sortedKeys(files) {
		url, err := s.Update(ctx, localPath, files[localPath])
		if err != nil {
			return results, fmt.Errorf("update many: %w", err)
		}
		results[localPath] = url
		s.notifyProgress(localPath)
	}

	return results, nil
}

func (s *GitHubStore) notifyProgress(item string) {
	if s.progress != nil {
		s.progress(item)
	}
}
