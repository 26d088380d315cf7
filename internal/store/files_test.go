package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/fclairamb/ghcdn/internal/apperrors"
	"github.com/fclairamb/ghcdn/internal/config"
	"github.com/fclairamb/ghcdn/internal/ghfake"
)

func TestUpload_NewFile(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	s := newTestStore(t, srv, nil)

	local := writeLocal(t, "cat.png", "meow")
	url, err := s.Upload(context.Background(), local)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if url != "https://cdn.jsdelivr.net/gh/alice/pics@main/img/cat.png" {
		t.Errorf("unexpected URL %q", url)
	}

	content, ok := srv.Content("img/cat.png")
	if !ok || string(content) != "meow" {
		t.Errorf("remote content = %q (exists: %v)", content, ok)
	}

	// The missing directory gets its placeholder first.
	placeholder, ok := srv.Content("img/.gitkeep")
	if !ok || len(placeholder) != 0 {
		t.Errorf("expected empty img/.gitkeep, got %q (exists: %v)", placeholder, ok)
	}
}

func TestUpload_RenamesOnConflict(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	srv.Put("img/cat.png", []byte("original"))
	s := newTestStore(t, srv, nil)

	local := writeLocal(t, "cat.png", "newer")
	url, err := s.Upload(context.Background(), local)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if url != "https://cdn.jsdelivr.net/gh/alice/pics@main/img/cat-20240305-060708.png" {
		t.Errorf("unexpected URL %q", url)
	}

	original, _ := srv.Content("img/cat.png")
	if string(original) != "original" {
		t.Errorf("existing file was overwritten: %q", original)
	}
	renamed, ok := srv.Content("img/cat-20240305-060708.png")
	if !ok || string(renamed) != "newer" {
		t.Errorf("renamed content = %q (exists: %v)", renamed, ok)
	}
	if srv.Writes() != 2 {
		t.Errorf("expected 2 writes (conflict + renamed create), got %d", srv.Writes())
	}
}

func TestUpload_SecondConflictFails(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	srv.Put("img/cat.png", []byte("one"))
	srv.Put("img/cat-20240305-060708.png", []byte("two"))
	s := newTestStore(t, srv, nil)

	_, err := s.Upload(context.Background(), writeLocal(t, "cat.png", "three"))

	var remoteErr *apperrors.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", remoteErr.StatusCode)
	}
	if srv.Writes() != 2 {
		t.Errorf("expected exactly one retry, got %d writes", srv.Writes())
	}
}

func TestUpload_MissingLocalFile(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	s := newTestStore(t, srv, nil)

	_, err := s.Upload(context.Background(), "/nonexistent/cat.png")
	if !errors.Is(err, apperrors.ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if len(srv.Requests()) != 0 {
		t.Errorf("expected no API call, got %d", len(srv.Requests()))
	}
}

func TestUpload_RemoteFailureCarriesBody(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	srv.Put("img/.gitkeep", nil)
	srv.SetFailure(func(method, repoPath string) (int, string, bool) {
		return http.StatusInternalServerError, `{"message":"boom"}`, method == http.MethodPut
	})
	s := newTestStore(t, srv, nil)

	_, err := s.Upload(context.Background(), writeLocal(t, "cat.png", "meow"))

	var remoteErr *apperrors.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", remoteErr.StatusCode)
	}
	if remoteErr.Body != `{"message":"boom"}` {
		t.Errorf("body = %q", remoteErr.Body)
	}
}

func TestUpload_PlaceholderFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	srv.SetFailure(func(method, repoPath string) (int, string, bool) {
		return http.StatusForbidden, `{"message":"nope"}`, repoPath == "img/.gitkeep"
	})
	s := newTestStore(t, srv, nil)

	if _, err := s.Upload(context.Background(), writeLocal(t, "cat.png", "meow")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, ok := srv.Content("img/cat.png"); !ok {
		t.Error("expected file to be uploaded")
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()

	t.Run("existing file", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.Put("img/cat.png", []byte("meow"))
		s := newTestStore(t, srv, nil)

		if err := s.Delete(context.Background(), "cat.png"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, ok := srv.Content("img/cat.png"); ok {
			t.Error("expected file to be deleted")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		s := newTestStore(t, srv, nil)

		if err := s.Delete(context.Background(), "ghost.png"); err != nil {
			t.Fatalf("Delete of missing file failed: %v", err)
		}
		if srv.Writes() != 0 {
			t.Errorf("expected no write, got %d", srv.Writes())
		}
		if len(srv.Requests()) != 1 {
			t.Errorf("expected only the existence check, got %d requests", len(srv.Requests()))
		}
	})

	t.Run("directory", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.Put("img/sub/cat.png", []byte("meow"))
		s := newTestStore(t, srv, nil)

		if err := s.Delete(context.Background(), "sub"); !errors.Is(err, apperrors.ErrNotAFile) {
			t.Fatalf("expected ErrNotAFile, got %v", err)
		}
		if srv.Writes() != 0 {
			t.Errorf("expected no write, got %d", srv.Writes())
		}
	})
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	t.Run("existing file", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.Put("img/cat.png", []byte("old"))
		s := newTestStore(t, srv, nil)

		url, err := s.Update(context.Background(), writeLocal(t, "cat.png", "new"), "")
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if url != s.URL("cat.png") {
			t.Errorf("unexpected URL %q", url)
		}
		content, _ := srv.Content("img/cat.png")
		if string(content) != "new" {
			t.Errorf("remote content = %q, want new", content)
		}
	})

	t.Run("target override", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.Put("img/logo.png", []byte("old"))
		s := newTestStore(t, srv, nil)

		url, err := s.Update(context.Background(), writeLocal(t, "draft.png", "new"), "logo.png")
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if url != s.URL("logo.png") {
			t.Errorf("unexpected URL %q", url)
		}
		if _, ok := srv.Content("img/draft.png"); ok {
			t.Error("local name must not be used when a target is given")
		}
	})

	t.Run("missing remote", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		s := newTestStore(t, srv, nil)

		_, err := s.Update(context.Background(), writeLocal(t, "cat.png", "new"), "")
		if !errors.Is(err, apperrors.ErrFileNotFound) {
			t.Fatalf("expected ErrFileNotFound, got %v", err)
		}
		if srv.Writes() != 0 {
			t.Errorf("expected no write, got %d", srv.Writes())
		}
	})

	t.Run("missing local", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.Put("img/cat.png", []byte("old"))
		s := newTestStore(t, srv, nil)

		_, err := s.Update(context.Background(), "/nonexistent/cat.png", "")
		if !errors.Is(err, apperrors.ErrFileNotFound) {
			t.Fatalf("expected ErrFileNotFound, got %v", err)
		}
		if srv.Writes() != 0 {
			t.Errorf("expected no write, got %d", srv.Writes())
		}
	})

	t.Run("stale sha", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.Put("img/cat.png", []byte("old"))
		srv.SetFailure(func(method, _ string) (int, string, bool) {
			return http.StatusConflict, `{"message":"img/cat.png does not match"}`, method == http.MethodPut
		})
		s := newTestStore(t, srv, nil)

		_, err := s.Update(context.Background(), writeLocal(t, "cat.png", "new"), "")
		if !errors.Is(err, apperrors.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if srv.Writes() != 1 {
			t.Errorf("conflicts must not be retried, got %d writes", srv.Writes())
		}
	})
}

func TestExists(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	srv.Put("img/cat.png", []byte("meow"))
	s := newTestStore(t, srv, nil)
	ctx := context.Background()

	exists, err := s.Exists(ctx, "cat.png")
	if err != nil || !exists {
		t.Errorf("Exists(cat.png) = %v, %v", exists, err)
	}

	exists, err = s.Exists(ctx, "dog.png")
	if err != nil || exists {
		t.Errorf("Exists(dog.png) = %v, %v", exists, err)
	}

	srv.SetFailure(func(string, string) (int, string, bool) {
		return http.StatusInternalServerError, "down", true
	})
	exists, err = s.Exists(ctx, "cat.png")
	if err == nil || exists {
		t.Errorf("expected error on server failure, got %v, %v", exists, err)
	}
	if srv.Writes() != 0 {
		t.Errorf("Exists must not write, got %d", srv.Writes())
	}
}

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	t.Run("root is a no-op", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		s := newTestStore(t, srv, func(c *config.Config) { c.Dir = "" })

		if err := s.EnsureDir(context.Background()); err != nil {
			t.Fatalf("EnsureDir failed: %v", err)
		}
		if len(srv.Requests()) != 0 {
			t.Errorf("expected no request, got %d", len(srv.Requests()))
		}
	})

	t.Run("existing directory", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.Put("img/cat.png", []byte("meow"))
		s := newTestStore(t, srv, nil)

		if err := s.EnsureDir(context.Background()); err != nil {
			t.Fatalf("EnsureDir failed: %v", err)
		}
		if srv.Writes() != 0 {
			t.Errorf("expected no write, got %d", srv.Writes())
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		s := newTestStore(t, srv, func(c *config.Config) { c.Dir = "assets/img" })

		if err := s.EnsureDir(context.Background()); err != nil {
			t.Fatalf("EnsureDir failed: %v", err)
		}
		content, ok := srv.Content("assets/img/.gitkeep")
		if !ok || !bytes.Equal(content, []byte{}) {
			t.Errorf("expected empty placeholder, got %q (exists: %v)", content, ok)
		}
	})

	t.Run("failure is returned", func(t *testing.T) {
		t.Parallel()
		srv := newServer(t)
		srv.SetFailure(func(method, _ string) (int, string, bool) {
			return http.StatusForbidden, "forbidden", method == http.MethodPut
		})
		s := newTestStore(t, srv, nil)

		if err := s.EnsureDir(context.Background()); err == nil {
			t.Fatal("expected error")
		}
	})
}

// TestStore_GateBoundsMutatingRequests fires more concurrent uploads than permits.
func TestStore_GateBoundsMutatingRequests(t *testing.T) {
	t.Parallel()
	srv := newServer(t, ghfake.WithWriteDelay(20*time.Millisecond))
	srv.Put("img/.gitkeep", nil)

	const permits = 3
	s := newTestStore(t, srv, func(c *config.Config) { c.Concurrency = permits })

	const uploads = 12
	locals := make([]string, uploads)
	for i := range locals {
		locals[i] = writeLocal(t, fmt.Sprintf("file-%02d.png", i), "x")
	}

	var wg sync.WaitGroup
	errs := make(chan error, uploads)
	for _, local := range locals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Upload(context.Background(), local); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	if srv.Writes() != uploads {
		t.Errorf("writes = %d, want %d", srv.Writes(), uploads)
	}
	if peak := srv.PeakInFlight(); peak > permits {
		t.Errorf("peak in-flight mutating requests = %d, want <= %d", peak, permits)
	}
}

func TestTimestampedName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		expected string
	}{
		{"cat.png", "cat-20240305-060708.png"},
		{"archive.tar.gz", "archive.tar-20240305-060708.gz"},
		{"README", "README-20240305-060708"},
		{".env", ".env-20240305-060708"},
	}

	for _, tt := range tests {
		if got := timestampedName(tt.name, fixedNow); got != tt.expected {
			t.Errorf("timestampedName(%q) = %q, want %q", tt.name, got, tt.expected)
		}
	}
}

func TestFileOperations_SpecialNames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		expectedURL string
	}{
		{"with space.png", "https://cdn.jsdelivr.net/gh/alice/pics@main/img/with%20space.png"},
		{"my cat#1.png", "https://cdn.jsdelivr.net/gh/alice/pics@main/img/my%20cat%231.png"},
		{"what?.png", "https://cdn.jsdelivr.net/gh/alice/pics@main/img/what%3F.png"},
		{"a..b.png", "https://cdn.jsdelivr.net/gh/alice/pics@main/img/a..b.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t)
			s := newTestStore(t, srv, nil)
			ctx := context.Background()
			repoPath := "img/" + tt.name

			url, err := s.Upload(ctx, writeLocal(t, tt.name, "v1"))
			if err != nil {
				t.Fatalf("Upload failed: %v", err)
			}
			if url != tt.expectedURL {
				t.Errorf("Upload URL = %q, want %q", url, tt.expectedURL)
			}
			if content, ok := srv.Content(repoPath); !ok || string(content) != "v1" {
				t.Fatalf("remote %s = %q (exists: %v), paths: %v", repoPath, content, ok, srv.Paths())
			}

			exists, err := s.Exists(ctx, tt.name)
			if err != nil || !exists {
				t.Errorf("Exists = %v, %v", exists, err)
			}

			if _, err := s.Update(ctx, writeLocal(t, "draft.png", "v2"), tt.name); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if content, _ := srv.Content(repoPath); string(content) != "v2" {
				t.Errorf("remote content after update = %q, want v2", content)
			}

			if err := s.Delete(ctx, tt.name); err != nil {
				t.Fatalf("Delete failed: %v", err)
			}
			if _, ok := srv.Content(repoPath); ok {
				t.Error("expected file to be deleted")
			}

			exists, err = s.Exists(ctx, tt.name)
			if err != nil || exists {
				t.Errorf("Exists after delete = %v, %v", exists, err)
			}
		})
	}
}

func TestFileOperations_RejectDotSegments(t *testing.T) {
	t.Parallel()
	srv := newServer(t)
	srv.Put("secret.png", []byte("outside"))
	s := newTestStore(t, srv, nil)
	ctx := context.Background()

	for _, name := range []string{"..", "../secret.png", "sub/../../secret.png", "./cat.png"} {
		if _, err := s.Exists(ctx, name); !errors.Is(err, apperrors.ErrInvalidPath) {
			t.Errorf("Exists(%q) error = %v, want ErrInvalidPath", name, err)
		}
		if err := s.Delete(ctx, name); !errors.Is(err, apperrors.ErrInvalidPath) {
			t.Errorf("Delete(%q) error = %v, want ErrInvalidPath", name, err)
		}
		if _, err := s.Update(ctx, writeLocal(t, "cat.png", "x"), name); !errors.Is(err, apperrors.ErrInvalidPath) {
			t.Errorf("Update(%q) error = %v, want ErrInvalidPath", name, err)
		}
	}

	if n := len(srv.Requests()); n != 0 {
		t.Errorf("expected no API call, got %d", n)
	}
	if content, _ := srv.Content("secret.png"); string(content) != "outside" {
		t.Errorf("secret.png = %q", content)
	}
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		valid bool
	}{
		{"cat.png", true},
		{"a..b.png", true},
		{"...", true},
		{".env", true},
		{"sub/cat.png", true},
		{".", false},
		{"..", false},
		{"../cat.png", false},
		{"sub/./cat.png", false},
	}

	for _, tt := range tests {
		err := validateName(tt.name)
		if (err == nil) != tt.valid {
			t.Errorf("validateName(%q) = %v, want valid %v", tt.name, err, tt.valid)
		}
	}
}
