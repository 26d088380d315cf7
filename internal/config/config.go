// Package config loads the store configuration from GHCDN_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/v2"

	"github.com/fclairamb/ghcdn/internal/apperrors"
)

const (
	// EnvPrefix is the prefix of every configuration environment variable.
	EnvPrefix = "GHCDN_"
	// TokenEnvVar is the fallback environment variable holding the GitHub token.
	TokenEnvVar = "GITHUB_PAT"

	// DefaultBranch is the branch files are committed to.
	DefaultBranch = "main"
	// DefaultDir is the repository directory files are stored in.
	DefaultDir = "img/"
	// DefaultConcurrency is the number of mutating requests allowed in flight.
	DefaultConcurrency = 4
	// DefaultTimeout applies to every network call.
	DefaultTimeout = 30 * time.Second
)

// Config holds the repository binding and client settings of a store.
type Config struct {
	Owner       string        `koanf:"owner"`        // Repository owner (GHCDN_OWNER)
	Repo        string        `koanf:"repo"`         // Repository name (GHCDN_REPO)
	Branch      string        `koanf:"branch"`       // Target branch (GHCDN_BRANCH)
	Dir         string        `koanf:"dir"`          // Directory inside the repository (GHCDN_DIR)
	Token       string        `koanf:"token"`        // GitHub token (GHCDN_TOKEN, falls back to GITHUB_PAT)
	CDN         string        `koanf:"cdn"`          // Custom CDN base, jsDelivr when empty (GHCDN_CDN)
	Concurrency int           `koanf:"concurrency"`  // Max mutating requests in flight (GHCDN_CONCURRENCY)
	Timeout     time.Duration `koanf:"timeout"`      // Per-request timeout (GHCDN_TIMEOUT)
	Rate        float64       `koanf:"rate"`         // Mutating requests per second, 0 = unlimited (GHCDN_RATE)
	APIURL      string        `koanf:"api_url"`      // API base URL for GitHub Enterprise (GHCDN_API_URL)
	AuthorName  string        `koanf:"author_name"`  // Commit author name (GHCDN_AUTHOR_NAME)
	AuthorEmail string        `koanf:"author_email"` // Commit author email (GHCDN_AUTHOR_EMAIL)
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Branch:      DefaultBranch,
		Dir:         DefaultDir,
		Concurrency: DefaultConcurrency,
		Timeout:     DefaultTimeout,
	}
}

// Load reads GHCDN_* variables from environ on top of Default.
// A nil environ reads the process environment.
func Load(environ func() []string) (Config, error) {
	if environ == nil {
		environ = os.Environ
	}

	k := koanf.New(".")
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix:      EnvPrefix,
		EnvironFunc: environ,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

// Validate checks the fields a store cannot work without.
// The token is checked separately by ResolveToken.
func (c *Config) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, apperrors.ErrOwnerRequired)
	}
	if c.Repo == "" {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, apperrors.ErrRepoRequired)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, apperrors.ErrInvalidConcurrency)
	}
	return nil
}

// ResolveToken returns explicit when set, else the TokenEnvVar value found through lookup.
// It fails when neither yields a token.
func ResolveToken(explicit string, lookup func(string) (string, bool)) (string, error) {
	if token := strings.TrimSpace(explicit); token != "" {
		return token, nil
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if token, ok := lookup(TokenEnvVar); ok && strings.TrimSpace(token) != "" {
		return strings.TrimSpace(token), nil
	}

	return "", fmt.Errorf("%w: %w", apperrors.ErrConfiguration, apperrors.ErrTokenRequired)
}
