// Package cmd provides the CLI commands for ghcdn.
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/fclairamb/ghcdn/internal/config"
	"github.com/fclairamb/ghcdn/internal/store"
	"github.com/fclairamb/ghcdn/internal/version"
)

// logFormatEnvVar selects the log output format.
const logFormatEnvVar = "GHCDN_LOG_FORMAT"

// ErrAbsent is returned by the exists command when the file is not in the store.
// It only carries the exit status: main exits with 1 without logging it.
var ErrAbsent = errors.New("file does not exist")

// verboseFlag is the shared verbose flag for all commands.
var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "Enable verbose logging",
}

// LogFormat represents the log output format.
type LogFormat string

const (
	// LogFormatText is the human-readable text format (default).
	LogFormatText LogFormat = "text"
	// LogFormatJSON is the JSON-formatted structured logs.
	LogFormatJSON LogFormat = "json"
)

// app holds what the commands read from the process, so tests can replace it.
type app struct {
	environ    func() []string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewApp creates the CLI application.
func NewApp() *cli.Command {
	return newApp(os.Environ, nil)
}

func newApp(environ func() []string, httpClient *http.Client) *cli.Command {
	a := &app{environ: environ, httpClient: httpClient, logger: slog.Default()}

	return &cli.Command{
		Name:    "ghcdn",
		Usage:   "Publish files to a GitHub repository and serve them through a CDN",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Aliases: []string{"o"}, Usage: "Repository owner (GHCDN_OWNER)"},
			&cli.StringFlag{Name: "repo", Aliases: []string{"r"}, Usage: "Repository name (GHCDN_REPO)"},
			&cli.StringFlag{Name: "branch", Aliases: []string{"b"}, Usage: "Target branch (GHCDN_BRANCH)"},
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "Directory inside the repository (GHCDN_DIR)"},
			&cli.StringFlag{Name: "token", Usage: "GitHub token (GHCDN_TOKEN, GITHUB_PAT)"},
			&cli.StringFlag{Name: "cdn", Usage: "Custom CDN base URL, jsDelivr when empty (GHCDN_CDN)"},
			&cli.IntFlag{Name: "concurrency", Aliases: []string{"c"}, Usage: "Max mutating requests in flight (GHCDN_CONCURRENCY)"},
			&cli.DurationFlag{Name: "timeout", Usage: "Per-request timeout (GHCDN_TIMEOUT)"},
			&cli.FloatFlag{Name: "rate", Usage: "Max mutating requests per second, 0 for unlimited (GHCDN_RATE)"},
			&cli.StringFlag{Name: "api-url", Usage: "GitHub API base URL (GHCDN_API_URL)"},
			verboseFlag,
		},
		Commands: []*cli.Command{
			a.uploadCommand(),
			a.updateCommand(),
			a.updateManyCommand(),
			a.deleteCommand(),
			a.existsCommand(),
			a.urlCommand(),
			a.initCommand(),
			a.clearCommand(),
			a.configCommand(),
		},
	}
}

// before sets up logging once the flags of the running subcommand are parsed.
func (a *app) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	a.setupLogging(cmd)
	return ctx, nil
}

// getenv reads one variable from the app environment.
func (a *app) getenv(key string) string {
	value, _ := a.lookupEnv(key)
	return value
}

func (a *app) lookupEnv(key string) (string, bool) {
	prefix := key + "="
	for _, kv := range a.environ() {
		if value, ok := strings.CutPrefix(kv, prefix); ok {
			return value, true
		}
	}
	return "", false
}

// getLogFormat returns the configured log format from GHCDN_LOG_FORMAT.
func (a *app) getLogFormat() (LogFormat, bool) {
	switch strings.ToLower(a.getenv(logFormatEnvVar)) {
	case "json":
		return LogFormatJSON, true
	case "text", "":
		return LogFormatText, true
	default:
		return LogFormatText, false
	}
}

// setupLogging configures the logger based on the verbose flag and GHCDN_LOG_FORMAT.
// Logs go to the error writer so that stdout only carries command output.
// The logger also becomes the slog default, which main uses to report errors.
func (a *app) setupLogging(cmd *cli.Command) {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}

	format, valid := a.getLogFormat()
	opts := &slog.HandlerOptions{Level: level}
	out := stderr(cmd)

	var handler slog.Handler
	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(out, opts)
	case LogFormatText:
		handler = slog.NewTextHandler(out, opts)
	}

	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)

	if !valid {
		a.logger.Warn("Invalid GHCDN_LOG_FORMAT value, using text format", "value", a.getenv(logFormatEnvVar))
	}

	if level == slog.LevelDebug {
		a.logger.Debug("Verbose logging enabled")
	}
}

// loadConfig reads GHCDN_* variables and applies the command line flags on top.
func (a *app) loadConfig(cmd *cli.Command) (config.Config, error) {
	cfg, err := config.Load(a.environ)
	if err != nil {
		return cfg, err
	}

	stringFlags := map[string]*string{
		"owner":   &cfg.Owner,
		"repo":    &cfg.Repo,
		"branch":  &cfg.Branch,
		"dir":     &cfg.Dir,
		"token":   &cfg.Token,
		"cdn":     &cfg.CDN,
		"api-url": &cfg.APIURL,
	}
	for name, field := range stringFlags {
		if cmd.IsSet(name) {
			*field = cmd.String(name)
		}
	}
	if cmd.IsSet("concurrency") {
		cfg.Concurrency = cmd.Int("concurrency")
	}
	if cmd.IsSet("timeout") {
		cfg.Timeout = cmd.Duration("timeout")
	}
	if cmd.IsSet("rate") {
		cfg.Rate = cmd.Float("rate")
	}

	return cfg, nil
}

// newStore creates the store used by a command.
func (a *app) newStore(cmd *cli.Command, opts ...store.Option) (store.Store, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	opts = append([]store.Option{
		store.WithLogger(a.logger),
		store.WithEnvLookup(a.lookupEnv),
	}, opts...)
	if a.httpClient != nil {
		opts = append(opts, store.WithHTTPClient(a.httpClient))
	}

	s, err := store.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}
