package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/urfave/cli/v3"

	"github.com/fclairamb/ghcdn/internal/apperrors"
	"github.com/fclairamb/ghcdn/internal/cdn"
	"github.com/fclairamb/ghcdn/internal/config"
	"github.com/fclairamb/ghcdn/internal/store"
)

// uploadCommand creates the upload subcommand.
func (a *app) uploadCommand() *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Upload files to the store directory and print their CDN URLs",
		ArgsUsage: "<file>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-progress",
				Usage: "Do not display a progress bar for multiple files",
			},
		},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			paths := uniqueArgs(cmd.Args().Slice())
			if len(paths) == 0 {
				return apperrors.ErrFilenameRequired
			}

			if len(paths) == 1 {
				s, err := a.newStore(cmd)
				if err != nil {
					return err
				}
				url, err := s.Upload(ctx, paths[0])
				if err != nil {
					return err
				}
				printURL(stdout(cmd), url)
				return nil
			}

			var (
				bar  *pb.ProgressBar
				opts []store.Option
			)
			if !cmd.Bool("no-progress") {
				bar = pb.Full.New(len(paths)).SetWriter(stderr(cmd)).Start()
				opts = append(opts, store.WithProgress(func(string) { bar.Increment() }))
			}

			s, err := a.newStore(cmd, opts...)
			if err != nil {
				return err
			}

			results, err := s.UploadMany(ctx, paths)
			if bar != nil {
				bar.Finish()
			}
			printMappings(stdout(cmd), paths, results)

			return err
		},
	}
}

// updateCommand creates the update subcommand.
func (a *app) updateCommand() *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Overwrite an existing remote file with a local file",
		ArgsUsage: "<file> [target]",
		Before:    a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.ErrFilenameRequired
			}

			s, err := a.newStore(cmd)
			if err != nil {
				return err
			}

			url, err := s.Update(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
			if err != nil {
				return err
			}
			printURL(stdout(cmd), url)
			return nil
		},
	}
}

// updateManyCommand creates the update-many subcommand.
func (a *app) updateManyCommand() *cli.Command {
	return &cli.Command{
		Name:      "update-many",
		Usage:     "Overwrite several existing remote files",
		ArgsUsage: "<file=target>...",
		Before:    a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			files, order, err := parseMappings(cmd.Args().Slice())
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return apperrors.ErrFilenameRequired
			}

			s, err := a.newStore(cmd)
			if err != nil {
				return err
			}

			results, err := s.UpdateMany(ctx, files)
			printMappings(stdout(cmd), order, results)

			return err
		},
	}
}

// deleteCommand creates the delete subcommand.
func (a *app) deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Delete files from the store directory, missing files are ignored",
		ArgsUsage: "<name>...",
		Before:    a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			names := uniqueArgs(cmd.Args().Slice())
			if len(names) == 0 {
				return apperrors.ErrFilenameRequired
			}

			s, err := a.newStore(cmd)
			if err != nil {
				return err
			}

			if len(names) == 1 {
				return s.Delete(ctx, names[0])
			}
			return s.DeleteMany(ctx, names)
		},
	}
}

// existsCommand creates the exists subcommand.
func (a *app) existsCommand() *cli.Command {
	return &cli.Command{
		Name:      "exists",
		Usage:     "Check whether a file is in the store directory, exits with 1 when it is not",
		ArgsUsage: "<name>",
		Before:    a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.ErrFilenameRequired
			}

			s, err := a.newStore(cmd)
			if err != nil {
				return err
			}

			exists, err := s.Exists(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			printBool(stdout(cmd), exists)
			if !exists {
				return ErrAbsent
			}
			return nil
		},
	}
}

// urlCommand creates the url subcommand. It needs no token and makes no request.
func (a *app) urlCommand() *cli.Command {
	return &cli.Command{
		Name:      "url",
		Usage:     "Print the CDN URL of a file without checking it exists",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "raw",
				Usage: "Print the raw.githubusercontent.com URL instead",
			},
		},
		Before: a.before,
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return apperrors.ErrFilenameRequired
			}

			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			urls := cdn.NewBuilder(cfg.Owner, cfg.Repo, cfg.Branch, cfg.Dir, cfg.CDN)
			name := cmd.Args().First()
			if cmd.Bool("raw") {
				printURL(stdout(cmd), urls.RawURL(name))
			} else {
				printURL(stdout(cmd), urls.URL(name))
			}
			return nil
		},
	}
}

// initCommand creates the init subcommand.
func (a *app) initCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Create the store directory if it does not exist",
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := a.newStore(cmd)
			if err != nil {
				return err
			}
			return s.EnsureDir(ctx)
		},
	}
}

// clearCommand creates the clear subcommand.
func (a *app) clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete every file of a directory except the kept ones",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "keep",
				Aliases: []string{"k"},
				Usage:   "File name to keep (repeatable)",
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "Directory to clear instead of the store directory",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Only list the files that would be deleted",
			},
		},
		Before: a.before,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := a.newStore(cmd)
			if err != nil {
				return err
			}

			result, err := s.Clear(ctx, store.ClearOptions{
				Keep:   store.KeepSet(cmd.StringSlice("keep")...),
				Dir:    cmd.String("path"),
				DryRun: cmd.Bool("dry-run"),
			})
			if result != nil {
				printClearResult(stdout(cmd), result, cmd.Bool("dry-run"))
			}
			return err
		},
	}
}

// configCommand creates the config subcommand.
func (a *app) configCommand() *cli.Command {
	return &cli.Command{
		Name:   "config",
		Usage:  "Print the effective configuration",
		Before: a.before,
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Token == "" {
				cfg.Token = a.getenv(config.TokenEnvVar)
			}
			printConfig(stdout(cmd), &cfg)
			return nil
		},
	}
}

// parseMappings parses local=target arguments. The target may be empty.
// It returns the mappings and the local paths in argument order.
func parseMappings(args []string) (map[string]string, []string, error) {
	files := make(map[string]string, len(args))
	order := make([]string, 0, len(args))

	for _, arg := range args {
		local, target, found := strings.Cut(arg, "=")
		if !found || local == "" {
			return nil, nil, fmt.Errorf("%w: %q", apperrors.ErrInvalidMapping, arg)
		}
		if _, dup := files[local]; !dup {
			order = append(order, local)
		}
		files[local] = target
	}

	return files, order, nil
}

// uniqueArgs drops repeated arguments, keeping the first occurrence.
func uniqueArgs(args []string) []string {
	seen := make(map[string]bool, len(args))
	unique := make([]string, 0, len(args))
	for _, arg := range args {
		if seen[arg] {
			continue
		}
		seen[arg] = true
		unique = append(unique, arg)
	}
	return unique
}

func stdout(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func stderr(cmd *cli.Command) io.Writer {
	if w := cmd.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}
