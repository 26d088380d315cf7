package cmd

import (
	"fmt"
	"io"

	"github.com/fclairamb/ghcdn/internal/config"
	"github.com/fclairamb/ghcdn/internal/store"
)

// tokenVisibleChars is the number of token characters left unmasked.
const tokenVisibleChars = 4

func printURL(w io.Writer, url string) {
	_, _ = fmt.Fprintln(w, url)
}

func printBool(w io.Writer, value bool) {
	_, _ = fmt.Fprintln(w, value)
}

// printMappings prints "local url" lines in the order of locals, skipping those without result.
func printMappings(w io.Writer, locals []string, results map[string]string) {
	for _, local := range locals {
		url, ok := results[local]
		if !ok {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", local, url)
	}
}

// printClearResult prints what a clear deleted, kept and skipped.
func printClearResult(w io.Writer, result *store.ClearResult, dryRun bool) {
	verb := "deleted"
	if dryRun {
		verb = "would delete"
	}

	for _, name := range result.Deleted {
		_, _ = fmt.Fprintf(w, "%s %s%s\n", verb, result.Dir, name)
	}
	for _, name := range result.Kept {
		_, _ = fmt.Fprintf(w, "kept %s%s\n", result.Dir, name)
	}
	for _, name := range result.Skipped {
		_, _ = fmt.Fprintf(w, "skipped %s%s\n", result.Dir, name)
	}

	_, _ = fmt.Fprintf(w, "%d file(s) %s in %q\n", result.Count(), verb, result.Dir)
}

// printConfig prints the effective configuration with the token masked.
func printConfig(w io.Writer, cfg *config.Config) {
	cdnBase := cfg.CDN
	if cdnBase == "" {
		cdnBase = "(jsDelivr)"
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = "(api.github.com)"
	}

	_, _ = fmt.Fprintf(w, "owner:       %s\n", cfg.Owner)
	_, _ = fmt.Fprintf(w, "repo:        %s\n", cfg.Repo)
	_, _ = fmt.Fprintf(w, "branch:      %s\n", cfg.Branch)
	_, _ = fmt.Fprintf(w, "dir:         %s\n", cfg.Dir)
	_, _ = fmt.Fprintf(w, "token:       %s\n", maskToken(cfg.Token))
	_, _ = fmt.Fprintf(w, "cdn:         %s\n", cdnBase)
	_, _ = fmt.Fprintf(w, "api url:     %s\n", apiURL)
	_, _ = fmt.Fprintf(w, "concurrency: %d\n", cfg.Concurrency)
	_, _ = fmt.Fprintf(w, "timeout:     %s\n", cfg.Timeout)
	if cfg.Rate > 0 {
		_, _ = fmt.Fprintf(w, "rate:        %g/s\n", cfg.Rate)
	} else {
		_, _ = fmt.Fprintf(w, "rate:        unlimited\n")
	}
}

// maskToken hides all but the last characters of a token.
func maskToken(token string) string {
	switch {
	case token == "":
		return "(not set)"
	case len(token) <= tokenVisibleChars:
		return "****"
	default:
		return "****" + token[len(token)-tokenVisibleChars:]
	}
}
