package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"zipkit/bytesource"
	"zipkit/errs"
	"zipkit/job"
)

// version is set at build time via -ldflags.
var version = "dev"

var (
	flagPattern       string
	flagUsername      string
	flagPassword      string
	flagThreads       int
	flagSkipCRC       bool
	flagSkipCertCheck bool
	flagVerbose       bool
	flagOutputFormat  string
)

func buildRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "zipkit",
		Version: version,
		Short:   "Inspect, build, and sync ZIP/Zip64 archives against local files or HTTP(S) range sources",
		Long: `zipkit operates uniformly against local ZIP archives and remote archives
served over HTTP/HTTPS with byte-range support.

Commands:
  list      Enumerate archive contents
  create    Build a new archive from a directory tree
  extract   Decompress entries to disk, unconditionally overwriting
  update    Extract only entries missing or differing by size/CRC
  diff      Report mismatches between archive and a directory

Examples:
  zipkit list archive.zip
  zipkit list https://example.com/archive.zip --pattern '*.txt'
  zipkit create archive.zip ./src
  zipkit extract archive.zip ./dst --threads 8
  zipkit update archive.zip ./dst
  zipkit diff archive.zip ./dst --outputformat html`,
	}

	cmd.PersistentFlags().StringVar(&flagPattern, "pattern", "", "filter entries by glob")
	cmd.PersistentFlags().StringVar(&flagUsername, "name", "", "HTTP basic auth username")
	cmd.PersistentFlags().StringVar(&flagPassword, "password", "", "HTTP basic auth password")
	cmd.PersistentFlags().IntVar(&flagThreads, "threads", 0, "worker count (1..256, default: CPU count)")
	cmd.PersistentFlags().BoolVar(&flagSkipCRC, "skipcrc", false, "for update, behave like extract (skip CRC comparison)")
	cmd.PersistentFlags().BoolVar(&flagSkipCertCheck, "skip_cert_check", false, "disable TLS certificate verification")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "diagnostic logging, forces single-threaded")
	cmd.PersistentFlags().StringVar(&flagOutputFormat, "outputformat", "tabs", "list/diff table format: tabs|commas|html")

	return cmd
}

func credentialsFromFlags() *bytesource.Credentials {
	if flagUsername == "" && flagPassword == "" && !flagSkipCertCheck {
		return nil
	}
	return &bytesource.Credentials{
		Username:           flagUsername,
		Password:           flagPassword,
		InsecureSkipVerify: flagSkipCertCheck,
	}
}

// baseJob builds a Job pre-populated with the flags shared by every
// subcommand.
func baseJob(kind job.Kind, packageURL string) *job.Job {
	j := job.New(kind)
	j.PackageURL = packageURL
	j.Creds = credentialsFromFlags()
	j.Glob = flagPattern
	if flagThreads > 0 {
		j.Threads = flagThreads
	}
	j.Verbose = flagVerbose
	j.SkipCRC = flagSkipCRC
	j.Format = job.ParseOutputFormat(flagOutputFormat)
	return j
}

// rejectWildcard rejects wildcards in positional URL/folder arguments
// at parse time; glob metacharacters are only meaningful via --pattern.
func rejectWildcard(label, value string) error {
	if strings.ContainsAny(value, "*?") {
		return errs.New(errs.BadArgument, fmt.Sprintf("%s must not contain wildcards: %q", label, value))
	}
	return nil
}

// runJob runs j to completion and turns any per-entry errors recorded
// during the run into a non-nil return, even when the driver itself
// reported Finished, so the process exit code reflects partial failures.
func runJob(ctx context.Context, j *job.Job) error {
	j.Run(ctx)
	if err := j.Join(ctx); err != nil {
		return err
	}
	for _, r := range j.Results() {
		if r.Kind == job.ResultError {
			return errs.New(errs.Unknown, "completed with per-entry errors")
		}
	}
	return nil
}
