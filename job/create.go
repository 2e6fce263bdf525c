package job

import (
	"context"
	"fmt"

	"zipkit"
	"zipkit/globmatch"
)

// runCreate stays single-threaded regardless of Threads: ZIP writing
// interleaves local-header writes with appended stream bytes against a
// shared append cursor, so there is exactly one writer.
func (j *Job) runCreate(ctx context.Context) error {
	locals, err := walkLocal(j.BaseFolder)
	if err != nil {
		return err
	}

	var matched []localEntry
	var total uint64
	for _, le := range locals {
		if j.Glob != "" && !globmatch.Match(j.Glob, le.RelSlash) {
			continue
		}
		matched = append(matched, le)
		if !le.IsDir {
			total += uint64(le.Size)
		}
	}
	j.progress.BytesToProcess.Store(int64(total))

	ar, err := zipkit.Create(ctx, j.PackageURL, j.Level)
	if err != nil {
		return err
	}
	defer ar.Close(ctx)

	log := j.logger()
	for _, le := range matched {
		before := j.progress.BytesProcessed.Load()
		err := ar.AddFile(ctx, le.Path, j.BaseFolder, func(n uint64) {
			j.progress.BytesProcessed.Store(before + int64(n))
		})
		if err != nil {
			j.record(Result{Name: le.RelSlash, Kind: ResultError, Err: err})
			log.Error("add file failed", "path", le.RelSlash, "error", err)
			continue
		}
		if le.IsDir {
			j.record(Result{Name: le.RelSlash, Kind: ResultFolderCreated})
		} else {
			j.record(Result{Name: le.RelSlash, Kind: ResultExtracted, Bytes: uint64(le.Size)})
		}
		if j.Verbose {
			log.Debug("added", "path", le.RelSlash)
		}
	}

	summary := Summarize(j.Results())
	fmt.Fprintf(j.Out, "Files Added: %d\nFolders Added: %d\nTotal Bytes: %d\nErrors: %d\n",
		summary.Counts[ResultExtracted], summary.Counts[ResultFolderCreated], summary.Bytes, len(summary.Errors))
	for _, e := range summary.Errors {
		fmt.Fprintf(j.ErrOut, "%s: %v\n", e.Name, e.Err)
	}
	return nil
}
