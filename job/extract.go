package job

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"zipkit"
	"zipkit/crc32x"
	"zipkit/errs"
	"zipkit/globmatch"
)

const crcCompareBufSize = 128 << 10

// runExtractOrUpdate drives both Extract and Update: open the archive and
// parse its central directory on the driver, create parent directories
// serially, then fan one task per matching file entry out to a bounded
// worker pool. Update mode additionally compares size+CRC before
// deciding whether to extract.
func (j *Job) runExtractOrUpdate(ctx context.Context) error {
	ar, err := zipkit.OpenRead(ctx, j.PackageURL, j.Creds)
	if err != nil {
		return err
	}
	defer ar.Close(ctx)

	var matched []*zipkit.Entry
	var total uint64
	for _, e := range ar.Directory().Entries() {
		if j.Glob != "" && !globmatch.Match(j.Glob, e.Name) {
			continue
		}
		matched = append(matched, e)
		total += e.UncompressedSize64
	}
	j.progress.BytesToProcess.Store(int64(total))

	log := j.logger()

	// Create parent directories and emit FolderCreated results serially
	// on the driver before dispatching file tasks, so no worker races a
	// MkdirAll for a sibling file's parent.
	var files []*zipkit.Entry
	for _, e := range matched {
		dst := filepath.Join(j.BaseFolder, filepath.FromSlash(e.Name))
		if isDirEntryName(e.Name) {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				j.record(Result{Name: e.Name, Kind: ResultError, Err: errs.Wrap(errs.WriteFailed, "create directory", err)})
				continue
			}
			j.record(Result{Name: e.Name, Kind: ResultFolderCreated})
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			j.record(Result{Name: e.Name, Kind: ResultError, Err: errs.Wrap(errs.WriteFailed, "create parent directory", err)})
			continue
		}
		files = append(files, e)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.Threads)

	for _, e := range files {
		e := e
		g.Go(func() error {
			j.runExtractTask(gctx, ar, e, log)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(j.Results())
	fmt.Fprintf(j.Out, "Files Extracted: %d\nFiles Verified: %d\nFolders Created: %d\nTotal Bytes: %d\nErrors: %d\n",
		summary.Counts[ResultExtracted], summary.Counts[ResultAlreadyUpToDate], summary.Counts[ResultFolderCreated],
		summary.Bytes, len(summary.Errors))
	for _, e := range summary.Errors {
		fmt.Fprintf(j.ErrOut, "%s: %v\n", e.Name, e.Err)
	}
	return nil
}

func (j *Job) runExtractTask(ctx context.Context, ar *zipkit.Archive, e *zipkit.Entry, log *slog.Logger) {
	dst := filepath.Join(j.BaseFolder, filepath.FromSlash(e.Name))

	if j.Kind == Update && !j.SkipCRC {
		upToDate, err := fileMatches(dst, e)
		if err != nil {
			j.record(Result{Name: e.Name, Kind: ResultError, Err: err})
			log.Error("compare failed", "path", e.Name, "error", err)
			return
		}
		if upToDate {
			j.progress.Add(e.UncompressedSize64)
			j.record(Result{Name: e.Name, Kind: ResultAlreadyUpToDate, Bytes: e.UncompressedSize64})
			return
		}
	}

	var reported uint64
	err := ar.ExtractToFile(ctx, e.Name, dst, func(n uint64) {
		if n > reported {
			j.progress.Add(n - reported)
			reported = n
		}
	})
	if err != nil {
		j.record(Result{Name: e.Name, Kind: ResultError, Err: err})
		log.Error("extract failed", "path", e.Name, "error", err)
		return
	}
	if e.UncompressedSize64 > reported {
		j.progress.Add(e.UncompressedSize64 - reported)
	}
	j.record(Result{Name: e.Name, Kind: ResultExtracted, Bytes: e.UncompressedSize64})
	if j.Verbose {
		log.Debug("extracted", "path", e.Name)
	}
}

// fileMatches reports whether dst already holds e's content: equal
// size, then an incremental CRC-32 pass in 128KiB chunks.
func fileMatches(dst string, e *zipkit.Entry) (bool, error) {
	info, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Wrap(errs.ReadFailed, "stat "+dst, err)
	}
	if uint64(info.Size()) != e.UncompressedSize64 {
		return false, nil
	}

	f, err := os.Open(dst)
	if err != nil {
		return false, errs.Wrap(errs.ReadFailed, "open "+dst, err)
	}
	defer f.Close()

	h := crc32x.New()
	buf := make([]byte, crcCompareBufSize)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
		}
		if rerr != nil {
			break
		}
	}
	return h.Sum32() == e.CRC32, nil
}

func isDirEntryName(name string) bool {
	return len(name) > 0 && name[len(name)-1] == '/'
}
