package job

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"zipkit"
	"zipkit/crc32x"
)

// runDiff is multi-threaded: one task per central-directory entry
// classifies it against the on-disk tree, then a serial pass over the
// filesystem walk finds local paths absent from the archive. Nothing is
// modified.
func (j *Job) runDiff(ctx context.Context) error {
	ar, err := zipkit.OpenRead(ctx, j.PackageURL, j.Creds)
	if err != nil {
		return err
	}
	defer ar.Close(ctx)

	entries := ar.Directory().Entries()
	var total uint64
	for _, e := range entries {
		total += e.UncompressedSize64
	}
	j.progress.BytesToProcess.Store(int64(total))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(j.Threads)

	archiveNames := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		archiveNames[e.Name] = struct{}{}
	}

	for _, e := range entries {
		e := e
		g.Go(func() error {
			j.diffOneEntry(e)
			return nil
		})
	}
	_ = g.Wait()

	locals, err := walkLocal(j.BaseFolder)
	if err != nil {
		return err
	}
	for _, le := range locals {
		if _, inArchive := archiveNames[le.RelSlash]; inArchive {
			continue
		}
		if le.IsDir {
			j.record(Result{Name: le.RelSlash, Kind: ResultDirPathOnly})
		} else {
			j.record(Result{Name: le.RelSlash, Kind: ResultFilePathOnly})
		}
	}

	results := j.Results()
	summary := Summarize(results)
	if err := writeDiffTable(j.Out, j.Format, results); err != nil {
		return err
	}
	if summary.AllMatch() {
		fmt.Fprintln(j.Out, "** ALL MATCH **")
	} else {
		fmt.Fprintf(j.Out, "Different Files: %d\nPackage Only: %d\nPath Only: %d\n",
			summary.Counts[ResultFileDifferent],
			summary.Counts[ResultFilePackageOnly]+summary.Counts[ResultDirPackageOnly],
			summary.Counts[ResultFilePathOnly]+summary.Counts[ResultDirPathOnly])
	}
	return nil
}

func (j *Job) diffOneEntry(e *zipkit.Entry) {
	dst := filepath.Join(j.BaseFolder, filepath.FromSlash(e.Name))
	info, err := os.Stat(dst)

	if isDirEntryName(e.Name) {
		if err == nil && info.IsDir() {
			j.record(Result{Name: e.Name, Kind: ResultDirMatch})
		} else {
			j.record(Result{Name: e.Name, Kind: ResultDirPackageOnly})
		}
		j.progress.Add(e.UncompressedSize64)
		return
	}

	if err != nil {
		j.record(Result{Name: e.Name, Kind: ResultFilePackageOnly})
		j.progress.Add(e.UncompressedSize64)
		return
	}

	if uint64(info.Size()) != e.UncompressedSize64 {
		j.record(Result{Name: e.Name, Kind: ResultFileDifferent})
		j.progress.Add(e.UncompressedSize64)
		return
	}

	match, err := fileMatchesCRC(dst, e.CRC32)
	if err != nil {
		j.record(Result{Name: e.Name, Kind: ResultError, Err: err})
		j.progress.Add(e.UncompressedSize64)
		return
	}
	if match {
		j.record(Result{Name: e.Name, Kind: ResultFileMatch})
	} else {
		j.record(Result{Name: e.Name, Kind: ResultFileDifferent})
	}
	j.progress.Add(e.UncompressedSize64)
}

func fileMatchesCRC(path string, want uint32) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
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
	return h.Sum32() == want, nil
}
