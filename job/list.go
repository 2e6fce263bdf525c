package job

import (
	"context"

	"zipkit"
	"zipkit/globmatch"
)

// runList opens the archive, parses its central directory, and
// pretty-prints it filtered by Glob.
func (j *Job) runList(ctx context.Context) error {
	ar, err := zipkit.OpenRead(ctx, j.PackageURL, j.Creds)
	if err != nil {
		return err
	}
	defer ar.Close(ctx)

	entries := ar.Directory().SortByName()
	if j.Glob != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			if globmatch.Match(j.Glob, e.Name) {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return writeEntryTable(j.Out, j.Format, entries, j.Verbose)
}
