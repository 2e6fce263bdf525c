package job

import (
	"io/fs"
	"path/filepath"
	"sort"

	"zipkit/errs"
)

// localEntry is one file or directory discovered under a base folder
// during create/diff's filesystem pass.
type localEntry struct {
	Path     string // filesystem path: base joined with the relative path
	RelSlash string // path relative to the base folder, forward-slash separated
	IsDir    bool
	Size     int64
}

// walkLocal enumerates every file and directory under base. Directory
// trees have no wire format and no third-party walker in the dependency
// stack covers this better than filepath.WalkDir, so it stays on the
// standard library.
func walkLocal(base string) ([]localEntry, error) {
	var out []localEntry
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == base {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		relSlash := filepath.ToSlash(rel)
		if d.IsDir() {
			out = append(out, localEntry{Path: p, RelSlash: relSlash + "/", IsDir: true})
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, localEntry{Path: p, RelSlash: relSlash, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.ReadFailed, "walk "+base, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelSlash < out[j].RelSlash })
	return out, nil
}
