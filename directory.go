package zipkit

import "sort"

// Totals summarises the aggregate size of a directory's entries.
type Totals struct {
	Files             int
	Folders           int
	CompressedBytes   uint64
	UncompressedBytes uint64
}

// Directory is the in-memory central directory: an ordered, name-indexed
// collection of entries plus the bookkeeping finalize/write need to emit
// the end-of-central-directory records, promoted to its own component so
// the archive façade can insert/lookup/finalize independently of writing.
type Directory struct {
	order   []*Entry
	byName  map[string]*Entry
	comment string

	// cdStartOffset is only meaningful after Finalize has been called;
	// cdSize is computed by Write.
	cdStartOffset int64
	cdSize        uint64
}

// NewDirectory constructs an empty Directory.
func NewDirectory() *Directory {
	return &Directory{byName: make(map[string]*Entry)}
}

// Insert appends entry to the directory. The directory does not
// normalise or deduplicate names; inserting the same name twice keeps
// both in Entries() but only the most recent is reachable via Lookup.
func (d *Directory) Insert(e *Entry) {
	d.order = append(d.order, e)
	d.byName[e.Name] = e
}

// Lookup returns the entry with an exact-match name (including slashes),
// or nil if absent.
func (d *Directory) Lookup(name string) *Entry {
	return d.byName[name]
}

// Entries returns all entries in insertion order.
func (d *Directory) Entries() []*Entry {
	return d.order
}

// SortByName returns a copy of Entries sorted lexically by name, used by
// the list job's pretty-printer for deterministic output.
func (d *Directory) SortByName() []*Entry {
	sorted := make([]*Entry, len(d.order))
	copy(sorted, d.order)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return sorted
}

// Totals computes the aggregate counts and byte sizes across all
// entries. Classification is by size, not by name: files are entries
// with nonzero uncompressed size, folders are entries with both sizes
// zero (which groups zero-length files with the folders).
func (d *Directory) Totals() Totals {
	var t Totals
	for _, e := range d.order {
		if e.UncompressedSize64 > 0 {
			t.Files++
			t.CompressedBytes += e.CompressedSize64
			t.UncompressedBytes += e.UncompressedSize64
			continue
		}
		if e.CompressedSize64 == 0 {
			t.Folders++
		}
	}
	return t
}

// SetComment sets the archive comment written alongside the end-of-CD
// record.
func (d *Directory) SetComment(comment string) {
	d.comment = comment
}

// Finalize records the absolute offset the central directory will begin
// at once written. It must be called before Write.
func (d *Directory) Finalize(cdStartOffset int64) {
	d.cdStartOffset = cdStartOffset
}
