package zipkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDirectoryInsertLookupEntries(t *testing.T) {
	d := NewDirectory()
	a := &Entry{Name: "a.txt", UncompressedSize64: 10, CompressedSize64: 5}
	b := &Entry{Name: "dir/"}
	d.Insert(a)
	d.Insert(b)

	assert.Same(t, a, d.Lookup("a.txt"))
	assert.Same(t, b, d.Lookup("dir/"))
	assert.Nil(t, d.Lookup("missing"))
	assert.Equal(t, []*Entry{a, b}, d.Entries())
}

func TestDirectoryLookupIsExactMatch(t *testing.T) {
	d := NewDirectory()
	d.Insert(&Entry{Name: "a/b.txt"})
	assert.Nil(t, d.Lookup("a/b.txt/"))
	assert.Nil(t, d.Lookup("b.txt"))
}

func TestDirectoryTotals(t *testing.T) {
	d := NewDirectory()
	d.Insert(&Entry{Name: "a.txt", UncompressedSize64: 100, CompressedSize64: 40})
	d.Insert(&Entry{Name: "b.txt", UncompressedSize64: 200, CompressedSize64: 90})
	d.Insert(&Entry{Name: "sub/"})

	totals := d.Totals()
	assert.Equal(t, 2, totals.Files)
	assert.Equal(t, 1, totals.Folders)
	assert.EqualValues(t, 300, totals.UncompressedBytes)
	assert.EqualValues(t, 130, totals.CompressedBytes)
}

func TestDirectoryTotalsClassifyBySizeNotName(t *testing.T) {
	d := NewDirectory()
	// A zero-length file has no trailing slash, but with both sizes zero
	// it counts toward the folder total, same as a real directory entry.
	d.Insert(&Entry{Name: "empty"})
	d.Insert(&Entry{Name: "dir/"})
	d.Insert(&Entry{Name: "a.txt", UncompressedSize64: 10, CompressedSize64: 4})

	totals := d.Totals()
	assert.Equal(t, 1, totals.Files)
	assert.Equal(t, 2, totals.Folders)
	assert.EqualValues(t, 10, totals.UncompressedBytes)
	assert.EqualValues(t, 4, totals.CompressedBytes)
}

func TestDirectorySortByName(t *testing.T) {
	d := NewDirectory()
	d.Insert(&Entry{Name: "z.txt"})
	d.Insert(&Entry{Name: "a.txt"})
	sorted := d.SortByName()
	assert.Equal(t, "a.txt", sorted[0].Name)
	assert.Equal(t, "z.txt", sorted[1].Name)
	// original insertion order is untouched
	assert.Equal(t, "z.txt", d.Entries()[0].Name)
}
