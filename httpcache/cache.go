// Package httpcache implements the bounded, coalescing read-through
// cache that sits in front of an HTTP(S) byte source: a mutex-guarded
// table of fixed-size byte-range lines, golang.org/x/sync/singleflight
// to deduplicate concurrent reservations of the same new line, and an
// eviction policy that discards the committed line with the oldest
// commit time, never a reserved one. ZIP parsing issues many small,
// overlapping header reads; the cache turns those into a handful of
// line-sized range fetches.
package httpcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"zipkit/errs"
)

const (
	// DefaultLineSize is the default line size (32 KiB).
	DefaultLineSize = 32 << 10
	// DefaultLineCount is the default number of lines held at once.
	DefaultLineCount = 64
	// commitWait bounds how long Get waits for a reserving goroutine to
	// commit a line before giving up: a Get call may block up to 60s
	// waiting on a reserving goroutine to commit.
	commitWait = 60 * time.Second
)

// Line is a fixed-size cache slot covering the byte interval [Base,
// Base+len(data)). A line is either reserved (its fetcher has not yet
// called Commit) or committed. Concurrent readers that observe a reserved
// line wait on commitCh rather than on the cache's global lock.
type Line struct {
	Base int64
	data []byte

	mu        sync.Mutex
	committed bool
	commitCh  chan struct{}
	commitErr error

	// unfulfilledLo/unfulfilledHi is the sub-interval of data the
	// reserver still owes a fetch for; bytes outside it were already
	// copied in from overlapping committed lines at reservation time.
	unfulfilledLo int64
	unfulfilledHi int64

	lastCommit time.Time // wall-clock commit time; eviction discards the oldest
}

// UnfulfilledRange returns the byte interval, relative to Base, that the
// reserver must still fetch from the backend and pass to Commit. Both
// bounds are empty (lo == hi) when the line was fully satisfied from
// other committed lines at reservation time.
func (l *Line) UnfulfilledRange() (lo, hi int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unfulfilledLo, l.unfulfilledHi
}

// Commit supplies the bytes for the unfulfilled interval and unblocks any
// goroutines waiting in Get. It must be called exactly once by the
// goroutine that received is_new == true from CheckOrReserve. err, if
// non-nil, is delivered to every waiter; the failed line is dropped and
// re-reserved on the next request that lands on it rather than reused.
func (l *Line) Commit(fetched []byte, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.committed {
		return
	}
	if err == nil {
		copy(l.data[l.unfulfilledLo:l.unfulfilledHi], fetched)
	}
	l.committed = true
	l.commitErr = err
	l.lastCommit = time.Now()
	close(l.commitCh)
}

// failed reports whether the line's fetch ended in an error; such a line
// must be dropped and re-reserved rather than served to later readers.
func (l *Line) failed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committed && l.commitErr != nil
}

// Cache is the bounded line table fronting an HTTP(S) byte source.
type Cache struct {
	lineSize  int64
	lineCount int

	mu    sync.Mutex
	lines map[int64]*Line // keyed by Base

	group singleflight.Group
}

// New constructs a Cache with the given line size and line count. Zero
// values fall back to the defaults above.
func New(lineSize int64, lineCount int) *Cache {
	if lineSize <= 0 {
		lineSize = DefaultLineSize
	}
	if lineCount <= 0 {
		lineCount = DefaultLineCount
	}
	return &Cache{
		lineSize:  lineSize,
		lineCount: lineCount,
		lines:     make(map[int64]*Line),
	}
}

// LineSize returns the fixed line size this cache was constructed with.
func (c *Cache) LineSize() int64 {
	return c.lineSize
}

// Bypass reports whether a read of length n at offset should skip the
// cache entirely: reads at or beyond fileSize, longer than a line, or
// crossing a line boundary go straight to the backend.
func (c *Cache) Bypass(offset, n, fileSize int64) bool {
	return offset >= fileSize || n > c.lineSize || offset%c.lineSize+n > c.lineSize
}

// CheckOrReserve implements the cache's sole public operation. Lines are
// aligned: the line for offset always starts at the largest multiple of
// lineSize not above offset, so a request is only served from a line if
// it lies inside that aligned interval (requests crossing a boundary are
// routed around the cache by Bypass). If the existing line at that base
// covers [offset, offset+n), it is returned with isNew == false: the
// caller should call Get on it. Otherwise a new line covering
// [base, base+lineSize) is reserved and returned with isNew == true; the
// caller must fetch bytes for the returned unfulfilled interval and call
// Commit exactly once.
func (c *Cache) CheckOrReserve(offset, n int64) (line *Line, isNew bool, err error) {
	base := (offset / c.lineSize) * c.lineSize

	c.mu.Lock()
	if existing, ok := c.lines[base]; ok && !existing.failed() && covers(existing, base, offset, n) {
		c.mu.Unlock()
		return existing, false, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(keyFor(base), func() (interface{}, error) {
		c.mu.Lock()
		if existing, ok := c.lines[base]; ok {
			if existing.failed() {
				delete(c.lines, existing.Base)
			} else if covers(existing, base, offset, n) {
				c.mu.Unlock()
				return lineResult{existing, false}, nil
			}
		}

		if len(c.lines) >= c.lineCount {
			if evictErr := c.evictLocked(); evictErr != nil {
				c.mu.Unlock()
				return nil, evictErr
			}
		}

		newLine := &Line{
			Base:          base,
			data:          make([]byte, c.lineSize),
			commitCh:      make(chan struct{}),
			unfulfilledLo: 0,
			unfulfilledHi: c.lineSize,
		}
		c.narrowFromOverlapsLocked(newLine)
		c.lines[base] = newLine
		c.mu.Unlock()

		return lineResult{newLine, true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(lineResult)
	return res.line, res.isNew, nil
}

type lineResult struct {
	line  *Line
	isNew bool
}

func keyFor(base int64) string {
	// singleflight keys are strings; base is already unique per line.
	return itoa(base)
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func covers(l *Line, base, offset, n int64) bool {
	return offset >= base && offset+n <= base+int64(len(l.data))
}

// narrowFromOverlapsLocked copies already-committed bytes from any
// existing overlapping line into newLine and narrows newLine's
// unfulfilled interval accordingly. Caller holds c.mu.
func (c *Cache) narrowFromOverlapsLocked(newLine *Line) {
	newLo := newLine.Base
	newHi := newLine.Base + int64(len(newLine.data))

	for _, other := range c.lines {
		if other == newLine {
			continue
		}
		other.mu.Lock()
		if !other.committed || other.commitErr != nil {
			other.mu.Unlock()
			continue
		}
		otherLo := other.Base
		otherHi := other.Base + int64(len(other.data))
		lo := maxI64(newLo, otherLo)
		hi := minI64(newHi, otherHi)
		if lo < hi {
			copy(newLine.data[lo-newLo:hi-newLo], other.data[lo-otherLo:hi-otherLo])
			narrowUnfulfilled(newLine, lo-newLo, hi-newLo)
		}
		other.mu.Unlock()
	}
}

// narrowUnfulfilled shrinks [lo,hi) out of the line's unfulfilled
// interval when the satisfied range touches one edge of it; a satisfied
// range in the interior is ignored since the interval must stay
// contiguous (the reserver will simply re-fetch that span, which is
// correct — just not maximally efficient — and keeps the bookkeeping
// simple).
func narrowUnfulfilled(l *Line, lo, hi int64) {
	if lo <= l.unfulfilledLo && hi > l.unfulfilledLo {
		l.unfulfilledLo = hi
	}
	if hi >= l.unfulfilledHi && lo < l.unfulfilledHi {
		l.unfulfilledHi = lo
	}
	if l.unfulfilledLo > l.unfulfilledHi {
		l.unfulfilledLo = l.unfulfilledHi
	}
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// Get waits (bounded by commitWait) for line to be committed, then copies
// [offset, offset+len(dst)) into dst.
func (c *Cache) Get(ctx context.Context, line *Line, offset int64, dst []byte) error {
	line.mu.Lock()
	committed := line.committed
	ch := line.commitCh
	line.mu.Unlock()

	if !committed {
		timer := time.NewTimer(commitWait)
		defer timer.Stop()
		select {
		case <-ch:
		case <-timer.C:
			return errs.New(errs.Transient, "timed out waiting for HTTP cache line commit")
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	line.mu.Lock()
	if line.commitErr != nil {
		err := line.commitErr
		line.mu.Unlock()
		return errs.Wrap(errs.ReadFailed, "HTTP cache line fetch failed", err)
	}
	rel := offset - line.Base
	copy(dst, line.data[rel:rel+int64(len(dst))])
	line.mu.Unlock()
	return nil
}

// evictLocked evicts the committed line with the oldest commit time;
// reserved-but-uncommitted lines are never candidates. Caller holds
// c.mu. Returns a cache-exhausted error if every line is currently
// reserved.
func (c *Cache) evictLocked() error {
	var oldest *Line
	var oldestAt time.Time
	for _, l := range c.lines {
		l.mu.Lock()
		committed, at := l.committed, l.lastCommit
		l.mu.Unlock()
		if !committed {
			continue
		}
		if oldest == nil || at.Before(oldestAt) {
			oldest, oldestAt = l, at
		}
	}
	if oldest == nil {
		return errs.New(errs.Unsupported, "HTTP cache exhausted: all lines reserved and uncommitted")
	}
	delete(c.lines, oldest.Base)
	return nil
}
