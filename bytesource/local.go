package bytesource

import (
	"context"
	"io"
	"os"
	"sync"

	"zipkit/errs"
)

// Local is the byte-source backend for plain filesystem paths. It tracks
// its own size rather than relying on a seek-to-end-then-tell dance,
// because the underlying *os.File is shared across concurrent workers
// during extract/update/diff jobs and a racy seek would corrupt the
// position other goroutines depend on, since all callers pass absolute
// offsets during multi-threaded phases.
type Local struct {
	mu   sync.Mutex
	f    *os.File
	pos  int64
	size int64
}

func openLocalRead(path string) (*Local, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.OpenFailed, "open local source "+path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errs.Wrap(errs.OpenFailed, "stat local source "+path, err)
	}
	return &Local{f: f, size: info.Size()}, nil
}

func createLocal(path string) (*Local, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.OpenFailed, "create local source "+path, err)
	}
	return &Local{f: f, size: 0}, nil
}

// ReadAt implements Source.
func (l *Local) ReadAt(_ context.Context, offset int64, p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := offset
	if offset == NoSeek {
		pos = l.pos
	}

	n, err := l.f.ReadAt(p, pos)
	l.pos = pos + int64(n)
	if err != nil && err != io.EOF {
		return n, errs.Wrap(errs.ReadFailed, "read local source", err)
	}
	return n, err
}

// WriteAt implements Source.
func (l *Local) WriteAt(_ context.Context, offset int64, p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var pos int64
	switch offset {
	case NoSeek:
		pos = l.pos
	case SeekToEnd:
		pos = l.size
	default:
		pos = offset
	}

	n, err := l.f.WriteAt(p, pos)
	l.pos = pos + int64(n)
	if l.pos > l.size {
		l.size = l.pos
	}
	if err != nil {
		return n, errs.Wrap(errs.WriteFailed, "write local source", err)
	}
	return n, nil
}

// Size implements Source.
func (l *Local) Size(context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size, nil
}

// Close implements io.Closer.
func (l *Local) Close() error {
	return l.f.Close()
}
