package bytesource

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalReadWriteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.bin")

	src, err := Open(ctx, path, true, nil)
	require.NoError(t, err)

	n, err := src.WriteAt(ctx, 0, []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	n, err = src.WriteAt(ctx, SeekToEnd, []byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 6, n)

	size, err := src.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)

	buf := make([]byte, 11)
	n, err = src.ReadAt(ctx, 0, buf)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	assert.Equal(t, "hello world", string(buf))

	require.NoError(t, src.Close())
}

func TestLocalNoSeekContinuesPosition(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	src, err := Open(ctx, path, false, nil)
	require.NoError(t, err)
	defer src.Close()

	a := make([]byte, 3)
	_, err = src.ReadAt(ctx, 0, a)
	require.NoError(t, err)
	assert.Equal(t, "012", string(a))

	b := make([]byte, 3)
	_, err = src.ReadAt(ctx, NoSeek, b)
	require.NoError(t, err)
	assert.Equal(t, "345", string(b))
}

func TestOpenDispatchesOnURLPrefix(t *testing.T) {
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "local.zip")
	require.NoError(t, os.WriteFile(path, []byte("PK"), 0o644))

	local, err := Open(ctx, path, false, nil)
	require.NoError(t, err)
	require.NoError(t, local.Close())
	_, ok := local.(*Local)
	assert.True(t, ok)
}

func TestHTTPRangeReads(t *testing.T) {
	ctx := context.Background()
	data := make([]byte, 1<<20) // 1 MiB
	for i := range data {
		data[i] = byte(i)
	}

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.ServeContent(w, r, "file.bin", time.Unix(0, 0), newSliceReadSeeker(data))
	}))
	defer server.Close()

	src, err := Open(ctx, server.URL, false, nil)
	require.NoError(t, err)
	defer src.Close()

	size, err := src.Size(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, len(data), size)

	first := make([]byte, 1024)
	n, err := src.ReadAt(ctx, 1024, first)
	require.NoError(t, err)
	require.Equal(t, 1024, n)
	assert.Equal(t, data[1024:2048], first)

	afterFirst := requests.Load()

	// The second read overlaps the cache line the first read populated,
	// so it must be served without another request hitting the server.
	second := make([]byte, 300)
	n, err = src.ReadAt(ctx, 1500, second)
	require.NoError(t, err)
	require.Equal(t, 300, n)
	assert.Equal(t, data[1500:1800], second)
	assert.Equal(t, afterFirst, requests.Load())
}

func TestHTTPWriteUnsupported(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Unix(0, 0), newSliceReadSeeker([]byte("abc")))
	}))
	defer server.Close()

	src, err := Open(ctx, server.URL, false, nil)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.WriteAt(ctx, 0, []byte("x"))
	require.Error(t, err)
}

func newSliceReadSeeker(b []byte) io.ReadSeeker {
	return &sliceReadSeeker{b: b}
}

type sliceReadSeeker struct {
	b   []byte
	pos int64
}

func (s *sliceReadSeeker) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.b)) {
		return 0, io.EOF
	}
	n := copy(p, s.b[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *sliceReadSeeker) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		s.pos = offset
	case io.SeekCurrent:
		s.pos += offset
	case io.SeekEnd:
		s.pos = int64(len(s.b)) + offset
	}
	return s.pos, nil
}
