// Package bytesource provides a uniform random-access byte source over
// either a local file or a remote archive served over HTTP(S) with
// byte-range support.
//
// Consumers program against the Source interface only; there is no
// downcasting to a concrete backend.
package bytesource

import (
	"context"
	"io"
	"strings"

	"zipkit/errs"
)

// Offset sentinels accepted by ReadAt and WriteAt in place of an absolute
// offset.
const (
	// NoSeek means "continue from the implicit current position".
	NoSeek int64 = -1
	// SeekToEnd means "reposition to the end of the source before this
	// operation" (meaningful for Write: it is how append is expressed
	// when the caller does not want to track the current size itself).
	SeekToEnd int64 = -2
)

// Credentials carries optional HTTP basic-auth and TLS verification
// settings for the HTTP(S) backend. A zero value means no credentials and
// full certificate verification.
type Credentials struct {
	Username           string
	Password           string
	InsecureSkipVerify bool
}

// Source is the uniform interface every backend implements: close,
// positioned read, positioned write, and size. All offsets above are
// absolute except for the two sentinels above.
type Source interface {
	io.Closer

	// ReadAt reads up to len(p) bytes starting at offset (or the
	// sentinel NoSeek to continue from the current position) into p,
	// returning the number of bytes read.
	ReadAt(ctx context.Context, offset int64, p []byte) (n int, err error)

	// WriteAt writes p at offset (or a sentinel: NoSeek appends at the
	// current position, SeekToEnd repositions to the end first),
	// returning the number of bytes written. HTTP backends always
	// reject writes with an Unsupported error.
	WriteAt(ctx context.Context, offset int64, p []byte) (n int, err error)

	// Size returns the total byte length of the source.
	Size(ctx context.Context) (int64, error)
}

// Open dispatches to the local or HTTP(S) backend based on the URL prefix:
// "http://" and "https://" select the HTTP backend, anything else is
// treated as a local filesystem path.
//
// readWrite selects whether the local backend is opened for read-only or
// read-write-truncate access (create mode); it has no effect for remote
// URLs, which are always read-only.
func Open(ctx context.Context, url string, readWrite bool, creds *Credentials) (Source, error) {
	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
		return openHTTP(ctx, url, creds)
	default:
		if readWrite {
			return createLocal(url)
		}
		return openLocalRead(url)
	}
}

func unsupportedWrite(op string) error {
	return errs.New(errs.Unsupported, op+": write not supported on this backend")
}
