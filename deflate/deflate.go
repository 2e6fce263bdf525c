// Package deflate is a streaming raw-deflate façade used by the archive
// codec to compress and decompress entry content.
//
// It wraps github.com/klauspost/compress/flate behind a feed/step/status
// pump: callers push input with Feed, then call Step in a loop while
// HasMoreOutput is true, then drain OutputView. This mirrors a
// zlib-style pump contract (feed, step, check status), adapted to Go's
// io.Reader/io.Writer shapes instead of raw pointers.
package deflate

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
)

// Status describes the result of a single Step call.
type Status int

const (
	// StatusOK means the step made progress, or legitimately made none
	// because more input or output space is needed; the stream is still
	// open.
	StatusOK Status = iota
	// StatusStreamEnd means the stream has been fully decoded/encoded;
	// no further input will be accepted.
	StatusStreamEnd
	// StatusError means a fatal, non-recoverable error occurred; see Err.
	StatusError
)

// DefaultLevel asks the façade to use the codec's own default level.
const DefaultLevel = -1

// Output buffer sizes (256 KiB for inflate, 1 MiB for deflate).
const (
	defaultInflateOutputBuf = 256 << 10
	defaultDeflateOutputBuf = 1 << 20
)

// chunkQueue is a FIFO byte queue implementing io.Reader. While not marked
// done, an empty queue returns (0, nil) instead of blocking or erroring —
// the signal flate.Reader's internal bufio.Reader turns into
// io.ErrNoProgress after enough consecutive empty reads, which Step folds
// back into a benign StatusOK. Once marked done, an empty queue returns
// io.EOF, ending the stream.
type chunkQueue struct {
	chunks [][]byte
	done   bool
}

func (q *chunkQueue) push(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	q.chunks = append(q.chunks, cp)
}

func (q *chunkQueue) Read(p []byte) (int, error) {
	for len(q.chunks) > 0 && len(q.chunks[0]) == 0 {
		q.chunks = q.chunks[1:]
	}
	if len(q.chunks) == 0 {
		if q.done {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := copy(p, q.chunks[0])
	q.chunks[0] = q.chunks[0][n:]
	return n, nil
}

// Decompressor is a streaming raw-inflate pump with an owned output buffer.
type Decompressor struct {
	in  *chunkQueue
	fr  io.ReadCloser
	out []byte

	inConsumed       int64
	outProduced      int64
	lastStatus       Status
	lastErr          error
	finalPassPending bool
}

// NewDecompressor allocates a decompressor with the owned output buffer
// sized at 256 KiB, ready for Feed/Step.
func NewDecompressor() *Decompressor {
	d := &Decompressor{out: make([]byte, defaultInflateOutputBuf)}
	d.Reset()
	return d
}

// Reset discards all buffered state so the decompressor can be reused for a
// new stream.
func (d *Decompressor) Reset() {
	d.in = &chunkQueue{}
	d.fr = flate.NewReader(d.in)
	d.out = d.out[:0]
	d.inConsumed = 0
	d.outProduced = 0
	d.lastStatus = StatusOK
	d.lastErr = nil
	d.finalPassPending = false
}

// Feed appends compressed input bytes to be consumed by subsequent Step
// calls.
func (d *Decompressor) Feed(input []byte) {
	d.in.push(input)
	d.inConsumed += int64(len(input))
}

// Finish marks that no further compressed bytes will be fed, so the
// underlying reader can recognize a truncated stream as end-of-input
// rather than stalling forever on NeedsMoreInput.
func (d *Decompressor) Finish() {
	d.in.done = true
}

// NeedsMoreInput reports whether the façade has no buffered input left to
// feed the underlying codec.
func (d *Decompressor) NeedsMoreInput() bool {
	return len(d.in.chunks) == 0 && !d.in.done
}

// HasMoreOutput reports whether OutputView has unread bytes from the most
// recent Step call.
func (d *Decompressor) HasMoreOutput() bool {
	return len(d.out) > 0
}

// FinalPassPending reports whether the previous Step call exhausted both
// buffered input and produced output while the stream was still open —
// the signal that another pass (after feeding more input) is needed.
func (d *Decompressor) FinalPassPending() bool {
	return d.finalPassPending
}

// OutputView returns the bytes produced by the most recent Step call.
// Callers must copy out what they need before the next Step call, which
// overwrites the buffer.
func (d *Decompressor) OutputView() []byte {
	return d.out
}

// Step performs one inflate pass: it hands buffered input to the underlying
// reader and pulls as much decompressed output as fits in the owned
// buffer. final is accepted for symmetry with Compressor.Step but has no
// effect on inflate, which detects stream end from the data itself.
func (d *Decompressor) Step(final bool) Status {
	if d.lastStatus == StatusError {
		return d.lastStatus
	}

	buf := d.out[:cap(d.out)]
	n, err := d.fr.Read(buf)
	d.out = buf[:n]
	d.outProduced += int64(n)

	switch {
	case err == nil:
		d.finalPassPending = false
		d.lastStatus = StatusOK
		return StatusOK
	case errors.Is(err, io.EOF):
		d.lastStatus = StatusStreamEnd
		return StatusStreamEnd
	case errors.Is(err, io.ErrNoProgress):
		// Z_BUF_ERROR-equivalent: no progress was possible this pass
		// because input ran out before a full token could be decoded.
		// Converted to a benign status rather than a fatal error.
		d.finalPassPending = true
		d.lastStatus = StatusOK
		return StatusOK
	default:
		d.lastStatus = StatusError
		d.lastErr = err
		return StatusError
	}
}

// Err returns the sticky fatal error, if Step returned StatusError.
func (d *Decompressor) Err() error {
	return d.lastErr
}

// BytesRead returns the cumulative number of compressed bytes fed in.
func (d *Decompressor) BytesRead() int64 { return d.inConsumed }

// BytesWritten returns the cumulative number of decompressed bytes produced.
func (d *Decompressor) BytesWritten() int64 { return d.outProduced }

// Compressor is a streaming raw-deflate pump with an owned output buffer
// sized at 1 MiB.
type Compressor struct {
	level int
	buf   bytes.Buffer
	fw    *flate.Writer
	out   []byte

	inConsumed  int64
	outProduced int64
	lastStatus  Status
	lastErr     error
}

// NewCompressor creates a compressor at the given level (DefaultLevel..9).
func NewCompressor(level int) (*Compressor, error) {
	c := &Compressor{out: make([]byte, 0, defaultDeflateOutputBuf)}
	if err := c.Init(level); err != nil {
		return nil, err
	}
	return c, nil
}

// Init (re)initializes the compressor at the given level. Window bits and
// strategy are fixed by the underlying raw-deflate writer (15 bits,
// default strategy); only level is a free parameter.
func (c *Compressor) Init(level int) error {
	if level != DefaultLevel && (level < 0 || level > 9) {
		return errors.New("deflate: level out of range -1..9")
	}
	c.level = level
	c.buf.Reset()
	fw, err := flate.NewWriter(&c.buf, level)
	if err != nil {
		return err
	}
	c.fw = fw
	c.out = c.out[:0]
	c.inConsumed = 0
	c.outProduced = 0
	c.lastStatus = StatusOK
	c.lastErr = nil
	return nil
}

// Feed writes raw input bytes into the deflate stream.
func (c *Compressor) Feed(input []byte) Status {
	if c.lastStatus == StatusError {
		return c.lastStatus
	}
	n, err := c.fw.Write(input)
	c.inConsumed += int64(n)
	if err != nil {
		c.lastStatus = StatusError
		c.lastErr = err
		return StatusError
	}
	return StatusOK
}

// HasMoreOutput reports whether OutputView has unread bytes.
func (c *Compressor) HasMoreOutput() bool {
	return c.buf.Len() > 0
}

// NeedsMoreInput always returns false for the compressor: flate.Writer
// never refuses writes, it only ever asks to be flushed or closed.
func (c *Compressor) NeedsMoreInput() bool { return false }

// OutputView drains and returns whatever compressed bytes are buffered.
func (c *Compressor) OutputView() []byte {
	c.out = append(c.out[:0], c.buf.Bytes()...)
	c.buf.Reset()
	return c.out
}

// Step performs a sync-flush pass (final=false) or a finish pass
// (final=true).
func (c *Compressor) Step(final bool) Status {
	if c.lastStatus == StatusError {
		return c.lastStatus
	}
	var err error
	if final {
		err = c.fw.Close()
	} else {
		err = c.fw.Flush()
	}
	if err != nil {
		c.lastStatus = StatusError
		c.lastErr = err
		return StatusError
	}
	c.outProduced += int64(c.buf.Len())
	if final {
		c.lastStatus = StatusStreamEnd
		return StatusStreamEnd
	}
	c.lastStatus = StatusOK
	return StatusOK
}

// Err returns the sticky fatal error, if Step/Feed returned StatusError.
func (c *Compressor) Err() error { return c.lastErr }

// BytesRead returns the cumulative number of raw bytes fed in.
func (c *Compressor) BytesRead() int64 { return c.inConsumed }

// BytesWritten returns the cumulative number of compressed bytes produced.
func (c *Compressor) BytesWritten() int64 { return c.outProduced }

// Reset discards all state so the compressor can be reused at the same
// level for a new stream.
func (c *Compressor) Reset() {
	_ = c.Init(c.level)
}
