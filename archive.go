package zipkit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zipkit/bytesource"
	"zipkit/crc32x"
	"zipkit/deflate"
	"zipkit/errs"
	"zipkit/globmatch"
)

// Progress is called by long-running archive operations to report bytes
// moved so far for the current entry; it may be nil.
type Progress func(bytesDone uint64)

// Archive is the façade over a byte source and its central directory: a
// disk-backed structure with two lifecycles, read (parse an existing
// archive) and create (append new entries, then finalize).
type Archive struct {
	src    bytesource.Source
	dir    *Directory
	size   int64 // read mode: archive size at open time
	create bool
	level  int
	cursor int64 // create mode: next append offset
	closed bool
}

// OpenRead opens url (local path or http(s) URL) for reading and parses
// its central directory.
func OpenRead(ctx context.Context, url string, creds *bytesource.Credentials) (*Archive, error) {
	src, err := bytesource.Open(ctx, url, false, creds)
	if err != nil {
		return nil, err
	}
	size, err := src.Size(ctx)
	if err != nil {
		_ = src.Close()
		return nil, errs.Wrap(errs.ReadFailed, "stat archive", err)
	}
	dir, err := ReadDirectory(ctx, sourceReader{src}, size)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	return &Archive{src: src, dir: dir, size: size}, nil
}

// sourceReader adapts bytesource.Source to reader (reader.go's narrow
// ReadAt-only interface) so the codec package does not depend on
// bytesource's richer Source interface (WriteAt, Close) directly.
type sourceReader struct {
	src bytesource.Source
}

func (s sourceReader) ReadAt(ctx context.Context, offset int64, p []byte) (int, error) {
	return s.src.ReadAt(ctx, offset, p)
}

// Create opens path for writing a brand new archive at the given
// deflate level (see zipkit/deflate.DefaultLevel).
func Create(ctx context.Context, path string, level int) (*Archive, error) {
	src, err := bytesource.Open(ctx, path, true, nil)
	if err != nil {
		return nil, err
	}
	return &Archive{src: src, dir: NewDirectory(), create: true, level: level}, nil
}

// Directory exposes the parsed/accumulated central directory, used by
// list/diff jobs that need to enumerate entries directly.
func (a *Archive) Directory() *Directory {
	return a.dir
}

// ExtractRaw streams the compressed bytes of name verbatim to dstPath
// without decompressing; useful for sanity checks on stored entries.
func (a *Archive) ExtractRaw(ctx context.Context, name, dstPath string, progress Progress) error {
	e := a.dir.Lookup(name)
	if e == nil {
		return errs.New(errs.NotFound, "entry not found: "+name)
	}
	info, err := ReadLocalHeader(ctx, sourceReader{a.src}, int64(e.LocalHeaderOffset))
	if err != nil {
		return err
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "create destination file", err)
	}
	defer out.Close()

	return a.copyRange(ctx, info.ContentOffset, e.CompressedSize64, out, progress)
}

// ExtractToFile extracts name's decompressed content to dstPath. Stored
// entries reuse the raw path; deflate entries stream through the
// decompressor; any other method is a fatal Unsupported error.
func (a *Archive) ExtractToFile(ctx context.Context, name, dstPath string, progress Progress) error {
	e := a.dir.Lookup(name)
	if e == nil {
		return errs.New(errs.NotFound, "entry not found: "+name)
	}
	if e.Method != Store && e.Method != Deflate {
		return errs.New(errs.Unsupported, fmt.Sprintf("unsupported compression method %d for %s", e.Method, name))
	}
	if e.Method == Store {
		return a.ExtractRaw(ctx, name, dstPath, progress)
	}

	info, err := ReadLocalHeader(ctx, sourceReader{a.src}, int64(e.LocalHeaderOffset))
	if err != nil {
		return err
	}
	out, err := os.Create(dstPath)
	if err != nil {
		return errs.Wrap(errs.WriteFailed, "create destination file", err)
	}
	defer out.Close()

	return a.inflateRange(ctx, info.ContentOffset, e.CompressedSize64, out, progress)
}

// ExtractToBuffer is like ExtractToFile but sinks to dst, which must be
// pre-sized by the caller to e.UncompressedSize64.
func (a *Archive) ExtractToBuffer(ctx context.Context, name string, dst []byte, progress Progress) error {
	e := a.dir.Lookup(name)
	if e == nil {
		return errs.New(errs.NotFound, "entry not found: "+name)
	}
	if e.Method != Store && e.Method != Deflate {
		return errs.New(errs.Unsupported, fmt.Sprintf("unsupported compression method %d for %s", e.Method, name))
	}
	info, err := ReadLocalHeader(ctx, sourceReader{a.src}, int64(e.LocalHeaderOffset))
	if err != nil {
		return err
	}
	w := &boundedBufferWriter{buf: dst}
	if e.Method == Store {
		return a.copyRange(ctx, info.ContentOffset, e.CompressedSize64, w, progress)
	}
	return a.inflateRange(ctx, info.ContentOffset, e.CompressedSize64, w, progress)
}

type boundedBufferWriter struct {
	buf []byte
	pos int
}

func (w *boundedBufferWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.pos:], p)
	w.pos += n
	if n < len(p) {
		return n, errs.New(errs.WriteFailed, "destination buffer smaller than entry's uncompressed size")
	}
	return n, nil
}

// ExtractMatching extracts every entry whose name matches glob into
// dstDir, creating parent directories as needed.
func (a *Archive) ExtractMatching(ctx context.Context, glob, dstDir string, progress func(name string, bytesDone uint64)) error {
	for _, e := range a.dir.Entries() {
		if !globmatch.Match(glob, e.Name) {
			continue
		}
		dst := filepath.Join(dstDir, filepath.FromSlash(e.Name))
		if strings.HasSuffix(e.Name, "/") {
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return errs.Wrap(errs.WriteFailed, "create directory "+dst, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errs.Wrap(errs.WriteFailed, "create parent directory for "+dst, err)
		}
		var perEntry Progress
		if progress != nil {
			perEntry = func(n uint64) { progress(e.Name, n) }
		}
		if err := a.ExtractToFile(ctx, e.Name, dst, perEntry); err != nil {
			return err
		}
	}
	return nil
}

const compressedReadBufSize = 1 << 20

// copyRange streams n bytes starting at offset from the source to w,
// reporting cumulative progress.
func (a *Archive) copyRange(ctx context.Context, offset int64, n uint64, w io.Writer, progress Progress) error {
	buf := make([]byte, compressedReadBufSize)
	var done uint64
	for done < n {
		chunk := uint64(len(buf))
		if remaining := n - done; remaining < chunk {
			chunk = remaining
		}
		read, err := a.src.ReadAt(ctx, offset+int64(done), buf[:chunk])
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return errs.Wrap(errs.WriteFailed, "write extracted content", werr)
			}
			done += uint64(read)
			if progress != nil {
				progress(done)
			}
		}
		if err != nil && err != io.EOF {
			return errs.Wrap(errs.ReadFailed, "read compressed content", err)
		}
		if read == 0 && err == nil {
			return errs.New(errs.Corrupt, "unexpected short read extracting entry")
		}
	}
	return nil
}

// inflateRange streams n compressed bytes starting at offset through the
// deflate decompressor to w.
func (a *Archive) inflateRange(ctx context.Context, offset int64, n uint64, w io.Writer, progress Progress) error {
	d := deflate.NewDecompressor()
	buf := make([]byte, compressedReadBufSize)
	var readDone uint64
	for {
		if d.NeedsMoreInput() {
			if readDone >= n {
				d.Finish()
			} else {
				chunk := uint64(len(buf))
				if remaining := n - readDone; remaining < chunk {
					chunk = remaining
				}
				got, err := a.src.ReadAt(ctx, offset+int64(readDone), buf[:chunk])
				if got > 0 {
					d.Feed(buf[:got])
					readDone += uint64(got)
				}
				if err != nil && err != io.EOF {
					return errs.Wrap(errs.ReadFailed, "read compressed content", err)
				}
				if readDone >= n {
					d.Finish()
				}
			}
		}

		status := d.Step(false)
		if status == deflate.StatusError {
			return errs.Wrap(errs.Corrupt, "deflate stream error", d.Err())
		}
		if d.HasMoreOutput() {
			if _, err := w.Write(d.OutputView()); err != nil {
				return errs.Wrap(errs.WriteFailed, "write inflated content", err)
			}
			if progress != nil {
				progress(uint64(d.BytesWritten()))
			}
		}
		if status == deflate.StatusStreamEnd {
			return nil
		}
	}
}

// AddFile adds the file or directory at path to the archive, with the
// entry name derived by stripping baseDir's prefix and forward-slash
// normalising.
func (a *Archive) AddFile(ctx context.Context, path, baseDir string, progress Progress) error {
	if !a.create {
		return errs.New(errs.Unsupported, "archive was not opened in create mode")
	}
	info, err := os.Stat(path)
	if err != nil {
		return errs.Wrap(errs.OpenFailed, "stat "+path, err)
	}

	name := entryNameFor(path, baseDir, info.IsDir())

	if info.IsDir() {
		e := &Entry{Name: name, Modified: info.ModTime(), Method: Store}
		e.SetMode(info.Mode())
		prepareEntry(e)
		e.LocalHeaderOffset = uint64(a.cursor)
		if err := a.appendLocalHeader(ctx, e); err != nil {
			return err
		}
		a.dir.Insert(e)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(errs.OpenFailed, "open "+path, err)
	}
	defer f.Close()

	e := &Entry{Name: name, Modified: info.ModTime(), Method: methodForSize(info.Size())}
	e.SetMode(info.Mode())
	return a.streamEntry(ctx, e, f, progress)
}

// AddBuffer adds data as nameInArchive with the current time as its
// modification time.
func (a *Archive) AddBuffer(ctx context.Context, data []byte, nameInArchive string, progress Progress) error {
	if !a.create {
		return errs.New(errs.Unsupported, "archive was not opened in create mode")
	}
	e := &Entry{Name: nameInArchive, Modified: time.Now(), Method: methodForSize(int64(len(data)))}
	return a.streamEntry(ctx, e, bytes.NewReader(data), progress)
}

// methodForSize picks the compression method for a new entry: deflate
// for nonempty content, store for zero-length files (deflating nothing
// would still emit a nonempty final block).
func methodForSize(n int64) uint16 {
	if n == 0 {
		return Store
	}
	return Deflate
}

// streamEntry writes a placeholder local header, then streams r through
// CRC + deflate (or verbatim for stored entries) while appending output,
// then patches the header's CRC field and zip64 sizes in place.
func (a *Archive) streamEntry(ctx context.Context, e *Entry, r io.Reader, progress Progress) error {
	prepareEntry(e)
	headerOffset := a.cursor
	e.LocalHeaderOffset = uint64(headerOffset)

	if err := a.appendLocalHeader(ctx, e); err != nil {
		return err
	}

	hasher := crc32x.New()
	var comp *deflate.Compressor
	if e.Method == Deflate {
		var err error
		comp, err = deflate.NewCompressor(a.level)
		if err != nil {
			return errs.Wrap(errs.BadArgument, "init deflate compressor", err)
		}
	}

	readBuf := make([]byte, compressedReadBufSize)
	var uncompressedTotal, storedTotal uint64
	for {
		n, rerr := r.Read(readBuf)
		if n > 0 {
			hasher.Write(readBuf[:n])
			uncompressedTotal += uint64(n)
			if comp != nil {
				if status := comp.Feed(readBuf[:n]); status == deflate.StatusError {
					return errs.Wrap(errs.Corrupt, "deflate compression error", comp.Err())
				}
				if err := a.drainCompressor(ctx, comp, false); err != nil {
					return err
				}
			} else {
				if _, err := a.src.WriteAt(ctx, a.cursor, readBuf[:n]); err != nil {
					return errs.Wrap(errs.WriteFailed, "append stored content", err)
				}
				a.cursor += int64(n)
				storedTotal += uint64(n)
			}
			if progress != nil {
				progress(uncompressedTotal)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return errs.Wrap(errs.ReadFailed, "read source content for "+e.Name, rerr)
		}
	}
	if comp != nil {
		if err := a.drainCompressor(ctx, comp, true); err != nil {
			return err
		}
	}

	e.CRC32 = hasher.Sum32()
	e.UncompressedSize64 = uncompressedTotal
	if comp != nil {
		e.CompressedSize64 = uint64(comp.BytesWritten())
	} else {
		e.CompressedSize64 = storedTotal
	}

	if _, err := a.src.WriteAt(ctx, headerOffset+localHeaderCRCFieldOffset, patchLocalHeaderCRC(e)); err != nil {
		return errs.Wrap(errs.WriteFailed, "patch local header CRC", err)
	}
	if _, err := a.src.WriteAt(ctx, headerOffset+localHeaderZip64SizesOffset(e), patchLocalHeaderSizes(e)); err != nil {
		return errs.Wrap(errs.WriteFailed, "patch local header sizes", err)
	}

	a.dir.Insert(e)
	return nil
}

func (a *Archive) drainCompressor(ctx context.Context, comp *deflate.Compressor, final bool) error {
	status := comp.Step(final)
	if status == deflate.StatusError {
		return errs.Wrap(errs.Corrupt, "deflate compression error", comp.Err())
	}
	if comp.HasMoreOutput() {
		chunk := comp.OutputView()
		if _, err := a.src.WriteAt(ctx, a.cursor, chunk); err != nil {
			return errs.Wrap(errs.WriteFailed, "append compressed content", err)
		}
		a.cursor += int64(len(chunk))
	}
	return nil
}

// appendLocalHeader writes a placeholder local header (zero CRC/sizes)
// at the current append cursor.
func (a *Archive) appendLocalHeader(ctx context.Context, e *Entry) error {
	var buf writeBufferCollector
	if err := writeLocalHeader(&buf, e); err != nil {
		return err
	}
	if _, err := a.src.WriteAt(ctx, a.cursor, buf.b); err != nil {
		return errs.Wrap(errs.WriteFailed, "write local header", err)
	}
	a.cursor += int64(len(buf.b))
	return nil
}

type writeBufferCollector struct{ b []byte }

func (c *writeBufferCollector) Write(p []byte) (int, error) {
	c.b = append(c.b, p...)
	return len(p), nil
}

// entryNameFor derives an archive-relative, forward-slash name from path
// with baseDir's prefix stripped, appending a trailing slash for
// directories.
func entryNameFor(path, baseDir string, isDir bool) string {
	rel := strings.TrimPrefix(path, baseDir)
	rel = strings.TrimPrefix(rel, string(filepath.Separator))
	rel = filepath.ToSlash(rel)
	if isDir && !strings.HasSuffix(rel, "/") {
		rel += "/"
	}
	return rel
}

// Close finalizes and writes the central directory if the archive was
// opened in create mode; for a read-mode archive it just releases the
// underlying byte source.
func (a *Archive) Close(ctx context.Context) error {
	if a.closed {
		return nil
	}
	a.closed = true

	if a.create {
		a.dir.Finalize(a.cursor)
		var buf writeBufferCollector
		if err := a.dir.Write(&buf); err != nil {
			return errs.Wrap(errs.WriteFailed, "write central directory", err)
		}
		if _, err := a.src.WriteAt(ctx, a.cursor, buf.b); err != nil {
			return errs.Wrap(errs.WriteFailed, "append central directory", err)
		}
	}
	return a.src.Close()
}
