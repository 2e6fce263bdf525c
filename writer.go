package zipkit

import (
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

var (
	errLongName  = errors.New("zipkit: entry name too long")
	errLongExtra = errors.New("zipkit: entry extra field too long")
)

// detectUTF8 reports whether s is a valid UTF-8 string, and whether the
// string must be considered UTF-8 encoding (i.e., not compatible with
// CP-437, ASCII, or any other common encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

// prepareEntry fills in the general-purpose flags, version fields, and
// the extended-timestamp extra field for an entry about to be written.
// No data descriptor is ever emitted; the local header's size/CRC
// fields are overwritten directly once known, via a
// placeholder-header, patch-in-place model. Bit 0x0002 is always set
// and both version fields are always zipVersion45, since every entry
// this writer emits carries a Zip64 extra field regardless of size.
func prepareEntry(fh *Entry) {
	utf8Valid1, utf8Require1 := detectUTF8(fh.Name)
	utf8Valid2, utf8Require2 := detectUTF8(fh.Comment)
	switch {
	case fh.NonUTF8:
		fh.Flags &^= 0x800
	case (utf8Require1 || utf8Require2) && (utf8Valid1 && utf8Valid2):
		fh.Flags |= 0x800
	}
	fh.Flags |= 0x0002

	fh.CreatorVersion = fh.CreatorVersion&0xff00 | zipVersion45
	fh.ReaderVersion = zipVersion45

	var mbuf [extTimeExtraLen]byte
	mt := uint32(fh.Modified.Unix())
	eb := writeBuf(mbuf[:])
	eb.uint16(extTimeExtraID)
	eb.uint16(5)
	eb.uint8(1)
	eb.uint32(mt)
	fh.Extra = append(fh.Extra, mbuf[:]...)

	if strings.HasSuffix(fh.Name, "/") {
		fh.Method = Store
		fh.CompressedSize64 = 0
		fh.UncompressedSize64 = 0
	}
}

// localHeaderZip64Len is the zip64 extended-info extra emitted in every
// local file header: tag, size, then the 64-bit uncompressed and
// compressed sizes.
const localHeaderZip64Len = 20

// writeLocalHeader writes the 30-byte fixed local file header plus name
// and extra. The 32-bit size slots are always saturated to all-ones; the
// real 64-bit sizes live in a zip64 extra that leads the extra area, so
// its fields sit at a fixed offset from the header start. For a streamed
// file entry this is first called with zero sizes as a placeholder;
// streamEntry then overwrites the CRC field and the zip64 sizes in place
// once the entry has been fully written.
func writeLocalHeader(w io.Writer, h *Entry) error {
	if len(h.Name) > uint16max {
		return errLongName
	}
	if len(h.Extra)+localHeaderZip64Len > uint16max {
		return errLongExtra
	}

	modifiedDate, modifiedTime := timeToMsDosTime(h.Modified)

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(fileHeaderSignature))
	b.uint16(h.ReaderVersion)
	b.uint16(h.Flags)
	b.uint16(h.Method)
	b.uint16(modifiedTime)
	b.uint16(modifiedDate)
	b.uint32(h.CRC32)
	b.uint32(uint32max) // compressed size: carried in the zip64 extra
	b.uint32(uint32max) // uncompressed size: ditto
	b.uint16(uint16(len(h.Name)))
	b.uint16(uint16(len(h.Extra) + localHeaderZip64Len))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, h.Name); err != nil {
		return err
	}

	var zbuf [localHeaderZip64Len]byte
	eb := writeBuf(zbuf[:])
	eb.uint16(zip64ExtraID)
	eb.uint16(16)
	eb.uint64(h.UncompressedSize64)
	eb.uint64(h.CompressedSize64)
	if _, err := w.Write(zbuf[:]); err != nil {
		return err
	}
	_, err := w.Write(h.Extra)
	return err
}

// localHeaderCRCFieldOffset is the byte offset of the CRC32 field
// relative to the start of a local file header.
const localHeaderCRCFieldOffset = 14

// localHeaderZip64SizesOffset returns the offset, relative to the start
// of a local file header, of the 64-bit uncompressed/compressed size
// pair inside the leading zip64 extra.
func localHeaderZip64SizesOffset(h *Entry) int64 {
	return fileHeaderLen + int64(len(h.Name)) + 4
}

// patchLocalHeaderCRC and patchLocalHeaderSizes encode the fields
// streamEntry writes back once an entry's true checksum and sizes are
// known. The header's 32-bit size slots stay all-ones.
func patchLocalHeaderCRC(h *Entry) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], h.CRC32)
	return buf[:]
}

func patchLocalHeaderSizes(h *Entry) []byte {
	var buf [16]byte
	b := writeBuf(buf[:])
	b.uint64(h.UncompressedSize64)
	b.uint64(h.CompressedSize64)
	return buf[:]
}

// writeCentralDirectoryEntry writes one 46-byte central-directory record
// plus name/extra/comment. The Zip64 extra field is always appended
// (carrying the local-header offset as well as both sizes) regardless
// of whether the entry actually needs Zip64: this keeps every archive
// zipkit writes self-consistent and lets the reader exercise its
// Zip64-promotion path uniformly.
func writeCentralDirectoryEntry(cw *countWriter, h *Entry) error {
	modifiedDate, modifiedTime := timeToMsDosTime(h.Modified)

	extra := append([]byte(nil), h.Extra...)
	var zbuf [32]byte // 2x uint16 + 3x uint64 + 1x uint32 disk-number-start
	eb := writeBuf(zbuf[:])
	eb.uint16(zip64ExtraID)
	eb.uint16(28)
	eb.uint64(h.UncompressedSize64)
	eb.uint64(h.CompressedSize64)
	eb.uint64(h.LocalHeaderOffset)
	eb.uint32(0) // disk-number-start: always emitted, archives are single-volume
	extra = append(extra, zbuf[:]...)

	var buf [directoryHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(directoryHeaderSignature))
	b.uint16(h.CreatorVersion)
	b.uint16(h.ReaderVersion)
	b.uint16(h.Flags)
	b.uint16(h.Method)
	b.uint16(modifiedTime)
	b.uint16(modifiedDate)
	b.uint32(h.CRC32)
	b.uint32(uint32max) // compressed size: always signalled via the zip64 extra
	b.uint32(uint32max) // uncompressed size: ditto
	b.uint16(uint16(len(h.Name)))
	b.uint16(uint16(len(extra)))
	b.uint16(uint16(len(h.Comment)))
	b = b[4:] // disk number start, internal file attrs
	b.uint32(h.ExternalAttrs)
	b.uint32(uint32max) // local header offset: carried in the zip64 extra too

	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(cw, h.Name); err != nil {
		return err
	}
	if _, err := cw.Write(extra); err != nil {
		return err
	}
	_, err := io.WriteString(cw, h.Comment)
	return err
}

// Write emits the full central directory plus Zip64 end-of-CD record,
// Zip64 end-of-CD locator, and end-of-CD record, in that order, to sink.
// Finalize must have been called first to fix the CD's start offset.
func (d *Directory) Write(sink io.Writer) error {
	cw := &countWriter{w: sink}
	for _, h := range d.order {
		if err := writeCentralDirectoryEntry(cw, h); err != nil {
			return err
		}
	}
	d.cdSize = uint64(cw.count)

	records := uint64(len(d.order))
	offset := uint64(d.cdStartOffset)
	size := d.cdSize
	end := offset + size

	// The writer always emits Zip64 end records, keeping every CD entry
	// offset field legible via the Zip64 extra the CD entries always
	// carry.
	var buf [directory64EndLen + directory64LocLen]byte
	b := writeBuf(buf[:])
	b.uint32(directory64EndSignature)
	b.uint64(directory64EndLen - 12)
	b.uint16(zipVersion45)
	b.uint16(zipVersion45)
	b.uint32(0)
	b.uint32(0)
	b.uint64(records)
	b.uint64(records)
	b.uint64(size)
	b.uint64(offset)

	b.uint32(directory64LocSignature)
	b.uint32(0)
	b.uint64(end)
	b.uint32(1)

	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}

	var eocd [directoryEndLen]byte
	eb := writeBuf(eocd[:])
	eb.uint32(uint32(directoryEndSignature))
	eb = eb[4:]
	eb.uint16(uint16max)
	eb.uint16(uint16max)
	eb.uint32(uint32max)
	eb.uint32(uint32max) // CD start offset: 0xFFFFFFFF signals "see Zip64 record"
	eb.uint16(uint16(len(d.comment)))
	if _, err := cw.Write(eocd[:]); err != nil {
		return err
	}
	_, err := io.WriteString(cw, d.comment)
	return err
}
