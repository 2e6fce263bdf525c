package zipkit

import (
	"context"
	"encoding/binary"
	"io"

	"zipkit/errs"
)

// maxCDBytes is the sanity cap on central directory length (64 MiB);
// archives whose CD claims to exceed it are rejected as corrupt rather
// than read into memory.
const maxCDBytes = 64 << 20

// tailScanWindow is the maximum number of trailing bytes read in one
// shot while locating the end-of-CD record.
const tailScanWindow = 1024

// eocdFixed is the fixed 22-byte portion of the end-of-CD record,
// excluding the trailing comment.
type eocdFixed struct {
	diskNumber    uint16
	cdDiskNumber  uint16
	cdCountOnDisk uint16
	cdCount       uint16
	cdSize        uint32
	cdOffset      uint32
	commentLength uint16
}

// readTail reads the last n bytes of src (or the whole source if it is
// shorter than n) via a single ReadAt call.
func readTail(ctx context.Context, src reader, size int64, n int64) ([]byte, error) {
	if n > size {
		n = size
	}
	buf := make([]byte, n)
	if _, err := readFullAt(ctx, src, size-n, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// reader is the subset of bytesource.Source the codec needs; kept as a
// narrow local interface so reader.go does not have to import
// bytesource directly (archive.go wires the concrete implementation).
type reader interface {
	ReadAt(ctx context.Context, offset int64, p []byte) (int, error)
}

func readFullAt(ctx context.Context, src reader, offset int64, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := src.ReadAt(ctx, offset+int64(total), p[total:])
		total += n
		if err != nil {
			if err == io.EOF && total == len(p) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, errs.New(errs.Corrupt, "unexpected short read while parsing ZIP structure")
		}
	}
	return total, nil
}

// locateEOCD scans the archive's tail buffer backward for the end-of-CD
// signature.
func locateEOCD(buf []byte) (eocdFixed, error) {
	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != directoryEndSignature {
			continue
		}
		return eocdFixed{
			diskNumber:    binary.LittleEndian.Uint16(buf[i+4:]),
			cdDiskNumber:  binary.LittleEndian.Uint16(buf[i+6:]),
			cdCountOnDisk: binary.LittleEndian.Uint16(buf[i+8:]),
			cdCount:       binary.LittleEndian.Uint16(buf[i+10:]),
			cdSize:        binary.LittleEndian.Uint32(buf[i+12:]),
			cdOffset:      binary.LittleEndian.Uint32(buf[i+16:]),
			commentLength: binary.LittleEndian.Uint16(buf[i+20:]),
		}, nil
	}
	return eocdFixed{}, errs.New(errs.Corrupt, "not a ZIP archive: end-of-central-directory signature not found")
}

// locateZip64 scans the same tail buffer backward for the Zip64 locator
// signature; if found, it follows the locator's offset to the Zip64
// end-of-CD record and returns its CD offset/size/count, overriding the
// 32-bit fields.
func locateZip64(ctx context.Context, src reader, tailBuf []byte) (found bool, cdOffset int64, cdSize int64, cdCount int64, err error) {
	for i := len(tailBuf) - directory64LocLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(tailBuf[i:]) != directory64LocSignature {
			continue
		}
		zip64EOCDOffset := int64(binary.LittleEndian.Uint64(tailBuf[i+8:]))

		rec := make([]byte, directory64EndLen)
		if _, rerr := readFullAt(ctx, src, zip64EOCDOffset, rec); rerr != nil {
			return false, 0, 0, 0, errs.Wrap(errs.Corrupt, "read zip64 end-of-CD record", rerr)
		}
		if binary.LittleEndian.Uint32(rec) != directory64EndSignature {
			return false, 0, 0, 0, errs.New(errs.Corrupt, "zip64 locator points at wrong signature")
		}
		cdCount = int64(binary.LittleEndian.Uint64(rec[32:]))
		cdSize = int64(binary.LittleEndian.Uint64(rec[40:]))
		cdOffset = int64(binary.LittleEndian.Uint64(rec[48:]))
		return true, cdOffset, cdSize, cdCount, nil
	}
	return false, 0, 0, 0, nil
}

// ReadDirectory parses the full central directory of an archive of the
// given size.
func ReadDirectory(ctx context.Context, src reader, size int64) (*Directory, error) {
	window := int64(tailScanWindow)
	if window > size {
		window = size
	}
	if window < directoryEndLen {
		return nil, errs.New(errs.Corrupt, "not a ZIP archive: file too small")
	}
	tailBuf, err := readTail(ctx, src, size, window)
	if err != nil {
		return nil, errs.Wrap(errs.ReadFailed, "read archive tail", err)
	}

	eocd, err := locateEOCD(tailBuf)
	if err != nil {
		return nil, err
	}

	cdOffset := int64(eocd.cdOffset)
	cdSize := int64(eocd.cdSize)
	cdCount := int64(eocd.cdCount)

	if isZip64, z64Offset, z64Size, z64Count, zerr := locateZip64(ctx, src, tailBuf); zerr != nil {
		return nil, zerr
	} else if isZip64 {
		cdOffset, cdSize, cdCount = z64Offset, z64Size, z64Count
	}

	if cdSize < 0 || cdSize > maxCDBytes {
		return nil, errs.New(errs.Corrupt, "central directory exceeds sanity cap")
	}

	cdBuf := make([]byte, cdSize)
	if _, err := readFullAt(ctx, src, cdOffset, cdBuf); err != nil {
		return nil, errs.Wrap(errs.ReadFailed, "read central directory", err)
	}

	dir := NewDirectory()
	pos := 0
	for i := int64(0); i < cdCount; i++ {
		entry, consumed, perr := parseCentralDirectoryEntry(cdBuf[pos:])
		if perr != nil {
			return nil, perr
		}
		dir.Insert(entry)
		pos += consumed
	}
	return dir, nil
}

// parseCentralDirectoryEntry parses one 46-byte-plus-variable central
// directory record starting at buf[0].
func parseCentralDirectoryEntry(buf []byte) (*Entry, int, error) {
	if len(buf) < directoryHeaderLen {
		return nil, 0, errs.New(errs.Corrupt, "truncated central directory entry")
	}
	if binary.LittleEndian.Uint32(buf) != directoryHeaderSignature {
		return nil, 0, errs.New(errs.Corrupt, "bad central directory entry signature")
	}

	e := &Entry{
		CreatorVersion: binary.LittleEndian.Uint16(buf[4:]),
		ReaderVersion:  binary.LittleEndian.Uint16(buf[6:]),
		Flags:          binary.LittleEndian.Uint16(buf[8:]),
		Method:         binary.LittleEndian.Uint16(buf[10:]),
	}
	modTime := binary.LittleEndian.Uint16(buf[12:])
	modDate := binary.LittleEndian.Uint16(buf[14:])
	e.Modified = msDosTimeToTime(modDate, modTime)
	e.CRC32 = binary.LittleEndian.Uint32(buf[16:])

	compressedSize32 := binary.LittleEndian.Uint32(buf[20:])
	uncompressedSize32 := binary.LittleEndian.Uint32(buf[24:])
	nameLen := int(binary.LittleEndian.Uint16(buf[28:]))
	extraLen := int(binary.LittleEndian.Uint16(buf[30:]))
	commentLen := int(binary.LittleEndian.Uint16(buf[32:]))
	e.ExternalAttrs = binary.LittleEndian.Uint32(buf[38:])
	localHeaderOffset32 := binary.LittleEndian.Uint32(buf[42:])

	e.CompressedSize64 = uint64(compressedSize32)
	e.UncompressedSize64 = uint64(uncompressedSize32)
	e.LocalHeaderOffset = uint64(localHeaderOffset32)

	total := directoryHeaderLen + nameLen + extraLen + commentLen
	if len(buf) < total {
		return nil, 0, errs.New(errs.Corrupt, "truncated central directory entry body")
	}

	e.Name = string(buf[directoryHeaderLen : directoryHeaderLen+nameLen])
	extra := buf[directoryHeaderLen+nameLen : directoryHeaderLen+nameLen+extraLen]
	e.Extra = append([]byte(nil), extra...)
	e.Comment = string(buf[directoryHeaderLen+nameLen+extraLen : total])

	promoteZip64(extra, compressedSize32, uncompressedSize32, localHeaderOffset32, e)

	return e, total, nil
}

// promoteZip64 applies the Zip64 extra-field promotion rule: when the
// Zip64 extra field is present and a 32-bit slot reads
// all-ones, the corresponding 64-bit replacement is pulled from the
// extra blob in order (uncompressed size, compressed size, local-header
// offset), skipping any replacement whose source slot was not all-ones.
func promoteZip64(extra []byte, compressedSize32, uncompressedSize32, localHeaderOffset32 uint32, e *Entry) {
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra) < 4+size {
			return
		}
		blob := extra[4 : 4+size]
		if tag == zip64ExtraID {
			off := 0
			if uncompressedSize32 == uint32max && off+8 <= len(blob) {
				e.UncompressedSize64 = binary.LittleEndian.Uint64(blob[off:])
				off += 8
			}
			if compressedSize32 == uint32max && off+8 <= len(blob) {
				e.CompressedSize64 = binary.LittleEndian.Uint64(blob[off:])
				off += 8
			}
			if localHeaderOffset32 == uint32max && off+8 <= len(blob) {
				e.LocalHeaderOffset = binary.LittleEndian.Uint64(blob[off:])
				off += 8
			}
			return
		}
		extra = extra[4+size:]
	}
}

// LocalHeaderInfo is the subset of a parsed local file header that
// extract operations need: where the compressed content begins, the
// method, and the header's own CRC/size fields with zip64 promotion
// already applied.
type LocalHeaderInfo struct {
	ContentOffset    int64
	Method           uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// ReadLocalHeader parses the local file header at offset using a
// two-step read: fetch the name/extra lengths, then the exact header
// length. Sizes are pulled from the zip64 extra whenever a 32-bit slot
// reads all-ones, the same promotion rule the central directory parse
// applies (a local header carries no offset field).
func ReadLocalHeader(ctx context.Context, src reader, offset int64) (LocalHeaderInfo, error) {
	lens := make([]byte, 4)
	if _, err := readFullAt(ctx, src, offset+26, lens); err != nil {
		return LocalHeaderInfo{}, errs.Wrap(errs.ReadFailed, "read local header lengths", err)
	}
	nameLen := int(binary.LittleEndian.Uint16(lens))
	extraLen := int(binary.LittleEndian.Uint16(lens[2:]))

	headerLen := fileHeaderLen + nameLen + extraLen
	buf := make([]byte, headerLen)
	if _, err := readFullAt(ctx, src, offset, buf); err != nil {
		return LocalHeaderInfo{}, errs.Wrap(errs.ReadFailed, "read local header", err)
	}
	if binary.LittleEndian.Uint32(buf) != fileHeaderSignature {
		return LocalHeaderInfo{}, errs.New(errs.Corrupt, "bad local file header signature")
	}

	compressedSize32 := binary.LittleEndian.Uint32(buf[18:])
	uncompressedSize32 := binary.LittleEndian.Uint32(buf[22:])
	info := LocalHeaderInfo{
		ContentOffset:    offset + int64(headerLen),
		Method:           binary.LittleEndian.Uint16(buf[8:]),
		CRC32:            binary.LittleEndian.Uint32(buf[14:]),
		CompressedSize:   uint64(compressedSize32),
		UncompressedSize: uint64(uncompressedSize32),
	}

	extra := buf[fileHeaderLen+nameLen:]
	for len(extra) >= 4 {
		tag := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		if len(extra) < 4+size {
			break
		}
		if tag == zip64ExtraID {
			blob := extra[4 : 4+size]
			off := 0
			if uncompressedSize32 == uint32max && off+8 <= len(blob) {
				info.UncompressedSize = binary.LittleEndian.Uint64(blob[off:])
				off += 8
			}
			if compressedSize32 == uint32max && off+8 <= len(blob) {
				info.CompressedSize = binary.LittleEndian.Uint64(blob[off:])
			}
			break
		}
		extra = extra[4+size:]
	}

	return info, nil
}
