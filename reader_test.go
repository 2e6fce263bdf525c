package zipkit

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// byteSliceReader adapts an in-memory buffer to the codec's reader
// interface for parse tests.
type byteSliceReader []byte

func (b byteSliceReader) ReadAt(_ context.Context, offset int64, p []byte) (int, error) {
	if offset >= int64(len(b)) {
		return 0, io.EOF
	}
	n := copy(p, b[offset:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestPromoteZip64ReplacesAllOnesSlots(t *testing.T) {
	e := &Entry{}
	var blob [24]byte
	binary.LittleEndian.PutUint64(blob[0:], 5_000_000_000)  // uncompressed
	binary.LittleEndian.PutUint64(blob[8:], 4_000_000_000)  // compressed
	binary.LittleEndian.PutUint64(blob[16:], 9_000_000_000) // local header offset

	var extra [28]byte
	binary.LittleEndian.PutUint16(extra[0:], zip64ExtraID)
	binary.LittleEndian.PutUint16(extra[2:], 24)
	copy(extra[4:], blob[:])

	promoteZip64(extra[:], uint32max, uint32max, uint32max, e)

	assert.EqualValues(t, 5_000_000_000, e.UncompressedSize64)
	assert.EqualValues(t, 4_000_000_000, e.CompressedSize64)
	assert.EqualValues(t, 9_000_000_000, e.LocalHeaderOffset)
}

func TestPromoteZip64SkipsNonSaturatedSlots(t *testing.T) {
	e := &Entry{CompressedSize64: 123, LocalHeaderOffset: 456}
	var blob [8]byte
	binary.LittleEndian.PutUint64(blob[0:], 9_999_999_999) // only uncompressed replacement present

	var extra [12]byte
	binary.LittleEndian.PutUint16(extra[0:], zip64ExtraID)
	binary.LittleEndian.PutUint16(extra[2:], 8)
	copy(extra[4:], blob[:])

	// compressedSize32 and localHeaderOffset32 are NOT all-ones, so only
	// the uncompressed-size replacement should be consumed.
	promoteZip64(extra[:], 100, uint32max, 200, e)

	assert.EqualValues(t, 9_999_999_999, e.UncompressedSize64)
	assert.EqualValues(t, 123, e.CompressedSize64)
	assert.EqualValues(t, 456, e.LocalHeaderOffset)
}

func TestParseCentralDirectoryEntryRejectsBadSignature(t *testing.T) {
	buf := make([]byte, directoryHeaderLen)
	_, _, err := parseCentralDirectoryEntry(buf)
	assert.Error(t, err)
}

func TestReadLocalHeaderPromotesZip64Sizes(t *testing.T) {
	e := &Entry{
		Name:               "big.bin",
		Modified:           time.Now(),
		Method:             Deflate,
		CRC32:              0xDEADBEEF,
		UncompressedSize64: 5_000_000_000,
		CompressedSize64:   4_000_000_000,
	}

	var buf bytes.Buffer
	require.NoError(t, writeLocalHeader(&buf, e))

	info, err := ReadLocalHeader(context.Background(), byteSliceReader(buf.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, Deflate, info.Method)
	assert.Equal(t, uint32(0xDEADBEEF), info.CRC32)
	assert.EqualValues(t, 5_000_000_000, info.UncompressedSize)
	assert.EqualValues(t, 4_000_000_000, info.CompressedSize)
	assert.EqualValues(t, len(buf.Bytes()), info.ContentOffset)
}

func TestWriteLocalHeaderSaturates32BitSizeSlots(t *testing.T) {
	e := &Entry{Name: "a.txt", Modified: time.Now(), Method: Deflate}

	var buf bytes.Buffer
	require.NoError(t, writeLocalHeader(&buf, e))
	data := buf.Bytes()

	assert.Equal(t, uint32(uint32max), binary.LittleEndian.Uint32(data[18:]))
	assert.Equal(t, uint32(uint32max), binary.LittleEndian.Uint32(data[22:]))

	// The zip64 extra leads the extra area immediately after the name.
	extraStart := fileHeaderLen + len(e.Name)
	assert.EqualValues(t, zip64ExtraID, binary.LittleEndian.Uint16(data[extraStart:]))
	assert.EqualValues(t, 16, binary.LittleEndian.Uint16(data[extraStart+2:]))
}
