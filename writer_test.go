package zipkit

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareEntrySetsZip64VersionsAndFlag(t *testing.T) {
	e := &Entry{Name: "a.txt", Modified: time.Now()}
	prepareEntry(e)

	assert.EqualValues(t, zipVersion45, e.ReaderVersion)
	assert.EqualValues(t, zipVersion45, e.CreatorVersion&0xff)
	assert.NotZero(t, e.Flags&0x0002)
}

func TestPrepareEntryNonUTF8StillSetsZip64Flag(t *testing.T) {
	e := &Entry{Name: "a.txt", Modified: time.Now(), NonUTF8: true}
	prepareEntry(e)

	assert.Zero(t, e.Flags&0x800)
	assert.NotZero(t, e.Flags&0x0002)
}

func TestWriteCentralDirectoryEntryIncludesDiskNumberStart(t *testing.T) {
	h := &Entry{
		Name:               "a.txt",
		Modified:           time.Now(),
		UncompressedSize64: 11,
		CompressedSize64:   9,
		LocalHeaderOffset:  1234,
	}
	prepareEntry(h)

	var buf bytes.Buffer
	cw := &countWriter{w: &buf}
	require.NoError(t, writeCentralDirectoryEntry(cw, h))

	data := buf.Bytes()
	nameLen := int(binary.LittleEndian.Uint16(data[28:30]))
	extraLen := int(binary.LittleEndian.Uint16(data[30:32]))
	extra := data[directoryHeaderLen+nameLen : directoryHeaderLen+nameLen+extraLen]

	// The zip64 subfield follows whatever other extras (extended
	// timestamp) prepareEntry already appended, so scan for its tag.
	var zip64 []byte
	for rest := extra; len(rest) >= 4; {
		tag := binary.LittleEndian.Uint16(rest[0:2])
		size := int(binary.LittleEndian.Uint16(rest[2:4]))
		if tag == zip64ExtraID {
			zip64 = rest[:4+size]
			break
		}
		rest = rest[4+size:]
	}
	require.NotNil(t, zip64)
	require.GreaterOrEqual(t, len(zip64), 4+28)
	assert.EqualValues(t, 28, binary.LittleEndian.Uint16(zip64[2:4]))
	assert.EqualValues(t, 11, binary.LittleEndian.Uint64(zip64[4:12]))
	assert.EqualValues(t, 9, binary.LittleEndian.Uint64(zip64[12:20]))
	assert.EqualValues(t, 1234, binary.LittleEndian.Uint64(zip64[20:28]))
	assert.EqualValues(t, 0, binary.LittleEndian.Uint32(zip64[28:32]))
}
