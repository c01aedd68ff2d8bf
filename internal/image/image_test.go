package image

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/scriptdbg/errs"
)

// fixtureSection is one named section of a hand-assembled test image.
type fixtureSection struct {
	name string
	data []byte
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func rowTableBytes(rowSize uint32, rows [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(u32(tableHeaderSize))
	buf.Write(u32(rowSize))
	buf.Write(u32(uint32(len(rows))))
	for _, r := range rows {
		buf.Write(r)
	}
	return buf.Bytes()
}

func codeSectionBytes(payloadLen int) []byte {
	var buf bytes.Buffer
	buf.Write(u32(uint32(payloadLen)))
	buf.WriteByte(CellSize)
	buf.WriteByte(CurrentCodeVersion)
	buf.Write([]byte{0, 0}) // flags
	buf.Write(u32(0))       // features
	buf.Write(make([]byte, payloadLen))
	return buf.Bytes()
}

func dataSectionBytes(length, memSize uint32) []byte {
	var buf bytes.Buffer
	buf.Write(u32(length))
	buf.Write(u32(memSize))
	buf.Write(make([]byte, length))
	return buf.Bytes()
}

// assembleFixture lays out a valid, uncompressed container the same way
// internal/image.Open expects: fixed header, section table, section-name
// string table, then each section's payload in order.
func assembleFixture(sections []fixtureSection) []byte {
	nameOffsets := make([]uint32, len(sections))
	var nameTable bytes.Buffer
	for i, s := range sections {
		nameOffsets[i] = uint32(nameTable.Len())
		nameTable.WriteString(s.name)
		nameTable.WriteByte(0)
	}

	sectionTableSize := uint32(len(sections)) * sectionRowSize
	stringTab := uint32(headerSize) + sectionTableSize
	dataStart := stringTab + uint32(nameTable.Len())

	dataOffsets := make([]uint32, len(sections))
	cursor := dataStart
	for i, s := range sections {
		dataOffsets[i] = cursor
		cursor += uint32(len(s.data))
	}
	total := cursor

	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	binary.LittleEndian.PutUint16(out[4:6], Version10)
	out[6] = CompressNone
	binary.LittleEndian.PutUint32(out[7:11], total)
	binary.LittleEndian.PutUint32(out[11:15], total)
	binary.LittleEndian.PutUint16(out[15:17], uint16(len(sections)))
	binary.LittleEndian.PutUint32(out[17:21], stringTab)
	binary.LittleEndian.PutUint32(out[21:25], 0)

	off := headerSize
	for i, s := range sections {
		binary.LittleEndian.PutUint32(out[off:off+4], nameOffsets[i])
		binary.LittleEndian.PutUint32(out[off+4:off+8], dataOffsets[i])
		binary.LittleEndian.PutUint32(out[off+8:off+12], uint32(len(s.data)))
		off += 12
	}

	copy(out[stringTab:], nameTable.Bytes())
	for i, s := range sections {
		copy(out[dataOffsets[i]:], s.data)
	}
	return out
}

func minimalSections() []fixtureSection {
	return []fixtureSection{
		{".names", []byte{0}},
		{".code", codeSectionBytes(16)},
		{".data", dataSectionBytes(4, 64)},
		{".dbg.lines", rowTableBytes(8, [][]byte{
			concat(u32(0), u32(0)),
			concat(u32(8), u32(1)),
			concat(u32(16), u32(2)),
		})},
	}
}

func concat(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

func TestOpen_MinimalImageRoundTrips(t *testing.T) {
	raw := assembleFixture(minimalSections())

	img, err := Open(raw)
	require.NoError(t, err)

	assert.Equal(t, Version10, img.Version)
	assert.EqualValues(t, 16, img.Code.Length)
	assert.EqualValues(t, 4, img.Data.Length)
	assert.EqualValues(t, 64, img.Data.MemSize)
	require.Len(t, img.DebugLines, 3)
}

func TestOpen_RejectsBadMagic(t *testing.T) {
	raw := assembleFixture(minimalSections())
	binary.LittleEndian.PutUint32(raw[0:4], 0xDEADBEEF)

	_, err := Open(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrBadHeader))
}

func TestOpen_RejectsUnsupportedVersion(t *testing.T) {
	raw := assembleFixture(minimalSections())
	binary.LittleEndian.PutUint16(raw[4:6], 999)

	_, err := Open(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrUnsupportedVersion))
}

func TestOpen_RejectsTruncatedHeader(t *testing.T) {
	_, err := Open(make([]byte, 10))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrBadHeader))
}

func TestOpen_MissingMandatorySection(t *testing.T) {
	sections := []fixtureSection{
		{".names", []byte{0}},
		// .code and .data omitted.
	}
	raw := assembleFixture(sections)

	_, err := Open(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidSection))
}

// TestRowTable_EquationRejectsMismatch exercises the shared
// header_size+row_size*row_count==len(section) invariant every RTTI/debug
// row table relies on.
func TestRowTable_EquationRejectsMismatch(t *testing.T) {
	section := rowTableBytes(8, [][]byte{concat(u32(0), u32(1))})
	section = append(section, 0xFF) // one stray trailing byte

	_, err := parseRowTable(".dbg.lines", section)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidRtti))
}

func TestRowTable_ValidEquationRoundTrips(t *testing.T) {
	rows := [][]byte{concat(u32(0), u32(1)), concat(u32(8), u32(2))}
	section := rowTableBytes(8, rows)

	tbl, err := parseRowTable(".dbg.lines", section)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.count())

	r0, err := tbl.row(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(r0[0:4]))

	_, err = tbl.row(2)
	assert.Error(t, err)
}

// TestLookupLine_MonotonicAndOffByOne checks the floor-lookup semantics and
// the documented Line+1 adjustment (the CIP precedes the line it stopped
// on) against a small sorted table.
func TestLookupLine_MonotonicAndOffByOne(t *testing.T) {
	raw := assembleFixture(minimalSections())
	img, err := Open(raw)
	require.NoError(t, err)

	line, ok := img.LookupLine(0)
	require.True(t, ok)
	assert.EqualValues(t, 1, line)

	line, ok = img.LookupLine(10) // between addr 8 and addr 16, floors to 8
	require.True(t, ok)
	assert.EqualValues(t, 2, line)

	line, ok = img.LookupLine(100) // past every entry, floors to the last
	require.True(t, ok)
	assert.EqualValues(t, 3, line)
}

// compressFixture takes an uncompressed fixture built by assembleFixture and
// re-packs it as a CompressGz container: the header/section-table/string-table
// prefix is kept verbatim, and everything from the first section's data
// offset onward is deflated, mirroring what a real compressed image looks
// like on disk.
func compressFixture(raw []byte) []byte {
	dataOffs := binary.LittleEndian.Uint32(raw[headerSize+4 : headerSize+8])
	prefix := raw[:dataOffs]
	payload := raw[dataOffs:]

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write(payload)
	zw.Close()

	out := make([]byte, len(prefix)+compressed.Len())
	copy(out, prefix)
	copy(out[len(prefix):], compressed.Bytes())
	binary.LittleEndian.PutUint32(out[21:25], dataOffs)

	out[6] = CompressGz
	binary.LittleEndian.PutUint32(out[7:11], uint32(len(out)))  // disksize
	binary.LittleEndian.PutUint32(out[11:15], uint32(len(raw))) // imagesize
	return out
}

func TestOpen_CompressedImageRoundTrips(t *testing.T) {
	raw := assembleFixture(minimalSections())
	compressed := compressFixture(raw)

	img, err := Open(compressed)
	require.NoError(t, err)

	assert.Equal(t, Version10, img.Version)
	assert.EqualValues(t, 16, img.Code.Length)
	assert.EqualValues(t, 4, img.Data.Length)
	assert.EqualValues(t, 64, img.Data.MemSize)
	require.Len(t, img.DebugLines, 3)
}

func TestLookupLine_EmptyTableMisses(t *testing.T) {
	sections := []fixtureSection{
		{".names", []byte{0}},
		{".code", codeSectionBytes(0)},
		{".data", dataSectionBytes(0, 0)},
	}
	raw := assembleFixture(sections)
	img, err := Open(raw)
	require.NoError(t, err)

	_, ok := img.LookupLine(0)
	assert.False(t, ok)
}
