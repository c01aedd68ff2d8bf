package render

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/vm"
)

// fakeMem is a flat-memory vm.Context backing renderer tests, the same
// shape cmd/fakehost uses for its toy VM but trimmed to what rendering
// needs (no frame tracking).
type fakeMem struct {
	mem []byte
}

func (f *fakeMem) ReadMemory(addr uint32, length int) ([]byte, bool) {
	end := uint64(addr) + uint64(length)
	if length < 0 || end > uint64(len(f.mem)) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, f.mem[addr:end])
	return out, true
}
func (f *fakeMem) WriteMemory(addr uint32, data []byte) bool {
	end := uint64(addr) + uint64(len(data))
	if end > uint64(len(f.mem)) {
		return false
	}
	copy(f.mem[addr:end], data)
	return true
}
func (f *fakeMem) LocalToPhysAddr(localAddr uint32) (uint32, error) { return localAddr, nil }
func (f *fakeMem) Frames() []vm.Frame                               { return nil }
func (f *fakeMem) ImageFile() string                                { return "demo.sp" }

const fixedHeaderSize = 25
const sectionRowSize = 12

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func rowTable(rowSize uint32, rows [][]byte) []byte {
	var buf bytes.Buffer
	buf.Write(u32(12))
	buf.Write(u32(rowSize))
	buf.Write(u32(uint32(len(rows))))
	for _, r := range rows {
		buf.Write(r)
	}
	return buf.Bytes()
}

func codeSection() []byte {
	var buf bytes.Buffer
	buf.Write(u32(0))
	buf.WriteByte(image.CellSize)
	buf.WriteByte(image.CurrentCodeVersion)
	buf.Write([]byte{0, 0})
	buf.Write(u32(0))
	return buf.Bytes()
}

func dataSection(memSize uint32) []byte {
	var buf bytes.Buffer
	buf.Write(u32(0))
	buf.Write(u32(memSize))
	return buf.Bytes()
}

type fixtureSection struct {
	name string
	data []byte
}

// buildImageWithGlobalInt32 assembles a minimal RTTI-encoded image with one
// global int32 variable named "counter" at address 0.
func buildImageWithGlobalInt32(t *testing.T) *image.Image {
	t.Helper()
	var names bytes.Buffer
	names.WriteString("counter")
	names.WriteByte(0)
	counterNameOff := uint32(0)

	inlineInt32 := uint32(image.TagInt32) << 4

	sections := []fixtureSection{
		{".names", names.Bytes()},
		{".code", codeSection()},
		{".data", dataSection(64)},
		{".dbg.globals", rowTable(12, [][]byte{
			concatBytes(u32(0), u32(inlineInt32), u32(counterNameOff)),
		})},
	}

	nameOffsets := make([]uint32, len(sections))
	var nameTable bytes.Buffer
	for i, s := range sections {
		nameOffsets[i] = uint32(nameTable.Len())
		nameTable.WriteString(s.name)
		nameTable.WriteByte(0)
	}
	stringTab := uint32(fixedHeaderSize) + uint32(len(sections))*sectionRowSize
	dataStart := stringTab + uint32(nameTable.Len())
	dataOffsets := make([]uint32, len(sections))
	cursor := dataStart
	for i, s := range sections {
		dataOffsets[i] = cursor
		cursor += uint32(len(s.data))
	}
	total := cursor

	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out[0:4], image.Magic)
	binary.LittleEndian.PutUint16(out[4:6], image.Version10)
	out[6] = image.CompressNone
	binary.LittleEndian.PutUint32(out[7:11], total)
	binary.LittleEndian.PutUint32(out[11:15], total)
	binary.LittleEndian.PutUint16(out[15:17], uint16(len(sections)))
	binary.LittleEndian.PutUint32(out[17:21], stringTab)
	binary.LittleEndian.PutUint32(out[21:25], 0)

	off := fixedHeaderSize
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

	img, err := image.Open(out)
	require.NoError(t, err)
	return img
}

func concatBytes(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}

func TestRender_ScalarInt32Global(t *testing.T) {
	img := buildImageWithGlobalInt32(t)
	syms, err := img.SymbolIterator(image.ScopeGlobal)
	require.NoError(t, err)
	require.Len(t, syms, 1)

	mem := &fakeMem{mem: make([]byte, 64)}
	binary.LittleEndian.PutUint32(mem.mem[0:4], 42)

	r := New()
	val := r.Render(Request{Sym: syms[0], Img: img, Ctx: mem, Cip: 0})

	assert.Equal(t, "counter", val.Name)
	assert.Equal(t, "int", val.Type)
	assert.Equal(t, "42", val.Value)
}

func TestRender_GlobalNeverOutOfScope(t *testing.T) {
	img := buildImageWithGlobalInt32(t)
	syms, err := img.SymbolIterator(image.ScopeGlobal)
	require.NoError(t, err)

	mem := &fakeMem{mem: make([]byte, 64)}
	r := New()
	// A huge cip would be out of scope for a local, but globals use
	// [0, ^0) so this must still render.
	val := r.Render(Request{Sym: syms[0], Img: img, Ctx: mem, Cip: 0xFFFFFFF0})
	assert.NotEqual(t, "Not in scope.", val.Value)
}
