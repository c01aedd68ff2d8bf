package image

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/scriptdbg/errs"
)

func TestTypeID_InlineInt32Decodes(t *testing.T) {
	id := TypeID(uint32(TagInt32) << 4)
	assert.True(t, id.IsInline())

	typ, err := Decode(id, nil)
	require.NoError(t, err)
	assert.Equal(t, TagInt32, typ.Tag)
	assert.Equal(t, DisplayInteger, typ.Display())
}

func TestTypeID_ComplexIndexesRttiData(t *testing.T) {
	data := []byte{TagInt32, TagFloat32} // payload 1 selects the second byte
	id := TypeID((1 << 4) | typeIDKindComplex)

	typ, err := Decode(id, data)
	require.NoError(t, err)
	assert.Equal(t, TagFloat32, typ.Tag)
	assert.Equal(t, DisplayFloat, typ.Display())
}

func TestTypeID_ComplexOutOfBoundsErrors(t *testing.T) {
	id := TypeID((5 << 4) | typeIDKindComplex)

	_, err := Decode(id, []byte{TagInt32})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTypeIDOutOfBounds))
}

func TestTypeID_ConstIsTransparentPrefix(t *testing.T) {
	data := []byte{TagConst, TagBool}
	id := TypeID((0 << 4) | typeIDKindComplex)

	typ, err := Decode(id, data)
	require.NoError(t, err)
	assert.Equal(t, TagBool, typ.Tag)
}

func TestTypeID_FixedArrayOfChar8DisplaysAsString(t *testing.T) {
	var buf []byte
	buf = append(buf, TagFixedArray)
	var varint [binary.MaxVarintLen32]byte
	vn := binary.PutUvarint(varint[:], 16)
	buf = append(buf, varint[:vn]...)
	buf = append(buf, TagChar8)

	id := TypeID((0 << 4) | typeIDKindComplex)
	typ, err := Decode(id, buf)
	require.NoError(t, err)

	assert.Equal(t, DisplayString, typ.Display())
	rank, counts := typ.ArrayRank()
	assert.Equal(t, 1, rank)
	assert.EqualValues(t, []uint32{16}, counts)
}

func TestTypeID_RecursionDepthBounded(t *testing.T) {
	var buf []byte
	var varint [binary.MaxVarintLen32]byte
	vn := binary.PutUvarint(varint[:], 1)
	for i := 0; i < maxTypeDepth+2; i++ {
		buf = append(buf, TagFixedArray)
		buf = append(buf, varint[:vn]...)
	}
	buf = append(buf, TagInt32)

	id := TypeID((0 << 4) | typeIDKindComplex)
	_, err := Decode(id, buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrTypeIDOutOfBounds))
}
