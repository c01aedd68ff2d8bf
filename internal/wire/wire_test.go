package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/scriptdbg/errs"
)

func TestWriteReadFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf)
	enc := NewEncoder().Uint32(7).String("main.sp").Byte(0xAB)
	require.NoError(t, wr.WriteFrame(TagSetBreakpoint, enc.Bytes()))

	rd := NewReader(&buf)
	frame, err := rd.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, TagSetBreakpoint, frame.Tag)

	dec := NewDecoder(frame.Payload)
	line, err := dec.Uint32()
	require.NoError(t, err)
	assert.EqualValues(t, 7, line)

	file, err := dec.String()
	require.NoError(t, err)
	assert.Equal(t, "main.sp", file)

	b, err := dec.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b)
	assert.Equal(t, 0, dec.Remaining())
}

func TestReadFrame_CleanDisconnectReturnsEOF(t *testing.T) {
	rd := NewReader(bytes.NewReader(nil))
	_, err := rd.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrame_ZeroLengthIsMalformed(t *testing.T) {
	var lenBuf [4]byte
	rd := NewReader(bytes.NewReader(lenBuf[:]))
	_, err := rd.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrMalformedFrame))
}

func TestReadFrame_TruncatedBodyIsMalformed(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf)
	require.NoError(t, wr.WriteFrame(TagContinue, []byte{1, 2, 3}))

	truncated := buf.Bytes()[:len(buf.Bytes())-1]
	rd := NewReader(bytes.NewReader(truncated))
	_, err := rd.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrMalformedFrame))
}

func TestDecoder_StringOutOfBoundsErrors(t *testing.T) {
	enc := NewEncoder().Int32(100)
	dec := NewDecoder(enc.Bytes())
	_, err := dec.String()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrMalformedFrame))
}

func TestMultipleFramesOnOneStreamDecodeInOrder(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf)
	require.NoError(t, wr.WriteFrame(TagPause, nil))
	require.NoError(t, wr.WriteFrame(TagContinue, nil))

	rd := NewReader(&buf)
	f1, err := rd.ReadFrame()
	require.NoError(t, err)
	f2, err := rd.ReadFrame()
	require.NoError(t, err)

	assert.Equal(t, TagPause, f1.Tag)
	assert.Equal(t, TagContinue, f2.Tag)
}
