package session

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/wire"
)

func newSessionWithWriter() (*Session, *bytes.Buffer) {
	var buf bytes.Buffer
	s := New(wire.NewWriter(&buf), silentLog())
	return s, &buf
}

func TestDispatch_SetBreakpointThenClear(t *testing.T) {
	s, _ := newSessionWithWriter()
	cache := image.NewCache()

	enc := wire.NewEncoder().String("main.sp").Int32(5).Int32(1)
	s.Dispatch(wire.Frame{Tag: wire.TagSetBreakpoint, Payload: enc.Bytes()}, cache, nil)
	assert.True(t, s.breakpoints.Has("main.sp", 5))

	clearEnc := wire.NewEncoder().String("main.sp")
	s.Dispatch(wire.Frame{Tag: wire.TagClearBreakpoints, Payload: clearEnc.Bytes()}, cache, nil)
	assert.False(t, s.breakpoints.Has("main.sp", 5))
}

func TestDispatch_RequestFileLoadFailureSendsNothing(t *testing.T) {
	s, buf := newSessionWithWriter()
	cache := image.NewCache()
	loader := func(filename string) ([]byte, error) { return nil, assert.AnError }

	enc := wire.NewEncoder().String("main.sp")
	s.Dispatch(wire.Frame{Tag: wire.TagRequestFile, Payload: enc.Bytes()}, cache, loader)

	assert.True(t, s.KnowsFile("main.sp"))
	// A failed image load must not send StartDebugging.
	assert.Equal(t, 0, buf.Len())
}

func TestDispatch_RequestFileUnparsableImageSendsNothing(t *testing.T) {
	s, buf := newSessionWithWriter()
	cache := image.NewCache()
	raw := []byte("not-really-an-image-but-the-loader-succeeds")
	loader := func(filename string) ([]byte, error) { return raw, nil }

	// image.Cache.GetOrOpen will fail to parse this payload as a real
	// image, so the handler still should not emit StartDebugging.
	enc := wire.NewEncoder().String("main.sp")
	s.Dispatch(wire.Frame{Tag: wire.TagRequestFile, Payload: enc.Bytes()}, cache, loader)
	assert.True(t, s.KnowsFile("main.sp"))

	rd := wire.NewReader(buf)
	_, err := rd.ReadFrame()
	assert.Error(t, err) // nothing was written: the bad image failed to open
}

func TestDispatch_StopDebuggingOnDisconnect(t *testing.T) {
	s, _ := newSessionWithWriter()
	cache := image.NewCache()

	s.Dispatch(wire.Frame{Tag: wire.TagDisconnect}, cache, nil)
	assert.Equal(t, Dead, s.State())
}

func TestDispatch_UnknownTagIsIgnored(t *testing.T) {
	s, _ := newSessionWithWriter()
	cache := image.NewCache()

	require.NotPanics(t, func() {
		s.Dispatch(wire.Frame{Tag: wire.Tag(99)}, cache, nil)
	})
	assert.Equal(t, Run, s.State())
}
