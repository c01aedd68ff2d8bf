package dapbridge

import (
	"bufio"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/session"
)

func silentLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestBridge(t *testing.T) (*Bridge, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close() })

	sess := session.New(nil, silentLog())
	cache := image.NewCache()
	load := func(string) ([]byte, error) { return nil, nil }
	b := New(server, sess, cache, load, silentLog())
	go b.Serve()
	return b, client
}

func writeRequest(t *testing.T, conn net.Conn, msg dap.Message) {
	t.Helper()
	w := bufio.NewWriter(conn)
	require.NoError(t, dap.WriteProtocolMessage(w, msg))
	require.NoError(t, w.Flush())
}

func readResponse(t *testing.T, conn net.Conn) dap.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msg, err := dap.ReadProtocolMessage(bufio.NewReader(conn))
	require.NoError(t, err)
	return msg
}

func TestBridge_InitializeSendsInitializedEventThenResponse(t *testing.T) {
	_, client := newTestBridge(t)
	writeRequest(t, client, &dap.InitializeRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"}, Command: "initialize"},
	})

	first := readResponse(t, client)
	_, isEvent := first.(*dap.InitializedEvent)
	require.True(t, isEvent, "expected InitializedEvent first, got %T", first)

	second := readResponse(t, client)
	_, isResp := second.(*dap.InitializeResponse)
	require.True(t, isResp, "expected InitializeResponse second, got %T", second)
}

func TestBridge_SetBreakpointsRespondsVerified(t *testing.T) {
	_, client := newTestBridge(t)
	req := &dap.SetBreakpointsRequest{
		Request: dap.Request{ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"}, Command: "setBreakpoints"},
	}
	req.Arguments.Source.Path = "main.sp"
	req.Arguments.Breakpoints = []dap.SourceBreakpoint{{Line: 10}}
	writeRequest(t, client, req)

	resp := readResponse(t, client)
	sbResp, ok := resp.(*dap.SetBreakpointsResponse)
	require.True(t, ok, "expected SetBreakpointsResponse, got %T", resp)
	require.Len(t, sbResp.Body.Breakpoints, 1)
	require.True(t, sbResp.Body.Breakpoints[0].Verified)
}
