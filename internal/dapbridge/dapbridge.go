// Package dapbridge is the optional second front-end (C11): it speaks
// google/go-dap framed JSON on its own listener and maps a subset of DAP
// requests onto the exact same session command surface the native binary
// listener uses, so a standard IDE can attach alongside native clients.
package dapbridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/render"
	"github.com/fansqz/scriptdbg/internal/session"
	"github.com/fansqz/scriptdbg/utils/gosync"
)

// Bridge owns one DAP-speaking connection and the session it drives.
type Bridge struct {
	conn net.Conn
	rw   *bufio.ReadWriter

	sess  *session.Session
	cache *image.Cache
	load  session.Loader
	log   *logrus.Entry

	sendMu sync.Mutex

	// refs is the variables-reference indirection table DAP requires: each
	// renderer child with its own children is assigned a handle here on
	// demand. The native wire protocol never needs this because it renders
	// a variable's full value inline instead of lazily by reference.
	refsMu sync.Mutex
	refs   map[int]render.Value
	nextID int
}

// New wraps conn in a DAP bridge session, reusing sess as the shared
// session core (the same object a native-wire listener would drive).
func New(conn net.Conn, sess *session.Session, cache *image.Cache, load session.Loader, log *logrus.Entry) *Bridge {
	return &Bridge{
		conn:  conn,
		rw:    bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		sess:  sess,
		cache: cache,
		load:  load,
		log:   log,
		refs:  make(map[int]render.Value),
	}
}

// Serve reads and dispatches requests until the connection closes.
func (b *Bridge) Serve() {
	defer b.conn.Close()
	for {
		msg, err := dap.ReadProtocolMessage(b.rw.Reader)
		if err != nil {
			if err != io.EOF && b.log != nil {
				b.log.WithError(err).Debug("dap read error")
			}
			return
		}
		req := msg
		gosync.Go(context.Background(), func(_ context.Context) { b.dispatch(req) })
	}
}

func (b *Bridge) dispatch(request dap.Message) {
	switch r := request.(type) {
	case *dap.InitializeRequest:
		b.onInitialize(r)
	case *dap.SetBreakpointsRequest:
		b.onSetBreakpoints(r)
	case *dap.ConfigurationDoneRequest:
		b.onConfigurationDone(r)
	case *dap.ContinueRequest:
		b.onContinue(r)
	case *dap.NextRequest:
		b.onNext(r)
	case *dap.StepInRequest:
		b.onStepIn(r)
	case *dap.StepOutRequest:
		b.onStepOut(r)
	case *dap.StackTraceRequest:
		b.onStackTrace(r)
	case *dap.ScopesRequest:
		b.onScopes(r)
	case *dap.VariablesRequest:
		b.onVariables(r)
	case *dap.TerminateRequest:
		b.sess.StopDebugging()
		resp := &dap.TerminateResponse{Response: *newResponse(r.Seq, r.Command)}
		b.send(resp)
	default:
		if req, ok := request.(dap.RequestMessage); ok {
			base := req.GetRequest()
			b.send(newErrorResponse(base.Seq, base.Command, fmt.Sprintf("%s is not supported", base.Command)))
		}
	}
}

func (b *Bridge) send(message dap.Message) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	dap.WriteProtocolMessage(b.rw.Writer, message)
	b.rw.Flush()
}

func (b *Bridge) onInitialize(r *dap.InitializeRequest) {
	resp := &dap.InitializeResponse{Response: *newResponse(r.Seq, r.Command)}
	resp.Body.SupportsConfigurationDoneRequest = true
	b.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	b.send(resp)
}

func (b *Bridge) onSetBreakpoints(r *dap.SetBreakpointsRequest) {
	file := r.Arguments.Source.Path
	b.sess.ClearBreakpoints(file)
	for _, bp := range r.Arguments.Breakpoints {
		b.sess.SetBreakpoint(file, uint32(bp.Line))
	}
	resp := &dap.SetBreakpointsResponse{Response: *newResponse(r.Seq, r.Command)}
	resp.Body.Breakpoints = make([]dap.Breakpoint, len(r.Arguments.Breakpoints))
	for i, bp := range r.Arguments.Breakpoints {
		resp.Body.Breakpoints[i] = dap.Breakpoint{Line: bp.Line, Verified: true}
	}
	b.send(resp)
}

func (b *Bridge) onConfigurationDone(r *dap.ConfigurationDoneRequest) {
	b.sess.Continue()
	b.send(&dap.ConfigurationDoneResponse{Response: *newResponse(r.Seq, r.Command)})
}

func (b *Bridge) onContinue(r *dap.ContinueRequest) {
	b.sess.Continue()
	b.send(&dap.ContinueResponse{Response: *newResponse(r.Seq, r.Command)})
}

func (b *Bridge) onNext(r *dap.NextRequest) {
	b.sess.StepOver()
	b.send(&dap.NextResponse{Response: *newResponse(r.Seq, r.Command)})
}

func (b *Bridge) onStepIn(r *dap.StepInRequest) {
	b.sess.StepIn()
	b.send(&dap.StepInResponse{Response: *newResponse(r.Seq, r.Command)})
}

func (b *Bridge) onStepOut(r *dap.StepOutRequest) {
	b.sess.StepOut()
	b.send(&dap.StepOutResponse{Response: *newResponse(r.Seq, r.Command)})
}

func (b *Bridge) onStackTrace(r *dap.StackTraceRequest) {
	frames := b.sess.Frames()
	resp := &dap.StackTraceResponse{Response: *newResponse(r.Seq, r.Command)}
	out := make([]dap.StackFrame, len(frames))
	for i, f := range frames {
		out[i] = dap.StackFrame{Id: i, Name: f.FunctionName, Line: int(f.Line), Source: &dap.Source{Path: f.File}}
	}
	resp.Body = dap.StackTraceResponseBody{StackFrames: out, TotalFrames: len(out)}
	b.send(resp)
}

func (b *Bridge) onScopes(r *dap.ScopesRequest) {
	resp := &dap.ScopesResponse{Response: *newResponse(r.Seq, r.Command)}
	resp.Body = dap.ScopesResponseBody{Scopes: []dap.Scope{
		{Name: "Locals", VariablesReference: b.allocRef(render.Value{Name: "locals"}), Expensive: false},
		{Name: "Globals", VariablesReference: b.allocRef(render.Value{Name: "globals"}), Expensive: false},
	}}
	b.send(resp)
}

func (b *Bridge) onVariables(r *dap.VariablesRequest) {
	ref := r.Arguments.VariablesReference
	values := b.variablesForRef(ref)
	resp := &dap.VariablesResponse{Response: *newResponse(r.Seq, r.Command)}
	out := make([]dap.Variable, len(values))
	for i, v := range values {
		varRef := 0
		if len(v.Children) > 0 {
			varRef = b.allocRef(v)
		}
		out[i] = dap.Variable{Name: v.Name, Value: v.Value, Type: v.Type, VariablesReference: varRef}
	}
	resp.Body = dap.VariablesResponseBody{Variables: out}
	b.send(resp)
}

func (b *Bridge) variablesForRef(ref int) []render.Value {
	b.refsMu.Lock()
	v, ok := b.refs[ref]
	b.refsMu.Unlock()
	if ok && len(v.Children) > 0 {
		return v.Children
	}
	switch v.Name {
	case "locals":
		return b.sess.RenderScope(image.ScopeLocal)
	case "globals":
		return b.sess.RenderScope(image.ScopeGlobal)
	}
	return nil
}

func (b *Bridge) allocRef(v render.Value) int {
	b.refsMu.Lock()
	defer b.refsMu.Unlock()
	b.nextID++
	b.refs[b.nextID] = v
	return b.nextID
}

func newEvent(event string) *dap.Event {
	return &dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: 0, Type: "event"}, Event: event}
}

func newResponse(requestSeq int, command string) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: 0, Type: "response"},
		Command:         command,
		RequestSeq:      requestSeq,
		Success:         true,
	}
}

func newErrorResponse(requestSeq int, command string, message string) *dap.ErrorResponse {
	er := &dap.ErrorResponse{}
	er.Response = *newResponse(requestSeq, command)
	er.Success = false
	er.Body.Error = &dap.ErrorMessage{Format: message, Id: 12345}
	return er
}
