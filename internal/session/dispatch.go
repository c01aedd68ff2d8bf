package session

import (
	"fmt"
	"strconv"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/render"
	"github.com/fansqz/scriptdbg/internal/wire"
)

// Loader resolves a filename to raw image bytes, supplied by the embedding
// host (out of scope per spec.md 1); scriptdbgd wires this to its own
// file-loading convention.
type Loader func(filename string) ([]byte, error)

// Dispatch decodes and handles one client-issued frame. It is safe to call
// from the session's dedicated receive goroutine; it never blocks except
// inside the condvar rendezvous triggered indirectly by a VM thread, never
// by Dispatch itself.
func (s *Session) Dispatch(frame wire.Frame, cache *image.Cache, load Loader) {
	dec := wire.NewDecoder(frame.Payload)
	switch frame.Tag {
	case wire.TagRequestFile:
		s.handleRequestFile(dec, cache, load)
	case wire.TagPause:
		s.Pause()
	case wire.TagContinue:
		s.Continue()
	case wire.TagStepIn:
		s.StepIn()
	case wire.TagStepOver:
		s.StepOver()
	case wire.TagStepOut:
		s.StepOut()
	case wire.TagRequestCallStack:
		s.handleRequestCallStack()
	case wire.TagClearBreakpoints:
		s.handleClearBreakpoints(dec)
	case wire.TagSetBreakpoint:
		s.handleSetBreakpoint(dec)
	case wire.TagRequestVariables:
		s.handleRequestVariables(dec)
	case wire.TagRequestSetVariable:
		s.handleRequestSetVariable(dec)
	case wire.TagRequestEvaluate:
		s.handleRequestEvaluate(dec)
	case wire.TagDisconnect, wire.TagStopDebugging:
		s.StopDebugging()
	default:
		// UnknownTag: ignore, per spec.md 7.
	}
}

func (s *Session) handleRequestFile(dec *wire.Decoder, cache *image.Cache, load Loader) {
	filename, err := dec.String()
	if err != nil {
		return
	}
	s.RequestFile(filename)
	if cache != nil && load != nil {
		if _, err := cache.GetOrOpen(filename, func() ([]byte, error) { return load(filename) }); err != nil {
			if s.log != nil {
				s.log.WithError(err).WithField("file", filename).Warn("image load failed")
			}
			return
		}
	}
	s.send(wire.TagStartDebugging, nil)
}

func (s *Session) handleRequestCallStack() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	enc := wire.NewEncoder()
	if ctx == nil {
		enc.Int32(0)
		s.send(wire.TagCallStack, enc.Bytes())
		return
	}
	frames := ctx.Frames()
	enc.Int32(int32(len(frames)))
	for _, f := range frames {
		enc.String(f.FunctionName).String(f.File).Int32(int32(f.Line))
	}
	s.send(wire.TagCallStack, enc.Bytes())
}

func (s *Session) handleClearBreakpoints(dec *wire.Decoder) {
	file, err := dec.String()
	if err != nil {
		return
	}
	s.ClearBreakpoints(file)
}

func (s *Session) handleSetBreakpoint(dec *wire.Decoder) {
	file, err := dec.String()
	if err != nil {
		return
	}
	line, err := dec.Int32()
	if err != nil {
		return
	}
	if _, err := dec.Int32(); err != nil { // breakpoint id, unused locally
		return
	}
	s.SetBreakpoint(file, uint32(line))
}

func (s *Session) handleRequestVariables(dec *wire.Decoder) {
	scope, err := dec.String()
	if err != nil {
		return
	}

	s.mu.Lock()
	img, ctx, cip, frm := s.currentImage, s.ctx, s.cip, s.frm
	s.mu.Unlock()

	enc := wire.NewEncoder().String(scope)
	if img == nil || ctx == nil {
		enc.Int32(0)
		s.send(wire.TagVariables, enc.Bytes())
		return
	}

	var symbols []image.Symbol
	switch scope {
	case wire.ScopeLocal:
		symbols, _ = img.SymbolIterator(image.ScopeLocal)
	case wire.ScopeGlobal:
		symbols, _ = img.SymbolIterator(image.ScopeGlobal)
	default:
		sym, err := img.GetVariable(scope, cip)
		if err == nil {
			symbols = []image.Symbol{sym}
		}
	}

	enc.Int32(int32(len(symbols)))
	for _, sym := range symbols {
		v := s.renderer.Render(render.Request{Sym: sym, Img: img, Ctx: ctx, Frm: frm, Cip: cip})
		enc.String(v.Name).String(v.Value).String(v.Type).Int32(0)
	}
	s.send(wire.TagVariables, enc.Bytes())
}

func (s *Session) handleRequestSetVariable(dec *wire.Decoder) {
	name, err := dec.String()
	if err != nil {
		return
	}
	value, err := dec.String()
	if err != nil {
		return
	}
	if _, err := dec.Int32(); err != nil { // index, single-variable only for now
		return
	}

	s.mu.Lock()
	img, ctx, cip, frm := s.currentImage, s.ctx, s.cip, s.frm
	s.mu.Unlock()

	success := int32(0)
	if img != nil && ctx != nil {
		if sym, err := img.GetVariable(name, cip); err == nil {
			if n, err := strconv.ParseInt(value, 10, 32); err == nil {
				addr := frm + uint32(sym.Addr())
				if image.InGlobalScope(sym) {
					addr = uint32(sym.Addr())
				}
				var b [4]byte
				b[0] = byte(n)
				b[1] = byte(n >> 8)
				b[2] = byte(n >> 16)
				b[3] = byte(n >> 24)
				if ctx.WriteMemory(addr, b[:]) {
					success = 1
				}
			}
		}
	}
	s.send(wire.TagSetVariable, wire.NewEncoder().Int32(success).Bytes())
}

func (s *Session) handleRequestEvaluate(dec *wire.Decoder) {
	name, err := dec.String()
	if err != nil {
		return
	}
	if _, err := dec.Int32(); err != nil { // frameId, single-frame only for now
		return
	}

	s.mu.Lock()
	img, ctx, cip, frm := s.currentImage, s.ctx, s.cip, s.frm
	s.mu.Unlock()

	enc := wire.NewEncoder()
	if img == nil || ctx == nil {
		enc.String(name).String("").String("").Int32(0)
		s.send(wire.TagEvaluate, enc.Bytes())
		return
	}
	sym, err := img.GetVariable(name, cip)
	if err != nil {
		enc.String(name).String("").String("").Int32(0)
		s.send(wire.TagEvaluate, enc.Bytes())
		return
	}
	v := s.renderer.Render(render.Request{Sym: sym, Img: img, Ctx: ctx, Frm: frm, Cip: cip})
	enc.String(v.Name).String(v.Value).String(v.Type).Int32(0)
	s.send(wire.TagEvaluate, enc.Bytes())
}

func (s *Session) send(tag wire.Tag, payload []byte) {
	if s.wr == nil {
		return
	}
	if err := s.wr.WriteFrame(tag, payload); err != nil && s.log != nil {
		s.log.WithError(err).WithField("tag", fmt.Sprintf("%d", tag)).Warn("failed to send frame")
	}
}
