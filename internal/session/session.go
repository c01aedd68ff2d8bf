package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/render"
	"github.com/fansqz/scriptdbg/internal/vm"
	"github.com/fansqz/scriptdbg/internal/wire"
)

// Session is one client's debug state: the mutex+condvar rendezvous pair
// that blocks a VM thread until the client issues a resume command, plus
// the bookkeeping the break-hook algorithm (spec.md 4.6) needs.
type Session struct {
	ID string

	mu   sync.Mutex
	cond *sync.Cond

	state   State
	cip     uint32
	frm     uint32
	lastFrm uint32

	currentImage *image.Image
	currentLine  uint32
	currentFile  string
	ctx          vm.Context

	resumeRequested bool

	errorFrames  []vm.Frame
	stopReason   string
	stopMessage  string

	files       *knownFiles
	breakpoints *breakpointSet
	renderer    *render.Renderer

	wr  *wire.Writer
	log *logrus.Entry
}

func New(wr *wire.Writer, log *logrus.Entry) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		state:       Run,
		files:       newKnownFiles(),
		breakpoints: newBreakpointSet(),
		renderer:    render.New(),
		wr:          wr,
		log:         log,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// State returns the session's current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RequestFile records a file the client has loaded/referenced, so the
// host-hook adapter can match breaks to this session by basename.
func (s *Session) RequestFile(file string) {
	s.files.Add(file)
}

func (s *Session) KnowsFile(file string) bool {
	return s.files.Has(file)
}

// SetBreakpoint / ClearBreakpoints delegate to the breakpoint set; they are
// not state transitions and do not touch the rendezvous.
func (s *Session) SetBreakpoint(file string, line uint32) {
	s.breakpoints.Set(file, line)
}

func (s *Session) ClearBreakpoints(file string) {
	s.breakpoints.Clear(file)
}

// --- client-driven transitions -------------------------------------------
// Each of these mutates state under the session mutex and signals the
// condvar exactly once, per spec.md 4.8.

func (s *Session) transition(to State) {
	s.mu.Lock()
	s.state = to
	s.resumeRequested = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Session) Continue() { s.transition(Run) }
func (s *Session) Pause()    { s.transition(Pause) }
func (s *Session) StepIn()   { s.transition(StepIn) }

func (s *Session) StepOver() {
	s.mu.Lock()
	s.lastFrm = s.frm
	s.state = StepOver
	s.resumeRequested = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Session) StepOut() {
	s.mu.Lock()
	s.lastFrm = s.frm
	s.state = StepOut
	s.resumeRequested = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// StopDebugging / Disconnect tear the session down: state becomes Dead and
// any VM thread parked at rendezvous is released so it is never leaked.
func (s *Session) StopDebugging() {
	s.transition(Dead)
}

// Frames returns the call stack read now from the VM context of the most
// recent break or error, or nil if no break or error has reached this
// session yet. It does not check that the VM thread is still suspended.
func (s *Session) Frames() []vm.Frame {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		return nil
	}
	return ctx.Frames()
}

// RenderScope renders every symbol in scope at the session's current
// frame/cip snapshot; used by the DAP bridge's scopes/variables handlers,
// which need the rendered values rather than the native wire protocol's
// encoded Variables frame.
func (s *Session) RenderScope(scope image.Scope) []render.Value {
	s.mu.Lock()
	img, ctx, cip, frm := s.currentImage, s.ctx, s.cip, s.frm
	s.mu.Unlock()
	if img == nil || ctx == nil {
		return nil
	}
	symbols, err := img.SymbolIterator(scope)
	if err != nil {
		return nil
	}
	out := make([]render.Value, 0, len(symbols))
	for _, sym := range symbols {
		out = append(out, s.renderer.Render(render.Request{Sym: sym, Img: img, Ctx: ctx, Frm: frm, Cip: cip}))
	}
	return out
}

// --- break-hook algorithm (C6, spec.md 4.6) -------------------------------

// HandleBreak runs the break-hook algorithm for one instrumented
// instruction. img is the image the host-hook adapter (C10) has already
// resolved for the firing context; cip is the code instruction pointer at
// the break. It returns the post-algorithm state, which the VM uses as its
// continue/veto hint.
func (s *Session) HandleBreak(ctx vm.Context, img *image.Image, cip uint32) State {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return Dead
	}

	frm := uint32(0)
	if frames := ctx.Frames(); len(frames) > 0 {
		frm = frames[0].FRM
	}
	s.cip = cip
	s.frm = frm
	s.currentImage = img
	s.ctx = ctx

	file := vm.FirstScriptedFile(ctx.Frames())
	s.currentFile = normalizeFile(file)

	line, ok := img.LookupLine(cip)
	if !ok {
		s.mu.Unlock()
		return s.state
	}
	if line == s.currentLine {
		st := s.state
		s.mu.Unlock()
		return st
	}
	s.currentLine = line

	if s.state == StepOut && frm > s.lastFrm {
		s.state = StepIn
	}

	if s.state == Pause || s.state == StepIn {
		s.lastFrm = frm
		s.mu.Unlock()
		s.rendezvous("step", "")
		return s.State()
	}

	if s.breakpoints.Has(s.currentFile, line) {
		s.state = Breakpoint
		s.lastFrm = frm
		s.mu.Unlock()
		s.rendezvous("breakpoint", "")
		return s.State()
	}

	if s.state == StepOver {
		if frm < s.lastFrm {
			// Descending into a nested call: leave lastFrm at the
			// step-start frame so the step only stops back at or above it.
			st := s.state
			s.mu.Unlock()
			return st
		}
		s.lastFrm = frm
		s.mu.Unlock()
		s.rendezvous("step", "")
		return s.State()
	}

	s.lastFrm = frm
	st := s.state
	s.mu.Unlock()
	return st
}

// HandleError runs the error-hook path: enter Exception, rendezvous with
// the error text, then revert to Breakpoint on resume. frames is valid only
// for the duration of this call, per spec.md 4.6.
func (s *Session) HandleError(ctx vm.Context, frames []vm.Frame, message string) State {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return Dead
	}
	s.state = Exception
	s.errorFrames = frames
	s.ctx = ctx
	s.mu.Unlock()

	s.rendezvous("exception", message)

	s.mu.Lock()
	s.errorFrames = nil
	if s.state != Dead {
		s.state = Breakpoint
	}
	st := s.state
	s.mu.Unlock()
	return st
}

// rendezvous sends HasStopped and blocks the calling (VM) goroutine on the
// condvar until the client sets resumeRequested via one of the transition
// methods. Must be called with s.mu unlocked.
func (s *Session) rendezvous(reason, message string) {
	s.mu.Lock()
	s.resumeRequested = false
	s.mu.Unlock()

	s.sendHasStopped(reason, message)

	s.mu.Lock()
	for !s.resumeRequested && s.state != Dead {
		s.cond.Wait()
	}
	s.mu.Unlock()
}

func (s *Session) sendHasStopped(reason, message string) {
	if s.wr == nil {
		return
	}
	enc := wire.NewEncoder().String(reason).String(reason).String(message)
	if err := s.wr.WriteFrame(wire.TagHasStopped, enc.Bytes()); err != nil && s.log != nil {
		s.log.WithError(err).Warn("failed to send HasStopped")
	}
}
