// Package hook implements the host-hook adapter (C10): it routes VM break
// and error callbacks, identified only by an opaque per-VM context id, to
// the right client session by sticky context match or, failing that,
// best-effort file-membership matching.
package hook

import (
	"strings"
	"sync"

	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/session"
	"github.com/fansqz/scriptdbg/internal/vm"
)

// Adapter keeps the sticky context→session attachment map described in
// spec.md 4.10.
type Adapter struct {
	mu       sync.Mutex
	attached map[string]*session.Session

	registry *session.Registry
}

func New(registry *session.Registry) *Adapter {
	return &Adapter{attached: make(map[string]*session.Session), registry: registry}
}

// OnBreak resolves the session for contextID and runs the break-hook
// algorithm on it, returning Dead if no session matches.
func (a *Adapter) OnBreak(contextID string, ctx vm.Context, img *image.Image, cip uint32) session.State {
	s := a.resolve(contextID, ctx)
	if s == nil {
		return session.Dead
	}
	return s.HandleBreak(ctx, img, cip)
}

// OnError is the error-hook analogue of OnBreak.
func (a *Adapter) OnError(contextID string, ctx vm.Context, message string) session.State {
	s := a.resolve(contextID, ctx)
	if s == nil {
		return session.Dead
	}
	return s.HandleError(ctx, ctx.Frames(), message)
}

// Detach drops the sticky attachment for contextID, e.g. when a VM context
// is torn down and its identity may be reused.
func (a *Adapter) Detach(contextID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.attached, contextID)
}

func (a *Adapter) resolve(contextID string, ctx vm.Context) *session.Session {
	a.mu.Lock()
	if s, ok := a.attached[contextID]; ok {
		a.mu.Unlock()
		return s
	}
	a.mu.Unlock()

	file := baseNameLower(vm.FirstScriptedFile(ctx.Frames()))
	var match *session.Session
	a.registry.Each(func(s *session.Session) {
		if match != nil {
			return
		}
		if file != "" && s.KnowsFile(file) {
			match = s
		}
	})
	if match == nil {
		return nil
	}

	a.mu.Lock()
	a.attached[contextID] = match
	a.mu.Unlock()
	return match
}

func baseNameLower(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return strings.ToLower(path)
}
