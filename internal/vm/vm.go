// Package vm defines the boundary between SESSION/IMAGE and the embedding
// host: the narrow set of operations a real script VM must provide so the
// debugger can read memory, translate local addresses, and walk call frames.
// No real VM implements Context in this repository; cmd/fakehost provides a
// toy implementation for exercising the rest of the stack.
package vm

// Context is the per-break view of a running script VM: enough to resolve
// addresses and read variable bytes without the debugger touching the VM's
// internals directly.
type Context interface {
	// ReadMemory copies length bytes starting at addr into a fresh slice.
	// ok is false if any byte of [addr, addr+length) lies outside the
	// accessible data segment; callers must not treat a false ok as an error
	// worth logging, only as "render this field as unavailable".
	ReadMemory(addr uint32, length int) (data []byte, ok bool)

	// WriteMemory stores data at addr, for SetVariable. ok is false under
	// the same out-of-segment condition as ReadMemory.
	WriteMemory(addr uint32, data []byte) (ok bool)

	// LocalToPhysAddr translates a local (frame-relative) address into a
	// physical one for ref/refarray indirection. The single convention used
	// throughout this repository: zero return means success.
	LocalToPhysAddr(localAddr uint32) (physAddr uint32, err error)

	// Frames returns the call stack, innermost frame first.
	Frames() []Frame

	// ImageFile is the basename of the script file executing at the
	// current break, as the VM itself resolves it (before any
	// debugger-side LookupFile is consulted).
	ImageFile() string
}

// Frame is one entry of a call-stack walk: enough for the host-hook adapter
// to pick the first scripted frame and for the frame/stepping engine (C6) to
// compare frame pointers.
type Frame struct {
	FunctionName string
	File         string
	Line         uint32
	// FRM is the frame pointer: base address for local variable addressing.
	FRM uint32
	// Scripted is false for native/host frames that should be skipped when
	// resolving the current script file (spec.md 4.6 step 2).
	Scripted bool
}

// FirstScriptedFile returns the first scripted frame's File exactly as the
// frame records it (no directory stripping or case folding), or "" if every
// frame is native.
func FirstScriptedFile(frames []Frame) string {
	for _, f := range frames {
		if f.Scripted {
			return f.File
		}
	}
	return ""
}
