// Package errs collects the sentinel errors shared across the debugger.
package errs

import "errors"

// Image errors (C1-C4). A failing image is simply unusable; the process
// that surfaces these must not abort.
var (
	ErrBadHeader          = errors.New("image: bad header")
	ErrUnsupportedVersion = errors.New("image: unsupported version")
	ErrBadCompression     = errors.New("image: bad compression")
	ErrInvalidSection     = errors.New("image: invalid section")
	ErrInvalidRtti        = errors.New("image: invalid rtti table")
	ErrOutOfMemory        = errors.New("image: out of memory")
	ErrNoSuchTable        = errors.New("image: no such table")
	ErrTypeIDOutOfBounds  = errors.New("image: type-id decode out of bounds")
)

// Session errors (C6-C8).
var (
	ErrMalformedFrame      = errors.New("session: malformed frame")
	ErrProtocolViolation   = errors.New("session: protocol violation")
	ErrSessionDead         = errors.New("session: session is dead")
	ErrNotSuspended        = errors.New("session: vm thread is not suspended")
	ErrUnknownScope        = errors.New("session: unknown variable scope")
	ErrListenFailed        = errors.New("session: listener bind failed")
)
