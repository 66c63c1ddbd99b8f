package device

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
)

var (
	ErrInvalidHandle      = errors.New("invalid resource handle")
	ErrInvalidValue       = errors.New("invalid argument")
	ErrOutOfRange         = errors.New("access out of range")
	ErrDestroyed          = errors.New("resource already released")
	ErrBackendUnavailable = errors.New("backend not available in this build")
	ErrUnknownBackend     = errors.New("unknown backend")
	ErrNoDevice           = errors.New("no device detected")
)

// Op names an accelerator API call.
type Op int

const (
	OpStreamCreate Op = iota
	OpStreamDestroy
	OpMalloc
	OpFree
	OpMemcpyH2D
	OpMemcpyD2H
	OpLaunch
	OpSynchronize
)

func (o Op) String() string {
	switch o {
	case OpStreamCreate:
		return "stream create"
	case OpStreamDestroy:
		return "stream destroy"
	case OpMalloc:
		return "malloc"
	case OpFree:
		return "free"
	case OpMemcpyH2D:
		return "memcpy host to device"
	case OpMemcpyD2H:
		return "memcpy device to host"
	case OpLaunch:
		return "kernel launch"
	case OpSynchronize:
		return "synchronize"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Error is an accelerator operation failure. File and Line record where the
// failing call was checked.
type Error struct {
	Op     Op
	Stream int // -1 when the call is not bound to a stream
	Err    error
	File   string
	Line   int
}

func (e *Error) Error() string {
	loc := ""
	if e.File != "" {
		loc = fmt.Sprintf(" in %s at line %d", filepath.Base(e.File), e.Line)
	}
	if e.Stream >= 0 {
		return fmt.Sprintf("%s failed on stream %d: %v%s", e.Op, e.Stream, e.Err, loc)
	}
	return fmt.Sprintf("%s failed: %v%s", e.Op, e.Err, loc)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Check returns nil for a nil err, otherwise an *Error stamped with the
// caller's source location. An *Error reported asynchronously by a stream
// keeps its own operation and gains the location; one that already has a
// location is returned unchanged.
func Check(op Op, stream int, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Op: op, Stream: stream, Err: err}
	if devErr, ok := err.(*Error); ok {
		if devErr.File != "" {
			return err
		}
		cp := *devErr
		e = &cp
	} else if IsAcceleratorError(err) {
		return err
	}
	if _, file, line, ok := runtime.Caller(1); ok {
		e.File = file
		e.Line = line
	}
	return e
}

// IsAcceleratorError reports whether err carries an accelerator failure.
func IsAcceleratorError(err error) bool {
	var devErr *Error
	return errors.As(err, &devErr)
}
