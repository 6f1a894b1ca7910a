package voicebox

import (
	"errors"
	"fmt"
)

// Errors returned by Speech methods and engine constructors. All of them
// are returned synchronously from the call that triggered them; none is
// retried inside this package.
var (
	// ErrUnsupported indicates the engine's Features flag for the
	// requested operation is false. Check Features before calling, or
	// accept the error; retrying cannot succeed.
	ErrUnsupported = errors.New("operation not supported by this engine")

	// ErrOutOfRange indicates a numeric setter argument lies outside the
	// engine-reported [min, max] bounds. The value never reaches the
	// native layer.
	ErrOutOfRange = errors.New("value out of range")

	// ErrOperationFailed indicates the native layer rejected an
	// otherwise-valid request. Retrying is the caller's decision; repeated
	// native failures usually indicate a persistent engine-state problem.
	ErrOperationFailed = errors.New("native operation failed")

	// ErrInitTimeout indicates engine construction did not observe the
	// native ready signal within its bound. Fatal to that construction
	// attempt.
	ErrInitTimeout = errors.New("engine initialization timed out")

	// ErrEngineClosed indicates the Speech handle or its engine has been
	// closed.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrEngineUnavailable indicates the engine's native prerequisites are
	// missing on this system, such as a binary not on PATH or absent
	// credentials. Construction-time only.
	ErrEngineUnavailable = errors.New("engine not available on this system")
)

// EngineError carries the engine name and the operation that failed along
// with the underlying error. errors.Is sees through it to the sentinel.
type EngineError struct {
	Engine string
	Op     string
	Err    error
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Engine, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *EngineError) Unwrap() error {
	return e.Err
}
