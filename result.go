package nanojpeg

import (
	"errors"
	"fmt"
)

// Result is a numeric decode status, as used by command line tools and callers that
// need a stable integer code.
type Result int

// Result codes.
const (
	ResultOK Result = iota
	ResultNoJPEG
	ResultUnsupported
	ResultOutOfMemory
	ResultInternal
	ResultSyntax
	// ResultFinished marks a stream that was fully consumed. It is treated as success.
	ResultFinished
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultNoJPEG:
		return "not a JPEG"
	case ResultUnsupported:
		return "unsupported"
	case ResultOutOfMemory:
		return "out of memory"
	case ResultInternal:
		return "internal error"
	case ResultSyntax:
		return "syntax error"
	case ResultFinished:
		return "finished"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Err returns the error for r, or nil for ResultOK and ResultFinished.
// Unknown codes map to ErrInternal.
func (r Result) Err() error {
	switch r {
	case ResultOK, ResultFinished:
		return nil
	case ResultNoJPEG:
		return ErrNoJPEG
	case ResultUnsupported:
		return ErrUnsupported
	case ResultOutOfMemory:
		return ErrOutOfMemory
	case ResultSyntax:
		return ErrSyntax
	default:
		return ErrInternal
	}
}

// ResultOf returns the result code for an error returned by this package.
// Errors that do not wrap one of the decoding sentinels map to ResultInternal.
func ResultOf(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrNoJPEG):
		return ResultNoJPEG
	case errors.Is(err, ErrUnsupported):
		return ResultUnsupported
	case errors.Is(err, ErrOutOfMemory):
		return ResultOutOfMemory
	case errors.Is(err, ErrSyntax):
		return ResultSyntax
	default:
		return ResultInternal
	}
}
