package builtin

import "errors"

var (
	errAborted            = errors.New("builtin: abort() called")
	errNoLandingPad       = errors.New("builtin: longjmp found no frame with an unwind target")
	errFFIUnsupported     = errors.New("builtin: FFI call not present in lib_filter")
	errShortIntrinsicArgs = errors.New("builtin: intrinsic call missing argument bytes")
	errNoGUIDelegate      = errors.New("builtin: node has no GUI delegate configured")
)
