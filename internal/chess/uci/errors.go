package uci

import "errors"

var (
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrNotReady          = errors.New("engine not ready")
	ErrEngineTimeout     = errors.New("engine timed out")
	ErrEngineTerminated  = errors.New("engine terminated")
	ErrCanceled          = errors.New("engine request canceled")
	ErrNoMove            = errors.New("engine returned no move")
	ErrNoScore           = errors.New("engine reported no score")
)
