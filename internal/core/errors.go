package core

import "errors"

var (
	// ErrClosed is returned by every operation on a closed bridge.
	ErrClosed = errors.New("already closed")

	// ErrInterrupted is returned when a running script was aborted through
	// JSRuntime.Interrupt.
	ErrInterrupted = errors.New("script interrupted")

	// ErrUnsupported is returned by runtime controls the engine lacks.
	ErrUnsupported = errors.New("not supported by this engine")
)
