// Package bridge runs one loaded model inside a sandboxed chat module and
// turns its pull-based token protocol into per-request reply streams.
//
// The module drives the conversation: it calls get_input when it wants the
// next request (blocking until one is queued) and push_token for every
// generated token. The bridge answers those calls on a single goroutine
// locked to its OS thread.
package bridge

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

var (
	// ErrInputClosed is returned by Host.GetInput once the handle is stopped.
	// Runtimes translate it into a clean module exit.
	ErrInputClosed = errors.New("chat request channel closed")

	// ErrExitedBeforeReady is the LoadModel failure for a module that exits
	// before its first input pull.
	ErrExitedBeforeReady = errors.New("chat module exited before it was ready")

	// ErrExited is returned for requests sent to a bridge whose module has exited.
	ErrExited = errors.New("chat module has exited")

	// ErrQueueFull is returned by Chat when the request queue is at capacity.
	ErrQueueFull = errors.New("chat request queue full")

	// ErrStopped replies to requests still queued when the handle is stopped.
	ErrStopped = errors.New("model ejected")
)

var zlog = zerolog.Nop()

// SetLogger installs a structured logger for the bridge.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "bridge").Logger() }

// Host is what a running chat module calls back into. Calls arrive
// synchronously on the goroutine that invoked Runtime.Run.
type Host interface {
	// GetInput fills buf with the next bytes of the current request,
	// blocking until a request is available. Zero means the request is
	// fully read.
	GetInput(buf []byte) (int, error)
	// PushToken hands over one generated token. A negative result tells
	// the module to stop generating.
	PushToken(tok []byte) int32
	// EndOfSequence finishes the current request normally.
	EndOfSequence() int32
	// ReturnTokenError finishes the current request with a generation error code.
	ReturnTokenError(code int32)
}

// RunSpec describes one module execution.
type RunSpec struct {
	Args []string
	// ModelDir is mounted read-only at /models.
	ModelDir string
	Stdout   io.Writer
	Stderr   io.Writer
}

// Runtime executes a chat module until it exits. A clean exit, including one
// caused by ErrInputClosed, returns nil.
type Runtime interface {
	Run(ctx context.Context, spec RunSpec, h Host) error
}
