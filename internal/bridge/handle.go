package bridge

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"chatd/pkg/types"
)

const (
	defaultQueueDepth = 16
	// stopGrace bounds how long Stop waits for the module to notice the
	// closed request channel before interrupting it.
	stopGrace = 10 * time.Second
)

// Options configures Start.
type Options struct {
	File types.DownloadedFile
	Load types.LoadModelOptions
	// Reply receives exactly one item: the LoadModelResponse once the module
	// pulls its first input, or the load failure. It is then closed.
	Reply chan<- types.Result[types.LoadModelResponse]
	// QueueDepth caps requests waiting behind the current one.
	QueueDepth int
}

// Handle is the one loaded model. Chat, StopCompletion and Stop may be
// called from any goroutine.
type Handle struct {
	fileID   string
	requests chan chatJob
	cancel   atomic.Bool
	stopping atomic.Bool
	kill     context.CancelFunc
	done     chan struct{}
	err      error

	inFlight atomic.Bool

	mu     sync.Mutex
	closed bool
	exited bool
}

// Start launches the module on a dedicated OS thread and returns at once.
// The load reply is deferred until the module first asks for input.
func Start(ctx context.Context, rt Runtime, o Options) *Handle {
	depth := o.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	ctx, kill := context.WithCancel(ctx)
	h := &Handle{
		fileID:   o.File.File.ID,
		requests: make(chan chatJob, depth),
		kill:     kill,
		done:     make(chan struct{}),
	}
	activeBridges.Inc()
	go h.run(ctx, rt, o)
	return h
}

func (h *Handle) run(ctx context.Context, rt Runtime, o Options) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(h.done)
	defer activeBridges.Dec()
	defer h.kill()

	log := zlog.With().Str("file_id", h.fileID).Logger()
	ready := false
	hs := &host{
		ctx:      ctx,
		fileID:   h.fileID,
		requests: h.requests,
		cancel:   &h.cancel,
		stopping: &h.stopping,
		inFlight: &h.inFlight,
		now:      time.Now,
		log:      log,
		onReady: func() {
			ready = true
			log.Info().Msg("model ready")
			reply(ctx, o.Reply, types.Ok(types.LoadModelResponse{
				FileID:  h.fileID,
				ModelID: o.File.Model.ID,
			}))
		},
	}
	stdout, stderr := newLogWriter(log, "stdout"), newLogWriter(log, "stderr")
	spec := RunSpec{
		Args:     Args(o.File, o.Load),
		ModelDir: filepath.Dir(o.File.Path()),
		Stdout:   stdout,
		Stderr:   stderr,
	}
	log.Info().Strs("args", spec.Args).Msg("starting chat module")
	start := time.Now()
	err := rt.Run(ctx, spec, hs)
	stdout.Flush()
	stderr.Flush()

	hs.abort()
	h.mu.Lock()
	h.exited = true
	h.mu.Unlock()
	h.drain(ctx)

	if !ready {
		if err == nil {
			err = ErrExitedBeforeReady
		} else {
			err = fmt.Errorf("%w: %w", ErrExitedBeforeReady, err)
		}
		reply(ctx, o.Reply, types.Fail[types.LoadModelResponse](err))
	}
	h.err = err
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Dur("dur", time.Since(start)).Msg("chat module exited")
}

// drain fails requests that will never be served.
func (h *Handle) drain(ctx context.Context) {
	for {
		select {
		case j, ok := <-h.requests:
			if !ok {
				return
			}
			j.fail(ctx, ErrExited)
		default:
			return
		}
	}
}

func reply(ctx context.Context, ch chan<- types.Result[types.LoadModelResponse], r types.Result[types.LoadModelResponse]) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	case <-ctx.Done():
	}
	close(ch)
}

// Chat queues a request. Items arrive on reply in order and the channel is
// closed after the terminal item. reply must be drained.
func (h *Handle) Chat(req types.ChatRequest, reply chan<- types.Result[types.ChatResponse]) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch {
	case h.closed:
		return ErrStopped
	case h.exited:
		return ErrExited
	}
	select {
	case h.requests <- chatJob{req: req, reply: reply}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Busy reports whether a request is queued or in flight.
func (h *Handle) Busy() bool { return len(h.requests) > 0 || h.inFlight.Load() }

// StopCompletion asks the module to stop the current completion at the next token.
func (h *Handle) StopCompletion() { h.cancel.Store(true) }

// Stop closes the request channel and waits for the module to exit. If it
// keeps running past a grace period it is interrupted.
func (h *Handle) Stop() {
	h.mu.Lock()
	if !h.closed {
		h.closed = true
		h.stopping.Store(true)
		h.cancel.Store(true)
		close(h.requests)
	}
	h.mu.Unlock()

	t := time.NewTimer(stopGrace)
	defer t.Stop()
	select {
	case <-h.done:
	case <-t.C:
		zlog.Warn().Str("file_id", h.fileID).Msg("chat module did not exit, interrupting")
		h.kill()
		<-h.done
	}
}

// Done is closed when the module has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the module's exit error. Valid after Done is closed.
func (h *Handle) Err() error { return h.err }

// FileID is the loaded file.
func (h *Handle) FileID() string { return h.fileID }
