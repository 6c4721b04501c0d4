package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"chatd/internal/common/fsutil"
	"chatd/internal/store"
	"chatd/pkg/types"
)

// transfer is the state of one job on one worker. Chunk writes and progress
// updates for a file id only ever happen here, in order.
type transfer struct {
	pool *Pool
	job  Job
	pf   store.PendingFile
	log  zerolog.Logger

	size          int64
	offset        int64
	lastSent      float64
	lastPersisted float64
	limiter       *rate.Limiter

	// stop is the strongest Stop received so far; remaining is size-offset,
	// or -1 while unknown. Both are shared with the control watcher.
	stop      atomic.Int32
	remaining atomic.Int64

	unwatch context.CancelFunc
	watched chan struct{}
}

func (p *Pool) run(ctx context.Context, j Job) (o Outcome) {
	t := &transfer{
		pool:     p,
		job:      j,
		pf:       j.Pending,
		log:      zlog.With().Str("file_id", j.Pending.FileID).Logger(),
		limiter:  rate.NewLimiter(rate.Every(p.cfg.ProgressInterval), 1),
		lastSent: -1,
	}
	t.remaining.Store(-1)
	defer func() {
		if j.OnExit != nil {
			j.OnExit(t.pf.FileID, o)
		}
		close(j.Reply)
	}()

	// A cancel that raced ahead of the worker must not recreate the row.
	stop, stopped := t.poll()
	if stopped && stop == StopCancel {
		return t.cancel(nil)
	}
	if stopped || ctx.Err() != nil {
		t.pf.Status = types.PendingPaused
		if err := p.store.UpsertPending(t.pf); err != nil {
			return t.fail(ctx, err)
		}
		return OutcomePaused
	}

	t.pf.Status = types.PendingInitializing
	if err := p.store.UpsertPending(t.pf); err != nil {
		return t.fail(ctx, err)
	}
	reqCtx, abort := context.WithCancel(ctx)
	defer abort()
	t.unwatch = abort
	t.watched = make(chan struct{})
	go func() {
		defer close(t.watched)
		t.watch(reqCtx, abort)
	}()
	return t.download(ctx, reqCtx)
}

// watch interrupts a blocked request when a stop arrives, except for a
// pause that lands within FinishThreshold of the end.
func (t *transfer) watch(ctx context.Context, abort context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-t.job.Control:
			if !ok {
				return
			}
			t.record(s)
			rem := t.remaining.Load()
			if s == StopPause && rem >= 0 && rem <= t.pool.cfg.FinishThreshold {
				continue
			}
			abort()
			return
		}
	}
}

// download runs the transfer. ctx is the pool's; requests use reqCtx, which
// a stop cancels.
func (t *transfer) download(ctx, reqCtx context.Context) Outcome {
	p := t.pool
	u := p.artifactURL(t.pf.ModelID, t.pf.Name)

	size, err := p.contentLength(reqCtx, u)
	if err != nil {
		return t.failOrPause(ctx, nil, err)
	}
	t.size = size
	if size > 0 {
		if err := p.store.SetPendingSize(t.pf.FileID, size); err != nil {
			return t.fail(ctx, err)
		}
	}

	path := t.pf.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return t.fail(ctx, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return t.fail(ctx, err)
	}
	defer f.Close()
	if t.offset, err = f.Seek(0, io.SeekEnd); err != nil {
		return t.fail(ctx, err)
	}
	if size > 0 && t.offset > size {
		t.log.Warn().Int64("offset", t.offset).Int64("size", size).Msg("partial file larger than remote, restarting")
		if err := f.Truncate(0); err != nil {
			return t.fail(ctx, err)
		}
		if t.offset, err = f.Seek(0, io.SeekStart); err != nil {
			return t.fail(ctx, err)
		}
	}

	if s, ok := t.poll(); ok {
		return t.halt(s, f)
	}
	if err := p.store.UpdatePendingProgress(t.pf.FileID, t.percent(), types.PendingDownloading); err != nil {
		return t.fail(ctx, err)
	}
	t.lastPersisted = t.percent()
	t.progress()
	t.log.Info().Int64("offset", t.offset).Int64("size", size).Msg("download started")

	if size > 0 {
		t.remaining.Store(size - t.offset)
	}
	if size == 0 || t.offset < size {
		b, err := p.openFrom(reqCtx, u, t.offset)
		if err != nil {
			return t.failOrPause(ctx, f, err)
		}
		defer b.Close()
		if !b.done {
			if o, ok := t.copyChunks(ctx, f, b); !ok {
				return o
			}
		}
	}

	if size > 0 && t.offset < size {
		return t.fail(ctx, fmt.Errorf("download ended early: %d of %d bytes: %w", t.offset, size, io.ErrUnexpectedEOF))
	}
	// From here on only this goroutine reads Control, so a cancel that lands
	// after the last poll stays queued for the caller.
	t.unwatch()
	<-t.watched
	if s, ok := t.poll(); ok && s == StopCancel {
		return t.cancel(f)
	}
	if err := f.Sync(); err != nil {
		return t.fail(ctx, err)
	}
	if err := f.Close(); err != nil {
		return t.fail(ctx, err)
	}
	done, err := p.store.CompleteDownload(t.pf.FileID, p.now())
	if errors.Is(err, store.ErrNotFound) {
		// The row was removed by a cancel that arrived after the last chunk.
		return t.cancel(nil)
	}
	if err != nil {
		return t.fail(ctx, err)
	}
	if s, ok := t.poll(); ok && s == StopCancel {
		return t.discard(done)
	}
	t.log.Info().Int64("bytes", t.offset).Msg("download completed")
	t.send(ctx, types.Ok(types.FileDownloadResponse{FileID: t.pf.FileID, Progress: 100, Completed: &done}))
	return OutcomeCompleted
}

// copyChunks streams the body into f. ok is false when the job ended early
// with outcome o.
func (t *transfer) copyChunks(ctx context.Context, f *os.File, b io.Reader) (o Outcome, ok bool) {
	buf := make([]byte, t.pool.cfg.ChunkSize)
	finishing := false
	for {
		if s, stopped := t.poll(); stopped {
			switch {
			case s == StopCancel:
				return t.cancel(f), false
			case finishing:
			case t.size > 0 && t.size-t.offset <= t.pool.cfg.FinishThreshold:
				t.log.Debug().Int64("remaining", t.size-t.offset).Msg("pause ignored near completion")
				finishing = true
			default:
				return t.pause(f), false
			}
		}
		n, rerr := b.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return t.fail(ctx, err), false
			}
			t.offset += int64(n)
			if t.size > 0 {
				t.remaining.Store(t.size - t.offset)
			}
			bytesTotal.Add(float64(n))
			t.progress()
		}
		if errors.Is(rerr, io.EOF) {
			return "", true
		}
		if rerr != nil {
			return t.failOrPause(ctx, f, rerr), false
		}
	}
}

// poll reports the stop requested so far, checking the control channel
// without blocking.
func (t *transfer) poll() (Stop, bool) {
	select {
	case s, ok := <-t.job.Control:
		if ok {
			t.record(s)
		}
	default:
	}
	s := Stop(t.stop.Load())
	return s, s != 0
}

// record keeps the strongest stop: a cancel overrides a pause.
func (t *transfer) record(s Stop) {
	for {
		cur := t.stop.Load()
		if Stop(cur) >= s {
			return
		}
		if t.stop.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (t *transfer) halt(s Stop, f *os.File) Outcome {
	if s == StopCancel {
		return t.cancel(f)
	}
	return t.pause(f)
}

func (t *transfer) percent() float64 {
	if t.size <= 0 {
		return 0
	}
	pct := float64(t.offset) / float64(t.size) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// progress replies every ProgressStep percent and persists at most once per
// ProgressInterval.
func (t *transfer) progress() {
	pct := t.percent()
	if pct-t.lastSent >= t.pool.cfg.ProgressStep {
		t.lastSent = pct
		select {
		case t.job.Reply <- types.Ok(types.FileDownloadResponse{FileID: t.pf.FileID, Progress: pct}):
		default:
		}
	}
	if pct > t.lastPersisted && t.limiter.Allow() {
		if err := t.pool.store.UpdatePendingProgress(t.pf.FileID, pct, types.PendingDownloading); err != nil {
			t.log.Warn().Err(err).Msg("persist progress")
			return
		}
		t.lastPersisted = pct
	}
}

func (t *transfer) pause(f *os.File) Outcome {
	if f != nil {
		_ = f.Sync()
	}
	if err := t.pool.store.UpdatePendingProgress(t.pf.FileID, t.percent(), types.PendingPaused); err != nil {
		t.log.Error().Err(err).Msg("persist paused state")
	}
	t.log.Info().Float64("progress", t.percent()).Msg("download paused")
	return OutcomePaused
}

// cancel removes the row and the partial file. The dispatcher does the
// same; both sides are idempotent.
func (t *transfer) cancel(f *os.File) Outcome {
	if f != nil {
		_ = f.Close()
	}
	if err := t.pool.store.DeletePending(t.pf.FileID); err != nil {
		t.log.Error().Err(err).Msg("delete cancelled row")
	}
	if err := fsutil.RemoveIfExists(t.pf.Path(), t.pf.DownloadDir); err != nil {
		t.log.Error().Err(err).Msg("remove cancelled partial file")
	}
	t.log.Info().Msg("download cancelled")
	return OutcomeCancelled
}

// discard undoes a promotion that a cancel raced.
func (t *transfer) discard(done types.DownloadedFile) Outcome {
	if err := t.pool.store.DeleteDownloadedFile(t.pf.FileID); err != nil {
		t.log.Error().Err(err).Msg("delete cancelled download")
	}
	if err := fsutil.RemoveIfExists(done.Path(), done.DownloadDir); err != nil {
		t.log.Error().Err(err).Msg("remove cancelled artifact")
	}
	t.log.Info().Msg("download cancelled after completion")
	return OutcomeCancelled
}

// failOrPause treats errors caused by a stop request or by pool shutdown
// as that stop or a pause.
func (t *transfer) failOrPause(ctx context.Context, f *os.File, err error) Outcome {
	if s, ok := t.poll(); ok {
		return t.halt(s, f)
	}
	if ctx.Err() != nil {
		return t.pause(f)
	}
	return t.fail(ctx, err)
}

func (t *transfer) fail(ctx context.Context, err error) Outcome {
	t.log.Error().Err(err).Msg("download failed")
	if serr := t.pool.store.SetPendingStatus(t.pf.FileID, types.PendingError, err.Error()); serr != nil {
		t.log.Error().Err(serr).Msg("persist error state")
	}
	t.send(ctx, types.Fail[types.FileDownloadResponse](err))
	return OutcomeFailed
}

// send delivers a terminal reply unless the pool is shutting down.
func (t *transfer) send(ctx context.Context, r types.Result[types.FileDownloadResponse]) {
	select {
	case t.job.Reply <- r:
	case <-ctx.Done():
	}
}
