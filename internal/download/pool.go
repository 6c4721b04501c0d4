package download

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatd/internal/store"
	"chatd/pkg/types"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("download pool closed")

var zlog = zerolog.Nop()

// SetLogger installs a structured logger for the pool.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "download").Logger() }

// Store is the persistence the workers need.
type Store interface {
	UpsertPending(p store.PendingFile) error
	SetPendingSize(id string, size int64) error
	UpdatePendingProgress(id string, progress float64, status types.PendingStatus) error
	SetPendingStatus(id string, status types.PendingStatus, lastErr string) error
	CompleteDownload(id string, downloadedAt time.Time) (types.DownloadedFile, error)
	DeletePending(id string) error
	DeleteDownloadedFile(id string) error
}

// Pool runs a fixed number of workers over one shared job queue.
type Pool struct {
	cfg   Config
	store Store
	q     *queue
	g     *errgroup.Group
	now   func() time.Time
}

// NewPool builds a pool; call Start to launch the workers.
func NewPool(cfg Config, st Store) *Pool {
	return &Pool{cfg: cfg.withDefaults(), store: st, q: newQueue(), now: time.Now}
}

// Start launches the workers. Canceling ctx closes the queue; queued and
// running jobs then stop as paused.
func (p *Pool) Start(ctx context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	p.g = g
	context.AfterFunc(ctx, p.q.close)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(ctx, worker)
			return nil
		})
	}
	zlog.Debug().Int("workers", p.cfg.Workers).Msg("download pool started")
}

// Enqueue adds a job without blocking.
func (p *Pool) Enqueue(j Job) error {
	if !p.q.push(j) {
		return ErrClosed
	}
	queuedJobs.Inc()
	return nil
}

// Close stops accepting jobs. Workers drain what is already queued.
func (p *Pool) Close() { p.q.close() }

// Wait blocks until every worker has exited.
func (p *Pool) Wait() error {
	if p.g == nil {
		return nil
	}
	return p.g.Wait()
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		j, ok := p.q.pop()
		if !ok {
			return
		}
		queuedJobs.Dec()
		activeJobs.Inc()
		o := p.run(ctx, j)
		activeJobs.Dec()
		jobsTotal.WithLabelValues(string(o)).Inc()
		zlog.Debug().Int("worker", worker).Str("file_id", j.Pending.FileID).Str("result", string(o)).Msg("download job finished")
	}
}
