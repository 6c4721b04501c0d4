package backend

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"chatd/internal/bridge"
	"chatd/internal/catalog"
	"chatd/internal/download"
	"chatd/internal/registry"
	"chatd/internal/store"
	"chatd/pkg/types"
)

var zlog = zerolog.Nop()

// SetLogger installs a structured logger for the dispatcher.
func SetLogger(l zerolog.Logger) { zlog = l.With().Str("component", "backend").Logger() }

// Store is the persistence the dispatcher uses.
type Store interface {
	download.Store
	SaveModel(m types.Model) error
	ListModels() ([]types.Model, error)
	GetPending(id string) (store.PendingFile, error)
	ListPending() ([]types.PendingDownload, error)
	GetDownloadedFile(id string) (types.DownloadedFile, error)
	ListDownloadedFiles() ([]types.DownloadedFile, error)
	DownloadedPaths() (map[string]string, error)
}

// Enqueuer is the producer end of the download queue.
type Enqueuer interface {
	Enqueue(j download.Job) error
}

// Config tunes the dispatcher.
type Config struct {
	ModelsDir string
	// ChatQueueDepth caps requests waiting for the loaded model.
	ChatQueueDepth int
	// WatchModels reports artifacts deleted from the models dir behind our back.
	WatchModels bool
	// CommandBuffer is the capacity of the command channel.
	CommandBuffer int
}

// Option customizes a Backend.
type Option func(*Backend)

// WithPublisher sets the event publisher.
func WithPublisher(p EventPublisher) Option { return func(b *Backend) { b.events = p } }

// WithServerFactory enables StartLocalServer.
func WithServerFactory(f ServerFactory) Option { return func(b *Backend) { b.newServer = f } }

// Backend is the dispatcher. Its mutable fields are owned by Run.
type Backend struct {
	cfg       Config
	store     Store
	catalog   catalog.Catalog
	pool      Enqueuer
	runtime   bridge.Runtime
	events    EventPublisher
	newServer ServerFactory

	cmds     chan Command
	internal chan Command
	quit     chan struct{}

	ctx       context.Context
	modelsDir string
	controls  map[string]chan download.Stop
	model     *bridge.Handle
	server    LocalServer
	stopWatch context.CancelFunc
}

// New builds a dispatcher. rt may be nil, in which case LoadModel fails.
func New(cfg Config, st Store, cat catalog.Catalog, pool Enqueuer, rt bridge.Runtime, opts ...Option) *Backend {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 64
	}
	b := &Backend{
		cfg:       cfg,
		store:     st,
		catalog:   cat,
		pool:      pool,
		runtime:   rt,
		events:    noopPublisher{},
		cmds:      make(chan Command, cfg.CommandBuffer),
		internal:  make(chan Command, cfg.CommandBuffer),
		quit:      make(chan struct{}),
		modelsDir: cfg.ModelsDir,
		controls:  make(map[string]chan download.Stop),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Sender is the producer end of the command channel. Closing it stops Run.
func (b *Backend) Sender() chan<- Command { return b.cmds }

// Client returns blocking helpers bound to this backend.
func (b *Backend) Client() *Client { return &Client{cmds: b.cmds, quit: b.quit} }

// Run serves commands until the sender is closed or ctx is done, then
// ejects the model and stops the local server.
func (b *Backend) Run(ctx context.Context) error {
	b.ctx = ctx
	zlog.Info().Str("models_dir", b.modelsDir).Msg("backend started")
	if b.cfg.WatchModels {
		b.watch()
	}
	defer b.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-b.cmds:
			if !ok {
				return nil
			}
			b.dispatch(c)
		case c := <-b.internal:
			b.dispatch(c)
		}
	}
}

func (b *Backend) shutdown() {
	close(b.quit)
	if b.stopWatch != nil {
		b.stopWatch()
	}
	if b.model != nil {
		b.model.Stop()
		b.model = nil
	}
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := b.server.Shutdown(ctx); err != nil {
			zlog.Warn().Err(err).Msg("local server shutdown")
		}
		b.server = nil
	}
	zlog.Info().Msg("backend stopped")
}

func (b *Backend) dispatch(c Command) {
	switch c := c.(type) {
	case GetFeaturedModels:
		b.featured(c)
	case SearchModels:
		b.search(c)
	case GetDownloadedFiles:
		b.downloadedFiles(c)
	case GetCurrentDownloads:
		b.currentDownloads(c)
	case DownloadFile:
		b.downloadFile(c)
	case PauseDownload:
		b.pauseDownload(c)
	case CancelDownload:
		b.cancelDownload(c)
	case DeleteFile:
		b.deleteFile(c)
	case LoadModel:
		b.loadModel(c)
	case EjectModel:
		b.ejectModel(c)
	case Chat:
		b.chat(c)
	case StopChatCompletion:
		b.stopChat(c)
	case StartLocalServer:
		b.startServer(c)
	case StopLocalServer:
		b.stopServer(c)
	case ChangeModelsDir:
		b.changeModelsDir(c)
	case GetStatus:
		b.status(c)
	case downloadDone:
		b.onDownloadDone(c)
	case bridgeExited:
		b.onBridgeExited(c)
	case serverStopped:
		if b.server == c.server {
			b.server = nil
		}
	default:
		zlog.Error().Type("command", c).Msg("unknown command")
	}
}

// post hands an internal command back to the loop. It gives up once Run
// has returned.
func (b *Backend) post(c Command) {
	select {
	case b.internal <- c:
	case <-b.quit:
	}
}

// settle handles internal commands that are already queued.
func (b *Backend) settle() {
	for {
		select {
		case c := <-b.internal:
			b.dispatch(c)
		default:
			return
		}
	}
}

// watch reports downloaded files that disappear from the models dir.
func (b *Backend) watch() {
	if b.stopWatch != nil {
		b.stopWatch()
	}
	ctx, cancel := context.WithCancel(b.ctx)
	b.stopWatch = cancel
	err := registry.Watch(ctx, b.modelsDir, func(a registry.Artifact) {
		if _, err := b.store.GetDownloadedFile(a.FileID); err != nil {
			return
		}
		zlog.Warn().Str("file_id", a.FileID).Str("path", a.Path).Msg("downloaded file removed from disk")
		b.events.Publish(Event{Name: EventFileMissing, FileID: a.FileID, Fields: map[string]any{"path": a.Path}})
	})
	if err != nil {
		zlog.Warn().Err(err).Str("models_dir", b.modelsDir).Msg("cannot watch models dir")
	}
}

func reply[T any](ch chan<- types.Result[T], v T, err error) {
	if ch == nil {
		return
	}
	if err != nil {
		ch <- types.Fail[T](err)
		return
	}
	ch <- types.Ok(v)
}

// fail sends err on a stream reply and closes it.
func fail[T any](ch chan<- types.Result[T], err error) {
	if ch == nil {
		return
	}
	ch <- types.Fail[T](err)
	close(ch)
}

func isNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
