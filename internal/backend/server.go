package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

const serverShutdownTimeout = 5 * time.Second

// LocalServer is a running OpenAI-compatible HTTP server.
type LocalServer interface {
	Port() int
	Shutdown(ctx context.Context) error
	// Done is closed once the server stops serving.
	Done() <-chan struct{}
}

// ServerFactory binds a LocalServer that talks to the backend through the
// given client. It must be listening when it returns.
type ServerFactory func(cfg types.LocalServerConfig, c *Client) (LocalServer, error)

var errNoServerFactory = errors.New("local server not available")

func (b *Backend) startServer(c StartLocalServer) {
	if b.server != nil {
		reply(c.Reply, types.LocalServerResponse{Port: b.server.Port()}, nil)
		return
	}
	if b.newServer == nil {
		reply(c.Reply, types.LocalServerResponse{}, errNoServerFactory)
		return
	}
	s, err := b.newServer(c.Config, b.Client())
	if err != nil {
		reply(c.Reply, types.LocalServerResponse{}, fmt.Errorf("start local server: %w", err))
		return
	}
	b.server = s
	zlog.Info().Int("port", s.Port()).Bool("queuing", c.Config.RequestQueuing).Msg("local server started")
	go func() {
		<-s.Done()
		b.post(serverStopped{server: s})
	}()
	reply(c.Reply, types.LocalServerResponse{Port: s.Port()}, nil)
}

// stopServer shuts down off the loop: in-flight handlers may still need
// the dispatcher to finish.
func (b *Backend) stopServer(c StopLocalServer) {
	s := b.server
	if s == nil {
		reply(c.Reply, types.Empty{}, ErrServerNotRunning())
		return
	}
	b.server = nil
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		err := s.Shutdown(ctx)
		zlog.Info().Err(err).Int("port", s.Port()).Msg("local server stopped")
		reply(c.Reply, types.Empty{}, err)
	}()
}

func (b *Backend) serverPort() int {
	if b.server == nil {
		return 0
	}
	return b.server.Port()
}

func (b *Backend) changeModelsDir(c ChangeModelsDir) {
	if c.Dir == "" {
		reply(c.Reply, types.Empty{}, errors.New("models dir must not be empty"))
		return
	}
	dir, err := fsutil.ExpandHome(c.Dir)
	if err != nil {
		reply(c.Reply, types.Empty{}, err)
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		reply(c.Reply, types.Empty{}, fmt.Errorf("models dir: %w", err))
		return
	}
	b.modelsDir = dir
	zlog.Info().Str("models_dir", dir).Msg("models dir changed")
	if b.cfg.WatchModels {
		b.watch()
	}
	reply(c.Reply, types.Empty{}, nil)
}
