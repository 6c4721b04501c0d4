package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatd/internal/backend"
	"chatd/internal/bridge"
	"chatd/internal/catalog"
	"chatd/internal/common/fsutil"
	"chatd/internal/config"
	"chatd/internal/download"
	"chatd/internal/httpapi"
	"chatd/internal/store"
)

// app is one running backend with everything it owns.
type app struct {
	cfg     config.Config
	store   *store.Store
	pool    *download.Pool
	wasm    *bridge.WasmRuntime
	backend *backend.Backend
	client  *backend.Client

	cancel context.CancelFunc
	g      *errgroup.Group
}

// startApp opens the store, starts the download workers and runs the
// dispatcher until ctx ends or close is called.
func startApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &app{cfg: cfg, store: st, cancel: cancel}

	a.pool = download.NewPool(download.Config{
		Workers:          cfg.DownloadWorkers,
		ChunkSize:        cfg.ChunkBytes,
		ProgressInterval: cfg.ProgressInterval,
		ProgressStep:     cfg.ProgressStep,
		BaseURL:          cfg.DownloadBaseURL,
		Token:            cfg.HFToken,
	}, st)
	a.pool.Start(ctx)

	// A nil *WasmRuntime must not become a non-nil interface.
	var rt bridge.Runtime
	if fsutil.Exists(cfg.ChatWasm) {
		w, err := bridge.LoadWasmRuntime(ctx, cfg.ChatWasm, filepath.Join(cfg.DataDir, "wasm-cache"))
		if err != nil {
			a.abort()
			return nil, err
		}
		a.wasm = w
		rt = w
	} else {
		log.Warn().Str("path", cfg.ChatWasm).Msg("chat module not found; models cannot be loaded")
	}

	host, _, err := net.SplitHostPort(cfg.Server.Addr)
	if err != nil {
		a.abort()
		return nil, fmt.Errorf("server addr: %w", err)
	}
	httpapi.SetBaseContext(ctx)
	if len(cfg.Server.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(cfg.Server.CORSOrigins, nil, nil)
	}

	a.backend = backend.New(backend.Config{
		ModelsDir:   cfg.ModelsDir,
		WatchModels: true,
	}, st, cat, a.pool, rt,
		backend.WithPublisher(logPublisher{log: log}),
		backend.WithServerFactory(httpapi.NewFactory(host)),
	)
	a.client = a.backend.Client()

	a.g = &errgroup.Group{}
	a.g.Go(func() error {
		err := a.backend.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return a, nil
}

func openCatalog(cfg config.Config) (catalog.Catalog, error) {
	if cfg.CatalogFile != "" {
		return catalog.LoadFile(cfg.CatalogFile)
	}
	return catalog.NewHTTP(cfg.CatalogURL), nil
}

// abort tears down a partially started app.
func (a *app) abort() {
	a.cancel()
	_ = a.pool.Wait()
	_ = a.store.Close()
}

// close stops the dispatcher, lets workers park their jobs as paused and
// releases the store.
func (a *app) close() error {
	a.cancel()
	err := a.g.Wait()
	if werr := a.pool.Wait(); err == nil {
		err = werr
	}
	if a.wasm != nil {
		if cerr := a.wasm.Close(context.Background()); err == nil {
			err = cerr
		}
	}
	if cerr := a.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// logPublisher turns backend events into log lines.
type logPublisher struct{ log zerolog.Logger }

func (p logPublisher) Publish(e backend.Event) {
	ev := p.log.Info()
	if e.Name == backend.EventDownloadFailed || e.Name == backend.EventModelLoadFailed || e.Name == backend.EventFileMissing {
		ev = p.log.Warn()
	}
	ev.Str("event", e.Name).Str("file_id", e.FileID).Fields(e.Fields).Msg("backend event")
}
