// Package httpapi is the local OpenAI-compatible HTTP server.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatd/internal/backend"
	"chatd/pkg/types"
)

// Backend is what the HTTP layer needs from the dispatcher. *backend.Client
// implements it.
type Backend interface {
	Chat(ctx context.Context, req types.ChatRequest, onItem func(types.ChatResponse)) error
	Downloaded(ctx context.Context) ([]types.DownloadedFile, error)
	Status(ctx context.Context) (backend.Status, error)
}

// NewMux builds the router for one server configuration.
func NewMux(b Backend, cfg types.LocalServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if cfg.CORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	h := &handlers{backend: b, cfg: cfg}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/completions", h.chatCompletions)
		r.Get("/models", h.models)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

// Server is a listening local server.
type Server struct {
	srv  *http.Server
	port int
	done chan struct{}
}

// Listen binds addr and serves h in the background.
func Listen(addr string, h http.Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	s := &Server{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return serverBaseCtx },
		},
		port: ln.Addr().(*net.TCPAddr).Port,
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		zlog.Info().Str("addr", ln.Addr().String()).Msg("local server listening")
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error().Err(err).Msg("local server stopped")
		}
	}()
	return s, nil
}

func (s *Server) Port() int { return s.port }

func (s *Server) Done() <-chan struct{} { return s.done }

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = s.srv.Close()
	}
	<-s.done
	return err
}

// NewFactory returns a backend.ServerFactory binding host:<config port>.
func NewFactory(host string) backend.ServerFactory {
	return func(cfg types.LocalServerConfig, c *backend.Client) (backend.LocalServer, error) {
		return Listen(net.JoinHostPort(host, strconv.Itoa(cfg.Port)), NewMux(c, cfg))
	}
}
