package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"chatd/internal/backend"
	"chatd/internal/bridge"
	"chatd/internal/catalog"
	"chatd/internal/download"
	"chatd/internal/httpapi"
	"chatd/internal/store"
	"chatd/pkg/types"
)

const fileID = "org/tiny#tiny.Q4.gguf"

// wordRuntime answers with the words of the last message, one token each.
// While gate is non-nil, every answer waits for it to be closed first.
type wordRuntime struct {
	gate chan struct{}
}

func (r wordRuntime) Run(ctx context.Context, _ bridge.RunSpec, h bridge.Host) error {
	buf := make([]byte, 256)
	for {
		var data []byte
		for {
			n, err := h.GetInput(buf)
			if errors.Is(err, bridge.ErrInputClosed) {
				return nil
			}
			if err != nil {
				return err
			}
			if n == 0 {
				break
			}
			data = append(data, buf[:n]...)
		}
		var req types.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return err
		}
		if r.gate != nil {
			select {
			case <-r.gate:
			case <-ctx.Done():
				return nil
			}
		}
		for i, w := range strings.Fields(req.Messages[len(req.Messages)-1].Content) {
			if i > 0 {
				w = " " + w
			}
			if h.PushToken([]byte(w)) < 0 {
				break
			}
		}
		h.EndOfSequence()
	}
}

// stack is a whole chatd process: store, catalog, download pool,
// dispatcher and the HTTP server factory, all on temp dirs.
type stack struct {
	client *backend.Client
	cancel context.CancelFunc
	done   chan error
}

func newStack(t *testing.T, rt bridge.Runtime) *stack {
	t.Helper()
	dir := t.TempDir()
	artifact := bytes.Repeat([]byte("gguf"), 4096)
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "artifact", time.Time{}, bytes.NewReader(artifact))
	}))
	t.Cleanup(remote.Close)

	st, err := store.Open(filepath.Join(dir, "chatd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cat := catalog.NewStatic([]types.Model{{
		ID:             "org/tiny",
		Name:           "Tiny",
		PromptTemplate: "chatml",
		ContextSize:    512,
		Files:          []types.File{{Name: "tiny.Q4.gguf", Size: strconv.Itoa(len(artifact)), Featured: true}},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	pool := download.NewPool(download.Config{Workers: 1, ChunkSize: 4096, BaseURL: remote.URL}, st)
	pool.Start(ctx)
	b := backend.New(backend.Config{ModelsDir: filepath.Join(dir, "models")}, st, cat, pool, rt,
		backend.WithServerFactory(httpapi.NewFactory("127.0.0.1")))
	s := &stack{client: b.Client(), cancel: cancel, done: make(chan error, 1)}
	go func() { s.done <- b.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			t.Error("backend did not stop")
		}
		_ = pool.Wait()
		_ = st.Close()
	})
	return s
}

// ready downloads and loads the test file, then starts the local server and
// returns its base URL.
func (s *stack) ready(t *testing.T, cfg types.LocalServerConfig) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.client.Download(ctx, fileID, nil); err != nil {
		t.Fatalf("download: %v", err)
	}
	if _, err := s.client.Load(ctx, fileID, types.LoadModelOptions{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	srv, err := s.client.StartServer(ctx, cfg)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	return "http://127.0.0.1:" + strconv.Itoa(srv.Port)
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, strings.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
