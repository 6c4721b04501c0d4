package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"chatd/internal/bridge"
	"chatd/internal/catalog"
	"chatd/internal/download"
	"chatd/internal/store"
	"chatd/pkg/types"
)

const testFileID = "org/repo#model.Q4.gguf"

// echoRuntime answers each request with the words of its last message.
type echoRuntime struct{}

func (echoRuntime) Run(ctx context.Context, _ bridge.RunSpec, h bridge.Host) error {
	for {
		var data []byte
		buf := make([]byte, 64)
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

// flakyCatalog fails every call while down is set.
type flakyCatalog struct {
	catalog.Catalog
	down atomic.Bool
}

var errCatalogDown = errors.New("catalog unreachable")

func (c *flakyCatalog) Featured(ctx context.Context, limit, offset int) ([]types.Model, error) {
	if c.down.Load() {
		return nil, errCatalogDown
	}
	return c.Catalog.Featured(ctx, limit, offset)
}

func (c *flakyCatalog) Model(ctx context.Context, id string) (types.Model, error) {
	if c.down.Load() {
		return types.Model{}, errCatalogDown
	}
	return c.Catalog.Model(ctx, id)
}

// artifactServer serves content with Range support. While gate is set, the
// first GET writes half the body and blocks until gate is closed.
type artifactServer struct {
	content []byte
	gate    chan struct{}

	mu   sync.Mutex
	gets int
}

func (s *artifactServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	first := false
	if r.Method == http.MethodGet {
		s.mu.Lock()
		s.gets++
		first = s.gets == 1
		s.mu.Unlock()
	}
	if first && s.gate != nil {
		half := len(s.content) / 2
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(s.content[:half])
		w.(http.Flusher).Flush()
		select {
		case <-s.gate:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write(s.content[half:])
		return
	}
	http.ServeContent(w, r, "artifact", time.Time{}, bytes.NewReader(s.content))
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

type fixture struct {
	st      *store.Store
	dir     string
	cat     *flakyCatalog
	backend *Backend
	client  *Client
	events  *MemoryPublisher
	cancel  context.CancelFunc
	runDone chan error
	stopped sync.Once
}

type fixtureSetup struct {
	cfg  Config
	opts []Option
	pool Enqueuer
	rt   bridge.Runtime
}

type fixtureOption func(*fixtureSetup)

func withConfig(f func(*Config)) fixtureOption {
	return func(s *fixtureSetup) { f(&s.cfg) }
}

func withOption(o Option) fixtureOption {
	return func(s *fixtureSetup) { s.opts = append(s.opts, o) }
}

// withEnqueuer wraps the pool the backend submits jobs to.
func withEnqueuer(wrap func(Enqueuer) Enqueuer) fixtureOption {
	return func(s *fixtureSetup) { s.pool = wrap(s.pool) }
}

func withRuntime(rt bridge.Runtime) fixtureOption {
	return func(s *fixtureSetup) { s.rt = rt }
}

// countingRuntime records the most modules ever running at once.
type countingRuntime struct {
	echoRuntime
	live, peak atomic.Int32
}

func (r *countingRuntime) Run(ctx context.Context, spec bridge.RunSpec, h bridge.Host) error {
	n := r.live.Add(1)
	defer r.live.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	return r.echoRuntime.Run(ctx, spec, h)
}

type enqueueFunc func(j download.Job) error

func (f enqueueFunc) Enqueue(j download.Job) error { return f(j) }

func newFixture(t *testing.T, as *artifactServer, fopts ...fixtureOption) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "chatd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := httptest.NewServer(as)
	t.Cleanup(srv.Close)

	cat := &flakyCatalog{Catalog: catalog.NewStatic([]types.Model{{
		ID:             "org/repo",
		Name:           "Repo",
		ContextSize:    2048,
		PromptTemplate: "chatml",
		ReversePrompt:  "<|im_end|>",
		Files: []types.File{
			{Name: "model.Q4.gguf", Size: "1 MB", Quantization: "Q4_K_M", Featured: true},
			{Name: "model.Q8.gguf", Size: "2 MB", Quantization: "Q8_0"},
		},
	}})}

	ctx, cancel := context.WithCancel(context.Background())
	pool := download.NewPool(download.Config{
		Workers:          2,
		ChunkSize:        1024,
		ProgressInterval: time.Millisecond,
		ProgressStep:     0.1,
		FinishThreshold:  -1,
		BaseURL:          srv.URL,
	}, st)
	pool.Start(ctx)

	events := NewMemoryPublisher()
	setup := fixtureSetup{
		cfg:  Config{ModelsDir: filepath.Join(dir, "models")},
		opts: []Option{WithPublisher(events)},
		pool: pool,
		rt:   echoRuntime{},
	}
	for _, o := range fopts {
		o(&setup)
	}
	b := New(setup.cfg, st, cat, setup.pool, setup.rt, setup.opts...)
	fx := &fixture{
		st:      st,
		dir:     setup.cfg.ModelsDir,
		cat:     cat,
		backend: b,
		client:  b.Client(),
		events:  events,
		cancel:  cancel,
		runDone: make(chan error, 1),
	}
	go func() { fx.runDone <- b.Run(ctx) }()
	t.Cleanup(func() {
		fx.stop()
		_ = pool.Wait()
	})
	return fx
}

// stop ends Run and waits for it. Safe to call twice.
func (fx *fixture) stop() {
	fx.stopped.Do(func() {
		fx.cancel()
		select {
		case <-fx.runDone:
		case <-time.After(15 * time.Second):
		}
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func userRequest(content string, stream bool) types.ChatRequest {
	return types.ChatRequest{
		Model:    testFileID,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: content}},
		Stream:   stream,
	}
}

// fakeServer is a LocalServer that only records its lifecycle.
type fakeServer struct {
	port int
	done chan struct{}
	once sync.Once
}

func (s *fakeServer) Port() int { return s.port }

func (s *fakeServer) Shutdown(context.Context) error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *fakeServer) Done() <-chan struct{} { return s.done }
