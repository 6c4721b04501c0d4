package bridge

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const hostModuleName = "chat_ui"

// WasmRuntime runs a chat module with wazero. Every Run gets a fresh
// wazero runtime; compiled code is shared through one compilation cache.
type WasmRuntime struct {
	wasm  []byte
	cache wazero.CompilationCache
}

// NewWasmRuntime compiles wasm once to validate it and warm the cache. An
// empty cacheDir keeps compiled code in memory only.
func NewWasmRuntime(ctx context.Context, wasm []byte, cacheDir string) (*WasmRuntime, error) {
	var cache wazero.CompilationCache
	if cacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("compilation cache %s: %w", cacheDir, err)
		}
		cache = c
	} else {
		cache = wazero.NewCompilationCache()
	}
	w := &WasmRuntime{wasm: wasm, cache: cache}
	r := w.newRuntime(ctx)
	defer r.Close(ctx)
	if _, err := r.CompileModule(ctx, wasm); err != nil {
		_ = cache.Close(ctx)
		return nil, fmt.Errorf("compile chat module: %w", err)
	}
	return w, nil
}

// LoadWasmRuntime reads the module from path.
func LoadWasmRuntime(ctx context.Context, path, cacheDir string) (*WasmRuntime, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chat module: %w", err)
	}
	return NewWasmRuntime(ctx, b, cacheDir)
}

// Close releases the compilation cache.
func (w *WasmRuntime) Close(ctx context.Context) error { return w.cache.Close(ctx) }

func (w *WasmRuntime) newRuntime(ctx context.Context) wazero.Runtime {
	cfg := wazero.NewRuntimeConfig().
		WithCompilationCache(w.cache).
		WithCloseOnContextDone(true)
	return wazero.NewRuntimeWithConfig(ctx, cfg)
}

// Run instantiates the module and runs _start until it exits.
func (w *WasmRuntime) Run(ctx context.Context, spec RunSpec, h Host) error {
	r := w.newRuntime(ctx)
	defer r.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return fmt.Errorf("instantiate wasi: %w", err)
	}
	if _, err := hostModule(r, h).Instantiate(ctx); err != nil {
		return fmt.Errorf("instantiate %s: %w", hostModuleName, err)
	}
	compiled, err := r.CompileModule(ctx, w.wasm)
	if err != nil {
		return fmt.Errorf("compile chat module: %w", err)
	}

	mc := wazero.NewModuleConfig().
		WithName("chat").
		WithArgs(spec.Args...).
		WithStdout(orDiscard(spec.Stdout)).
		WithStderr(orDiscard(spec.Stderr)).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
	if spec.ModelDir != "" {
		mc = mc.WithFSConfig(wazero.NewFSConfig().WithReadOnlyDirMount(spec.ModelDir, ModelMount))
	}

	mod, err := r.InstantiateModule(ctx, compiled, mc)
	if mod != nil {
		_ = mod.Close(ctx)
	}
	return exitError(err)
}

// exitError treats exit code 0 as a clean return.
func exitError(err error) error {
	var ee *sys.ExitError
	if errors.As(err, &ee) && ee.ExitCode() == 0 {
		return nil
	}
	return err
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}

func hostModule(r wazero.Runtime, h Host) wazero.HostModuleBuilder {
	i32 := api.ValueTypeI32
	return r.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			buf := memory(mod, stack[0], stack[1])
			n, err := h.GetInput(buf)
			if err != nil {
				// Same as WASI proc_exit(0): the module unwinds and Run returns nil.
				_ = mod.CloseWithExitCode(ctx, 0)
				panic(sys.NewExitError(0))
			}
			stack[0] = api.EncodeI32(int32(n))
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("get_input").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			if api.DecodeI32(stack[0]) == 0 {
				stack[0] = api.EncodeI32(h.EndOfSequence())
				return
			}
			stack[0] = api.EncodeI32(h.PushToken(memory(mod, stack[0], stack[1])))
		}), []api.ValueType{i32, i32}, []api.ValueType{i32}).
		Export("push_token").
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			h.ReturnTokenError(api.DecodeI32(stack[0]))
		}), []api.ValueType{i32}, nil).
		Export("return_token_error")
}

// memory returns a view of guest memory. Writes to it are visible to the guest.
func memory(mod api.Module, ptr, size uint64) []byte {
	mem := mod.Memory()
	if mem == nil {
		panic(errors.New("chat module exports no memory"))
	}
	b, ok := mem.Read(api.DecodeU32(ptr), api.DecodeU32(size))
	if !ok {
		panic(fmt.Errorf("guest buffer out of range: ptr=%d len=%d", api.DecodeU32(ptr), api.DecodeU32(size)))
	}
	return b
}

// logWriter forwards module output to a logger one line at a time.
type logWriter struct {
	mu  sync.Mutex
	log zerolog.Logger
	buf []byte
}

func newLogWriter(l zerolog.Logger, stream string) *logWriter {
	return &logWriter{log: l.With().Str("src", "wasm").Str("stream", stream).Logger()}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.log.Debug().Msg(string(bytes.TrimRight(w.buf[:i], "\r")))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing partial line.
func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.log.Debug().Msg(string(w.buf))
		w.buf = nil
	}
}
