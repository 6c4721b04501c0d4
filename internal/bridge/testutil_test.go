package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"chatd/pkg/types"
)

// wordModel is a fake Runtime that answers each request by pushing the words
// of the last message as tokens.
type wordModel struct {
	// startGate, if set, delays the first input pull.
	startGate chan struct{}
	// gate, if set, must receive once per pushed token.
	gate chan struct{}
	// errCode ends each request with return_token_error instead of EOS.
	errCode int32
	specs   chan RunSpec
}

func (m *wordModel) Run(ctx context.Context, spec RunSpec, h Host) error {
	if m.specs != nil {
		m.specs <- spec
	}
	if m.startGate != nil {
		<-m.startGate
	}
	for {
		req, err := readRequest(h)
		if errors.Is(err, ErrInputClosed) {
			return nil
		}
		if err != nil {
			return err
		}
		words := strings.Fields(req.Messages[len(req.Messages)-1].Content)
		stopped := false
		for i, w := range words {
			if m.gate != nil {
				select {
				case <-m.gate:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if i > 0 {
				w = " " + w
			}
			if h.PushToken([]byte(w)) < 0 {
				stopped = true
				break
			}
		}
		if stopped {
			continue
		}
		if m.errCode != 0 {
			h.ReturnTokenError(m.errCode)
		} else {
			h.EndOfSequence()
		}
	}
}

// readRequest pulls one request in small reads, like a module with a tiny buffer.
func readRequest(h Host) (types.ChatRequest, error) {
	var data []byte
	buf := make([]byte, 7)
	for {
		n, err := h.GetInput(buf)
		if err != nil {
			return types.ChatRequest{}, err
		}
		if n == 0 {
			break
		}
		data = append(data, buf[:n]...)
	}
	var req types.ChatRequest
	err := json.Unmarshal(data, &req)
	return req, err
}

// exitRuntime exits without ever pulling input.
type exitRuntime struct{ err error }

func (r exitRuntime) Run(context.Context, RunSpec, Host) error { return r.err }

func testFile(t *testing.T) types.DownloadedFile {
	t.Helper()
	dir := t.TempDir()
	return types.DownloadedFile{
		File:           types.File{ID: "org/repo#model.gguf", Name: "model.gguf", DownloadedPath: filepath.Join(dir, "org/repo", "model.gguf")},
		Model:          types.Model{ID: "org/repo"},
		ContextSize:    2048,
		PromptTemplate: "chatml",
		ReversePrompt:  "<|im_end|>",
		DownloadDir:    dir,
	}
}

func startLoaded(t *testing.T, rt Runtime) *Handle {
	t.Helper()
	loadReply := make(chan types.Result[types.LoadModelResponse], 1)
	h := Start(context.Background(), rt, Options{File: testFile(t), Reply: loadReply})
	t.Cleanup(h.Stop)
	select {
	case r := <-loadReply:
		require.NoError(t, r.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("model never became ready")
	}
	return h
}

func userRequest(content string, stream bool) types.ChatRequest {
	return types.ChatRequest{
		Model:    "org/repo#model.gguf",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: content}},
		Stream:   stream,
	}
}

func collect(t *testing.T, reply <-chan types.Result[types.ChatResponse]) []types.ChatResponse {
	t.Helper()
	var out []types.ChatResponse
	timeout := time.After(5 * time.Second)
	for {
		select {
		case r, ok := <-reply:
			if !ok {
				return out
			}
			require.NoError(t, r.Err)
			out = append(out, r.Value)
		case <-timeout:
			t.Fatal("reply channel was not closed")
			return nil
		}
	}
}
