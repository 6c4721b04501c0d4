package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"chatd/pkg/types"
)

type chatJob struct {
	req   types.ChatRequest
	reply chan<- types.Result[types.ChatResponse]
}

// host implements Host for one module run. Only the module's goroutine
// touches it, except for the shared cancel and stopping flags.
type host struct {
	ctx      context.Context
	fileID   string
	requests <-chan chatJob
	cancel   *atomic.Bool
	stopping *atomic.Bool
	inFlight *atomic.Bool
	onReady  func()
	now      func() time.Time
	log      zerolog.Logger

	ready bool
	input []byte
	pos   int

	cur     *chatJob
	id      string
	created int64
	// buf collects the text of a non-streaming request; nil when streaming.
	buf *strings.Builder
	// carry holds an incomplete UTF-8 sequence split across tokens.
	carry  []byte
	pushes int
	done   bool
}

func (h *host) GetInput(buf []byte) (int, error) {
	for len(h.input) == 0 {
		if !h.ready {
			h.ready = true
			if h.onReady != nil {
				h.onReady()
			}
		}
		if err := h.next(); err != nil {
			return 0, err
		}
	}
	n := copy(buf, h.input[h.pos:])
	h.pos += n
	if n == 0 {
		h.input, h.pos = nil, 0
	}
	return n, nil
}

// next blocks for the next request and makes it current.
func (h *host) next() error {
	if h.cur != nil && !h.done {
		// The module asked for new input without finishing the last request.
		h.finish(openai.FinishReasonStop)
	}
	var j chatJob
	var ok bool
	select {
	case j, ok = <-h.requests:
	case <-h.ctx.Done():
		return ErrInputClosed
	}
	if !ok {
		return ErrInputClosed
	}
	if h.stopping.Load() {
		j.fail(h.ctx, ErrStopped)
		return nil
	}
	data, err := json.Marshal(j.req)
	if err != nil {
		j.fail(h.ctx, err)
		return nil
	}

	h.cancel.Store(false)
	h.inFlight.Store(true)
	h.cur = &j
	h.id = "chatcmpl-" + uuid.NewString()
	h.created = h.now().Unix()
	h.pushes = 0
	h.carry = nil
	h.done = false
	h.buf = nil
	if !j.req.Stream {
		h.buf = &strings.Builder{}
	}
	h.input, h.pos = data, 0
	h.log.Debug().Str("request_id", h.id).Bool("stream", j.req.Stream).Int("messages", len(j.req.Messages)).Msg("chat request started")
	return nil
}

func (h *host) PushToken(tok []byte) int32 {
	if h.cur == nil || h.done {
		return -1
	}
	if h.cancel.Load() {
		h.finish(openai.FinishReasonStop)
		return -1
	}
	h.pushes++
	tokensTotal.Inc()
	if h.buf != nil {
		h.buf.Write(tok)
		return 0
	}
	text := h.takeValid(tok)
	if text == "" {
		return 0
	}
	if !h.send(h.chunk(text, "")) {
		return -1
	}
	return 0
}

func (h *host) EndOfSequence() int32 {
	if h.cur == nil || h.done {
		return -1
	}
	h.finish(openai.FinishReasonStop)
	return 0
}

func (h *host) ReturnTokenError(code int32) {
	if h.cur == nil || h.done {
		return
	}
	te := TokenError(code)
	if te != EndOfSequence {
		h.log.Warn().Str("request_id", h.id).Stringer("code", te).Msg("generation ended with error")
	}
	h.finish(te.FinishReason())
}

// abort ends the current request after the module exited.
func (h *host) abort() {
	if h.cur != nil && !h.done {
		h.finish(openai.FinishReasonStop)
	}
}

// finish emits the terminal output for the current request and closes its reply.
func (h *host) finish(reason openai.FinishReason) {
	var out types.ChatResponse
	if h.buf != nil {
		h.buf.Write(h.carry)
		out.Final = &openai.ChatCompletionResponse{
			ID:      h.id,
			Object:  "chat.completion",
			Created: h.created,
			Model:   h.fileID,
			Choices: []openai.ChatCompletionChoice{{
				Index: 0,
				Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: strings.ToValidUTF8(h.buf.String(), "�"),
				},
				FinishReason: reason,
			}},
			Usage: openai.Usage{CompletionTokens: h.pushes, TotalTokens: h.pushes},
		}
	} else {
		out = h.chunk(strings.ToValidUTF8(string(h.carry), "�"), reason)
	}
	h.carry = nil
	h.send(out)
	close(h.cur.reply)
	h.done = true
	h.inFlight.Store(false)
	completionsTotal.WithLabelValues(string(reason)).Inc()
	h.log.Debug().Str("request_id", h.id).Str("finish_reason", string(reason)).Int("tokens", h.pushes).Msg("chat request finished")
}

func (h *host) chunk(text string, reason openai.FinishReason) types.ChatResponse {
	return types.ChatResponse{Chunk: &openai.ChatCompletionStreamResponse{
		ID:      h.id,
		Object:  "chat.completion.chunk",
		Created: h.created,
		Model:   h.fileID,
		Choices: []openai.ChatCompletionStreamChoice{{
			Index: 0,
			Delta: openai.ChatCompletionStreamChoiceDelta{
				Role:    openai.ChatMessageRoleAssistant,
				Content: text,
			},
			FinishReason: reason,
		}},
	}}
}

// send blocks until the caller takes the item. It gives up only when the
// bridge is shutting down.
func (h *host) send(r types.ChatResponse) bool {
	select {
	case h.cur.reply <- types.Ok(r):
		return true
	case <-h.ctx.Done():
		return false
	}
}

// takeValid returns the complete UTF-8 prefix of carry+tok and keeps an
// incomplete trailing sequence for the next token.
func (h *host) takeValid(tok []byte) string {
	b := append(h.carry, tok...)
	cut := len(b)
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:]) {
				cut = i
			}
			break
		}
	}
	h.carry = append([]byte(nil), b[cut:]...)
	return strings.ToValidUTF8(string(b[:cut]), "�")
}

func (j chatJob) fail(ctx context.Context, err error) {
	select {
	case j.reply <- types.Fail[types.ChatResponse](err):
	case <-ctx.Done():
	}
	close(j.reply)
}
