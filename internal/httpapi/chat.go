package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"chatd/pkg/types"
)

type handlers struct {
	backend Backend
	cfg     types.LocalServerConfig
}

// chatCompletions godoc
// @Summary      Create a chat completion
// @Description  Runs the request on the loaded model. With "stream": true the reply is server-sent events ending in [DONE].
// @Tags         chat
// @Accept       json
// @Produce      json
// @Produce      text/event-stream
// @Param        request  body      openai.ChatCompletionRequest  true  "OpenAI chat completion request"
// @Success      200      {object}  openai.ChatCompletionResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      409      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Router       /v1/chat/completions [post]
func (h *handlers) chatCompletions(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := types.ValidateChatRequest(req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	lvl := requestLogLevel(r, h.cfg.VerboseLogs)
	start := time.Now()
	if lvl >= LevelInfo {
		l := reqLog(r)
		l.Info().Str("model", req.Model).Bool("stream", req.Stream).Int("messages", len(req.Messages)).Msg("chat completion start")
	}

	if !h.cfg.RequestQueuing {
		st, err := h.backend.Status(r.Context())
		if err == nil && st.Busy {
			IncrementBackpressure("busy")
			observeChat(req.Stream, http.StatusTooManyRequests)
			writeJSONError(w, http.StatusTooManyRequests, "a completion is already running")
			logEnd(r, lvl, http.StatusTooManyRequests, start, nil)
			return
		}
	}
	if !h.cfg.ApplyPromptFormatting {
		req.Messages = flatten(req.Messages)
	}

	ctx, cancel := requestContext(r)
	defer cancel()

	if req.Stream {
		status, err := h.stream(ctx, w, r, req, lvl)
		observeChat(true, status)
		logEnd(r, lvl, status, start, err)
		return
	}

	var final types.ChatResponse
	err := h.backend.Chat(ctx, req, func(item types.ChatResponse) { final = item })
	if err == nil && final.Final == nil {
		err = fmt.Errorf("completion ended without a result")
	}
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		status := statusFor(err)
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("queue_full")
		}
		observeChat(false, status)
		writeJSONError(w, status, err.Error())
		logEnd(r, lvl, status, start, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(final.Final)
	observeChat(false, http.StatusOK)
	logEnd(r, lvl, http.StatusOK, start, nil)
}

// stream writes each item as an SSE data line. Headers are held back until
// the first item so an early failure still gets a JSON error and status.
func (h *handlers) stream(ctx context.Context, w http.ResponseWriter, r *http.Request, req types.ChatRequest, lvl LogLevel) (int, error) {
	var out io.Writer = w
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &lineLogger{log: reqLog(r)})
	}
	flusher, _ := w.(http.Flusher)
	started := false
	begin := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
	}
	event := func(v any) {
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(out, "data: %s\n\n", b)
		if flusher != nil {
			flusher.Flush()
		}
	}

	err := h.backend.Chat(ctx, req, func(item types.ChatResponse) {
		begin()
		event(item)
	})
	switch {
	case err == nil:
		begin()
		_, _ = io.WriteString(out, "data: [DONE]\n\n")
		if flusher != nil {
			flusher.Flush()
		}
		return http.StatusOK, nil
	case started:
		// Too late for a status code: report in-band and end the stream.
		event(types.ErrorResponse{Error: err.Error(), Code: statusFor(err)})
		return http.StatusOK, err
	case r.Context().Err() != nil:
		return 499, err
	}
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure("queue_full")
	}
	writeJSONError(w, status, err.Error())
	return status, err
}

// flatten folds a conversation into one user message of raw text for
// clients that format their own prompts.
func flatten(msgs []types.ChatMessage) []types.ChatMessage {
	if len(msgs) <= 1 {
		return msgs
	}
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(m.Content)
	}
	return []types.ChatMessage{{Role: openai.ChatMessageRoleUser, Content: b.String()}}
}

type modelList struct {
	Object string         `json:"object"`
	Data   []openai.Model `json:"data"`
}

// models godoc
// @Summary  List downloaded models
// @Tags     models
// @Produce  json
// @Success  200  {object}  modelList
// @Router   /v1/models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	files, err := h.backend.Downloaded(r.Context())
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	out := modelList{Object: "list", Data: make([]openai.Model, 0, len(files))}
	for _, f := range files {
		owner := f.Model.Author.Name
		if owner == "" {
			owner = f.Model.ID
		}
		out.Data = append(out.Data, openai.Model{
			ID:        f.File.ID,
			Object:    "model",
			CreatedAt: f.DownloadedAt.Unix(),
			OwnedBy:   owner,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// readyz godoc
// @Summary  Readiness: 200 once a model is loaded
// @Tags     health
// @Success  200  {string}  string  "ready"
// @Failure  503  {string}  string  "no model loaded"
// @Router   /readyz [get]
func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.Status(r.Context())
	if err == nil && st.LoadedFileID != "" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("no model loaded"))
}
