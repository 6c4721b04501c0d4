package types

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

// ChatRequest is an OpenAI-compatible chat completion request.
type ChatRequest = openai.ChatCompletionRequest

// ChatMessage is one entry of ChatRequest.Messages.
type ChatMessage = openai.ChatCompletionMessage

// ChatResponse is one item of a chat reply stream: either a single final
// completion (non-streaming requests) or an incremental chunk.
type ChatResponse struct {
	Final *openai.ChatCompletionResponse
	Chunk *openai.ChatCompletionStreamResponse
}

// FinishReason returns the terminal reason, or "" while the stream continues.
func (r ChatResponse) FinishReason() openai.FinishReason {
	switch {
	case r.Final != nil && len(r.Final.Choices) > 0:
		return r.Final.Choices[0].FinishReason
	case r.Chunk != nil && len(r.Chunk.Choices) > 0:
		return r.Chunk.Choices[0].FinishReason
	}
	return ""
}

// Terminal reports whether no further items follow this one.
func (r ChatResponse) Terminal() bool {
	return r.Final != nil || r.FinishReason() != ""
}

// Text returns the message or delta content carried by the item.
func (r ChatResponse) Text() string {
	switch {
	case r.Final != nil && len(r.Final.Choices) > 0:
		return r.Final.Choices[0].Message.Content
	case r.Chunk != nil && len(r.Chunk.Choices) > 0:
		return r.Chunk.Choices[0].Delta.Content
	}
	return ""
}

func (r ChatResponse) MarshalJSON() ([]byte, error) {
	if r.Final != nil {
		return json.Marshal(r.Final)
	}
	return json.Marshal(r.Chunk)
}

// chatEnvelope mirrors the parts of a ChatRequest the backend depends on.
type chatEnvelope struct {
	Messages    []chatEnvelopeMessage `validate:"required,min=1,max=1024,dive"`
	MaxTokens   int                   `validate:"gte=0"`
	Temperature float32               `validate:"gte=0,lte=2"`
	TopP        float32               `validate:"gte=0,lte=1"`
	N           int                   `validate:"lte=1"`
}

type chatEnvelopeMessage struct {
	Role    string `validate:"required,oneof=system user assistant tool developer"`
	Content string `validate:"max=1048576"`
}

var chatValidate = validator.New()

// ValidateChatRequest checks a request before it reaches a loaded model.
func ValidateChatRequest(req ChatRequest) error {
	env := chatEnvelope{
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		N:           req.N,
	}
	for _, m := range req.Messages {
		env.Messages = append(env.Messages, chatEnvelopeMessage{Role: m.Role, Content: m.Content})
	}
	if err := chatValidate.Struct(env); err != nil {
		return fmt.Errorf("invalid chat request: %w", err)
	}
	return nil
}
