package bridge

import openai "github.com/sashabaranov/go-openai"

// TokenError is the code a module passes to return_token_error.
type TokenError int32

const (
	EndOfSequence TokenError = iota + 1
	ContextFull
	PromptTooLong
	TooLarge
	InvalidEncoding
)

func (e TokenError) String() string {
	switch e {
	case EndOfSequence:
		return "end_of_sequence"
	case ContextFull:
		return "context_full"
	case PromptTooLong:
		return "prompt_too_long"
	case TooLarge:
		return "too_large"
	case InvalidEncoding:
		return "invalid_encoding"
	}
	return "other"
}

// FinishReason maps the code to the reason reported to the caller.
func (e TokenError) FinishReason() openai.FinishReason {
	switch e {
	case ContextFull, PromptTooLong, TooLarge:
		return openai.FinishReasonLength
	}
	return openai.FinishReasonStop
}
