package types

// Result carries either a value or an error across a reply channel.
type Result[T any] struct {
	Value T
	Err   error
}

func Ok[T any](v T) Result[T] { return Result[T]{Value: v} }

func Fail[T any](err error) Result[T] { return Result[T]{Err: err} }

// Empty is the value type of replies that carry no data.
type Empty = struct{}
