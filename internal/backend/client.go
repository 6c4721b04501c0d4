package backend

import (
	"context"

	"chatd/pkg/types"
)

// Client wraps the command channel with blocking calls.
type Client struct {
	cmds chan<- Command
	quit <-chan struct{}
}

func (c *Client) send(ctx context.Context, cmd Command) error {
	select {
	case c.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.quit:
		return ErrBackendStopped
	}
}

func call[T any](ctx context.Context, c *Client, mk func(chan<- types.Result[T]) Command) (T, error) {
	var zero T
	ch := make(chan types.Result[T], 1)
	if err := c.send(ctx, mk(ch)); err != nil {
		return zero, err
	}
	select {
	case r := <-ch:
		return r.Value, r.Err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.quit:
		return zero, ErrBackendStopped
	}
}

// drain discards what is left of an abandoned stream so its producer never blocks.
func drain[T any](ch chan types.Result[T]) {
	go func() {
		for range ch {
		}
	}()
}

func (c *Client) Featured(ctx context.Context) ([]types.Model, error) {
	return call(ctx, c, func(r chan<- types.Result[[]types.Model]) Command { return GetFeaturedModels{Reply: r} })
}

func (c *Client) Search(ctx context.Context, query string) ([]types.Model, error) {
	return call(ctx, c, func(r chan<- types.Result[[]types.Model]) Command { return SearchModels{Query: query, Reply: r} })
}

// Download starts or resumes fileID and blocks until it completes.
// onProgress, if set, sees each progress percentage. A paused or cancelled
// download returns ErrDownloadStopped.
func (c *Client) Download(ctx context.Context, fileID string, onProgress func(float64)) (types.DownloadedFile, error) {
	ch := make(chan types.Result[types.FileDownloadResponse], 16)
	if err := c.send(ctx, DownloadFile{FileID: fileID, Reply: ch}); err != nil {
		return types.DownloadedFile{}, err
	}
	for {
		select {
		case r, ok := <-ch:
			switch {
			case !ok:
				return types.DownloadedFile{}, ErrDownloadStopped
			case r.Err != nil:
				drain(ch)
				return types.DownloadedFile{}, r.Err
			case r.Value.Completed != nil:
				drain(ch)
				return *r.Value.Completed, nil
			}
			if onProgress != nil {
				onProgress(r.Value.Progress)
			}
		case <-ctx.Done():
			drain(ch)
			return types.DownloadedFile{}, ctx.Err()
		}
	}
}

func (c *Client) Pause(ctx context.Context, fileID string) error {
	_, err := call(ctx, c, func(r chan<- types.Result[types.Empty]) Command { return PauseDownload{FileID: fileID, Reply: r} })
	return err
}

func (c *Client) Cancel(ctx context.Context, fileID string) error {
	_, err := call(ctx, c, func(r chan<- types.Result[types.Empty]) Command { return CancelDownload{FileID: fileID, Reply: r} })
	return err
}

func (c *Client) Delete(ctx context.Context, fileID string) error {
	_, err := call(ctx, c, func(r chan<- types.Result[types.Empty]) Command { return DeleteFile{FileID: fileID, Reply: r} })
	return err
}

func (c *Client) Pending(ctx context.Context) ([]types.PendingDownload, error) {
	return call(ctx, c, func(r chan<- types.Result[[]types.PendingDownload]) Command { return GetCurrentDownloads{Reply: r} })
}

func (c *Client) Downloaded(ctx context.Context) ([]types.DownloadedFile, error) {
	return call(ctx, c, func(r chan<- types.Result[[]types.DownloadedFile]) Command { return GetDownloadedFiles{Reply: r} })
}

// Load blocks until the model is ready for its first request.
func (c *Client) Load(ctx context.Context, fileID string, o types.LoadModelOptions) (types.LoadModelResponse, error) {
	return call(ctx, c, func(r chan<- types.Result[types.LoadModelResponse]) Command {
		return LoadModel{FileID: fileID, Options: o, Reply: r}
	})
}

func (c *Client) Eject(ctx context.Context) error {
	_, err := call(ctx, c, func(r chan<- types.Result[types.Empty]) Command { return EjectModel{Reply: r} })
	return err
}

// Chat runs a completion, calling onItem for every item until the terminal
// one. If ctx ends after generation began, the completion is stopped.
func (c *Client) Chat(ctx context.Context, req types.ChatRequest, onItem func(types.ChatResponse)) error {
	ch := make(chan types.Result[types.ChatResponse], 32)
	if err := c.send(ctx, Chat{Request: req, Reply: ch}); err != nil {
		return err
	}
	started := false
	for {
		select {
		case r, ok := <-ch:
			if !ok {
				return nil
			}
			if r.Err != nil {
				drain(ch)
				return r.Err
			}
			started = true
			if onItem != nil {
				onItem(r.Value)
			}
		case <-ctx.Done():
			drain(ch)
			// Before the first item the request may still be queued behind
			// another one, which the stop flag would hit instead.
			if started {
				_ = c.StopChat(context.Background())
			}
			return ctx.Err()
		}
	}
}

// Complete runs a non-streaming completion and returns its single result.
func (c *Client) Complete(ctx context.Context, req types.ChatRequest) (types.ChatResponse, error) {
	req.Stream = false
	var out types.ChatResponse
	err := c.Chat(ctx, req, func(r types.ChatResponse) { out = r })
	return out, err
}

func (c *Client) StopChat(ctx context.Context) error {
	_, err := call(ctx, c, func(r chan<- types.Result[types.Empty]) Command { return StopChatCompletion{Reply: r} })
	return err
}

func (c *Client) StartServer(ctx context.Context, cfg types.LocalServerConfig) (types.LocalServerResponse, error) {
	return call(ctx, c, func(r chan<- types.Result[types.LocalServerResponse]) Command {
		return StartLocalServer{Config: cfg, Reply: r}
	})
}

func (c *Client) StopServer(ctx context.Context) error {
	_, err := call(ctx, c, func(r chan<- types.Result[types.Empty]) Command { return StopLocalServer{Reply: r} })
	return err
}

func (c *Client) ChangeModelsDir(ctx context.Context, dir string) error {
	_, err := call(ctx, c, func(r chan<- types.Result[types.Empty]) Command { return ChangeModelsDir{Dir: dir, Reply: r} })
	return err
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	return call(ctx, c, func(r chan<- types.Result[Status]) Command { return GetStatus{Reply: r} })
}
