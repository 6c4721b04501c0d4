package backend

import (
	"errors"
	"fmt"

	"chatd/internal/bridge"
	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

var errNoRuntime = errors.New("no chat runtime configured")

func (b *Backend) loadModel(c LoadModel) {
	if b.runtime == nil {
		reply(c.Reply, types.LoadModelResponse{}, errNoRuntime)
		return
	}
	f, err := b.store.GetDownloadedFile(c.FileID)
	if err != nil {
		reply(c.Reply, types.LoadModelResponse{}, resolveError(err, c.FileID))
		return
	}
	if !fsutil.Exists(f.Path()) {
		b.events.Publish(Event{Name: EventFileMissing, FileID: c.FileID, Fields: map[string]any{"path": f.Path()}})
		reply(c.Reply, types.LoadModelResponse{}, ErrFileNotFound(c.FileID))
		return
	}
	if h := b.model; h != nil && h.FileID() == c.FileID && alive(h) {
		reply(c.Reply, types.LoadModelResponse{FileID: f.File.ID, ModelID: f.Model.ID, ListenPort: b.serverPort()}, nil)
		return
	}
	// At most one bridge: the old one is joined before the new one starts.
	b.eject()

	loaded := make(chan types.Result[types.LoadModelResponse], 1)
	h := bridge.Start(b.ctx, b.runtime, bridge.Options{
		File:       f,
		Load:       c.Options,
		Reply:      loaded,
		QueueDepth: b.cfg.ChatQueueDepth,
	})
	b.model = h
	zlog.Info().Str("file_id", c.FileID).Msg("loading model")

	port := b.serverPort()
	go func() {
		r, ok := <-loaded
		if !ok {
			r = types.Fail[types.LoadModelResponse](bridge.ErrExitedBeforeReady)
		}
		if r.Err != nil {
			zlog.Error().Err(r.Err).Str("file_id", c.FileID).Msg("model load failed")
			b.events.Publish(Event{Name: EventModelLoadFailed, FileID: c.FileID, Fields: map[string]any{"error": r.Err.Error()}})
		} else {
			r.Value.ListenPort = port
			b.events.Publish(Event{Name: EventModelLoaded, FileID: c.FileID})
		}
		if c.Reply != nil {
			c.Reply <- r
		}
	}()
	go func() {
		<-h.Done()
		b.post(bridgeExited{handle: h})
	}()
}

func (b *Backend) onBridgeExited(c bridgeExited) {
	if b.model != c.handle {
		return
	}
	b.model = nil
	if err := c.handle.Err(); err != nil {
		zlog.Warn().Err(err).Str("file_id", c.handle.FileID()).Msg("chat module exited")
	} else {
		zlog.Info().Str("file_id", c.handle.FileID()).Msg("chat module exited")
	}
}

func (b *Backend) ejectModel(c EjectModel) {
	b.eject()
	reply(c.Reply, types.Empty{}, nil)
}

// eject stops and joins the loaded model, if any.
func (b *Backend) eject() {
	h := b.model
	if h == nil {
		return
	}
	b.model = nil
	h.Stop()
	zlog.Info().Str("file_id", h.FileID()).Msg("model ejected")
	b.events.Publish(Event{Name: EventModelEjected, FileID: h.FileID()})
}

func (b *Backend) chat(c Chat) {
	if err := types.ValidateChatRequest(c.Request); err != nil {
		fail(c.Reply, err)
		return
	}
	h := b.model
	if h == nil || !alive(h) {
		fail(c.Reply, ErrModelNotLoaded())
		return
	}
	if err := h.Chat(c.Request, c.Reply); err != nil {
		if errors.Is(err, bridge.ErrQueueFull) {
			err = fmt.Errorf("%w: %w", ErrTooBusy(h.FileID()), err)
		}
		fail(c.Reply, err)
	}
}

func (b *Backend) stopChat(c StopChatCompletion) {
	if b.model == nil {
		reply(c.Reply, types.Empty{}, ErrModelNotLoaded())
		return
	}
	b.model.StopCompletion()
	reply(c.Reply, types.Empty{}, nil)
}

func (b *Backend) status(c GetStatus) {
	s := Status{
		ActiveDownloads: len(b.controls),
		ServerPort:      b.serverPort(),
		ModelsDir:       b.modelsDir,
	}
	if h := b.model; h != nil && alive(h) {
		s.LoadedFileID = h.FileID()
		s.Busy = h.Busy()
	}
	reply(c.Reply, s, nil)
}

func alive(h *bridge.Handle) bool {
	select {
	case <-h.Done():
		return false
	default:
		return true
	}
}
