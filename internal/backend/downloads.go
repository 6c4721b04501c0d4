package backend

import (
	"context"
	"fmt"

	"chatd/internal/catalog"
	"chatd/internal/common/fsutil"
	"chatd/internal/download"
	"chatd/internal/store"
	"chatd/pkg/types"
)

func (b *Backend) downloadFile(c DownloadFile) {
	id := c.FileID
	if _, _, ok := types.SplitFileID(id); !ok {
		fail(c.Reply, ErrInvalidFileID(id))
		return
	}
	if _, ok := b.controls[id]; ok {
		// The worker may have just exited with its notice still queued.
		b.settle()
	}
	if _, ok := b.controls[id]; ok {
		fail(c.Reply, fmt.Errorf("download already in progress: %s", id))
		return
	}
	if f, err := b.store.GetDownloadedFile(id); err == nil && fsutil.Exists(f.Path()) {
		c.Reply <- types.Ok(types.FileDownloadResponse{FileID: id, Progress: 100, Completed: &f})
		close(c.Reply)
		return
	}

	// Registered before resolution so pause and cancel reach the job even
	// while the catalog is still being asked.
	control := make(chan download.Stop, 1)
	b.controls[id] = control
	dir := b.modelsDir
	ctx := b.ctx
	go func() {
		pf, err := b.pendingFor(ctx, id, dir)
		if err == nil {
			b.events.Publish(Event{Name: EventDownloadStarted, FileID: id, Fields: map[string]any{"resumed_at": pf.Progress}})
			err = b.pool.Enqueue(download.Job{
				Pending: pf,
				Reply:   c.Reply,
				Control: control,
				OnExit: func(fileID string, o download.Outcome) {
					b.post(downloadDone{fileID: fileID, control: control, outcome: o})
				},
			})
		}
		if err != nil {
			zlog.Warn().Err(err).Str("file_id", id).Msg("download not started")
			b.post(downloadDone{fileID: id, control: control, outcome: download.OutcomeFailed})
			fail(c.Reply, err)
		}
	}()
}

// pendingFor resumes from the stored snapshot when one exists and otherwise
// resolves the file against the catalog.
func (b *Backend) pendingFor(ctx context.Context, id, dir string) (store.PendingFile, error) {
	pf, err := b.store.GetPending(id)
	if err == nil {
		return pf, nil
	}
	if !isNotFound(err) {
		return store.PendingFile{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()
	m, f, err := catalog.Resolve(ctx, b.catalog, id)
	if err != nil {
		return store.PendingFile{}, resolveError(err, id)
	}
	if err := b.store.SaveModel(m); err != nil {
		zlog.Warn().Err(err).Str("model_id", m.ID).Msg("cache model")
	}
	return store.NewPendingFile(m, f, dir), nil
}

func (b *Backend) onDownloadDone(c downloadDone) {
	if b.controls[c.fileID] == c.control {
		delete(b.controls, c.fileID)
	}
	// A cancel acknowledged after the worker's last look at its control
	// channel is still queued there.
	select {
	case s := <-c.control:
		if s == download.StopCancel && c.outcome != download.OutcomeCancelled {
			b.discardDownload(c.fileID)
			c.outcome = download.OutcomeCancelled
		}
	default:
	}
	name := EventDownloadStopped
	switch c.outcome {
	case download.OutcomeCompleted:
		name = EventDownloadCompleted
	case download.OutcomeFailed:
		name = EventDownloadFailed
	}
	zlog.Info().Str("file_id", c.fileID).Str("status", string(c.outcome)).Msg("download finished")
	b.events.Publish(Event{Name: name, FileID: c.fileID, Fields: map[string]any{"outcome": string(c.outcome)}})
}

// discardDownload removes every trace of a file: both rows and the artifact
// or partial file.
func (b *Backend) discardDownload(id string) {
	log := zlog.With().Str("file_id", id).Logger()
	if b.model != nil && b.model.FileID() == id {
		b.eject()
	}
	if f, err := b.store.GetDownloadedFile(id); err == nil {
		if err := fsutil.RemoveIfExists(f.Path(), f.DownloadDir); err != nil {
			log.Warn().Err(err).Msg("remove artifact")
		}
		if err := b.store.DeleteDownloadedFile(id); err != nil {
			log.Error().Err(err).Msg("delete downloaded row")
		}
	}
	if pf, err := b.store.GetPending(id); err == nil {
		if err := fsutil.RemoveIfExists(pf.Path(), pf.DownloadDir); err != nil {
			log.Warn().Err(err).Msg("remove partial file")
		}
		if err := b.store.DeletePending(id); err != nil {
			log.Error().Err(err).Msg("delete pending row")
		}
	}
}

func (b *Backend) pauseDownload(c PauseDownload) {
	if control, ok := b.controls[c.FileID]; ok {
		select {
		case control <- download.StopPause:
		default:
		}
		reply(c.Reply, types.Empty{}, nil)
		return
	}
	pf, err := b.store.GetPending(c.FileID)
	if err == nil && pf.Status.Active() {
		err = b.store.SetPendingStatus(c.FileID, types.PendingPaused, "")
	}
	if isNotFound(err) {
		err = nil
	}
	reply(c.Reply, types.Empty{}, err)
}

// cancelDownload signals an in-flight worker, which removes the row and the
// partial file itself. Otherwise both are removed here.
func (b *Backend) cancelDownload(c CancelDownload) {
	if control, ok := b.controls[c.FileID]; ok {
		// The loop is the only sender, so a queued pause can be swapped out.
		select {
		case <-control:
		default:
		}
		control <- download.StopCancel
		reply(c.Reply, types.Empty{}, nil)
		return
	}
	pf, err := b.store.GetPending(c.FileID)
	switch {
	case isNotFound(err):
		reply(c.Reply, types.Empty{}, nil)
		return
	case err != nil:
		reply(c.Reply, types.Empty{}, err)
		return
	}
	if err := b.store.DeletePending(c.FileID); err != nil {
		reply(c.Reply, types.Empty{}, err)
		return
	}
	if err := fsutil.RemoveIfExists(pf.Path(), pf.DownloadDir); err != nil {
		zlog.Warn().Err(err).Str("file_id", c.FileID).Msg("remove partial file")
	}
	b.events.Publish(Event{Name: EventDownloadStopped, FileID: c.FileID, Fields: map[string]any{"outcome": string(download.OutcomeCancelled)}})
	reply(c.Reply, types.Empty{}, nil)
}

// deleteFile removes a completed artifact, ejecting it first if loaded.
func (b *Backend) deleteFile(c DeleteFile) {
	f, err := b.store.GetDownloadedFile(c.FileID)
	if err != nil {
		reply(c.Reply, types.Empty{}, resolveError(err, c.FileID))
		return
	}
	if b.model != nil && b.model.FileID() == c.FileID {
		b.eject()
	}
	if err := fsutil.RemoveIfExists(f.Path(), f.DownloadDir); err != nil {
		zlog.Warn().Err(err).Str("file_id", c.FileID).Msg("remove artifact")
	}
	reply(c.Reply, types.Empty{}, b.store.DeleteDownloadedFile(c.FileID))
}

func (b *Backend) currentDownloads(c GetCurrentDownloads) {
	pending, err := b.store.ListPending()
	reply(c.Reply, pending, err)
}

func (b *Backend) downloadedFiles(c GetDownloadedFiles) {
	files, err := b.store.ListDownloadedFiles()
	reply(c.Reply, files, err)
}
