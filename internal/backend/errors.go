package backend

import (
	"errors"

	"chatd/internal/bridge"
	"chatd/internal/catalog"
	"chatd/internal/store"
	"chatd/pkg/types"
)

// ErrBackendStopped is returned by Client calls once Run has returned.
var ErrBackendStopped = errors.New("backend stopped")

// ErrDownloadStopped is returned by Client.Download when the stream ends
// because the download was paused or cancelled.
var ErrDownloadStopped = errors.New("download stopped")

type fileNotFoundError struct{ id string }

func (e fileNotFoundError) Error() string { return "file not found: " + e.id }

func ErrFileNotFound(id string) error { return fileNotFoundError{id: id} }

// IsFileNotFound reports whether err names an unknown or missing file.
func IsFileNotFound(err error) bool {
	var e fileNotFoundError
	return errors.As(err, &e)
}

type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether err names a model missing from the catalog.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

type invalidFileIDError struct{ id string }

func (e invalidFileIDError) Error() string { return "invalid file id: " + e.id }

func ErrInvalidFileID(id string) error { return invalidFileIDError{id: id} }

func IsInvalidFileID(err error) bool {
	var e invalidFileIDError
	return errors.As(err, &e)
}

type modelNotLoadedError struct{}

func (modelNotLoadedError) Error() string { return "model not loaded" }

func ErrModelNotLoaded() error { return modelNotLoadedError{} }

func IsModelNotLoaded(err error) bool {
	var e modelNotLoadedError
	return errors.As(err, &e)
}

type serverNotRunningError struct{}

func (serverNotRunningError) Error() string { return "local server not running" }

func ErrServerNotRunning() error { return serverNotRunningError{} }

func IsServerNotRunning(err error) bool {
	var e serverNotRunningError
	return errors.As(err, &e)
}

// tooBusyError signals that a completion cannot be queued (429).
type tooBusyError struct{ fileID string }

func (e tooBusyError) Error() string { return "too busy: " + e.fileID }

func ErrTooBusy(fileID string) error { return tooBusyError{fileID: fileID} }

// IsTooBusy reports whether err indicates backpressure.
func IsTooBusy(err error) bool {
	var e tooBusyError
	return errors.As(err, &e) || errors.Is(err, bridge.ErrQueueFull)
}

// resolveError turns catalog and store lookup failures into typed errors.
func resolveError(err error, fileID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, catalog.ErrInvalidFileID):
		return ErrInvalidFileID(fileID)
	case errors.Is(err, catalog.ErrModelNotFound):
		modelID, _, _ := types.SplitFileID(fileID)
		return ErrModelNotFound(modelID)
	case errors.Is(err, catalog.ErrFileNotFound), errors.Is(err, store.ErrNotFound):
		return ErrFileNotFound(fileID)
	}
	return err
}
