package backend

// Event names.
const (
	EventDownloadStarted   = "download_started"
	EventDownloadStopped   = "download_stopped"
	EventDownloadCompleted = "download_completed"
	EventDownloadFailed    = "download_failed"
	EventModelLoaded       = "model_loaded"
	EventModelEjected      = "model_ejected"
	EventModelLoadFailed   = "model_load_failed"
	EventFileMissing       = "file_missing"
)

// Event is a backend lifecycle event: a name, the file it concerns and
// optional fields.
type Event struct {
	Name   string
	FileID string
	Fields map[string]any
}

// EventPublisher receives events. Publish is called from several goroutines
// and must not block or panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
