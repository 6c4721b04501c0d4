package download

import (
	"net/http"
	"time"

	"chatd/internal/store"
	"chatd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultWorkers          = 3
	defaultChunkSize        = 64 << 10
	defaultProgressInterval = 250 * time.Millisecond
	defaultProgressStep     = 0.5
	defaultFinishThreshold  = 64 << 10
	defaultBaseURL          = "https://huggingface.co"
)

// Stop is the control message a worker polls between chunks.
type Stop int

const (
	// StopPause halts the transfer and keeps the partial file and row.
	StopPause Stop = iota + 1
	// StopCancel halts, then removes the row and the partial file. It never
	// persists progress, so it cannot resurrect a row the caller deleted.
	StopCancel
)

func (s Stop) String() string {
	switch s {
	case StopPause:
		return "pause"
	case StopCancel:
		return "cancel"
	}
	return "unknown"
}

// Outcome is how a job ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomePaused    Outcome = "paused"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "error"
)

// Job is one queued transfer. Reply receives progress updates and then
// either Completed or an error; it is closed when the worker is done with
// the job, so a stream that ends without a terminal item was stopped.
type Job struct {
	Pending store.PendingFile
	Reply   chan<- types.Result[types.FileDownloadResponse]
	Control <-chan Stop
	// OnExit, if set, runs just before Reply is closed.
	OnExit func(fileID string, o Outcome)
}

// Config tunes the pool.
type Config struct {
	Workers          int
	ChunkSize        int
	ProgressInterval time.Duration
	// Minimum progress delta, in percent, between progress replies.
	ProgressStep float64
	// A pause arriving with at most this many bytes left is ignored.
	// Zero uses the default, negative disables it.
	FinishThreshold int64
	BaseURL         string
	Token           string
	HTTPClient      *http.Client
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = defaultChunkSize
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = defaultProgressInterval
	}
	if c.ProgressStep <= 0 {
		c.ProgressStep = defaultProgressStep
	}
	if c.FinishThreshold < 0 {
		c.FinishThreshold = 0
	} else if c.FinishThreshold == 0 {
		c.FinishThreshold = defaultFinishThreshold
	}
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.HTTPClient == nil {
		// No overall timeout: a stalled read only occupies one worker and
		// pause/cancel is the external interrupt.
		c.HTTPClient = &http.Client{}
	}
	return c
}
