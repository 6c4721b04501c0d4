package types

import (
	"path/filepath"
	"strings"
	"time"
)

// fileIDSep joins a model id and a file name into a FileID.
const fileIDSep = "#"

// NewFileID builds the composite identifier of a model artifact.
func NewFileID(modelID, name string) string { return modelID + fileIDSep + name }

// SplitFileID splits a composite file id into its model id and file name.
// ok is false when either part is missing.
func SplitFileID(id string) (modelID, name string, ok bool) {
	modelID, name, ok = strings.Cut(id, fileIDSep)
	if !ok || modelID == "" || name == "" {
		return "", "", false
	}
	return modelID, name, true
}

// Author describes who published a catalog model.
type Author struct {
	Name        string `json:"name" example:"TheBloke"`
	URL         string `json:"url" example:"https://huggingface.co/TheBloke"`
	Description string `json:"description"`
}

// Model is a catalog entry. Immutable once fetched; cached in the store.
type Model struct {
	// Catalog identifier, usually "<org>/<repo>".
	// example: TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF
	ID      string `json:"id" example:"TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF"`
	Name    string `json:"name" example:"TinyLlama Chat"`
	Summary string `json:"summary"`
	// Human readable size class.
	// example: 1.1B params
	Size         string `json:"size" example:"1.1B params"`
	Requires     string `json:"requires" example:"4GB+ RAM"`
	Architecture string `json:"architecture" example:"llama"`
	ReleasedAt   time.Time `json:"released_at"`
	Files        []File    `json:"files"`
	// Prompt template applied by the sandboxed runtime (e.g., chatml, llama-2-chat).
	PromptTemplate string             `json:"prompt_template,omitempty" example:"chatml"`
	ReversePrompt  string             `json:"reverse_prompt,omitempty" example:"<|im_end|>"`
	ContextSize    int                `json:"context_size,omitempty" example:"2048"`
	Author         Author             `json:"author"`
	LikeCount      int                `json:"like_count"`
	DownloadCount  int                `json:"download_count"`
	Metrics        map[string]float32 `json:"metrics,omitempty"`
}

// File is a concrete artifact belonging to a Model.
type File struct {
	// Composite id "<model id>#<file name>".
	ID           string `json:"id" example:"TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF#tinyllama.Q4_K_M.gguf"`
	Name         string `json:"name" example:"tinyllama.Q4_K_M.gguf"`
	Size         string `json:"size" example:"668788096"`
	Quantization string `json:"quantization" example:"Q4_K_M"`
	// True when a completed download exists in the store.
	Downloaded     bool     `json:"downloaded"`
	DownloadedPath string   `json:"downloaded_path,omitempty"`
	Tags           []string `json:"tags"`
	Featured       bool     `json:"featured"`
	SHA256         string   `json:"sha256,omitempty"`
}

// DownloadedFile is a completed artifact on disk together with its model.
type DownloadedFile struct {
	File           File      `json:"file"`
	Model          Model     `json:"model"`
	DownloadedAt   time.Time `json:"downloaded_at"`
	PromptTemplate string    `json:"prompt_template,omitempty"`
	ReversePrompt  string    `json:"reverse_prompt,omitempty"`
	ContextSize    int       `json:"context_size"`
	// Byte size reported by the remote at download time.
	FileSize    int64  `json:"file_size"`
	DownloadDir string `json:"download_dir"`
	Information string `json:"information,omitempty"`
}

// Path returns the on-disk location of the artifact.
func (f DownloadedFile) Path() string {
	if f.File.DownloadedPath != "" {
		return f.File.DownloadedPath
	}
	return ArtifactPath(f.DownloadDir, f.Model.ID, f.File.Name)
}

// ArtifactPath returns the on-disk location dir/modelID/name.
func ArtifactPath(dir, modelID, name string) string {
	return filepath.Join(dir, modelID, name)
}

// PendingStatus is the persisted state of an unfinished download.
type PendingStatus string

const (
	PendingInitializing PendingStatus = "initializing"
	PendingDownloading  PendingStatus = "downloading"
	PendingPaused       PendingStatus = "paused"
	PendingError        PendingStatus = "error"
)

// Active reports whether a worker may currently own the download.
func (s PendingStatus) Active() bool {
	return s == PendingInitializing || s == PendingDownloading
}

// PendingDownload is an in-progress or recoverable transfer.
type PendingDownload struct {
	File  File  `json:"file"`
	Model Model `json:"model"`
	// Percent in [0, 100].
	// example: 42.5
	Progress  float64       `json:"progress" example:"42.5"`
	Status    PendingStatus `json:"status" example:"paused"`
	LastError string        `json:"last_error,omitempty"`
}
