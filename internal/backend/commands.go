package backend

import (
	"chatd/internal/bridge"
	"chatd/internal/download"
	"chatd/pkg/types"
)

// Command is a request to the dispatcher. Reply channels of single-reply
// commands must have room for one item. Stream replies (DownloadFile, Chat)
// are closed after the last item; they should be buffered too, since an
// early failure is sent from the dispatcher itself.
type Command interface{ command() }

type GetFeaturedModels struct {
	Reply chan<- types.Result[[]types.Model]
}

type SearchModels struct {
	Query string
	Reply chan<- types.Result[[]types.Model]
}

// DownloadFile starts or resumes a download. Reply carries progress items
// followed by Completed or an error. A stream closed without either means
// the download was paused or cancelled.
type DownloadFile struct {
	FileID string
	Reply  chan<- types.Result[types.FileDownloadResponse]
}

type PauseDownload struct {
	FileID string
	Reply  chan<- types.Result[types.Empty]
}

type CancelDownload struct {
	FileID string
	Reply  chan<- types.Result[types.Empty]
}

// DeleteFile removes a downloaded artifact and its row.
type DeleteFile struct {
	FileID string
	Reply  chan<- types.Result[types.Empty]
}

type GetCurrentDownloads struct {
	Reply chan<- types.Result[[]types.PendingDownload]
}

type GetDownloadedFiles struct {
	Reply chan<- types.Result[[]types.DownloadedFile]
}

// LoadModel replies once the model is ready for its first request.
type LoadModel struct {
	FileID  string
	Options types.LoadModelOptions
	Reply   chan<- types.Result[types.LoadModelResponse]
}

type EjectModel struct {
	Reply chan<- types.Result[types.Empty]
}

// Chat streams the completion for Request. A non-streaming request gets a
// single final item.
type Chat struct {
	Request types.ChatRequest
	Reply   chan<- types.Result[types.ChatResponse]
}

type StopChatCompletion struct {
	Reply chan<- types.Result[types.Empty]
}

type StartLocalServer struct {
	Config types.LocalServerConfig
	Reply  chan<- types.Result[types.LocalServerResponse]
}

type StopLocalServer struct {
	Reply chan<- types.Result[types.Empty]
}

// ChangeModelsDir sets where new downloads are stored.
type ChangeModelsDir struct {
	Dir   string
	Reply chan<- types.Result[types.Empty]
}

// GetStatus reports the dispatcher's live state.
type GetStatus struct {
	Reply chan<- types.Result[Status]
}

// Status is the reply to GetStatus.
type Status struct {
	LoadedFileID string `json:"loaded_file_id,omitempty"`
	// Busy is set while a completion is queued or generating.
	Busy            bool   `json:"busy"`
	ActiveDownloads int    `json:"active_downloads"`
	ServerPort      int    `json:"server_port,omitempty"`
	ModelsDir       string `json:"models_dir"`
}

func (GetFeaturedModels) command()   {}
func (SearchModels) command()        {}
func (DownloadFile) command()        {}
func (PauseDownload) command()       {}
func (CancelDownload) command()      {}
func (DeleteFile) command()          {}
func (GetCurrentDownloads) command() {}
func (GetDownloadedFiles) command()  {}
func (LoadModel) command()           {}
func (EjectModel) command()          {}
func (Chat) command()                {}
func (StopChatCompletion) command()  {}
func (StartLocalServer) command()    {}
func (StopLocalServer) command()     {}
func (ChangeModelsDir) command()     {}
func (GetStatus) command()           {}

// Internal commands posted back to the loop by helper goroutines.

type downloadDone struct {
	fileID  string
	control chan download.Stop
	outcome download.Outcome
}

type bridgeExited struct {
	handle *bridge.Handle
}

type serverStopped struct {
	server LocalServer
}

func (downloadDone) command()  {}
func (bridgeExited) command()  {}
func (serverStopped) command() {}
