package types

// GPULayers is the number of layers offloaded to the GPU. GPULayersMax offloads all
// of them; zero keeps the model on the CPU.
type GPULayers int

const GPULayersMax GPULayers = -1

// ContextOverflowPolicy decides what happens when a conversation exceeds the context window.
type ContextOverflowPolicy string

const (
	OverflowStopAtLimit          ContextOverflowPolicy = "stop_at_limit"
	OverflowTruncateMiddle       ContextOverflowPolicy = "truncate_middle"
	OverflowTruncatePastMessages ContextOverflowPolicy = "truncate_past_messages"
)

// LoadModelOptions tunes the sandboxed runtime for a loaded model.
type LoadModelOptions struct {
	// Overrides the template stored with the file.
	// example: chatml
	PromptTemplate string `json:"prompt_template,omitempty" example:"chatml"`
	ReversePrompt  string `json:"reverse_prompt,omitempty"`
	// -1 offloads every layer. The zero value offloads none, so callers
	// wanting the GPU must set GPULayersMax or a count.
	// example: -1
	GPULayers GPULayers `json:"gpu_layers" example:"-1"`
	UseMlock  bool      `json:"use_mlock,omitempty"`
	// Batch size; 0 uses the runtime default.
	// example: 128
	NBatch int `json:"n_batch,omitempty" example:"128"`
	// Context size; 0 uses the file's context size.
	// example: 4096
	NCtx                  int                   `json:"n_ctx,omitempty" example:"4096"`
	RopeFreqScale         float64               `json:"rope_freq_scale,omitempty"`
	RopeFreqBase          float64               `json:"rope_freq_base,omitempty"`
	ContextOverflowPolicy ContextOverflowPolicy `json:"context_overflow_policy,omitempty" example:"stop_at_limit"`
}

// LoadModelResponse is the single reply to a successful LoadModel.
type LoadModelResponse struct {
	FileID  string `json:"file_id"`
	ModelID string `json:"model_id"`
	// Port of the local server when it is running, else 0.
	ListenPort  int    `json:"listen_port,omitempty"`
	Information string `json:"information,omitempty"`
}

// FileDownloadResponse is one item of a download's reply stream.
// Completed is nil for progress updates.
type FileDownloadResponse struct {
	FileID    string          `json:"file_id"`
	Progress  float64         `json:"progress"`
	Completed *DownloadedFile `json:"completed,omitempty"`
}

// LocalServerConfig configures the OpenAI-compatible HTTP server.
type LocalServerConfig struct {
	// example: 8000
	Port           int  `json:"port" example:"8000"`
	CORS           bool `json:"cors"`
	RequestQueuing bool `json:"request_queuing"`
	VerboseLogs    bool `json:"verbose_server_logs"`
	// Apply the loaded model's prompt template to incoming messages.
	ApplyPromptFormatting bool `json:"apply_prompt_formatting"`
}

// LocalServerResponse reports where the local server listens.
type LocalServerResponse struct {
	Port int `json:"port"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// example: model not loaded
	Error string `json:"error" example:"model not loaded"`
	// example: 409
	Code int `json:"code" example:"409"`
}
