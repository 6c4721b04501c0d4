// Package config loads chatd settings from a yaml, json or toml file, with
// CHATD_* environment overrides and defaults for everything left unset.
package config

import (
	"path/filepath"
	"strconv"
	"time"

	"chatd/internal/common/fsutil"
)

// Defaults applied when corresponding Config fields are unset.
const (
	DefaultDataDir          = "~/.chatd"
	DefaultDownloadWorkers  = 3
	DefaultChunkBytes       = 64 << 10
	DefaultProgressInterval = 250 * time.Millisecond
	DefaultProgressStep     = 0.5
	DefaultCatalogURL       = "https://code.flows.network/webhook/DsbnEK45sK3NUzFUyZ9C/models"
	DefaultDownloadBaseURL  = "https://huggingface.co"
	DefaultServerAddr       = "127.0.0.1:8000"
	DefaultLogLevel         = "info"
)

// Config holds runtime parameters for the backend.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	DataDir          string        `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	ModelsDir        string        `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	DownloadWorkers  int           `json:"download_workers" yaml:"download_workers" toml:"download_workers" validate:"gte=1,lte=64"`
	ChunkBytes       int           `json:"download_chunk_bytes" yaml:"download_chunk_bytes" toml:"download_chunk_bytes" validate:"gte=1024"`
	ProgressInterval time.Duration `json:"progress_interval" yaml:"progress_interval" toml:"progress_interval"`
	ProgressStep     float64       `json:"progress_step" yaml:"progress_step" toml:"progress_step" validate:"gte=0,lte=100"`
	CatalogURL       string        `json:"catalog_url" yaml:"catalog_url" toml:"catalog_url" validate:"omitempty,url"`
	CatalogFile      string        `json:"catalog_file" yaml:"catalog_file" toml:"catalog_file"`
	DownloadBaseURL  string        `json:"download_base_url" yaml:"download_base_url" toml:"download_base_url" validate:"url"`
	HFToken          string        `json:"hf_token" yaml:"hf_token" toml:"hf_token"`
	ChatWasm         string        `json:"chat_wasm" yaml:"chat_wasm" toml:"chat_wasm"`
	LogLevel         string        `json:"log_level" yaml:"log_level" toml:"log_level" validate:"oneof=debug info warn error"`
	Server           ServerConfig  `json:"server" yaml:"server" toml:"server"`
}

// ServerConfig configures the local OpenAI-compatible server.
type ServerConfig struct {
	Addr           string   `json:"addr" yaml:"addr" toml:"addr" validate:"hostname_port"`
	CORS           bool     `json:"cors" yaml:"cors" toml:"cors"`
	CORSOrigins    []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	RequestQueuing *bool    `json:"request_queuing" yaml:"request_queuing" toml:"request_queuing"`
	VerboseLogs    bool     `json:"verbose_logs" yaml:"verbose_logs" toml:"verbose_logs"`
}

// Queuing reports whether chat requests wait for a busy model instead of failing fast.
func (s ServerConfig) Queuing() bool { return s.RequestQueuing == nil || *s.RequestQueuing }

// DBPath is the SQLite file inside the data dir.
func (c Config) DBPath() string { return filepath.Join(c.DataDir, "chatd.db") }

// ApplyDefaults fills unset fields and expands '~' in paths.
func (c *Config) ApplyDefaults() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	var err error
	if c.DataDir, err = fsutil.ExpandHome(c.DataDir); err != nil {
		return err
	}
	if c.ModelsDir == "" {
		c.ModelsDir = filepath.Join(c.DataDir, "models")
	}
	if c.ModelsDir, err = fsutil.ExpandHome(c.ModelsDir); err != nil {
		return err
	}
	if c.ChatWasm == "" {
		c.ChatWasm = filepath.Join(c.DataDir, "chat_ui.wasm")
	}
	if c.ChatWasm, err = fsutil.ExpandHome(c.ChatWasm); err != nil {
		return err
	}
	if c.CatalogFile, err = fsutil.ExpandHome(c.CatalogFile); err != nil {
		return err
	}
	if c.DownloadWorkers <= 0 {
		c.DownloadWorkers = DefaultDownloadWorkers
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = DefaultChunkBytes
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	if c.ProgressStep <= 0 {
		c.ProgressStep = DefaultProgressStep
	}
	if c.CatalogURL == "" && c.CatalogFile == "" {
		c.CatalogURL = DefaultCatalogURL
	}
	if c.DownloadBaseURL == "" {
		c.DownloadBaseURL = DefaultDownloadBaseURL
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	return nil
}

// ApplyEnv overrides fields from CHATD_* variables (and HF_TOKEN).
// lookup is os.LookupEnv outside tests.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CHATD_DATA_DIR", &c.DataDir)
	str("CHATD_MODELS_DIR", &c.ModelsDir)
	str("CHATD_CATALOG_URL", &c.CatalogURL)
	str("CHATD_CATALOG_FILE", &c.CatalogFile)
	str("CHATD_DOWNLOAD_BASE_URL", &c.DownloadBaseURL)
	str("CHATD_CHAT_WASM", &c.ChatWasm)
	str("CHATD_LOG_LEVEL", &c.LogLevel)
	str("CHATD_ADDR", &c.Server.Addr)
	str("HF_TOKEN", &c.HFToken)
	if v, ok := lookup("CHATD_DOWNLOAD_WORKERS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.DownloadWorkers = n
		}
	}
}
