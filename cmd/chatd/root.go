package main

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"chatd/internal/backend"
	"chatd/internal/bridge"
	"chatd/internal/config"
	"chatd/internal/download"
	"chatd/internal/httpapi"
	"chatd/internal/registry"
	"chatd/internal/store"
)

// cli carries state shared by every subcommand.
type cli struct {
	configPath string
	logLevel   string
	jsonOut    bool

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Local chat backend: model catalog, resumable downloads and sandboxed inference",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", os.Getenv("CHATD_CONFIG"), "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides the config)")
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCmd(c),
		newModelsCmd(c),
		newDownloadCmd(c),
		newFilesCmd(c),
		newPendingCmd(c),
		newCancelCmd(c),
		newRemoveCmd(c),
		newChatCmd(c),
	)
	return root
}

func (c *cli) init(stderr io.Writer) error {
	cfg, err := config.Resolve(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	c.cfg = cfg
	c.log = newLogger(stderr, cfg.LogLevel, isTerminal(stderr))
	backend.SetLogger(c.log)
	store.SetLogger(c.log)
	download.SetLogger(c.log)
	bridge.SetLogger(c.log)
	registry.SetLogger(c.log)
	httpapi.SetLogger(c.log)
	return nil
}

// newLogger writes JSON lines, or colored console output on a terminal.
func newLogger(w io.Writer, level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// splitCSV splits a comma separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
