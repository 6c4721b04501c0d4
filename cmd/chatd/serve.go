package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"chatd/pkg/types"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		port        int
		cors        bool
		corsOrigins string
		noQueue     bool
		verbose     bool
		raw         bool
		load        string
		gpuLayers   int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend and the local OpenAI-compatible server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if origins := splitCSV(corsOrigins); len(origins) > 0 {
				c.cfg.Server.CORSOrigins = origins
			}
			if !cmd.Flags().Changed("port") {
				p, err := addrPort(c.cfg.Server.Addr)
				if err != nil {
					return err
				}
				port = p
			}

			a, err := startApp(ctx, c.cfg, c.log)
			if err != nil {
				return err
			}
			defer a.close()

			if load != "" {
				resp, err := a.client.Load(ctx, load, types.LoadModelOptions{GPULayers: types.GPULayers(gpuLayers)})
				if err != nil {
					return fmt.Errorf("load %s: %w", load, err)
				}
				c.log.Info().Str("file_id", resp.FileID).Msg("model loaded")
			}

			srv, err := a.client.StartServer(ctx, types.LocalServerConfig{
				Port:                  port,
				CORS:                  cors || c.cfg.Server.CORS,
				RequestQueuing:        !noQueue && c.cfg.Server.Queuing(),
				VerboseLogs:           verbose || c.cfg.Server.VerboseLogs,
				ApplyPromptFormatting: !raw,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "listening on port %d (models dir: %s)\n", srv.Port, c.cfg.ModelsDir)

			<-ctx.Done()
			c.log.Info().Msg("shutting down")
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVarP(&port, "port", "p", 8000, "port to listen on (default: the port of server.addr)")
	f.BoolVar(&cors, "cors", false, "allow cross-origin requests")
	f.StringVar(&corsOrigins, "cors-origins", "", "comma separated allowed origins")
	f.BoolVar(&noQueue, "no-queue", false, "answer 429 instead of queuing while a completion runs")
	f.BoolVar(&verbose, "verbose-logs", false, "log every request and streamed line")
	f.BoolVar(&raw, "raw-prompt", false, "send message text without applying the prompt template")
	f.StringVar(&load, "load", "", "file id of a downloaded model to load at startup")
	f.IntVar(&gpuLayers, "gpu-layers", int(types.GPULayersMax), "layers to offload to the GPU (-1 for all)")
	return cmd
}

func addrPort(addr string) (int, error) {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, fmt.Errorf("server addr %q: %w", addr, err)
	}
	return strconv.Atoi(p)
}
