package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"chatd/internal/backend"
)

func newDownloadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "download <file-id>",
		Short: "Download a model file, resuming a paused transfer",
		Long:  "Downloads <model id>#<file name>. Ctrl+C pauses; running the command again resumes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				out := cmd.ErrOrStderr()
				f, err := a.client.Download(ctx, id, func(pct float64) {
					fmt.Fprintf(out, "\r%s %5.1f%%", progressBar(pct, 30), pct)
				})
				fmt.Fprintln(out)
				switch {
				case errors.Is(err, context.Canceled), errors.Is(err, backend.ErrDownloadStopped):
					fmt.Fprintf(out, "%s paused; run the command again to resume\n", id)
					return nil
				case err != nil:
					return err
				}
				if c.jsonOut {
					return printJSON(cmd.OutOrStdout(), f)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", f.File.ID, f.File.DownloadedPath)
				return nil
			})
		},
	}
}

func newFilesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "List downloaded files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				files, err := a.client.Downloaded(ctx)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(cmd.OutOrStdout(), files)
				}
				return printDownloaded(cmd.OutOrStdout(), files)
			})
		},
	}
}

func newPendingCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List unfinished downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				pending, err := a.client.Pending(ctx)
				if err != nil {
					return err
				}
				if c.jsonOut {
					return printJSON(cmd.OutOrStdout(), pending)
				}
				return printPending(cmd.OutOrStdout(), pending)
			})
		},
	}
}

func newCancelCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <file-id>",
		Short: "Discard a paused download and its partial file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return a.client.Cancel(ctx, args[0])
			})
		},
	}
}

func newRemoveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <file-id>",
		Short: "Delete a downloaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				return a.client.Delete(ctx, args[0])
			})
		},
	}
}
