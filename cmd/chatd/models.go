package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"chatd/pkg/types"
)

func newModelsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Browse the model catalog",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "featured",
		Short: "List featured models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.listModels(cmd, func(ctx context.Context, a *app) ([]types.Model, error) {
				return a.client.Featured(ctx)
			})
		},
	}, &cobra.Command{
		Use:   "search <text>...",
		Short: "Search the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := strings.Join(args, " ")
			return c.listModels(cmd, func(ctx context.Context, a *app) ([]types.Model, error) {
				return a.client.Search(ctx, q)
			})
		},
	})
	return cmd
}

func (c *cli) listModels(cmd *cobra.Command, fetch func(context.Context, *app) ([]types.Model, error)) error {
	return c.withApp(cmd, func(ctx context.Context, a *app) error {
		models, err := fetch(ctx, a)
		if err != nil {
			return err
		}
		if c.jsonOut {
			return printJSON(cmd.OutOrStdout(), models)
		}
		return printModels(cmd.OutOrStdout(), models)
	})
}

// withApp runs fn against a backend that lives for the duration of the call.
func (c *cli) withApp(cmd *cobra.Command, fn func(context.Context, *app) error) (err error) {
	ctx := cmd.Context()
	a, err := startApp(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
