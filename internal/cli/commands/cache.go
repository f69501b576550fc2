package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/querycache/internal/cli/ui"
	"github.com/conduit-lang/querycache/internal/orm/invalidation"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

func newCacheCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Invalidate cached reads",
		Example: `  # Drop every cached read of the users table
  querycache cache invalidate --table users

  # Drop reads tagged by an operation
  querycache cache invalidate table:users:update

  # Empty the cache backends entirely
  querycache cache clear`,
	}

	cmd.AddCommand(newCacheInvalidateCommand(opts))
	cmd.AddCommand(newCacheClearCommand(opts))
	return cmd
}

func newCacheInvalidateCommand(opts *rootOptions) *cobra.Command {
	var tables []string

	cmd := &cobra.Command{
		Use:   "invalidate [tag]...",
		Short: "Delete every cached entry registered under the given tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			tags := append([]string(nil), args...)
			for _, table := range tables {
				if err := schema.ValidateIdentifier(table); err != nil {
					return err
				}
				tags = append(tags, invalidation.TableTag(table))
			}
			if len(tags) == 0 {
				return fmt.Errorf("nothing to invalidate: pass tags or --table")
			}

			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			app.Cache.InvalidateByTags(cmd.Context(), tags...)
			ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Invalidated %s", strings.Join(tags, ", ")), color.NoColor)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "Invalidate every read of these tables")
	return cmd
}

func newCacheClearCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every key under the configured prefix",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			return ui.WithSpinner(cmd.OutOrStdout(), "Cleared cache", color.NoColor, func() error {
				return app.Cache.Clear(cmd.Context())
			})
		},
	}
}
