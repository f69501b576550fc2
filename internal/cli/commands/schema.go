package commands

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/querycache/internal/cli/ui"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

func newSchemaCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and refresh introspected table schemas",
		Example: `  # List the tables of the configured schema
  querycache schema list

  # Show columns, primary key and detected conventions
  querycache schema show users --format json

  # Forget a cached schema after a migration
  querycache schema invalidate users`,
	}

	cmd.AddCommand(newSchemaListCommand(opts))
	cmd.AddCommand(newSchemaShowCommand(opts))
	cmd.AddCommand(newSchemaInvalidateCommand(opts))
	return cmd
}

func newSchemaListCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			tables, err := app.Catalog.ListTables(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json() {
				return writeJSON(out, tables)
			}
			for _, table := range tables {
				fmt.Fprintln(out, table)
			}
			return nil
		},
	}
}

func newSchemaShowCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <table>",
		Short: "Show a table's columns and conventions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ts, err := app.Catalog.GetSchema(cmd.Context(), args[0])
			if err != nil {
				return withTableSuggestions(cmd.Context(), app.Catalog, args[0], err)
			}

			out := cmd.OutOrStdout()
			if opts.json() {
				return writeJSON(out, ts)
			}
			renderSchema(cmd, ts)
			return nil
		},
	}
}

func renderSchema(cmd *cobra.Command, ts *schema.TableSchema) {
	out := cmd.OutOrStdout()
	noColor := color.NoColor

	ui.Header(out, ts.TableName, noColor)

	table := ui.NewTable(out, []string{"Column", "Type", "Nullable", "Default"}, &ui.TableOptions{NoColor: noColor})
	for _, name := range ts.ColumnOrder {
		col := ts.Columns[name]
		nullable := "no"
		if col.Nullable {
			nullable = "yes"
		}
		def := ""
		if col.Default != nil {
			def = *col.Default
		}
		table.AddRow(name, col.Type, nullable, def)
	}
	table.Render()
	fmt.Fprintln(out)

	var conventions []string
	if ts.HasCreatedAt {
		conventions = append(conventions, schema.ColumnCreatedAt)
	}
	if ts.HasUpdatedAt {
		conventions = append(conventions, schema.ColumnUpdatedAt)
	}
	if ts.HasDeletedAt {
		conventions = append(conventions, "soft delete")
	}
	if ts.HasVersion {
		conventions = append(conventions, "optimistic locking ("+ts.VersionColumn+")")
	}
	if len(conventions) == 0 {
		conventions = append(conventions, "none")
	}

	kv := ui.NewKeyValueTable(out, noColor)
	kv.AddRow("Primary key", strings.Join(ts.PrimaryKey, ", "))
	kv.AddRow("Conventions", strings.Join(conventions, ", "))
	kv.Render()
}

func newSchemaInvalidateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <table>...",
		Short: "Drop cached schemas so the next lookup re-introspects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, table := range args {
				if err := schema.ValidateIdentifier(table); err != nil {
					return err
				}
			}

			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			for _, table := range args {
				app.Catalog.Invalidate(cmd.Context(), table)
			}
			ui.WriteSuccess(cmd.OutOrStdout(), fmt.Sprintf("Invalidated schema for %s", strings.Join(args, ", ")), color.NoColor)
			return nil
		},
	}
}
