package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/querycache/internal/cli/ui"
	"github.com/conduit-lang/querycache/internal/orm/crud"
	"github.com/conduit-lang/querycache/internal/orm/query"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

func newRowsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Read and import table rows through the cache",
		Example: `  # Second page of published posts, newest first, with totals
  querycache rows list posts --where status=published --order "created_at DESC" --page 2 --count

  # One row by primary key
  querycache rows get users 42

  # Text search over two columns
  querycache rows search posts --columns title,body --query "postgres cache"

  # Import a JSON array of objects in batches of 500
  querycache rows import tags tags.json --batch-size 500 --on-conflict ignore`,
	}

	cmd.AddCommand(newRowsListCommand(opts))
	cmd.AddCommand(newRowsGetCommand(opts))
	cmd.AddCommand(newRowsCountCommand(opts))
	cmd.AddCommand(newRowsSearchCommand(opts))
	cmd.AddCommand(newRowsImportCommand(opts))
	return cmd
}

// parseWhere turns col=value pairs into equality conditions. A value of
// "null" matches NULL and a comma-separated value becomes IN.
func parseWhere(pairs []string) (map[string]interface{}, error) {
	where := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		col, value, ok := strings.Cut(pair, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid condition %q: want column=value", pair)
		}
		switch {
		case value == "null":
			where[col] = nil
		case strings.Contains(value, ","):
			where[col] = strings.Split(value, ",")
		default:
			where[col] = value
		}
	}
	return where, nil
}

// renderResult prints rows as a table or JSON. Columns follow the table's
// ordinal order when ts is known.
func renderResult(cmd *cobra.Command, opts *rootOptions, ts *schema.TableSchema, rows []map[string]interface{}, v interface{}) error {
	out := cmd.OutOrStdout()
	if opts.json() {
		return writeJSON(out, v)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "(no rows)")
		return nil
	}
	ui.RenderRows(out, resultColumns(ts, rows), rows, color.NoColor)
	return nil
}

func resultColumns(ts *schema.TableSchema, rows []map[string]interface{}) []string {
	var columns []string
	seen := make(map[string]bool)
	if ts != nil {
		for _, col := range ts.ColumnOrder {
			if _, ok := rows[0][col]; ok {
				columns = append(columns, col)
				seen[col] = true
			}
		}
	}
	var extra []string
	for col := range rows[0] {
		if !seen[col] {
			extra = append(extra, col)
		}
	}
	sort.Strings(extra)
	return append(columns, extra...)
}

func newRowsListCommand(opts *rootOptions) *cobra.Command {
	var (
		where     []string
		fields    []string
		orderBy   string
		page      int
		limit     int
		withCount bool
		noCache   bool
		deleted   bool
	)

	cmd := &cobra.Command{
		Use:   "list <table>",
		Short: "List one page of rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table := args[0]
			conditions, err := parseWhere(where)
			if err != nil {
				return err
			}
			var projection string
			if len(fields) > 0 {
				if projection, err = query.ColumnList(fields); err != nil {
					return err
				}
			}

			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ts, err := app.Catalog.GetSchema(cmd.Context(), table)
			if err != nil {
				return withTableSuggestions(cmd.Context(), app.Catalog, table, err)
			}

			result, err := app.Ops.Paginate(cmd.Context(), &query.QuerySpec{
				Select:             projection,
				Table:              table,
				Where:              conditions,
				IncludeSoftDeleted: deleted,
			}, crud.PageOptions{
				ReadOptions:  crud.ReadOptions{NoCache: noCache},
				Page:         page,
				Limit:        limit,
				OrderBy:      orderBy,
				IncludeCount: withCount,
			})
			if err != nil {
				return err
			}

			if err := renderResult(cmd, opts, ts, result.Data, result); err != nil {
				return err
			}
			if !opts.json() {
				renderPagination(cmd, result.Pagination)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "Equality condition column=value (repeatable)")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "Columns to select")
	cmd.Flags().StringVar(&orderBy, "order", "", `ORDER BY list, e.g. "created_at DESC"`)
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Rows per page (default: query.default_page_limit)")
	cmd.Flags().BoolVar(&withCount, "count", false, "Compute total rows and pages")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the read cache")
	cmd.Flags().BoolVar(&deleted, "with-deleted", false, "Include soft-deleted rows")
	return cmd
}

func renderPagination(cmd *cobra.Command, p crud.Pagination) {
	summary := fmt.Sprintf("page %d, limit %d", p.Page, p.Limit)
	if p.Total != nil && p.TotalPages != nil {
		summary = fmt.Sprintf("page %d of %d, %d rows total", p.Page, *p.TotalPages, *p.Total)
	}
	if p.HasNextPage {
		summary += ", more available"
	}
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(cmd.OutOrStdout(), "\n%s\n", summary)
}

func newRowsGetCommand(opts *rootOptions) *cobra.Command {
	var noCache bool

	cmd := &cobra.Command{
		Use:   "get <table> <id>",
		Short: "Fetch one row by primary key",
		Args:  cobra.ExactArgs(2),
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

			row, err := app.Ops.FindByID(cmd.Context(), args[0], args[1], &crud.FindOptions{
				ReadOptions: crud.ReadOptions{NoCache: noCache},
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.json() {
				return writeJSON(out, row)
			}
			kv := ui.NewKeyValueTable(out, color.NoColor)
			for _, col := range resultColumns(ts, []map[string]interface{}{row}) {
				kv.AddRow(col, ui.FormatCell(row[col]))
			}
			kv.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the read cache")
	return cmd
}

func newRowsCountCommand(opts *rootOptions) *cobra.Command {
	var (
		where   []string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Count rows matching conditions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conditions, err := parseWhere(where)
			if err != nil {
				return err
			}

			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			total, err := app.Ops.Count(cmd.Context(), &query.QuerySpec{Table: args[0], Where: conditions}, &crud.ReadOptions{NoCache: noCache})
			if err != nil {
				return withTableSuggestions(cmd.Context(), app.Catalog, args[0], err)
			}

			if opts.json() {
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"count": total})
			}
			fmt.Fprintln(cmd.OutOrStdout(), total)
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "Equality condition column=value (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "Bypass the read cache")
	return cmd
}

func newRowsSearchCommand(opts *rootOptions) *cobra.Command {
	var (
		columns  []string
		text     string
		language string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "search <table>",
		Short: "Full-text search ranked by relevance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--query is required")
			}

			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			ts, err := app.Catalog.GetSchema(cmd.Context(), args[0])
			if err != nil {
				return withTableSuggestions(cmd.Context(), app.Catalog, args[0], err)
			}

			rows, err := app.Ops.FullTextSearch(cmd.Context(), &query.FullTextSpec{
				Table:    args[0],
				Columns:  columns,
				Query:    text,
				Language: language,
				Rank:     true,
				Limit:    limit,
			}, nil)
			if err != nil {
				return err
			}
			return renderResult(cmd, opts, ts, rows, rows)
		},
	}

	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to search")
	cmd.Flags().StringVarP(&text, "query", "q", "", "Search text")
	cmd.Flags().StringVar(&language, "language", "", "Text search configuration (default: english)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	return cmd
}

func newRowsImportCommand(opts *rootOptions) *cobra.Command {
	var (
		batchSize       int
		onConflict      string
		conflictColumns []string
	)

	cmd := &cobra.Command{
		Use:   "import <table> <file.json>",
		Short: "Insert a JSON array of objects in one transaction",
		Long: `Insert a JSON array of objects in one transaction.

The import runs under transaction.timeout and transaction.isolation; a
failing row rolls back every row. Cached reads of the table are invalidated
after the commit.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := parseConflictAction(onConflict)
			if err != nil {
				return err
			}

			items, err := readRows(args[1])
			if err != nil {
				return err
			}

			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			txOpts, err := app.TransactionOptions()
			if err != nil {
				return err
			}

			var inserted int
			err = ui.WithProgress(cmd.OutOrStdout(), fmt.Sprintf("Imported into %s", args[0]), len(items), color.NoColor, func(bar *ui.ProgressBar) error {
				return app.Tx.Run(cmd.Context(), txOpts, func(ctx context.Context, _ *sql.Tx) error {
					rows, err := app.Ops.BulkInsert(ctx, args[0], items, &crud.BulkOptions{
						BatchSize: batchSize,
						Insert: &crud.InsertOptions{
							OnConflict:      action,
							ConflictColumns: conflictColumns,
						},
						OnBatch: func(done, total int) { bar.Set(done) },
					})
					inserted = len(rows)
					return err
				})
			})
			if err != nil {
				return withTableSuggestions(cmd.Context(), app.Catalog, args[0], err)
			}

			if skipped := len(items) - inserted; skipped > 0 {
				fmt.Fprint(cmd.OutOrStdout(), ui.Warning(fmt.Sprintf("%d rows skipped on conflict", skipped), color.NoColor))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows per batch (default: query.batch_size)")
	cmd.Flags().StringVar(&onConflict, "on-conflict", "error", "Conflict handling: error, ignore or update")
	cmd.Flags().StringSliceVar(&conflictColumns, "conflict-columns", nil, "Conflict target (default: primary key)")
	return cmd
}

func parseConflictAction(s string) (crud.ConflictAction, error) {
	switch s {
	case "", "error":
		return crud.OnConflictError, nil
	case "ignore":
		return crud.OnConflictIgnore, nil
	case "update":
		return crud.OnConflictUpdate, nil
	default:
		return crud.OnConflictError, fmt.Errorf("unknown --on-conflict %q: use error, ignore or update", s)
	}
}

// readRows loads a JSON array of objects. Integral numbers decode as int64.
func readRows(path string) ([]map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	var items []map[string]interface{}
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for _, item := range items {
		for k, v := range item {
			n, ok := v.(json.Number)
			if !ok {
				continue
			}
			if i, err := n.Int64(); err == nil {
				item[k] = i
			} else if fl, err := n.Float64(); err == nil {
				item[k] = fl
			}
		}
	}
	return items, nil
}
