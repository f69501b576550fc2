// Package commands implements the querycache command line
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/conduit-lang/querycache/internal/cli/config"
	"github.com/conduit-lang/querycache/internal/cli/ui"
	"github.com/conduit-lang/querycache/internal/orm/schema"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// AppFactory builds the application for a command invocation
type AppFactory func(ctx context.Context, cfg *config.Config) (*App, error)

// rootOptions holds the persistent flags shared by every subcommand
type rootOptions struct {
	configPath string
	noColor    bool
	format     string

	newApp AppFactory
}

func (o *rootOptions) json() bool {
	return o.format == "json"
}

// app loads configuration and builds the application
func (o *rootOptions) app(ctx context.Context) (*App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, &configError{err: err}
	}
	return o.newApp(ctx, cfg)
}

// NewRootCommand creates the root command backed by a PostgreSQL connection
func NewRootCommand() *cobra.Command {
	return newRootCommand(LoadApp)
}

func newRootCommand(factory AppFactory) *cobra.Command {
	opts := &rootOptions{newApp: factory}

	rootCmd := &cobra.Command{
		Use:   "querycache",
		Short: "Schema-aware query and cache layer for PostgreSQL",
		Long: color.CyanString(`querycache - schema-aware dynamic queries with a tagged two-tier cache

Tables are introspected at runtime, reads are cached in-process and in Redis,
and writes invalidate the cached reads of the tables they touch.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "table" && opts.format != "json" {
				return fmt.Errorf("unsupported format %q: use table or json", opts.format)
			}
			if opts.noColor {
				color.NoColor = true
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to querycache.yaml (default: ./querycache.yaml)")
	rootCmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&opts.format, "format", "table", "Output format: table or json")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(newSchemaCommand(opts))
	rootCmd.AddCommand(newRowsCommand(opts))
	rootCmd.AddCommand(newCacheCommand(opts))
	rootCmd.AddCommand(newServeCommand(opts))

	return rootCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			table := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			table.AddRow("querycache version", Version)
			table.AddRow("Git commit", GitCommit)
			table.AddRow("Build date", BuildDate)
			table.AddRow("Go version", goVer)
			table.Render()
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		reportError(rootCmd.ErrOrStderr(), err)
		return err
	}
	return nil
}

// reportError prints err, with suggestions for the failures users can fix
func reportError(w io.Writer, err error) {
	var notFound *tableNotFoundError
	var cfgErr *configError

	switch {
	case errors.As(err, &notFound):
		fmt.Fprint(w, ui.TableNotFoundError(notFound.table, notFound.known, color.NoColor))
	case errors.As(err, &cfgErr):
		fmt.Fprint(w, ui.ConfigError(cfgErr.Error(), color.NoColor))
	default:
		errorColor := color.New(color.FgRed, color.Bold)
		errorColor.Fprintf(w, "Error: %v\n", err)
	}
}

// tableNotFoundError carries the known tables for suggestions
type tableNotFoundError struct {
	table string
	known []string
	err   error
}

func (e *tableNotFoundError) Error() string { return e.err.Error() }
func (e *tableNotFoundError) Unwrap() error { return e.err }

// configError marks configuration problems found while building the app
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// withTableSuggestions decorates a table-not-found error with the tables
// the catalog can list
func withTableSuggestions(ctx context.Context, catalog *schema.Catalog, table string, err error) error {
	if !errors.Is(err, schema.ErrTableNotFound) {
		return err
	}
	known, listErr := catalog.ListTables(ctx)
	if listErr != nil {
		return err
	}
	return &tableNotFoundError{table: table, known: known, err: err}
}
