package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/querycache/internal/web/router"
	"github.com/conduit-lang/querycache/internal/web/server"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Long: `Run the admin HTTP API.

Endpoints:
  GET    /healthz                 database ping
  GET    /metrics                 Prometheus metrics
  GET    /tables/{table}/schema   introspected schema
  GET    /tables/{table}/rows     paginated, cached reads
  DELETE /cache/tags/{tag}        invalidate a cache tag
  DELETE /schema/{table}          forget a cached schema`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			cfg := app.Config.Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			handler := router.NewAPI(router.Options{
				Rows:     app.Ops,
				Schemas:  app.Catalog,
				Cache:    app.Cache,
				Gatherer: app.Registry,
				HealthCheck: func(ctx context.Context) error {
					return app.DB.PingContext(ctx)
				},
				RateLimit: cfg.RateLimit,
				Logger:    app.Logger,
			})

			srvConfig := server.DefaultConfig(handler)
			srvConfig.Address = cfg.Address()

			srv, err := server.New(srvConfig, app.Logger)
			if err != nil {
				return err
			}

			gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
				Timeout: cfg.ShutdownTimeout,
				Logger:  app.Logger,
			})
			gs.RegisterHook(func(ctx context.Context) error {
				app.Invalidator.Wait()
				return nil
			})

			app.Logger.Info("starting admin API",
				zap.String("addr", cfg.Address()),
				zap.Int("routes", len(handler.GetRoutes())))

			if err := gs.Run(cmd.Context()); err != nil {
				return fmt.Errorf("admin API: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default: server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default: server.port)")
	return cmd
}
