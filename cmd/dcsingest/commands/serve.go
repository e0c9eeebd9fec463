package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dataconservancy/dcs-ingest/pkg/server"
)

func newServeCommand(version string) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP deposit API",
		Long: `Run the HTTP deposit API.

Routes:
  POST   /deposits              deposit a package (X-Packaging, Content-Disposition,
                                X-Dcs-Authenticated-User, Content-Type, Content-MD5)
  GET    /deposits/:id          deposit status or pre-ingest report
  POST   /deposits/:id/resume   continue a paused or failed deposit
  DELETE /deposits/:id          cancel a deposit
  GET    /metrics               Prometheus metrics
  GET    /healthz               liveness, including the store when configured`,
		Example: `  # Serve with the configuration in the current directory
  dcsingest serve

  # Override the listen address
  dcsingest serve -c /etc/dcsingest/config.yaml --address :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig(ctx, configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			a, err := newApp(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			opts := []server.Option{server.WithTelemetry(a.tel)}
			if a.store != nil {
				opts = append(opts, server.WithHealthChecker(a.store))
			}
			srv := server.New(server.Config{
				Address:         cfg.Server.Address,
				ReadTimeout:     cfg.Server.ReadTimeout.Std(),
				WriteTimeout:    cfg.Server.WriteTimeout.Std(),
				ShutdownTimeout: cfg.Server.ShutdownTimeout.Std(),
				MaxUploadBytes:  cfg.Server.MaxUploadBytes,
			}, a.manager, opts...)

			log.Info().
				Str("address", cfg.Server.Address).
				Strs("config", cfg.SourceFiles).
				Msg("Starting deposit API")
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")

	return cmd
}
