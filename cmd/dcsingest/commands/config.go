package commands

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dataconservancy/dcs-ingest/pkg/config"
	"github.com/dataconservancy/dcs-ingest/pkg/policy"
	"github.com/dataconservancy/dcs-ingest/pkg/services"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a configuration file",
		Long: `Validate a configuration file against the configuration schema.

This command checks:
  - CUE, YAML or JSON syntax
  - Schema conformance (unknown fields, value ranges, durations)
  - Unique phase and script names
  - That every phase service is a built-in, a declared script or the policy service`,
		Example: `  # Validate the default configuration
  dcsingest config validate

  # Validate a specific file
  dcsingest config validate ./deploy/dcsingest.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			log.Debug().Str("path", path).Msg("Validating configuration")

			cfg, err := config.Load(cmd.Context(), path)
			if err == nil {
				err = cfg.Validate(knownServices(cfg)...)
			}

			var problems config.ValidationErrors
			if errors.As(err, &problems) {
				if jsonOutput {
					_ = printJSON(cmd.OutOrStdout(), problems)
				} else {
					for _, p := range problems {
						fmt.Fprintln(cmd.OutOrStdout(), p.String())
					}
				}
				return fmt.Errorf("%d configuration problem(s) in %s", len(problems), path)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d phases)\n", path, len(cfg.Phases))
			return nil
		},
	}

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [path]",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}
			cfg, err := config.Load(cmd.Context(), path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

// knownServices lists the service ids a configuration may reference without
// building the services themselves.
func knownServices(cfg *config.Config) []string {
	known := []string{
		services.ChecksumServiceID,
		services.CharacterizationServiceID,
		services.BusinessObjectServiceID,
		policy.ServiceID,
	}
	for _, sc := range cfg.Scripts {
		known = append(known, services.ScriptServiceID(sc.Name))
	}
	return known
}
