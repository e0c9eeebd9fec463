package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

func newDepositCommand(version string) *cobra.Command {
	var (
		user        string
		packaging   string
		contentType string
		resume      bool
	)

	cmd := &cobra.Command{
		Use:   "deposit <file>",
		Short: "Ingest a package in-process",
		Long: `Deposit a package and run the configured phases without the HTTP API.

The command prints the deposit status. With --resume, phases that pause are
resumed immediately so the deposit runs to completion.`,
		Example: `  # Run the first phases of a bag and stop at the first pause
  dcsingest deposit ./bag.zip --user alice

  # Run every phase
  dcsingest deposit ./bag.tar.gz --resume --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			cfg, err := loadConfig(ctx, configPath)
			if err != nil {
				return err
			}
			a, err := newApp(ctx, cfg, version)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if packaging == "" {
				packaging = a.manager.PackagingProfile()
			}
			if contentType == "" {
				mt, err := mimetype.DetectFile(path)
				if err != nil {
					return fmt.Errorf("failed to detect content type: %w", err)
				}
				contentType = mt.String()
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open package: %w", err)
			}
			defer f.Close()

			metadata := deposit.Metadata{
				deposit.HeaderContentDisposition: fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)),
				deposit.HeaderAuthenticatedUser:  user,
				deposit.HeaderPackaging:          packaging,
				deposit.HeaderContentType:        contentType,
			}

			depositID, runErr := a.manager.Deposit(ctx, f, contentType, packaging, metadata)
			if depositID == "" {
				return runErr
			}
			logDeposit(depositID, runErr)

			for resume && runErr == nil {
				info, err := a.manager.DepositInfo(ctx, depositID)
				if err != nil {
					return err
				}
				if info.Phase.Status != ingest.StatusPaused {
					break
				}
				log.Info().Str("deposit_id", depositID).Int("phase", info.Phase.Phase).Msg("Resuming paused deposit")
				_, runErr = a.manager.Resume(ctx, depositID)
				logDeposit(depositID, runErr)
			}

			info, err := a.manager.DepositInfo(ctx, depositID)
			if err != nil {
				return err
			}
			if err := printInfo(cmd.OutOrStdout(), info); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", os.Getenv("USER"), "depositing user")
	cmd.Flags().StringVar(&packaging, "packaging", "", "packaging profile (default: the configured profile)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (default: detected)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume every pause until the deposit finishes")

	return cmd
}

func logDeposit(depositID string, err error) {
	if err != nil {
		log.Error().Err(err).Str("deposit_id", depositID).Msg("Ingest phase failed")
		return
	}
	log.Debug().Str("deposit_id", depositID).Msg("Ingest run finished")
}

func printInfo(w io.Writer, info *deposit.DepositInfo) error {
	if jsonOutput {
		return printJSON(w, info)
	}

	fmt.Fprintf(w, "Deposit:    %s\n", info.DepositID)
	fmt.Fprintf(w, "Status:     %s\n", info.Phase)
	fmt.Fprintf(w, "Completed:  %v (successful: %v)\n", info.Completed, info.Successful)

	switch info.Document.Type {
	case deposit.DocumentPreIngest:
		r := info.Document.PreIngest
		fmt.Fprintf(w, "Paused after phase %d: %d files, %d bytes, %d checksums\n",
			r.PausedAfter, r.FileCount, r.TotalBytes, r.Checksums)
		for format, n := range r.Formats {
			fmt.Fprintf(w, "  format %s: %d\n", format, n)
		}
		for typ, n := range r.BusinessObjects {
			fmt.Fprintf(w, "  %s: %d\n", typ, n)
		}
		for _, denial := range r.PolicyDenials {
			fmt.Fprintf(w, "  policy: %s\n", denial)
		}
	default:
		for _, e := range info.Document.Events {
			fmt.Fprintf(w, "  %s  %-24s %s\n", e.Date.Format("15:04:05.000"), e.Type, e.Outcome)
		}
	}
	return nil
}
