package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/stores"
)

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived deposits",
		Long: `Inspect deposits archived to the SQLite store.

Deposits are archived when they finish, fail, are cancelled or are evicted
from the in-memory state cache. Requires store.path in the configuration.`,
	}

	cmd.AddCommand(newArchiveListCommand())
	cmd.AddCommand(newArchiveShowCommand())
	cmd.AddCommand(newArchiveDeleteCommand())

	return cmd
}

func openArchive(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Store.Path == "" {
		return nil, fmt.Errorf("no store configured: set store.path")
	}
	return stores.Open(ctx, stores.Config{Path: relativeTo(cfg, cfg.Store.Path)})
}

func newArchiveListCommand() *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived deposits, most recently archived first",
		Example: `  # Failed deposits
  dcsingest archive list --status failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openArchive(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			summaries, err := store.ListArchived(ctx, ingest.PhaseStatus(status), limit, offset)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), summaries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEPOSIT\tUSER\tSTATUS\tEVENTS\tARCHIVED")
			for _, s := range summaries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					s.DepositID, s.User, s.Phase, s.EventCount, s.ArchivedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only deposits in this status (succeeded, failed, cancelled, paused)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of deposits")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of deposits to skip")

	return cmd
}

func newArchiveShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <deposit-id>",
		Short: "Print the archived events of a deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openArchive(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.LoadDeposit(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), rec)
			}
			return printInfo(cmd.OutOrStdout(), deposit.ArchivedInfo(rec))
		},
	}
}

func newArchiveDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <deposit-id>",
		Short: "Remove an archived deposit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openArchive(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteArchived(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
