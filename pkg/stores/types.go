package stores

import (
	"context"
	"time"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// ArchivedSummary is one row of the deposit archive without its events.
type ArchivedSummary struct {
	DepositID  string            `json:"deposit_id"`
	User       string            `json:"user"`
	Phase      ingest.PhaseState `json:"phase"`
	EventCount int               `json:"event_count"`
	CreatedAt  time.Time         `json:"created_at"`
	ArchivedAt time.Time         `json:"archived_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Id allocation
	Allocate(ctx context.Context, n int, typeHint string) ([]string, error)

	// Deposit archive
	ArchiveDeposit(ctx context.Context, rec deposit.ArchivedDeposit) error
	LoadDeposit(ctx context.Context, depositID string) (*deposit.ArchivedDeposit, error)
	ListArchived(ctx context.Context, status ingest.PhaseStatus, limit, offset int) ([]ArchivedSummary, error)
	DeleteArchived(ctx context.Context, depositID string) error

	// Utility
	HealthCheck(ctx context.Context) error
}

var (
	_ Store                = (*SQLiteStore)(nil)
	_ ingest.IdAllocator   = (*SQLiteStore)(nil)
	_ deposit.EventArchive = (*SQLiteStore)(nil)
)
