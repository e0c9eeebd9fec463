package deposit

import (
	"context"
	"io"
	"time"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// PackageExtractor unpacks a deposited stream into a deposit-scoped directory.
type PackageExtractor interface {
	// Extract writes the content of r into dir and returns the extracted file
	// paths relative to dir, slash-separated.
	Extract(ctx context.Context, dir, fileName string, r io.Reader) ([]string, error)
}

// ExtractorSelector chooses the extractor for a deposit.
type ExtractorSelector interface {
	// Select returns the extractor for a deposited file.
	Select(fileName, contentType string) (PackageExtractor, error)

	// SelectArchive returns an archive extractor for the first of formats that is
	// an archive format, or false if none is.
	SelectArchive(formats []string) (PackageExtractor, bool)
}

// ContentDetector detects the formats of a file. It is used only to decide whether a
// lone extracted file is itself an archive.
type ContentDetector interface {
	DetectFormats(path string) ([]string, error)
}

// PreIngestReporter produces the report shown while a deposit waits for confirmation.
type PreIngestReporter interface {
	Report(ctx context.Context, depositID string, state *ingest.IngestState) (*PreIngestReport, error)
}

// ArtifactCleaner purges on-disk deposit artifacts.
type ArtifactCleaner interface {
	Clean(ctx context.Context, dir string) error
}

// ArchivedDeposit is the durable record of a deposit that left the state cache or
// reached a terminal state.
type ArchivedDeposit struct {
	DepositID  string            `json:"deposit_id"`
	User       string            `json:"user"`
	Phase      ingest.PhaseState `json:"phase"`
	CreatedAt  time.Time         `json:"created_at"`
	ArchivedAt time.Time         `json:"archived_at"`
	Events     []ingest.Event    `json:"events"`
}

// EventArchive persists archived deposits. LoadDeposit returns a not found error for
// unknown ids.
type EventArchive interface {
	ArchiveDeposit(ctx context.Context, rec ArchivedDeposit) error
	LoadDeposit(ctx context.Context, depositID string) (*ArchivedDeposit, error)
}
