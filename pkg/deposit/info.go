package deposit

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// DocumentType distinguishes the two kinds of deposit status document.
type DocumentType string

const (
	// DocumentStatus is the chronological event listing of a deposit.
	DocumentStatus DocumentType = "status"

	// DocumentPreIngest is the summary shown while a deposit is paused.
	DocumentPreIngest DocumentType = "pre-ingest"
)

// Document is the body of a deposit status response.
type Document struct {
	Type      DocumentType     `json:"type"`
	Events    []ingest.Event   `json:"events,omitempty"`
	PreIngest *PreIngestReport `json:"pre_ingest,omitempty"`
}

// DepositInfo is the status of one deposit.
type DepositInfo struct {
	DepositID string `json:"deposit_id"`

	// Completed is true once an ingest.complete or ingest.fail event exists.
	Completed bool `json:"completed"`

	// Successful is true once an ingest.complete event exists.
	Successful bool `json:"successful"`

	Cancelled bool              `json:"cancelled"`
	Phase     ingest.PhaseState `json:"phase"`
	Archived  bool              `json:"archived,omitempty"`
	Document  Document          `json:"document"`
}

func hasType(events []ingest.Event, eventType string) bool {
	for _, e := range events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

// statusInfo builds a DepositInfo whose document lists events chronologically.
func statusInfo(depositID string, phase ingest.PhaseState, events []ingest.Event) *DepositInfo {
	sorted := make([]ingest.Event, len(events))
	copy(sorted, events)
	ingest.SortChronologically(sorted)

	return &DepositInfo{
		DepositID:  depositID,
		Completed:  hasType(events, ingest.EventTypeIngestComplete) || hasType(events, ingest.EventTypeIngestFail),
		Successful: hasType(events, ingest.EventTypeIngestComplete),
		Cancelled:  phase.Status == ingest.StatusCancelled,
		Phase:      phase,
		Document:   Document{Type: DocumentStatus, Events: sorted},
	}
}

// ArchivedInfo builds the status of an archived deposit.
func ArchivedInfo(rec *ArchivedDeposit) *DepositInfo {
	info := statusInfo(rec.DepositID, rec.Phase, rec.Events)
	info.Archived = true
	return info
}

// PreIngestReport summarizes what a paused deposit will ingest.
type PreIngestReport struct {
	DepositID       string         `json:"deposit_id"`
	GeneratedAt     time.Time      `json:"generated_at"`
	PausedAfter     int            `json:"paused_after"`
	FileCount       int            `json:"file_count"`
	TotalBytes      int64          `json:"total_bytes"`
	Formats         map[string]int `json:"formats,omitempty"`
	Checksums       int            `json:"checksums"`
	BusinessObjects map[string]int `json:"business_objects,omitempty"`
	AttributeSets   int            `json:"attribute_sets"`
	EventCount      int            `json:"event_count"`
	PolicyDenials   []string       `json:"policy_denials,omitempty"`
}

// SummaryReporter builds a PreIngestReport from the deposit's stores.
type SummaryReporter struct {
	Now func() time.Time
}

// Report implements PreIngestReporter.
func (r SummaryReporter) Report(_ context.Context, depositID string, state *ingest.IngestState) (*PreIngestReport, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	pkg := state.Package()
	report := &PreIngestReport{
		DepositID:       depositID,
		GeneratedAt:     now(),
		PausedAfter:     state.Phase().Phase,
		FileCount:       len(pkg.Files),
		Formats:         make(map[string]int),
		BusinessObjects: make(map[string]int),
		AttributeSets:   state.Attributes().Len(),
		EventCount:      state.Events().Len(),
	}

	for _, set := range state.Attributes().MatchByNameAndAttribute(ingest.SetNameFile, ingest.AnyAttribute()) {
		if v, ok := set.First(ingest.AttrFileSize); ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				report.TotalBytes += n
			}
		}
		if v, ok := set.First(ingest.AttrFileFormat); ok {
			report.Formats[v]++
		}
		if _, ok := set.First(ingest.AttrFileChecksum); ok {
			report.Checksums++
		}
	}

	for _, entry := range state.Vault().Entries() {
		report.BusinessObjects[string(entry.Type)]++
	}

	for _, e := range state.Events().GetEvents(ingest.EventTypePolicyEvaluation) {
		if e.Outcome == "denied" {
			report.PolicyDenials = append(report.PolicyDenials, e.Detail)
		}
	}

	return report, nil
}

// DirectoryCleaner removes deposit directories below Root.
type DirectoryCleaner struct {
	Root string
}

// Clean implements ArtifactCleaner. Directories outside Root are refused.
func (c DirectoryCleaner) Clean(_ context.Context, dir string) error {
	if dir == "" {
		return nil
	}
	if c.Root != "" {
		root, err := filepath.Abs(c.Root)
		if err != nil {
			return err
		}
		target, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		if target == root || !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return ingest.NewValidationError("refusing to remove " + dir + " outside " + c.Root).
				WithOperation("cleaner.clean")
		}
	}
	return os.RemoveAll(dir)
}
