package stores

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
)

// setupTestStore creates a migrated SQLite store in a temp directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return openAt(t, filepath.Join(t.TempDir(), "ingest.db"))
}

func openAt(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	store, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func archived(id string, status ingest.PhaseStatus, at time.Time, events ...ingest.Event) deposit.ArchivedDeposit {
	return deposit.ArchivedDeposit{
		DepositID:  id,
		User:       "alice",
		Phase:      ingest.PhaseState{Status: status, Phase: 1},
		CreatedAt:  at.Add(-time.Minute),
		ArchivedAt: at,
		Events:     events,
	}
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check before Init should fail")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("Migrate before Init should fail")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	// A second run finds nothing to do.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestAllocate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ids, err := store.Allocate(ctx, 3, "event")
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if fmt.Sprint(ids) != "[event-1 event-2 event-3]" {
		t.Errorf("ids = %v", ids)
	}

	ids, _ = store.Allocate(ctx, 2, "event")
	if fmt.Sprint(ids) != "[event-4 event-5]" {
		t.Errorf("second batch = %v", ids)
	}

	ids, _ = store.Allocate(ctx, 1, "")
	if fmt.Sprint(ids) != "[id-1]" {
		t.Errorf("default hint = %v", ids)
	}

	if _, err := store.Allocate(ctx, 0, "event"); !ingest.IsValidation(err) {
		t.Errorf("Allocate(0) error = %v, want validation error", err)
	}
}

func TestAllocate_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.db")

	first := openAt(t, path)
	if _, err := first.Allocate(context.Background(), 10, "deposit"); err != nil {
		t.Fatal(err)
	}
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := openAt(t, path)
	ids, err := second.Allocate(context.Background(), 1, "deposit")
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != "deposit-11" {
		t.Errorf("id after reopen = %s, want deposit-11", ids[0])
	}
}

func TestAllocate_Concurrent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	const workers, batches = 8, 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
		errs []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := 0; b < batches; b++ {
				ids, err := store.Allocate(ctx, 5, "event")
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
				}
				for _, id := range ids {
					if seen[id] {
						errs = append(errs, fmt.Errorf("duplicate id %s", id))
					}
					seen[id] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("allocation errors: %v", errs)
	}
	if len(seen) != workers*batches*5 {
		t.Errorf("unique ids = %d, want %d", len(seen), workers*batches*5)
	}
}

func TestAllocate_FeedsEventLog(t *testing.T) {
	store := setupTestStore(t)
	log := ingest.NewEventLog(store, ingest.WithIDBatchSize(2))

	var ids []string
	for i := 0; i < 3; i++ {
		e, err := log.Record(context.Background(), ingest.EventTypeDeposit, "d", "")
		if err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		ids = append(ids, e.ID)
	}
	if fmt.Sprint(ids) != "[event-1 event-2 event-3]" {
		t.Errorf("event ids = %v", ids)
	}
}

func TestArchiveDeposit_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

	rec := archived("deposit-1", ingest.StatusPaused, at,
		ingest.Event{ID: "event-1", Type: ingest.EventTypeDeposit, Date: at, Outcome: "deposit-1", Detail: "bag.zip application/zip"},
		ingest.Event{ID: "event-2", Type: ingest.EventTypeFileExtraction, Date: at, Outcome: "2", Detail: "/tmp/x", Targets: []string{"a.txt", "b.txt"}},
	)
	if err := store.ArchiveDeposit(ctx, rec); err != nil {
		t.Fatalf("ArchiveDeposit() error = %v", err)
	}

	got, err := store.LoadDeposit(ctx, "deposit-1")
	if err != nil {
		t.Fatalf("LoadDeposit() error = %v", err)
	}
	if got.User != "alice" || got.Phase != rec.Phase {
		t.Errorf("deposit = %+v", got)
	}
	if !got.ArchivedAt.Equal(at) || !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("times = %v / %v", got.CreatedAt, got.ArchivedAt)
	}
	if len(got.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(got.Events))
	}
	if got.Events[0].Targets != nil {
		t.Errorf("targets of first event = %v, want nil", got.Events[0].Targets)
	}
	e := got.Events[1]
	if e.ID != "event-2" || e.Outcome != "2" || fmt.Sprint(e.Targets) != "[a.txt b.txt]" || !e.Date.Equal(at) {
		t.Errorf("event = %+v", e)
	}
}

func TestArchiveDeposit_ReplacesEarlierArchive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	at := time.Now()

	first := archived("deposit-1", ingest.StatusPaused, at,
		ingest.Event{ID: "event-1", Type: ingest.EventTypeDeposit, Date: at})
	second := archived("deposit-1", ingest.StatusSucceeded, at.Add(time.Minute),
		ingest.Event{ID: "event-1", Type: ingest.EventTypeDeposit, Date: at},
		ingest.Event{ID: "event-2", Type: ingest.EventTypeIngestComplete, Date: at})

	if err := store.ArchiveDeposit(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := store.ArchiveDeposit(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := store.LoadDeposit(ctx, "deposit-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Phase.Status != ingest.StatusSucceeded || len(got.Events) != 2 {
		t.Errorf("deposit = %+v", got)
	}
}

func TestArchiveDeposit_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.ArchiveDeposit(ctx, deposit.ArchivedDeposit{}); !ingest.IsValidation(err) {
		t.Errorf("empty id error = %v, want validation", err)
	}
	if _, err := store.LoadDeposit(ctx, "missing"); !ingest.IsNotFound(err) {
		t.Errorf("LoadDeposit(missing) error = %v, want not found", err)
	}
	if err := store.DeleteArchived(ctx, "missing"); !ingest.IsNotFound(err) {
		t.Errorf("DeleteArchived(missing) error = %v, want not found", err)
	}
}

func TestListAndDeleteArchived(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, st := range []ingest.PhaseStatus{ingest.StatusSucceeded, ingest.StatusFailed, ingest.StatusSucceeded} {
		rec := archived(fmt.Sprintf("deposit-%d", i+1), st, at.Add(time.Duration(i)*time.Minute),
			ingest.Event{ID: fmt.Sprintf("event-%d", i+1), Type: ingest.EventTypeDeposit, Date: at})
		if err := store.ArchiveDeposit(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := store.ListArchived(ctx, "", 0, 0)
	if err != nil {
		t.Fatalf("ListArchived() error = %v", err)
	}
	if len(all) != 3 || all[0].DepositID != "deposit-3" || all[0].EventCount != 1 {
		t.Errorf("all = %+v", all)
	}

	succeeded, _ := store.ListArchived(ctx, ingest.StatusSucceeded, 10, 0)
	if len(succeeded) != 2 {
		t.Errorf("succeeded = %+v", succeeded)
	}

	page, _ := store.ListArchived(ctx, "", 1, 1)
	if len(page) != 1 || page[0].DepositID != "deposit-2" {
		t.Errorf("page = %+v", page)
	}

	if err := store.DeleteArchived(ctx, "deposit-2"); err != nil {
		t.Fatalf("DeleteArchived() error = %v", err)
	}
	if _, err := store.LoadDeposit(ctx, "deposit-2"); !ingest.IsNotFound(err) {
		t.Errorf("deleted deposit still loads: %v", err)
	}
}
