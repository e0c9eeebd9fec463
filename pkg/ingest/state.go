package ingest

import (
	"sync"
	"time"
)

// Package describes the on-disk layout of an extracted deposit. The state carries it
// without interpreting it.
type Package struct {
	// ExtractDir is the deposit-scoped directory the package was extracted into.
	ExtractDir string `json:"extract_dir"`

	// BaseDir is the directory file paths are relative to.
	BaseDir string `json:"base_dir"`

	// Files are the extracted file paths, relative to BaseDir.
	Files []string `json:"files"`
}

// Clone returns a deep copy of the package.
func (p Package) Clone() Package {
	p.Files = cloneStrings(p.Files)
	return p
}

// IngestState is the full mutable state of one deposit's ingest run.
//
// The stores are exclusively owned by whichever workflow currently processes the
// deposit; callers serialize access per deposit id. The phase pointer and the
// cancellation flag are guarded so status can be read while a phase runs.
type IngestState struct {
	depositID string
	user      string
	createdAt time.Time

	attributes *AttributeSetStore
	vault      *BusinessObjectVault
	events     *EventLog

	mu        sync.RWMutex
	pkg       Package
	phase     PhaseState
	cancelled bool
}

// DepositID returns the id of the deposit this state belongs to.
func (s *IngestState) DepositID() string { return s.depositID }

// User returns the id of the user who made the deposit.
func (s *IngestState) User() string { return s.user }

// CreatedAt returns when the state was created.
func (s *IngestState) CreatedAt() time.Time { return s.createdAt }

// Attributes returns the deposit's attribute set store.
func (s *IngestState) Attributes() *AttributeSetStore { return s.attributes }

// Vault returns the deposit's business object vault.
func (s *IngestState) Vault() *BusinessObjectVault { return s.vault }

// Events returns the deposit's event log.
func (s *IngestState) Events() *EventLog { return s.events }

// Package returns a copy of the package layout.
func (s *IngestState) Package() Package {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pkg.Clone()
}

// SetPackage replaces the package layout.
func (s *IngestState) SetPackage(p Package) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pkg = p.Clone()
}

// Phase returns the current phase state.
func (s *IngestState) Phase() PhaseState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// setPhase moves the state to next unless it has been cancelled. It reports
// whether the transition happened.
func (s *IngestState) setPhase(next PhaseState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.phase = next
	return true
}

// Cancel flags the state as cancelled. It returns false if the state was already
// cancelled. Cancelling never interrupts a running phase; the sequencer observes the
// flag at the next phase boundary.
func (s *IngestState) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	s.cancelled = true
	s.phase = PhaseState{Status: StatusCancelled, Phase: s.phase.Phase}
	return true
}

// IsCancelled reports whether the state has been cancelled.
func (s *IngestState) IsCancelled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled
}

// StateFactory creates IngestState values sharing one id allocator.
type StateFactory struct {
	Allocator   IdAllocator
	IDBatchSize int
	Now         func() time.Time
}

// NewStateFactory returns a factory using allocator for event ids.
func NewStateFactory(allocator IdAllocator) *StateFactory {
	return &StateFactory{Allocator: allocator, IDBatchSize: DefaultIDBatchSize, Now: time.Now}
}

// New creates a fresh, pending state for depositID.
func (f *StateFactory) New(depositID, user string) (*IngestState, error) {
	if depositID == "" {
		return nil, NewValidationError("deposit id is required").WithOperation("state.new")
	}
	now := f.Now
	if now == nil {
		now = time.Now
	}
	return &IngestState{
		depositID:  depositID,
		user:       user,
		createdAt:  now(),
		attributes: NewAttributeSetStore(),
		vault:      NewBusinessObjectVault(),
		events:     NewEventLog(f.Allocator, WithIDBatchSize(f.IDBatchSize), WithClock(now)),
		phase:      PhaseState{Status: StatusPending},
	}, nil
}
