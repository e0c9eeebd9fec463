package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// Event is an immutable, timestamped record used for audit and status reporting.
type Event struct {
	// ID is unique across all deposits; it is drawn from an IdAllocator batch.
	ID string `json:"id"`

	// Type is one of the EventType* constants or a service-defined type.
	Type string `json:"type"`

	// Date is when the event was created.
	Date time.Time `json:"date"`

	// Outcome is the type-specific result of the event (see the vocabulary below).
	Outcome string `json:"outcome,omitempty"`

	// Detail is a human-readable description.
	Detail string `json:"detail,omitempty"`

	// Targets references the entities the event is about.
	Targets []string `json:"targets,omitempty"`
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	e.Targets = cloneStrings(e.Targets)
	return e
}

// Equal reports whether two events hold the same values.
func (e Event) Equal(o Event) bool {
	if e.ID != o.ID || e.Type != o.Type || !e.Date.Equal(o.Date) ||
		e.Outcome != o.Outcome || e.Detail != o.Detail || len(e.Targets) != len(o.Targets) {
		return false
	}
	for i := range e.Targets {
		if e.Targets[i] != o.Targets[i] {
			return false
		}
	}
	return true
}

// Event types. Downstream reports depend on these names and on the meaning of
// outcome, detail and targets for each type.
const (
	// outcome: deposit id; detail: file name and content type.
	EventTypeDeposit = "deposit"

	// outcome: number of extracted files; detail: extraction directory; targets: file paths.
	EventTypeFileExtraction = "file.extraction"

	// outcome: phase number; targets: service ids of the phase.
	EventTypePhaseStart = "phase.start"

	// outcome: phase number; targets: service ids executed.
	EventTypePhaseComplete = "phase.complete"

	// outcome: deposit id; detail: summary.
	EventTypeIngestComplete = "ingest.complete"

	// outcome: phase number; detail: error text; targets: failing service id.
	EventTypeIngestFail = "ingest.fail"

	// outcome: deposit id.
	EventTypeIngestCancel = "ingest.cancel"

	// outcome: business id; detail: declared type; targets: local id.
	EventTypeBusinessObjectBuilt = "businessobject.built"

	// outcome: MIME type; detail: format chain; targets: file path.
	EventTypeCharacterizationFormat = "characterization.format"

	// outcome: "<algorithm>:<hex digest>"; detail: algorithm; targets: file path.
	EventTypeChecksumCalculated = "checksum.calculated"

	// outcome: "allowed" or "denied"; detail: violation summary; targets: policy names.
	EventTypePolicyEvaluation = "policy.evaluation"

	// outcome: script name; detail: output summary; targets: attribute set keys written.
	EventTypeScriptExecution = "script.execution"
)

// IdAllocator issues batches of unique identifier strings.
type IdAllocator interface {
	// Allocate returns n identifiers unique across all callers. typeHint describes
	// what the identifiers are for and may be used as a namespace.
	Allocate(ctx context.Context, n int, typeHint string) ([]string, error)
}

// UUIDAllocator allocates random UUIDs. typeHint is ignored.
type UUIDAllocator struct{}

// Allocate implements IdAllocator.
func (UUIDAllocator) Allocate(_ context.Context, n int, _ string) ([]string, error) {
	if n <= 0 {
		return nil, NewValidationError(fmt.Sprintf("allocation size must be positive, got %d", n))
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = uuid.New().String()
	}
	return ids, nil
}

// DefaultIDBatchSize is the number of event ids fetched per allocation.
const DefaultIDBatchSize = 10

// EventLog is an append-only store of events for one deposit, indexed by id and type.
type EventLog struct {
	mu        sync.Mutex
	allocator IdAllocator
	batchSize int
	now       func() time.Time

	pending []string
	byID    map[string]Event
	byType  map[string]map[string]struct{}
	order   []string
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithIDBatchSize sets how many ids are fetched from the allocator at a time.
func WithIDBatchSize(n int) EventLogOption {
	return func(l *EventLog) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithClock sets the clock used to stamp new events.
func WithClock(now func() time.Time) EventLogOption {
	return func(l *EventLog) {
		if now != nil {
			l.now = now
		}
	}
}

// NewEventLog creates an empty event log drawing ids from allocator.
func NewEventLog(allocator IdAllocator, opts ...EventLogOption) *EventLog {
	if allocator == nil {
		allocator = UUIDAllocator{}
	}
	l := &EventLog{
		allocator: allocator,
		batchSize: DefaultIDBatchSize,
		now:       time.Now,
		byID:      make(map[string]Event),
		byType:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewEvent returns an unsaved event of the given type with a fresh id and the
// current time. The event is not stored until AddEvent is called.
func (l *EventLog) NewEvent(ctx context.Context, eventType string) (*Event, error) {
	if eventType == "" {
		return nil, NewValidationError("event type is required").WithOperation("events.new")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pending) == 0 {
		ids, err := l.allocator.Allocate(ctx, l.batchSize, "event")
		if err != nil {
			return nil, NewInternalError("failed to allocate event ids", err).WithOperation("events.new")
		}
		if len(ids) == 0 {
			return nil, NewInternalError("id allocator returned no ids", nil).WithOperation("events.new")
		}
		l.pending = ids
	}
	id := l.pending[0]
	l.pending = l.pending[1:]

	return &Event{
		ID:   id,
		Type: eventType,
		Date: l.now(),
	}, nil
}

// Record creates, fills and stores an event in one step.
func (l *EventLog) Record(ctx context.Context, eventType, outcome, detail string, targets ...string) (Event, error) {
	e, err := l.NewEvent(ctx, eventType)
	if err != nil {
		return Event{}, err
	}
	e.Outcome = outcome
	e.Detail = detail
	e.Targets = cloneStrings(targets)
	if err := l.AddEvent(e); err != nil {
		return Event{}, err
	}
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		tel.Metrics.RecordEvent(eventType)
	}
	return e.Clone(), nil
}

// AddEvent stores a copy of e. Re-adding an identical event does nothing; an
// event whose id is stored with different values is a duplicate key error.
func (l *EventLog) AddEvent(e *Event) error {
	if e == nil {
		return NewValidationError("event is required").WithOperation("events.add")
	}
	if e.ID == "" {
		return NewValidationError("event id is required").WithOperation("events.add")
	}
	if e.Type == "" {
		return NewValidationError("event type is required").WithOperation("events.add")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkStored(e); err != nil {
		return err
	}
	l.store(e.Clone())
	return nil
}

// AddEvents stores copies of every event. No event is stored if any is invalid
// or conflicts with a stored event.
func (l *EventLog) AddEvents(events ...*Event) error {
	for _, e := range events {
		if e == nil {
			return NewValidationError("event is required").WithOperation("events.add")
		}
		if e.ID == "" || e.Type == "" {
			return NewValidationError("event id and type are required").WithOperation("events.add")
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	batch := make(map[string]*Event, len(events))
	for _, e := range events {
		if err := l.checkStored(e); err != nil {
			return err
		}
		if prev, ok := batch[e.ID]; ok && !prev.Equal(*e) {
			return NewDuplicateKeyError(e.ID).WithOperation("events.add")
		}
		batch[e.ID] = e
	}
	for _, e := range events {
		l.store(e.Clone())
	}
	return nil
}

// checkStored rejects an event whose id is stored with different values.
// Stored events are immutable; re-adding an identical event is a no-op.
func (l *EventLog) checkStored(e *Event) error {
	if old, exists := l.byID[e.ID]; exists && !old.Equal(*e) {
		return NewDuplicateKeyError(e.ID).WithOperation("events.add")
	}
	return nil
}

func (l *EventLog) store(e Event) {
	if _, exists := l.byID[e.ID]; exists {
		return
	}
	l.order = append(l.order, e.ID)
	l.byID[e.ID] = e

	ids, ok := l.byType[e.Type]
	if !ok {
		ids = make(map[string]struct{})
		l.byType[e.Type] = ids
	}
	ids[e.ID] = struct{}{}
}

// GetEvents returns copies of all stored events when no types are given, otherwise
// copies of the events of any of the given types. Events are returned in the order
// they were first stored.
func (l *EventLog) GetEvents(types ...string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Event, 0)
	if len(types) == 0 {
		for _, id := range l.order {
			out = append(out, l.byID[id].Clone())
		}
		return out
	}

	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}
	for _, id := range l.order {
		e := l.byID[id]
		if _, ok := wanted[e.Type]; ok {
			out = append(out, e.Clone())
		}
	}
	return out
}

// GetEventByType returns one event of the given type.
func (l *EventLog) GetEventByType(eventType string) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id := range l.byType[eventType] {
		return l.byID[id].Clone(), true
	}
	return Event{}, false
}

// HasEventType reports whether at least one event of the given type is stored.
func (l *EventLog) HasEventType(eventType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byType[eventType]) > 0
}

// FindEventByID returns a copy of the event with the given id.
func (l *EventLog) FindEventByID(id string) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return Event{}, false
	}
	return e.Clone(), true
}

// Len returns the number of stored events.
func (l *EventLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// SortChronologically orders events by date. Events with equal dates keep their
// input order, which for GetEvents and archived deposits is insertion order.
func SortChronologically(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Date.Before(events[j].Date)
	})
}
