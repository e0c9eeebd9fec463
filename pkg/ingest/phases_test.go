package ingest

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
)

// recordingService records each execution and optionally fails.
type recordingService struct {
	id    string
	calls *[]string
	err   error
	onRun func(state *IngestState)
}

func (s *recordingService) ID() string { return s.id }

func (s *recordingService) Execute(_ context.Context, _ string, state *IngestState) error {
	*s.calls = append(*s.calls, s.id)
	if s.onRun != nil {
		s.onRun(state)
	}
	return s.err
}

func newTestState(t *testing.T, depositID string) *IngestState {
	t.Helper()
	state, err := NewStateFactory(&countingAllocator{}).New(depositID, "alice")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return state
}

func phaseOutcomes(state *IngestState, eventType string) []string {
	var out []string
	for _, e := range state.Events().GetEvents(eventType) {
		out = append(out, e.Outcome)
	}
	return out
}

func TestNewPhaseSequencerValidation(t *testing.T) {
	if _, err := NewPhaseSequencer(Phase{Number: 1}, Phase{Number: 1}); !IsValidation(err) {
		t.Errorf("duplicate phase numbers error = %v, want validation", err)
	}
	if _, err := NewPhaseSequencer(Phase{Number: 0}); !IsValidation(err) {
		t.Errorf("zero phase number error = %v, want validation", err)
	}
	if _, err := NewPhaseSequencer(Phase{Number: 1, Services: []Service{nil}}); !IsValidation(err) {
		t.Errorf("nil service error = %v, want validation", err)
	}

	seq, err := NewPhaseSequencer(Phase{Number: 3}, Phase{Number: 1}, Phase{Number: 2})
	if err != nil {
		t.Fatalf("NewPhaseSequencer() error = %v", err)
	}
	var numbers []int
	for _, p := range seq.Phases() {
		numbers = append(numbers, p.Number)
	}
	if !reflect.DeepEqual(numbers, []int{1, 2, 3}) {
		t.Errorf("Phases() order = %v", numbers)
	}
}

func TestSequencerRunsAllPhases(t *testing.T) {
	var calls []string
	seq, _ := NewPhaseSequencer(
		Phase{Number: 2, Services: []Service{&recordingService{id: "c", calls: &calls}}},
		Phase{Number: 1, Services: []Service{
			&recordingService{id: "a", calls: &calls},
			&recordingService{id: "b", calls: &calls},
		}},
	)
	state := newTestState(t, "dep-1")

	st, err := seq.StartIngest(context.Background(), "dep-1", state)
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	if st != (PhaseState{Status: StatusSucceeded, Phase: 2}) {
		t.Errorf("StartIngest() = %s, want succeeded(2)", st)
	}
	if !reflect.DeepEqual(calls, []string{"a", "b", "c"}) {
		t.Errorf("service order = %v", calls)
	}

	starts := state.Events().GetEvents(EventTypePhaseStart)
	if len(starts) != 2 || starts[0].Outcome != "1" || !reflect.DeepEqual(starts[0].Targets, []string{"a", "b"}) {
		t.Errorf("phase.start events = %+v", starts)
	}
	if got := phaseOutcomes(state, EventTypePhaseComplete); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Errorf("phase.complete outcomes = %v", got)
	}
	complete, ok := state.Events().GetEventByType(EventTypeIngestComplete)
	if !ok || complete.Outcome != "dep-1" {
		t.Errorf("ingest.complete = %+v, %v", complete, ok)
	}

	if _, err := seq.StartIngest(context.Background(), "dep-1", state); !IsValidation(err) {
		t.Errorf("second StartIngest() error = %v, want validation", err)
	}
}

func TestSequencerPauseAndResume(t *testing.T) {
	var calls []string
	seq, _ := NewPhaseSequencer(
		Phase{Number: 1, PauseAfter: true, Services: []Service{&recordingService{id: "one", calls: &calls}}},
		Phase{Number: 2, Services: []Service{&recordingService{id: "two", calls: &calls}}},
	)
	state := newTestState(t, "dep-1")
	ctx := context.Background()

	st, err := seq.StartIngest(ctx, "dep-1", state)
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	if st != (PhaseState{Status: StatusPaused, Phase: 1}) {
		t.Fatalf("StartIngest() = %s, want paused(1)", st)
	}
	if state.Events().HasEventType(EventTypeIngestComplete) {
		t.Fatal("ingest completed while paused")
	}

	st, err = seq.Resume(ctx, "dep-1", state)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if st.Status != StatusSucceeded {
		t.Errorf("Resume() = %s, want succeeded", st)
	}
	if !reflect.DeepEqual(calls, []string{"one", "two"}) {
		t.Errorf("calls = %v, phase 1 should not re-run", calls)
	}

	// Resuming a finished run is a no-op.
	st, err = seq.Resume(ctx, "dep-1", state)
	if err != nil || st.Status != StatusSucceeded || len(calls) != 2 {
		t.Errorf("Resume() after success = %s, %v, calls %v", st, err, calls)
	}
}

func TestSequencerFailureAndRetry(t *testing.T) {
	var calls []string
	flaky := &recordingService{id: "flaky", calls: &calls, err: errors.New("disk full")}
	seq, _ := NewPhaseSequencer(
		Phase{Number: 1, Services: []Service{&recordingService{id: "ok", calls: &calls}}},
		Phase{Number: 2, Services: []Service{flaky, &recordingService{id: "after", calls: &calls}}},
	)
	state := newTestState(t, "dep-1")
	ctx := context.Background()

	st, err := seq.StartIngest(ctx, "dep-1", state)
	if !IsPhaseFailure(err) {
		t.Fatalf("StartIngest() error = %v, want phase failure", err)
	}
	if st != (PhaseState{Status: StatusFailed, Phase: 2}) {
		t.Errorf("StartIngest() = %s, want failed(2)", st)
	}
	fail, ok := state.Events().GetEventByType(EventTypeIngestFail)
	if !ok || fail.Outcome != "2" || fail.Detail != "disk full" || !reflect.DeepEqual(fail.Targets, []string{"flaky"}) {
		t.Errorf("ingest.fail = %+v", fail)
	}

	flaky.err = nil
	st, err = seq.Resume(ctx, "dep-1", state)
	if err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if st.Status != StatusSucceeded {
		t.Errorf("Resume() = %s, want succeeded", st)
	}
	want := []string{"ok", "flaky", "flaky", "after"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestSequencerStopsAtPhaseBoundaryOnCancel(t *testing.T) {
	var calls []string
	seq, _ := NewPhaseSequencer(
		Phase{Number: 1, Services: []Service{
			&recordingService{id: "cancel", calls: &calls, onRun: func(s *IngestState) { s.Cancel() }},
			&recordingService{id: "same-phase", calls: &calls},
		}},
		Phase{Number: 2, Services: []Service{&recordingService{id: "next-phase", calls: &calls}}},
	)
	state := newTestState(t, "dep-1")

	st, err := seq.StartIngest(context.Background(), "dep-1", state)
	if err != nil {
		t.Fatalf("StartIngest() error = %v", err)
	}
	if st.Status != StatusCancelled {
		t.Errorf("StartIngest() = %s, want cancelled", st)
	}
	// The running phase completes; the next one never starts.
	if !reflect.DeepEqual(calls, []string{"cancel", "same-phase"}) {
		t.Errorf("calls = %v", calls)
	}

	st, err = seq.Resume(context.Background(), "dep-1", state)
	if err != nil || st.Status != StatusCancelled || len(calls) != 2 {
		t.Errorf("Resume() after cancel = %s, %v, calls %v", st, err, calls)
	}
}

func TestSequencerStateMismatch(t *testing.T) {
	seq, _ := NewPhaseSequencer()
	state := newTestState(t, "dep-1")
	if _, err := seq.StartIngest(context.Background(), "dep-2", state); !IsValidation(err) {
		t.Errorf("StartIngest() with foreign state error = %v", err)
	}
	if _, err := seq.Resume(context.Background(), "dep-1", nil); !IsValidation(err) {
		t.Errorf("Resume(nil) error = %v", err)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	state := newTestState(t, "dep-1")
	if !state.Cancel() {
		t.Error("first Cancel() = false")
	}
	if state.Cancel() {
		t.Error("second Cancel() = true")
	}
	if !state.IsCancelled() || state.Phase().Status != StatusCancelled {
		t.Errorf("state after cancel = %s", state.Phase())
	}
}

func TestCompletedPhasesIgnoresBadOutcomes(t *testing.T) {
	state := newTestState(t, "dep-1")
	ctx := context.Background()
	_, _ = state.Events().Record(ctx, EventTypePhaseComplete, strconv.Itoa(4), "")
	_, _ = state.Events().Record(ctx, EventTypePhaseComplete, "not-a-number", "")

	done := CompletedPhases(state)
	if len(done) != 1 || !done[4] {
		t.Errorf("CompletedPhases() = %v", done)
	}
}

func TestPhaseStatus(t *testing.T) {
	if err := PhaseStatus("bogus").Validate(); err == nil {
		t.Error("Validate() accepted an unknown status")
	}
	if !StatusFailed.IsResumable() || StatusCancelled.IsResumable() {
		t.Error("IsResumable() wrong for failed/cancelled")
	}
	if StatusPaused.IsTerminal() || !StatusSucceeded.IsTerminal() {
		t.Error("IsTerminal() wrong for paused/succeeded")
	}
	if got := (PhaseState{Status: StatusPaused, Phase: 1}).String(); got != "paused(1)" {
		t.Errorf("String() = %s", got)
	}
}
