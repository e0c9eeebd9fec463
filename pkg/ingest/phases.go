package ingest

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// Service is one unit of work executed within an ingest phase. Services mutate
// the deposit's stores and record events in its event log.
type Service interface {
	// ID returns the identifier recorded as an event target.
	ID() string

	// Execute runs the service against the deposit's state.
	Execute(ctx context.Context, depositID string, state *IngestState) error
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, depositID string, state *IngestState) error

type funcService struct {
	id string
	fn ServiceFunc
}

// NewService returns a Service with the given id backed by fn.
func NewService(id string, fn ServiceFunc) Service {
	return &funcService{id: id, fn: fn}
}

func (s *funcService) ID() string { return s.id }

func (s *funcService) Execute(ctx context.Context, depositID string, state *IngestState) error {
	return s.fn(ctx, depositID, state)
}

// Phase is a numbered ingest stage. Services run sequentially in order.
type Phase struct {
	Number     int
	PauseAfter bool
	Services   []Service
}

func (p Phase) serviceIDs() []string {
	ids := make([]string, len(p.Services))
	for i, svc := range p.Services {
		ids[i] = svc.ID()
	}
	return ids
}

// PhaseSequencer runs a deposit's phases in phase-number order, pausing after any
// phase that requests confirmation.
//
// Progress is derived from the phase.complete events in the deposit's event log, so
// a sequencer holds no per-deposit state and one instance serves every deposit.
type PhaseSequencer struct {
	phases []Phase
}

// NewPhaseSequencer validates and orders phases. Phase numbers must be positive and
// unique.
func NewPhaseSequencer(phases ...Phase) (*PhaseSequencer, error) {
	seen := make(map[int]bool, len(phases))
	ordered := make([]Phase, 0, len(phases))
	for _, p := range phases {
		if p.Number <= 0 {
			return nil, NewValidationError(fmt.Sprintf("phase number must be positive, got %d", p.Number)).
				WithOperation("sequencer.new")
		}
		if seen[p.Number] {
			return nil, NewValidationError(fmt.Sprintf("duplicate phase number %d", p.Number)).
				WithOperation("sequencer.new")
		}
		seen[p.Number] = true
		for i, svc := range p.Services {
			if svc == nil {
				return nil, NewValidationError(fmt.Sprintf("phase %d service %d is nil", p.Number, i)).
					WithOperation("sequencer.new")
			}
		}
		p.Services = append([]Service(nil), p.Services...)
		ordered = append(ordered, p)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })
	return &PhaseSequencer{phases: ordered}, nil
}

// Phases returns the configured phases in execution order.
func (s *PhaseSequencer) Phases() []Phase {
	out := make([]Phase, len(s.phases))
	copy(out, s.phases)
	return out
}

// CompletedPhases returns the numbers of the phases recorded as complete for state.
func CompletedPhases(state *IngestState) map[int]bool {
	done := make(map[int]bool)
	for _, e := range state.Events().GetEvents(EventTypePhaseComplete) {
		if n, err := strconv.Atoi(e.Outcome); err == nil {
			done[n] = true
		}
	}
	return done
}

// next returns the first phase not yet recorded as complete.
func (s *PhaseSequencer) next(state *IngestState) (Phase, bool) {
	done := CompletedPhases(state)
	for _, p := range s.phases {
		if !done[p.Number] {
			return p, true
		}
	}
	return Phase{}, false
}

// StartIngest runs phases for a freshly created state until the run pauses, fails,
// finishes or observes cancellation.
func (s *PhaseSequencer) StartIngest(ctx context.Context, depositID string, state *IngestState) (PhaseState, error) {
	if err := checkState(depositID, state); err != nil {
		return PhaseState{}, err
	}
	current := state.Phase()
	if state.IsCancelled() {
		return current, nil
	}
	if current.Status != StatusPending {
		return current, NewValidationError(fmt.Sprintf("ingest already started: %s", current)).
			WithDeposit(depositID).WithOperation("sequencer.start")
	}
	return s.run(ctx, depositID, state)
}

// Resume continues a paused or failed run. A failed phase is re-run from its first
// service. Cancelled and succeeded states are returned unchanged.
func (s *PhaseSequencer) Resume(ctx context.Context, depositID string, state *IngestState) (PhaseState, error) {
	if err := checkState(depositID, state); err != nil {
		return PhaseState{}, err
	}
	current := state.Phase()
	if state.IsCancelled() || current.Status == StatusSucceeded {
		return current, nil
	}
	if !current.Status.IsResumable() {
		return current, NewValidationError(fmt.Sprintf("deposit cannot be resumed while %s", current)).
			WithDeposit(depositID).WithOperation("sequencer.resume")
	}
	return s.run(ctx, depositID, state)
}

func checkState(depositID string, state *IngestState) error {
	if state == nil {
		return NewValidationError("ingest state is required").WithDeposit(depositID)
	}
	if depositID == "" {
		return NewValidationError("deposit id is required")
	}
	if state.DepositID() != depositID {
		return NewValidationError(fmt.Sprintf("state belongs to deposit %s", state.DepositID())).
			WithDeposit(depositID)
	}
	return nil
}

func (s *PhaseSequencer) run(ctx context.Context, depositID string, state *IngestState) (PhaseState, error) {
	logger := telemetry.FromContext(ctx).NewComponentLogger("sequencer").WithDepositID(depositID)
	tel := telemetry.FromTelemetryContext(ctx)
	log := state.Events()

	last := state.Phase().Phase
	for {
		if state.IsCancelled() {
			logger.Info("deposit cancelled, not advancing")
			return state.Phase(), nil
		}

		phase, ok := s.next(state)
		if !ok {
			pkg := state.Package()
			summary := fmt.Sprintf("ingested %d files, %d business objects", len(pkg.Files), state.Vault().Len())
			if _, err := log.Record(ctx, EventTypeIngestComplete, depositID, summary); err != nil {
				return state.Phase(), err
			}
			state.setPhase(PhaseState{Status: StatusSucceeded, Phase: last})
			if tel != nil {
				_ = tel.Events.PublishDepositCompleted(depositID)
			}
			logger.Info("ingest complete")
			return state.Phase(), nil
		}

		if !state.setPhase(PhaseState{Status: StatusRunning, Phase: phase.Number}) {
			continue
		}
		if err := s.runPhase(ctx, depositID, state, phase); err != nil {
			state.setPhase(PhaseState{Status: StatusFailed, Phase: phase.Number})
			if tel != nil {
				_ = tel.Events.PublishDepositFailed(depositID, phase.Number, err.Error())
			}
			logger.WithPhase(phase.Number).WithError(err).Error("phase failed")
			return state.Phase(), err
		}
		last = phase.Number

		if phase.PauseAfter {
			if state.setPhase(PhaseState{Status: StatusPaused, Phase: phase.Number}) {
				if tel != nil {
					_ = tel.Events.PublishDepositPaused(depositID, phase.Number)
				}
				logger.WithPhase(phase.Number).Info("paused for confirmation")
			}
			return state.Phase(), nil
		}
	}
}

// runPhase executes every service of phase and records its start and completion.
func (s *PhaseSequencer) runPhase(ctx context.Context, depositID string, state *IngestState, phase Phase) error {
	log := state.Events()
	number := strconv.Itoa(phase.Number)
	ids := phase.serviceIDs()

	ctx, end := telemetry.WithPhaseContext(ctx, depositID, phase.Number)

	if _, err := log.Record(ctx, EventTypePhaseStart, number, fmt.Sprintf("starting phase %d", phase.Number), ids...); err != nil {
		end("failed", err)
		return err
	}
	telemetry.FromContext(ctx).Debugf("running %d services", len(ids))

	for _, svc := range phase.Services {
		svc := svc
		err := telemetry.RecordServiceExecution(ctx, svc.ID(), func(ctx context.Context) error {
			return svc.Execute(ctx, depositID, state)
		})
		if err != nil {
			failure := NewPhaseFailure(depositID, phase.Number, svc.ID(), err)
			if _, recErr := log.Record(ctx, EventTypeIngestFail, number, err.Error(), svc.ID()); recErr != nil {
				end("failed", recErr)
				return recErr
			}
			telemetry.RecordErrorMetrics(ctx, failure)
			end("failed", failure)
			return failure
		}
	}

	if _, err := log.Record(ctx, EventTypePhaseComplete, number, fmt.Sprintf("completed phase %d", phase.Number), ids...); err != nil {
		end("failed", err)
		return err
	}
	end("succeeded", nil)
	return nil
}
