package ingest

import (
	"encoding/json"
	"fmt"
)

// PhaseStatus is the lifecycle status of a deposit's ingest run.
type PhaseStatus string

const (
	// StatusPending indicates no phase has run yet.
	StatusPending PhaseStatus = "pending"

	// StatusRunning indicates a phase is executing.
	StatusRunning PhaseStatus = "running"

	// StatusPaused indicates the run halted after a phase that requested
	// confirmation; it continues on resume.
	StatusPaused PhaseStatus = "paused"

	// StatusSucceeded indicates every phase completed.
	StatusSucceeded PhaseStatus = "succeeded"

	// StatusFailed indicates a phase service failed. A resume re-runs the failed phase.
	StatusFailed PhaseStatus = "failed"

	// StatusCancelled indicates the deposit was cancelled and can never be resumed.
	StatusCancelled PhaseStatus = "cancelled"
)

// IsTerminal returns true if no further phase will run without operator action.
// Failed is terminal for a run but may be resumed once the cause is fixed.
func (s PhaseStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// IsResumable reports whether Resume may advance a run in this status.
func (s PhaseStatus) IsResumable() bool {
	return s == StatusPending || s == StatusPaused || s == StatusFailed
}

// Validate checks if the status is valid.
func (s PhaseStatus) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusPaused,
		StatusSucceeded, StatusFailed, StatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid phase status: %s", s)
	}
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *PhaseStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = PhaseStatus(str)
	return s.Validate()
}

// PhaseState is the current position of a deposit in its phase sequence.
// Phase is the number of the phase the status refers to: the running, last
// completed (paused, succeeded), or failing phase. It is zero while pending.
type PhaseState struct {
	Status PhaseStatus `json:"status"`
	Phase  int         `json:"phase"`
}

func (p PhaseState) String() string {
	if p.Phase == 0 {
		return string(p.Status)
	}
	return fmt.Sprintf("%s(%d)", p.Status, p.Phase)
}
