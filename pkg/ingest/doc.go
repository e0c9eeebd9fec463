// Package ingest provides the per-deposit state and phase execution engine of the
// ingest pipeline.
//
// # Overview
//
// Every deposit owns one IngestState, which binds together:
//
//   - AttributeSetStore: keyed attribute sets describing entities found in the package
//   - BusinessObjectVault: domain objects keyed by (local id, declared type)
//   - EventLog: the append-only audit trail of the deposit
//   - Package: the on-disk layout of the extracted package
//   - PhaseState: the position of the deposit in its phase sequence
//
// A PhaseSequencer runs numbered phases of Services against a state. Phase progress
// is read back from phase.complete events, so the event log is the durable record of
// how far a deposit has got:
//
//	seq, err := ingest.NewPhaseSequencer(
//	    ingest.Phase{Number: 1, PauseAfter: true, Services: []ingest.Service{checksum}},
//	    ingest.Phase{Number: 2, Services: []ingest.Service{builder}},
//	)
//	st, err := seq.StartIngest(ctx, depositID, state) // paused(1)
//	st, err = seq.Resume(ctx, depositID, state)       // succeeded(2)
//
// # State machine
//
//	pending -> running(N) -> paused(N) -> running(N+1) -> ... -> succeeded
//	                     \-> failed(N) -> running(N) (resume re-runs N)
//	any non-cancelled -> cancelled (never advanced again)
//
// Cancellation is cooperative: a running phase always completes and the sequencer
// stops at the next phase boundary.
//
// # Concurrency
//
// Stores are not synchronized for concurrent mutation; callers serialize work per
// deposit id. The event log and the phase pointer are internally locked so that status
// can be read while a phase runs.
package ingest
