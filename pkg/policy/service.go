package policy

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/services"
	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// ServiceID is the id of the policy ingest service.
const ServiceID = "policy"

// Outcomes of a policy.evaluation event.
const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
)

// Service evaluates the engine's policies as an ingest phase service.
//
// Every run records one policy.evaluation event. When Enforce is set a denied
// deposit fails the phase; otherwise the denial is only recorded, which makes
// it visible in the pre-ingest report of a paused deposit.
type Service struct {
	Engine  *Engine
	Enforce bool
}

// NewService returns a policy service backed by engine.
func NewService(engine *Engine, enforce bool) *Service {
	return &Service{Engine: engine, Enforce: enforce}
}

func (s *Service) ID() string { return ServiceID }

// Execute implements ingest.Service.
func (s *Service) Execute(ctx context.Context, depositID string, state *ingest.IngestState) error {
	if s.Engine == nil {
		return ingest.NewInternalError("policy service has no engine", nil).WithOperation("policy.execute")
	}

	input := BuildInput(depositID, state)
	result, err := s.Engine.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to evaluate policies: %w", err)
	}

	outcome := OutcomeAllowed
	if !result.Allowed {
		outcome = OutcomeDenied
	}
	targets := make([]string, 0, len(result.Violations))
	seen := make(map[string]bool)
	for _, v := range result.Violations {
		if !seen[v.Policy] {
			seen[v.Policy] = true
			targets = append(targets, v.Policy)
		}
	}
	if _, err := state.Events().Record(ctx, ingest.EventTypePolicyEvaluation, outcome, summarize(result), targets...); err != nil {
		return err
	}

	if result.Allowed {
		return nil
	}

	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		for _, v := range result.Blocking() {
			_ = tel.Events.PublishPolicyViolation(depositID, v.Policy, v.Message)
		}
	}
	telemetry.FromContext(ctx).WithDepositID(depositID).
		WithField("enforce", s.Enforce).
		Warnf("deposit denied by %d policy violation(s)", len(result.Blocking()))

	if !s.Enforce {
		return nil
	}
	return ingest.NewValidationError("deposit denied by policy: "+summarize(result)).
		WithDeposit(depositID).
		WithOperation("policy.execute").
		WithCode(ingest.ErrCodePolicyDenied)
}

// summarize lists violations as "policy: message" joined by "; ".
func summarize(r *Result) string {
	if len(r.Violations) == 0 {
		return fmt.Sprintf("%d policies passed", len(r.EvaluatedPolicies))
	}
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return strings.Join(parts, "; ")
}

// BuildInput describes a deposit's current state for policy evaluation.
// File sizes come from File-Size attributes when present and from disk
// otherwise.
func BuildInput(depositID string, state *ingest.IngestState) *Input {
	pkg := state.Package()
	attrs := state.Attributes()

	in := &Input{
		Deposit: DepositInput{
			ID:              depositID,
			User:            state.User(),
			Files:           make([]FileInput, 0, len(pkg.Files)),
			Attributes:      make(map[string]AttributeSetInput),
			BusinessObjects: make(map[string]int),
		},
		Context: &InputContext{
			Timestamp: state.CreatedAt(),
			Operation: "ingest",
		},
	}

	if set, ok := attrs.Get(deposit.DepositSetKey(depositID)); ok {
		in.Deposit.FileName, _ = set.First(ingest.AttrDepositFileName)
		in.Deposit.ContentType, _ = set.First(ingest.AttrDepositContentType)
		in.Deposit.Packaging, _ = set.First(ingest.AttrDepositPackaging)
	}

	for _, rel := range pkg.Files {
		f := FileInput{Path: rel, Name: path.Base(rel), Size: -1}
		if set, ok := attrs.Get(services.FileSetKey(rel)); ok {
			if v, ok := set.First(ingest.AttrFileSize); ok {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					f.Size = n
				}
			}
			f.Format, _ = set.First(ingest.AttrFileFormat)
			f.Checksum, _ = set.First(ingest.AttrFileChecksum)
		}
		if f.Size < 0 {
			f.Size = 0
			if fi, err := os.Stat(filepath.Join(pkg.BaseDir, filepath.FromSlash(rel))); err == nil {
				f.Size = fi.Size()
			}
		}
		in.Deposit.Files = append(in.Deposit.Files, f)
	}

	for _, key := range attrs.Keys() {
		set, ok := attrs.Get(key)
		if !ok {
			continue
		}
		values := make(map[string][]string)
		for _, a := range set.Attributes {
			values[a.Name] = append(values[a.Name], a.Value)
		}
		in.Deposit.Attributes[key] = AttributeSetInput{Name: set.Name, Values: values}
	}

	for _, entry := range state.Vault().Entries() {
		in.Deposit.BusinessObjects[string(entry.Type)]++
	}

	return in
}
