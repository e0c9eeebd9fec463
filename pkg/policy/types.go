package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings an operator should review before confirming.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that deny the deposit.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that deny the deposit and need attention.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the deposit.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose `deny` set lists violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy source. Its package must define `deny`.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled"`

	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`

	// File is the package file the violation concerns, if any.
	File string `json:"file,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against one deposit.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Blocking returns the violations that deny the deposit.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Input is the document policies see as `input`.
type Input struct {
	Deposit DepositInput  `json:"deposit"`
	Context *InputContext `json:"context"`
}

// DepositInput describes the deposit under evaluation.
type DepositInput struct {
	ID          string      `json:"id"`
	User        string      `json:"user"`
	FileName    string      `json:"file_name,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Packaging   string      `json:"packaging,omitempty"`
	Files       []FileInput `json:"files"`

	// Attributes maps attribute set keys to attribute name and values.
	Attributes map[string]AttributeSetInput `json:"attributes"`

	// BusinessObjects counts vault entries by declared type.
	BusinessObjects map[string]int `json:"business_objects"`
}

// FileInput describes one package file.
type FileInput struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Format   string `json:"format,omitempty"`
	Checksum string `json:"checksum,omitempty"`
}

// AttributeSetInput is an attribute set flattened for Rego.
type AttributeSetInput struct {
	Name   string              `json:"name"`
	Values map[string][]string `json:"values"`
}

// InputContext carries evaluation context.
type InputContext struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
}
