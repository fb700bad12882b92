package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/fsimage/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block the build.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the build.
	SeverityError Severity = "error"
)

// Blocks reports whether violations of this severity fail the build.
func (s Severity) Blocks() bool {
	return s == SeverityError
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Violation represents a single policy violation by one item.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Target is the feature target that declared the item.
	Target string `json:"target,omitempty"`

	// Kind is the item kind.
	Kind string `json:"kind,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s from %s)", v.Policy, v.Message, v.Kind, v.Target)
}

// Result represents the result of evaluating policies over a layer.
type Result struct {
	// Allowed is false when any violation blocks the build.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block the build.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns a policy violation error listing the blocking violations,
// or nil when the build is allowed.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.String()
	}
	return engine.NewPermanentError(
		fmt.Sprintf("%d policy violation(s): %s", len(r.Violations), strings.Join(msgs, "; ")), nil,
	).WithCode(engine.ErrCodePolicyViolation).WithDetail("violations", r.Violations)
}

// Input is the document policies are evaluated against, once per item.
type Input struct {
	// Item describes the item: kind, from_target, phase, and the fields
	// of its kind.
	Item map[string]interface{} `json:"item"`

	// Layer describes the layer being built.
	Layer LayerInput `json:"layer"`
}

// LayerInput is the layer context of an evaluation.
type LayerInput struct {
	Target                  string   `json:"target"`
	AllowedHostMountTargets []string `json:"allowed_host_mount_targets"`
	RpmInstaller            string   `json:"rpm_installer,omitempty"`
	BuildAppliance          string   `json:"build_appliance,omitempty"`
}
