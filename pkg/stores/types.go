package stores

import (
	"context"
	"time"
)

// BuildStatus represents the status of a layer build
type BuildStatus string

const (
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
)

// StepStatus represents the status of a build step
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Build is the journal record of one layer build. Builds are never rolled
// back, so a failed build's subvolume holds the steps completed before the
// failure.
type Build struct {
	ID          string      `json:"id"`
	Layer       string      `json:"layer"`
	Subvolume   string      `json:"subvolume"`
	Status      BuildStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       *string     `json:"error,omitempty"`
	Metadata    string      `json:"metadata"` // JSON blob
}

// BuildStep is one phase or pool item applied by a build, in build order
type BuildStep struct {
	ID          string     `json:"id"`
	BuildID     string     `json:"build_id"`
	Seq         int        `json:"seq"`
	Phase       string     `json:"phase"` // "none" for pool items
	Kind        string     `json:"kind"`
	Provenance  string     `json:"provenance"`
	Status      StepStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// Store defines the interface for the build journal
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Build operations
	CreateBuild(ctx context.Context, build *Build) error
	GetBuild(ctx context.Context, id string) (*Build, error)
	UpdateBuildStatus(ctx context.Context, id string, status BuildStatus, err *string) error
	ListBuilds(ctx context.Context, layer *string, limit, offset int) ([]*Build, error)
	DeleteBuild(ctx context.Context, id string) error
	DeleteBuildsBefore(ctx context.Context, before time.Time) (int64, error)

	// Step operations
	CreateBuildStep(ctx context.Context, step *BuildStep) error
	UpdateBuildStepStatus(ctx context.Context, id string, status StepStatus, err *string) error
	ListBuildSteps(ctx context.Context, buildID string) ([]*BuildStep, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
