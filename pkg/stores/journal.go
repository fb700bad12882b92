package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Journal records build progress in a Store. IDs are UUIDs.
type Journal struct {
	store Store
	seq   map[string]int
}

// NewJournal creates a journal on store.
func NewJournal(store Store) *Journal {
	return &Journal{store: store, seq: make(map[string]int)}
}

// StartBuild records a running build and returns its ID.
func (j *Journal) StartBuild(ctx context.Context, layer, subvolume string) (string, error) {
	build := &Build{
		ID:        uuid.New().String(),
		Layer:     layer,
		Subvolume: subvolume,
		Status:    BuildStatusRunning,
		StartedAt: time.Now(),
	}
	if err := j.store.CreateBuild(ctx, build); err != nil {
		return "", err
	}
	return build.ID, nil
}

// FinishBuild marks a build completed, or failed with buildErr.
func (j *Journal) FinishBuild(ctx context.Context, buildID string, buildErr error) error {
	delete(j.seq, buildID)
	status, msg := BuildStatusCompleted, errorString(buildErr)
	if buildErr != nil {
		status = BuildStatusFailed
	}
	return j.store.UpdateBuildStatus(ctx, buildID, status, msg)
}

// StartStep records the next running step of a build and returns its ID.
func (j *Journal) StartStep(ctx context.Context, buildID, phase, kind, provenance string) (string, error) {
	j.seq[buildID]++
	step := &BuildStep{
		ID:         uuid.New().String(),
		BuildID:    buildID,
		Seq:        j.seq[buildID],
		Phase:      phase,
		Kind:       kind,
		Provenance: provenance,
		Status:     StepStatusRunning,
		StartedAt:  time.Now(),
	}
	if err := j.store.CreateBuildStep(ctx, step); err != nil {
		return "", err
	}
	return step.ID, nil
}

// FinishStep marks a step completed, or failed with stepErr.
func (j *Journal) FinishStep(ctx context.Context, stepID string, stepErr error) error {
	status := StepStatusCompleted
	if stepErr != nil {
		status = StepStatusFailed
	}
	return j.store.UpdateBuildStepStatus(ctx, stepID, status, errorString(stepErr))
}

func errorString(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
