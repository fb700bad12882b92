package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests that migrations create the journal tables and
// are idempotent
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"builds", "build_steps"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	if err := store.Migrate(ctx); err != nil {
		t.Errorf("second migration failed: %v", err)
	}
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		store, err := NewSQLiteStore(Config{Path: path})
		if err != nil {
			t.Fatalf("failed to create store: %v", err)
		}
		if err := store.Init(ctx); err != nil {
			t.Fatalf("failed to initialize store: %v", err)
		}
		if err := store.Migrate(ctx); err != nil {
			t.Fatalf("failed to migrate store: %v", err)
		}
		if i == 0 {
			err = store.CreateBuild(ctx, &Build{ID: "b-1", Layer: "//a", Subvolume: "a", Status: BuildStatusRunning, StartedAt: time.Now()})
			if err != nil {
				t.Fatalf("failed to create build: %v", err)
			}
		} else if _, err := store.GetBuild(ctx, "b-1"); err != nil {
			t.Errorf("expected build to persist across opens: %v", err)
		}
		if err := store.Close(); err != nil {
			t.Fatalf("failed to close store: %v", err)
		}
	}
}

func TestBuildCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	build := &Build{
		ID:        "b-1",
		Layer:     "//images:app",
		Subvolume: "images_app:1",
		Status:    BuildStatusRunning,
		StartedAt: now,
	}
	if err := store.CreateBuild(ctx, build); err != nil {
		t.Fatalf("failed to create build: %v", err)
	}

	got, err := store.GetBuild(ctx, "b-1")
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if got.Layer != "//images:app" || got.Status != BuildStatusRunning || got.Metadata != "{}" {
		t.Errorf("unexpected build: %+v", got)
	}
	if got.CompletedAt != nil || got.Error != nil {
		t.Errorf("expected a running build to have no completion, got %+v", got)
	}
	if !got.StartedAt.Equal(now) {
		t.Errorf("expected started_at %v, got %v", now, got.StartedAt)
	}

	msg := "item failed"
	if err := store.UpdateBuildStatus(ctx, "b-1", BuildStatusFailed, &msg); err != nil {
		t.Fatalf("failed to update build: %v", err)
	}
	got, err = store.GetBuild(ctx, "b-1")
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if got.Status != BuildStatusFailed || got.Error == nil || *got.Error != msg || got.CompletedAt == nil {
		t.Errorf("expected failed build with error, got %+v", got)
	}

	if err := store.DeleteBuild(ctx, "b-1"); err != nil {
		t.Fatalf("failed to delete build: %v", err)
	}
	if _, err := store.GetBuild(ctx, "b-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.UpdateBuildStatus(ctx, "b-1", BuildStatusCompleted, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound updating a missing build, got %v", err)
	}
}

func TestListBuilds(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	layers := []string{"//a", "//b", "//a"}
	for i, layer := range layers {
		build := &Build{
			ID:        string(rune('x' + i)),
			Layer:     layer,
			Subvolume: "sv",
			Status:    BuildStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateBuild(ctx, build); err != nil {
			t.Fatalf("failed to create build: %v", err)
		}
	}

	all, err := store.ListBuilds(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list builds: %v", err)
	}
	if len(all) != 3 || all[0].ID != "z" || all[2].ID != "x" {
		t.Errorf("expected newest first, got %d builds starting with %v", len(all), all)
	}

	layer := "//a"
	onlyA, err := store.ListBuilds(ctx, &layer, 10, 0)
	if err != nil {
		t.Fatalf("failed to list builds: %v", err)
	}
	if len(onlyA) != 2 {
		t.Errorf("expected 2 builds of //a, got %d", len(onlyA))
	}

	page, err := store.ListBuilds(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to list builds: %v", err)
	}
	if len(page) != 1 || page[0].ID != "y" {
		t.Errorf("expected the second newest build, got %v", page)
	}

	deleted, err := store.DeleteBuildsBefore(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("failed to prune builds: %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 pruned builds, got %d", deleted)
	}
}

func TestBuildSteps(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.CreateBuild(ctx, &Build{ID: "b-1", Layer: "//a", Subvolume: "sv", Status: BuildStatusRunning, StartedAt: time.Now()}); err != nil {
		t.Fatalf("failed to create build: %v", err)
	}

	steps := []*BuildStep{
		{ID: "s-2", BuildID: "b-1", Seq: 2, Phase: "none", Kind: "install_file", Provenance: "//f", Status: StepStatusRunning, StartedAt: time.Now()},
		{ID: "s-1", BuildID: "b-1", Seq: 1, Phase: "make_subvol", Kind: "parent_layer", Provenance: "//a", Status: StepStatusRunning, StartedAt: time.Now()},
	}
	for _, step := range steps {
		if err := store.CreateBuildStep(ctx, step); err != nil {
			t.Fatalf("failed to create step: %v", err)
		}
	}

	dup := &BuildStep{ID: "s-3", BuildID: "b-1", Seq: 1, Phase: "none", Kind: "mount", Status: StepStatusRunning, StartedAt: time.Now()}
	if err := store.CreateBuildStep(ctx, dup); err == nil {
		t.Error("expected error for a duplicate sequence number")
	}

	orphan := &BuildStep{ID: "s-4", BuildID: "missing", Seq: 1, Phase: "none", Kind: "mount", Status: StepStatusRunning, StartedAt: time.Now()}
	if err := store.CreateBuildStep(ctx, orphan); err == nil {
		t.Error("expected foreign key error for a step of a missing build")
	}

	if err := store.UpdateBuildStepStatus(ctx, "s-1", StepStatusCompleted, nil); err != nil {
		t.Fatalf("failed to update step: %v", err)
	}

	got, err := store.ListBuildSteps(ctx, "b-1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s-1" || got[1].ID != "s-2" {
		t.Fatalf("expected steps in seq order, got %v", got)
	}
	if got[0].Status != StepStatusCompleted || got[0].CompletedAt == nil {
		t.Errorf("expected first step completed, got %+v", got[0])
	}

	if err := store.DeleteBuild(ctx, "b-1"); err != nil {
		t.Fatalf("failed to delete build: %v", err)
	}
	got, err = store.ListBuildSteps(ctx, "b-1")
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected steps to be deleted with the build, got %d", len(got))
	}
}

func TestJournal_FailedStep(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	journal := NewJournal(store)

	buildID, err := journal.StartBuild(ctx, "//images:app", "images_app:1")
	if err != nil {
		t.Fatalf("failed to start build: %v", err)
	}

	first, err := journal.StartStep(ctx, buildID, "make_subvol", "parent_layer", "//images:app")
	if err != nil {
		t.Fatalf("failed to start step: %v", err)
	}
	if err := journal.FinishStep(ctx, first, nil); err != nil {
		t.Fatalf("failed to finish step: %v", err)
	}

	second, err := journal.StartStep(ctx, buildID, "none", "install_file", "//features:etc")
	if err != nil {
		t.Fatalf("failed to start step: %v", err)
	}
	stepErr := errors.New("permission denied")
	if err := journal.FinishStep(ctx, second, stepErr); err != nil {
		t.Fatalf("failed to finish step: %v", err)
	}
	if err := journal.FinishBuild(ctx, buildID, stepErr); err != nil {
		t.Fatalf("failed to finish build: %v", err)
	}

	build, err := store.GetBuild(ctx, buildID)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if build.Status != BuildStatusFailed {
		t.Errorf("expected failed build, got %s", build.Status)
	}

	steps, err := store.ListBuildSteps(ctx, buildID)
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].Seq != 1 || steps[0].Status != StepStatusCompleted {
		t.Errorf("expected step 1 completed, got %+v", steps[0])
	}
	if steps[1].Seq != 2 || steps[1].Status != StepStatusFailed || *steps[1].Error != "permission denied" {
		t.Errorf("expected step 2 failed with the error, got %+v", steps[1])
	}
}
