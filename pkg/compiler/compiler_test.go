package compiler

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/config"
	"github.com/openfroyo/fsimage/pkg/engine"
	"github.com/openfroyo/fsimage/pkg/policy"
	"github.com/openfroyo/fsimage/pkg/stores"
	"github.com/openfroyo/fsimage/pkg/subvol"
	"github.com/openfroyo/fsimage/pkg/subvol/subvoltest"
)

// testEnv is a compiler whose subvolumes live in memory.
type testEnv struct {
	compiler *Compiler
	runner   *subvoltest.Runner
	subvols  map[string]*subvol.Subvol
	backing  map[string]afero.Fs
	store    *stores.SQLiteStore
	hostFs   afero.Fs
}

func newTestEnv(t *testing.T, policies *policy.Engine) *testEnv {
	t.Helper()

	hostFs := afero.NewMemMapFs()
	t.Cleanup(engine.UseHostFs(hostFs))

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
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

	env := &testEnv{
		runner:  &subvoltest.Runner{},
		subvols: make(map[string]*subvol.Subvol),
		backing: make(map[string]afero.Fs),
		store:   store,
		hostFs:  hostFs,
	}
	env.runner.Handler = env.handle
	env.compiler = New(Options{SubvolumesDir: "/subvols"}, Dependencies{
		Runner:     env.runner,
		OpenSubvol: env.open,
		Policies:   policies,
		Journal:    stores.NewJournal(store),
		Logger:     zerolog.Nop(),
	})
	return env
}

// open returns the handle of the subvolume at path. Its root exists only
// once the subvolume has been created.
func (e *testEnv) open(path string) *subvol.Subvol {
	if sv, ok := e.subvols[path]; ok {
		return sv
	}
	backing := afero.NewMemMapFs()
	sv := subvol.NewWithFs(path, afero.NewBasePathFs(backing, "/root"), e.runner)
	e.subvols[path] = sv
	e.backing[path] = backing
	return sv
}

// handle creates the root of subvolumes the compiler creates.
func (e *testEnv) handle(cmd subvol.Command) (*subvol.Result, error) {
	if cmd.Name == "btrfs" && len(cmd.Args) == 3 && cmd.Args[0] == "subvolume" && cmd.Args[1] == "create" {
		if backing, ok := e.backing[cmd.Args[2]]; ok {
			if err := backing.MkdirAll("/root", 0o755); err != nil {
				return nil, err
			}
		}
	}
	return &subvol.Result{}, nil
}

// addParent registers a built layer containing dirs.
func (e *testEnv) addParent(t *testing.T, path string, dirs ...string) {
	t.Helper()
	sv := e.open(path)
	for _, d := range append([]string{subvol.MetaDir}, dirs...) {
		if err := e.backing[path].MkdirAll("/root/"+d, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", d, err)
		}
	}
	if !sv.Exists() {
		t.Fatalf("Expected %s to exist", path)
	}
}

func (e *testEnv) writeHostFile(t *testing.T, path, content string) {
	t.Helper()
	if err := afero.WriteFile(e.hostFs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func appLayer() *config.LayerConfig {
	return &config.LayerConfig{
		Layer: "//images:app",
		Features: []config.FeatureConfig{
			{
				Target: "//features:conf",
				InstallFiles: []config.InstallFileConfig{
					{Source: "/src/app.conf", Dest: "/etc/app/app.conf"},
				},
			},
			{
				Target: "//features:dirs",
				MakeDirs: []config.MakeDirsConfig{
					{IntoDir: "/", PathToMake: "etc/app"},
				},
			},
		},
	}
}

func kinds(items []engine.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Kind()
	}
	return out
}

func TestBuild(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeHostFile(t, "/src/app.conf", "key = value\n")
	ctx := context.Background()

	result, err := env.compiler.Build(ctx, BuildRequest{Layer: appLayer()})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if len(result.Phases) != 1 || result.Phases[0] != engine.PhaseMakeSubvol {
		t.Errorf("Expected only the MAKE_SUBVOL phase, got %v", result.Phases)
	}
	if got := strings.Join(kinds(result.Items), ","); got != "make_dirs,install_file" {
		t.Errorf("Expected make_dirs before install_file, got %s", got)
	}
	if !env.runner.Contains("btrfs subvolume create /subvols/images_app") {
		t.Errorf("Expected the subvolume to be created, got %v", env.runner.CommandLines())
	}

	sv := result.Subvolume
	data, err := afero.ReadFile(sv.Fs(), "/etc/app/app.conf")
	if err != nil {
		t.Fatalf("Expected installed file: %v", err)
	}
	if string(data) != "key = value\n" {
		t.Errorf("Expected file content to be copied, got %q", data)
	}
	marker, err := afero.ReadFile(sv.Fs(), subvol.FsPath(ArtifactsRequireRepoFile))
	if err != nil {
		t.Fatalf("Expected layer metadata: %v", err)
	}
	if string(marker) != "0\n" {
		t.Errorf("Expected artifacts marker 0, got %q", marker)
	}

	build, err := env.store.GetBuild(ctx, result.BuildID)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if build.Status != stores.BuildStatusCompleted || build.Subvolume != "images_app" {
		t.Errorf("Expected completed build of images_app, got %+v", build)
	}
	steps, err := env.store.ListBuildSteps(ctx, result.BuildID)
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(steps))
	}
	if steps[0].Phase != "MAKE_SUBVOL" || steps[0].Kind != engine.KindFilesystemRoot || steps[0].Provenance != "//images:app" {
		t.Errorf("Unexpected phase step: %+v", steps[0])
	}
	if steps[2].Kind != "install_file" || steps[2].Provenance != "//features:conf" {
		t.Errorf("Unexpected last step: %+v", steps[2])
	}
	for _, step := range steps {
		if step.Status != stores.StepStatusCompleted {
			t.Errorf("Expected step %d completed, got %s", step.Seq, step.Status)
		}
	}
}

func TestBuild_PolicyViolationBlocksBeforeMutation(t *testing.T) {
	policies, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	env := newTestEnv(t, policies)
	ctx := context.Background()

	layer := &config.LayerConfig{
		Layer: "//images:app",
		Features: []config.FeatureConfig{{
			Target: "//features:tools",
			Rpms:   []config.RpmConfig{{Name: "cat-1.0-1", Action: "install"}},
		}},
	}

	result, err := env.compiler.Build(ctx, BuildRequest{Layer: layer})
	if err == nil {
		t.Fatal("Expected policy violation")
	}
	if !engine.HasCode(err, engine.ErrCodePolicyViolation) {
		t.Errorf("Expected POLICY_VIOLATION, got %v", err)
	}
	if result.Policy == nil || len(result.Policy.Violations) != 1 {
		t.Fatalf("Expected one violation in the result, got %+v", result.Policy)
	}
	if result.Policy.Violations[0].Policy != "rpm-name-pinning" {
		t.Errorf("Expected rpm-name-pinning, got %s", result.Policy.Violations[0].Policy)
	}
	if cmds := env.runner.CommandLines(); len(cmds) != 0 {
		t.Errorf("Expected no commands, got %v", cmds)
	}

	build, err := env.store.GetBuild(ctx, result.BuildID)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if build.Status != stores.BuildStatusFailed {
		t.Errorf("Expected failed build, got %s", build.Status)
	}
	steps, err := env.store.ListBuildSteps(ctx, result.BuildID)
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	if len(steps) != 0 {
		t.Errorf("Expected no steps, got %d", len(steps))
	}
}

func TestBuild_FailedItemStopsBuild(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeHostFile(t, "/src/app.conf", "x")
	ctx := context.Background()

	layer := appLayer()
	layer.Features[0].InstallFiles[0].UserGroup = "app:app"

	result, err := env.compiler.Build(ctx, BuildRequest{Layer: layer})
	if err == nil {
		t.Fatal("Expected build failure for an unknown owner")
	}
	if !engine.IsPermanent(err) {
		t.Errorf("Expected permanent error, got %v", err)
	}
	if len(result.Items) != 1 {
		t.Errorf("Expected one item built before the failure, got %d", len(result.Items))
	}

	build, err := env.store.GetBuild(ctx, result.BuildID)
	if err != nil {
		t.Fatalf("failed to get build: %v", err)
	}
	if build.Status != stores.BuildStatusFailed || build.Error == nil {
		t.Errorf("Expected failed build with error, got %+v", build)
	}
	steps, err := env.store.ListBuildSteps(ctx, result.BuildID)
	if err != nil {
		t.Fatalf("failed to list steps: %v", err)
	}
	last := steps[len(steps)-1]
	if last.Kind != "install_file" || last.Status != stores.StepStatusFailed {
		t.Errorf("Expected the install_file step to fail, got %+v", last)
	}
}

func TestBuild_UnmatchedRequirement(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeHostFile(t, "/src/app.conf", "x")

	layer := appLayer()
	layer.Features = layer.Features[:1]

	_, err := env.compiler.Build(context.Background(), BuildRequest{Layer: layer})
	if !engine.HasCode(err, engine.ErrCodeUnmatchedRequirement) {
		t.Errorf("Expected UNMATCHED_REQUIREMENT, got %v", err)
	}
}

func TestBuild_Cancelled(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeHostFile(t, "/src/app.conf", "x")
	c := New(Options{SubvolumesDir: "/subvols"}, Dependencies{
		Runner:     env.runner,
		OpenSubvol: env.open,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Build(ctx, BuildRequest{Layer: appLayer()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cmds := env.runner.CommandLines(); len(cmds) != 0 {
		t.Errorf("Expected no commands, got %v", cmds)
	}
}

func TestBuild_InvalidLayer(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.compiler.Build(context.Background(), BuildRequest{Layer: &config.LayerConfig{}})
	if !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}

	_, err = env.compiler.Build(context.Background(), BuildRequest{})
	if !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("Expected VALIDATION_ERROR without a layer, got %v", err)
	}
}

func TestPlan(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeHostFile(t, "/src/app.conf", "x")

	result, err := env.compiler.Plan(context.Background(), PlanRequest{BuildRequest: BuildRequest{Layer: appLayer()}})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if got := strings.Join(kinds(result.Items), ","); got != "make_dirs,install_file" {
		t.Errorf("Expected make_dirs before install_file, got %s", got)
	}
	if len(result.Levels) != 2 {
		t.Errorf("Expected 2 levels, got %d", len(result.Levels))
	}
	if len(result.Phases) != 1 || result.Phases[0].Order != engine.PhaseMakeSubvol {
		t.Errorf("Expected only the MAKE_SUBVOL phase, got %v", result.Phases)
	}
	if !strings.Contains(result.DOT, "digraph DependencyOrder") {
		t.Errorf("Expected a DOT graph, got %q", result.DOT)
	}
	if cmds := env.runner.CommandLines(); len(cmds) != 0 {
		t.Errorf("Expected plan to run no commands, got %v", cmds)
	}
}

func TestPlan_ParentLayerSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeHostFile(t, "/src/app.conf", "x")
	env.addParent(t, "/subvols/images_base", "etc/app")

	layer := appLayer()
	layer.ParentLayer = "//images:base"
	layer.Features = layer.Features[:1]

	result, err := env.compiler.Plan(context.Background(), PlanRequest{BuildRequest: BuildRequest{Layer: layer}})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(result.Items) != 1 {
		t.Errorf("Expected 1 pool item, got %d", len(result.Items))
	}
	if result.Phases[0].Items[0].Kind() != engine.KindParentLayer {
		t.Errorf("Expected the parent layer to create the subvolume, got %s", result.Phases[0].Items[0].Kind())
	}

	missing := appLayer()
	missing.ParentLayer = "//images:missing"
	_, err = env.compiler.Plan(context.Background(), PlanRequest{BuildRequest: BuildRequest{Layer: missing}})
	if !engine.HasCode(err, engine.ErrCodeNotFound) {
		t.Errorf("Expected NOT_FOUND for an unbuilt parent, got %v", err)
	}
}

func TestPlan_Snapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	env.writeHostFile(t, "/src/app.conf", "x")

	layer := appLayer()
	layer.Features = layer.Features[:1]

	snapshot := subvol.NewWithFs("/snap", afero.NewMemMapFs(), nil)
	if err := snapshot.Fs().MkdirAll("/etc/app", 0o755); err != nil {
		t.Fatalf("failed to create snapshot: %v", err)
	}

	_, err := env.compiler.Plan(context.Background(), PlanRequest{
		BuildRequest: BuildRequest{Layer: layer},
		Snapshot:     snapshot,
	})
	if err != nil {
		t.Errorf("Expected the snapshot to provide /etc/app: %v", err)
	}
}

func TestValidate(t *testing.T) {
	policies, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	env := newTestEnv(t, policies)
	env.writeHostFile(t, "/src/app.conf", "x")

	layer := appLayer()
	layer.Features[0].InstallFiles[0].Mode = "0666"

	res, err := env.compiler.Validate(context.Background(), BuildRequest{Layer: layer})
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if !res.Allowed || len(res.Warnings) != 1 || res.Warnings[0].Policy != "world-writable" {
		t.Errorf("Expected one world-writable warning, got %+v", res)
	}
	if cmds := env.runner.CommandLines(); len(cmds) != 0 {
		t.Errorf("Expected validate to run no commands, got %v", cmds)
	}
}
