package compiler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/openfroyo/fsimage/pkg/config"
	"github.com/openfroyo/fsimage/pkg/engine"
	"github.com/openfroyo/fsimage/pkg/policy"
	"github.com/openfroyo/fsimage/pkg/subvol"
	"github.com/openfroyo/fsimage/pkg/telemetry"
)

// Options are the per-invocation settings shared by every layer a compiler
// builds.
type Options struct {
	// SubvolumesDir holds all built subvolumes.
	SubvolumesDir string

	// TargetToPath maps layer targets to explicit subvolume paths.
	TargetToPath map[string]string

	// BuildAppliance is the layer whose installer runs the RPM phases.
	BuildAppliance string

	// RpmInstaller is "dnf" or "yum".
	RpmInstaller string

	PreserveInstallerCache  bool
	AllowedHostMountTargets []string
	ArtifactsMayRequireRepo bool
}

// Journal records build progress. *stores.Journal implements it.
type Journal interface {
	StartBuild(ctx context.Context, layer, subvolume string) (string, error)
	FinishBuild(ctx context.Context, buildID string, buildErr error) error
	StartStep(ctx context.Context, buildID, phase, kind, provenance string) (string, error)
	FinishStep(ctx context.Context, stepID string, stepErr error) error
}

// Dependencies are the collaborators of a Compiler. Only Runner is
// required.
type Dependencies struct {
	Runner     subvol.Runner
	Rpm        engine.RpmExecutor
	RpmInspect engine.RpmInspector
	RpmBuild   engine.RpmBuilder

	// Subvolumes resolves other layers. Defaults to a DirLocator over
	// Options.SubvolumesDir.
	Subvolumes engine.SubvolumeLocator

	// OpenSubvol creates the handle of a subvolume path. Defaults to
	// subvol.New with Runner.
	OpenSubvol func(path string) *subvol.Subvol

	Loader    *config.Loader
	Policies  *policy.Engine
	Journal   Journal
	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger
}

// Compiler builds layers.
type Compiler struct {
	opts Options
	deps Dependencies
}

// New creates a compiler.
func New(opts Options, deps Dependencies) *Compiler {
	if deps.OpenSubvol == nil {
		runner := deps.Runner
		deps.OpenSubvol = func(path string) *subvol.Subvol { return subvol.New(path, runner) }
	}
	if deps.Subvolumes == nil {
		deps.Subvolumes = NewDirLocator(opts.SubvolumesDir, opts.TargetToPath, deps.OpenSubvol)
	}
	if deps.Loader == nil {
		deps.Loader = config.NewLoader(deps.Logger)
	}
	if deps.Journal == nil {
		deps.Journal = nopJournal{}
	}
	if deps.Telemetry == nil {
		deps.Telemetry = telemetry.NewNop()
	}
	deps.Logger = deps.Logger.With().Str("component", "compiler").Logger()
	return &Compiler{opts: opts, deps: deps}
}

// BuildRequest names the layer to build.
type BuildRequest struct {
	// LayerFile is loaded unless Layer is set.
	LayerFile string

	// Layer is an already loaded layer.
	Layer *config.LayerConfig

	// Subvolume overrides the subvolume directory name, which defaults to
	// SubvolumeName of the layer target.
	Subvolume string
}

// BuildResult describes a build, complete or not.
type BuildResult struct {
	BuildID   string
	Layer     string
	Subvolume *subvol.Subvol

	// Phases lists the phases that were built.
	Phases []engine.PhaseOrder

	// Items lists the pool items in the order they were built.
	Items []engine.Item

	Policy *policy.Result
}

// prepared is a validated layer, ready to build.
type prepared struct {
	layer  *config.LayerConfig
	opts   *engine.LayerOpts
	items  []engine.Item
	graph  *engine.DependencyGraph
	phases []engine.Phase
	policy *policy.Result
}

// Build builds a layer into a new subvolume. Every configuration error
// surfaces before the first mutation; after that the first failure stops
// the build and leaves the subvolume as it is.
func (c *Compiler) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	layer, err := c.load(ctx, req)
	if err != nil {
		c.recordValidationFailure(err)
		return nil, err
	}

	name := req.Subvolume
	if name == "" {
		name = SubvolumeName(layer.Layer)
	}
	sv := c.deps.OpenSubvol(filepath.Join(c.opts.SubvolumesDir, name))

	buildID, err := c.deps.Journal.StartBuild(ctx, layer.Layer, name)
	if err != nil {
		return nil, fmt.Errorf("failed to record build: %w", err)
	}

	tel := c.deps.Telemetry
	ic := tel.StartBuild(ctx, buildID, layer.Layer)
	ic.Logger.Info("Building layer")

	result := &BuildResult{BuildID: buildID, Layer: layer.Layer, Subvolume: sv}
	err = c.build(ic.Ctx, buildID, layer, sv, result)

	tel.EndBuild(ic, buildID, layer.Layer, err)
	if jerr := c.deps.Journal.FinishBuild(context.WithoutCancel(ctx), buildID, err); jerr != nil {
		ic.Logger.WithError(jerr).Warn("Failed to record build status")
	}
	if err != nil {
		ic.Logger.WithError(err).Error("Layer build failed")
		return result, err
	}

	ic.Logger.Infof("Built layer: %d phase(s), %d item(s)", len(result.Phases), len(result.Items))
	if locator, ok := c.deps.Subvolumes.(*DirLocator); ok {
		locator.Forget(layer.Layer)
	}
	return result, nil
}

func (c *Compiler) build(ctx context.Context, buildID string, layer *config.LayerConfig, sv *subvol.Subvol, result *BuildResult) error {
	p, err := c.prepare(ctx, layer)
	if p != nil {
		result.Policy = p.policy
	}
	if err != nil {
		return err
	}

	for _, phase := range p.phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.buildPhase(ctx, buildID, layer.Layer, phase, sv); err != nil {
			return err
		}
		result.Phases = append(result.Phases, phase.Order)
	}

	if err := writeLayerMeta(sv, p.opts); err != nil {
		return err
	}

	order, err := p.graph.DependencyOrder(engine.NewPhasesProvideItem(layer.Layer, sv))
	if err != nil {
		c.recordValidationFailure(err)
		return err
	}

	for _, item := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.buildItem(ctx, buildID, layer.Layer, item, sv, p.opts); err != nil {
			return err
		}
		result.Items = append(result.Items, item)
	}
	return nil
}

func (c *Compiler) buildPhase(ctx context.Context, buildID, layer string, phase engine.Phase, sv *subvol.Subvol) error {
	tel := c.deps.Telemetry
	name := phase.Order.String()

	stepID, err := c.deps.Journal.StartStep(ctx, buildID, name, phase.Items[0].Kind(), provenances(phase.Items))
	if err != nil {
		return fmt.Errorf("failed to record phase %s: %w", name, err)
	}

	ic := tel.StartPhase(ctx, name, len(phase.Items))
	ic.Logger.Debugf("Building phase with %d item(s)", len(phase.Items))

	err = phase.Build(ic.Ctx, sv)
	if err != nil {
		err = buildError(fmt.Sprintf("phase %s failed", name), err, layer)
	}

	tel.EndPhase(ic, buildID, layer, name, len(phase.Items), err)
	if jerr := c.deps.Journal.FinishStep(context.WithoutCancel(ctx), stepID, err); jerr != nil {
		ic.Logger.WithError(jerr).Warn("Failed to record phase status")
	}
	return err
}

func (c *Compiler) buildItem(ctx context.Context, buildID, layer string, item engine.Item, sv *subvol.Subvol, opts *engine.LayerOpts) error {
	tel := c.deps.Telemetry

	stepID, err := c.deps.Journal.StartStep(ctx, buildID, engine.PhaseNone.String(), item.Kind(), item.Provenance())
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", engine.ItemString(item), err)
	}

	ic := tel.StartItem(ctx, item.Kind(), item.Provenance())
	ic.Logger.Debug("Building item")

	err = item.(engine.Buildable).Build(ic.Ctx, sv, opts)
	if err != nil {
		err = buildError(fmt.Sprintf("failed to build %s", engine.ItemString(item)), err, item.Provenance())
	}

	tel.EndItem(ic, buildID, layer, item.Kind(), item.Provenance(), err)
	if jerr := c.deps.Journal.FinishStep(context.WithoutCancel(ctx), stepID, err); jerr != nil {
		ic.Logger.WithError(jerr).Warn("Failed to record item status")
	}
	return err
}

// Validate loads a layer and runs every check that does not need a
// subvolume: item construction, policies, and phase preparation. The
// policy result is returned even when a policy blocks the layer.
func (c *Compiler) Validate(ctx context.Context, req BuildRequest) (*policy.Result, error) {
	layer, err := c.load(ctx, req)
	if err != nil {
		c.recordValidationFailure(err)
		return nil, err
	}
	p, err := c.prepare(ctx, layer)
	if p == nil {
		return nil, err
	}
	return p.policy, err
}

// PlanRequest names the layer to plan.
type PlanRequest struct {
	BuildRequest

	// Snapshot describes the subvolume as the phases would leave it. When
	// nil, the parent layer is used if it is built, or an empty subvolume
	// otherwise.
	Snapshot *subvol.Subvol
}

// PlannedPhase is one phase of a plan.
type PlannedPhase struct {
	Order engine.PhaseOrder
	Items []engine.Item
}

// PlanResult is the order a build would use.
type PlanResult struct {
	Layer  string
	Phases []PlannedPhase

	// Items lists the pool items in build order.
	Items []engine.Item

	// Levels groups Items by dependency depth.
	Levels [][]engine.Item

	Policy *policy.Result

	// DOT renders the pool order in Graphviz format.
	DOT string
}

// Plan validates a layer and computes its build order without mutating
// any subvolume.
func (c *Compiler) Plan(ctx context.Context, req PlanRequest) (*PlanResult, error) {
	layer, err := c.load(ctx, req.BuildRequest)
	if err != nil {
		c.recordValidationFailure(err)
		return nil, err
	}

	p, err := c.prepare(ctx, layer)
	if err != nil {
		return nil, err
	}

	snapshot, err := c.planSnapshot(layer, req.Snapshot)
	if err != nil {
		return nil, err
	}

	order, err := p.graph.DependencyOrder(engine.NewPhasesProvideItem(layer.Layer, snapshot))
	if err != nil {
		c.recordValidationFailure(err)
		return nil, err
	}

	result := &PlanResult{
		Layer:  layer.Layer,
		Items:  order,
		Levels: p.graph.Levels(),
		Policy: p.policy,
		DOT:    p.graph.ToDOT(),
	}
	for _, phase := range p.phases {
		result.Phases = append(result.Phases, PlannedPhase{Order: phase.Order, Items: phase.Items})
	}

	c.deps.Logger.Debug().
		Str("layer", layer.Layer).
		Int("phases", len(result.Phases)).
		Int("items", len(result.Items)).
		Msg("Planned layer")
	return result, nil
}

func (c *Compiler) planSnapshot(layer *config.LayerConfig, snapshot *subvol.Subvol) (*subvol.Subvol, error) {
	if snapshot != nil {
		return snapshot, nil
	}
	if layer.ParentLayer != "" {
		if parent, err := c.deps.Subvolumes.Locate(layer.ParentLayer); err == nil {
			return parent, nil
		}
	}
	empty := subvol.NewWithFs("/", afero.NewMemMapFs(), c.deps.Runner)
	if err := empty.EnsureMetaDir(); err != nil {
		return nil, err
	}
	return empty, nil
}

func (c *Compiler) load(ctx context.Context, req BuildRequest) (*config.LayerConfig, error) {
	if req.Layer != nil {
		if err := c.deps.Loader.Validate(req.Layer); err != nil {
			return nil, engine.NewPermanentError("invalid layer", err).
				WithCode(engine.ErrCodeValidation).WithResource(req.Layer.Layer)
		}
		return req.Layer, nil
	}
	if req.LayerFile == "" {
		return nil, engine.NewPermanentError("no layer to build", nil).WithCode(engine.ErrCodeValidation)
	}
	return c.deps.Loader.LoadLayer(ctx, req.LayerFile)
}

// prepare runs every check that does not need the built subvolume. On a
// policy violation it returns the policy result along with the error.
func (c *Compiler) prepare(ctx context.Context, layer *config.LayerConfig) (*prepared, error) {
	p := &prepared{layer: layer, opts: c.layerOpts(layer.Layer)}

	items, err := layer.Items(p.opts)
	if err != nil {
		c.recordValidationFailure(err)
		return nil, err
	}
	p.items = items

	if c.deps.Policies != nil {
		res, err := c.deps.Policies.EvaluateItems(ctx, items, p.opts)
		if err != nil {
			return nil, err
		}
		p.policy = res
		c.reportPolicy(layer.Layer, res)
		if err := res.Err(); err != nil {
			c.recordValidationFailure(err)
			return p, err
		}
	}

	graph, err := engine.NewDependencyGraph(items, layer.Layer)
	if err != nil {
		c.recordValidationFailure(err)
		return nil, err
	}
	p.graph = graph

	phases, err := graph.OrderedPhases(ctx, p.opts)
	if err != nil {
		c.recordValidationFailure(err)
		return nil, err
	}
	p.phases = phases
	return p, nil
}

func (c *Compiler) layerOpts(target string) *engine.LayerOpts {
	return &engine.LayerOpts{
		LayerTarget:             target,
		SubvolumesDir:           c.opts.SubvolumesDir,
		TargetToPath:            c.opts.TargetToPath,
		BuildAppliance:          c.opts.BuildAppliance,
		RpmInstaller:            c.opts.RpmInstaller,
		PreserveInstallerCache:  c.opts.PreserveInstallerCache,
		AllowedHostMountTargets: c.opts.AllowedHostMountTargets,
		ArtifactsMayRequireRepo: c.opts.ArtifactsMayRequireRepo,
		Rpm:                     c.deps.Rpm,
		RpmInspect:              c.deps.RpmInspect,
		RpmBuild:                c.deps.RpmBuild,
		Subvolumes:              c.deps.Subvolumes,
		Logger:                  c.deps.Logger.With().Str("layer", target).Logger(),
	}
}

func (c *Compiler) reportPolicy(layer string, res *policy.Result) {
	tel := c.deps.Telemetry
	report := func(v policy.Violation) {
		tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
		if err := tel.Events.PublishPolicyViolation(layer, v.Target, v.Policy, v.Message, v.Severity.Blocks()); err != nil {
			c.deps.Logger.Warn().Err(err).Msg("Failed to publish event")
		}
	}
	for _, v := range res.Violations {
		report(v)
	}
	for _, v := range res.Warnings {
		report(v)
	}
}

func (c *Compiler) recordValidationFailure(err error) {
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) {
		c.deps.Telemetry.Metrics.RecordValidationFailure(engineErr.Code)
		return
	}
	c.deps.Telemetry.Metrics.RecordValidationFailure("")
}

// buildError classifies a failure during mutation. Engine errors keep
// their classification; command failures are transient.
func buildError(message string, err error, resource string) error {
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) {
		return err
	}
	if subvol.IsCommandError(err) {
		return engine.NewTransientError(message, err).WithCode(engine.ErrCodeBuildFailed).WithResource(resource)
	}
	return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeBuildFailed).WithResource(resource)
}

// provenances lists the distinct targets that declared items.
func provenances(items []engine.Item) string {
	seen := make(map[string]struct{}, len(items))
	var targets []string
	for _, item := range items {
		if _, ok := seen[item.Provenance()]; ok {
			continue
		}
		seen[item.Provenance()] = struct{}{}
		targets = append(targets, item.Provenance())
	}
	sort.Strings(targets)
	return strings.Join(targets, ",")
}

type nopJournal struct{}

func (nopJournal) StartBuild(context.Context, string, string) (string, error) {
	return uuid.New().String(), nil
}
func (nopJournal) FinishBuild(context.Context, string, error) error { return nil }
func (nopJournal) StartStep(context.Context, string, string, string, string) (string, error) {
	return "", nil
}
func (nopJournal) FinishStep(context.Context, string, error) error { return nil }
