package engine

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
)

// Phase is one non-empty phase bucket, ready to build.
type Phase struct {
	Order PhaseOrder
	Items []Item
	Build PhaseBuilder
}

// DependencyGraph splits the items of a layer into phase buckets and the
// pool, and orders the pool by requires and provides.
//
// DependencyOrder consumes the graph: it can be computed once.
type DependencyGraph struct {
	layerTarget string

	// pool holds the deduplicated pool items.
	pool map[Item]struct{}

	// phaseItems maps each phase to its deduplicated items.
	phaseItems map[PhaseOrder][]Item

	consumed bool

	// order, predecessors and levels describe the last computed order.
	order        []Item
	predecessors map[Item][]Item
	levels       [][]Item
}

// NewDependencyGraph deduplicates items and buckets them by phase. When no
// item creates the subvolume, an empty FilesystemRootItem is added.
func NewDependencyGraph(items []Item, layerTarget string) (*DependencyGraph, error) {
	g := &DependencyGraph{
		layerTarget: layerTarget,
		pool:        make(map[Item]struct{}),
		phaseItems:  make(map[PhaseOrder][]Item),
	}

	seen := make(map[Item]struct{}, len(items))
	for _, item := range items {
		if item == nil {
			return nil, NewInternalError("nil item in layer", nil).WithResource(layerTarget)
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}

		phase := item.Phase()
		if phase == PhaseNone {
			if _, ok := item.(Buildable); !ok {
				return nil, NewInternalError(fmt.Sprintf("%s has no phase and cannot be built", ItemString(item)), nil)
			}
			g.pool[item] = struct{}{}
			continue
		}

		if _, ok := item.(PhaseItem); !ok {
			return nil, NewInternalError(fmt.Sprintf("%s is in phase %s but has no phase builder", ItemString(item), phase), nil)
		}
		bucket := g.phaseItems[phase]
		if len(bucket) > 0 && bucket[0].Kind() != item.Kind() && phase != PhaseMakeSubvol {
			return nil, NewInternalError(
				fmt.Sprintf("phase %s mixes %s and %s", phase, bucket[0].Kind(), item.Kind()), nil,
			)
		}
		g.phaseItems[phase] = append(bucket, item)
	}

	makeSubvol := g.phaseItems[PhaseMakeSubvol]
	switch len(makeSubvol) {
	case 0:
		g.phaseItems[PhaseMakeSubvol] = []Item{FilesystemRootItem{ItemBase: ItemBase{FromTarget: layerTarget}}}
	case 1:
	default:
		sources := make([]string, len(makeSubvol))
		for i, item := range makeSubvol {
			sources[i] = ItemString(item)
		}
		return nil, NewPermanentError(
			fmt.Sprintf("a layer must be created by exactly one item, got: %s", strings.Join(sources, ", ")), nil,
		).WithCode(ErrCodeMakeSubvol).WithResource(layerTarget)
	}

	return g, nil
}

// PoolItems returns the deduplicated pool items in no particular order.
func (g *DependencyGraph) PoolItems() []Item {
	items := make([]Item, 0, len(g.pool))
	for item := range g.pool {
		items = append(items, item)
	}
	return items
}

// PhaseItems returns the items of one phase.
func (g *DependencyGraph) PhaseItems(order PhaseOrder) []Item {
	return g.phaseItems[order]
}

// OrderedPhases creates the builders of every non-empty phase, in phase
// order. All builders are created before any of them runs, so every
// configuration error inside a phase surfaces before the first mutation.
func (g *DependencyGraph) OrderedPhases(ctx context.Context, opts *LayerOpts) ([]Phase, error) {
	var rpmItems []Item
	rpmItems = append(rpmItems, g.phaseItems[PhaseRpmRemove]...)
	rpmItems = append(rpmItems, g.phaseItems[PhaseRpmInstall]...)
	if err := checkRpmActionConflicts(ctx, rpmItems, opts); err != nil {
		return nil, err
	}

	phases := make([]Phase, 0, len(Phases))
	for _, order := range Phases {
		items := g.phaseItems[order]
		if len(items) == 0 {
			continue
		}

		builder, err := items[0].(PhaseItem).PhaseBuilder(ctx, items, opts)
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", order, err)
		}
		phases = append(phases, Phase{Order: order, Items: items, Build: builder})
	}
	return phases, nil
}

// DependencyOrder returns the pool items in an order where every item comes
// after the items providing what it requires. phasesProvide describes the
// subvolume as the phases left it; it anchors the order and is not
// returned. Among items that are ready at the same time the choice is
// arbitrary.
//
// On a cycle no item is returned.
func (g *DependencyGraph) DependencyOrder(phasesProvide Item) ([]Item, error) {
	if g.consumed {
		return nil, NewInternalError("dependency order was already computed for this graph", nil).
			WithResource(g.layerTarget)
	}
	g.consumed = true

	items := make([]Item, 0, len(g.pool)+1)
	items = append(items, phasesProvide)
	for item := range g.pool {
		items = append(items, item)
	}

	validated, err := ValidateReqsProvs(items)
	if err != nil {
		return nil, err
	}

	index := make(map[Item]int, len(items))
	for i, item := range items {
		index[item] = i
	}

	// predecessors[i] is the set of items i still waits for; successors[i]
	// are the items waiting for i.
	predecessors := make([]map[int]struct{}, len(items))
	successors := make([][]int, len(items))
	for i := range items {
		predecessors[i] = make(map[int]struct{})
	}
	for _, rp := range validated.Index() {
		for _, prov := range rp.Provides {
			p := index[prov.Item]
			for _, req := range rp.Requires {
				r := index[req.Item]
				if _, ok := predecessors[r][p]; ok {
					continue
				}
				predecessors[r][p] = struct{}{}
				successors[p] = append(successors[p], r)
			}
		}
	}

	g.predecessors = make(map[Item][]Item, len(items))
	for i, preds := range predecessors {
		for p := range preds {
			g.predecessors[items[i]] = append(g.predecessors[items[i]], items[p])
		}
	}

	level := make([]int, len(items))
	ready := make([]int, 0, len(items))
	for i := range items {
		if len(predecessors[i]) == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]Item, 0, len(g.pool))
	var levels [][]Item
	processed := 0
	for len(ready) > 0 {
		pick := rand.IntN(len(ready))
		i := ready[pick]
		ready[pick] = ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		processed++

		if items[i] != phasesProvide {
			order = append(order, items[i])
			for len(levels) <= level[i] {
				levels = append(levels, nil)
			}
			levels[level[i]] = append(levels[level[i]], items[i])
		}

		for _, s := range successors[i] {
			if next := level[i] + 1; items[i] != phasesProvide && next > level[s] {
				level[s] = next
			}
			delete(predecessors[s], i)
			if len(predecessors[s]) == 0 {
				ready = append(ready, s)
			}
		}
	}

	if processed != len(items) {
		return nil, cycleError(items, predecessors, g.layerTarget)
	}

	g.order = order
	g.levels = levels
	return order, nil
}

func cycleError(items []Item, predecessors []map[int]struct{}, layerTarget string) error {
	var stuck []string
	for i, preds := range predecessors {
		if len(preds) == 0 {
			continue
		}
		waits := make([]string, 0, len(preds))
		for p := range preds {
			waits = append(waits, ItemString(items[p]))
		}
		sort.Strings(waits)
		stuck = append(stuck, fmt.Sprintf("%s <- [%s]", ItemString(items[i]), strings.Join(waits, ", ")))
	}
	sort.Strings(stuck)

	return NewPermanentError(
		fmt.Sprintf("cycle among %d items: %s", len(stuck), strings.Join(stuck, "; ")), nil,
	).WithCode(ErrCodeCycle).WithResource(layerTarget).WithDetail("stuck", stuck)
}

// Levels returns the computed order grouped by depth: items in one level
// only depend on items in earlier levels.
func (g *DependencyGraph) Levels() [][]Item {
	return g.levels
}

// ToDOT renders the computed order in Graphviz DOT format.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph DependencyOrder {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	ids := make(map[Item]string, len(g.order))
	for i, item := range g.order {
		ids[item] = fmt.Sprintf("n%d", i)
	}

	for level, items := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		for _, item := range items {
			label := fmt.Sprintf("%s\\n%s", item.Kind(), dotEscape(item.Provenance()))
			sb.WriteString(fmt.Sprintf("    %s [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				ids[item], label, kindColor(item.Kind())))
		}

		sb.WriteString("  }\n\n")
	}

	for _, item := range g.order {
		for _, pred := range g.predecessors[item] {
			from, ok := ids[pred]
			if !ok {
				// Provided by the phases.
				continue
			}
			sb.WriteString(fmt.Sprintf("  %s -> %s;\n", from, ids[item]))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// kindColor returns a color for visualizing item kinds.
func kindColor(kind string) string {
	switch kind {
	case KindMakeDirs, KindSymlinkToDir, KindSymlinkToFile:
		return "lightblue"
	case KindInstallFile, KindTarball, KindClone:
		return "lightgreen"
	case KindMount:
		return "lightcoral"
	default:
		return "white"
	}
}
