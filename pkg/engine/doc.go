// Package engine orders and applies the items of one image layer.
//
// # Overview
//
// Features contribute items: install a file, make directories, extract a
// tarball, mount a layer, install an RPM, and so on. The items of a layer
// are applied to a single btrfs subvolume in two stages:
//
//  1. Phases. Items with complex internal ordering, or that are best done
//     in bulk, are grouped into phases that run in a fixed order:
//     MAKE_SUBVOL, RPM_REMOVE, RPM_INSTALL, RPM_BUILD, REMOVE_PATHS.
//  2. The pool. Every other item declares the paths it Provides and the
//     paths it Requires. The pool is sorted topologically so that each item
//     builds after the items providing what it requires.
//
// The pool is anchored to the subvolume as the phases left it by a
// PhasesProvideItem, which provides every existing path.
//
// # Requires and Provides
//
// A Requirement asks for a directory or a non-directory at a path. A
// Provide claims one: ProvidesDirectory, ProvidesFile, or
// ProvidesDoNotAccess, which occupies a path without satisfying anything.
// ValidateReqsProvs indexes both by path and rejects:
//
//   - two items providing the same path;
//   - one item mentioning a path twice;
//   - a requirement without a matching provide at its exact path.
//
// # Protected paths
//
// The metadata directory "meta/" and every recorded mountpoint are
// protected. The phases-provide item marks them ProvidesDoNotAccess, so no
// item can require or write below them, and RemovePathItem refuses them.
//
// # Usage
//
//	graph, err := engine.NewDependencyGraph(items, layerTarget)
//	phases, err := graph.OrderedPhases(ctx, opts)
//	for _, phase := range phases {
//	    err = phase.Build(ctx, sv)
//	}
//	order, err := graph.DependencyOrder(engine.NewPhasesProvideItem(layerTarget, sv))
//	for _, item := range order {
//	    err = item.(engine.Buildable).Build(ctx, sv, opts)
//	}
//
// # Error Classification
//
// Configuration errors (EngineError with class permanent or conflict) are
// all raised by NewDependencyGraph, OrderedPhases and DependencyOrder,
// before any item builds. Build errors abort the layer; nothing is rolled
// back.
package engine
