// Package compiler builds image layers.
//
// A Compiler loads a layer file, turns it into engine items, evaluates
// policies over them and validates the whole layer before touching the
// filesystem. It then builds the phases in order, writes the layer
// metadata, and builds the pool items one at a time in dependency order.
//
// There is no rollback. A failed build leaves a partial subvolume behind,
// and the build journal records which step failed.
//
// Plan runs the same validation without mutating anything and returns the
// order a build would use.
package compiler
