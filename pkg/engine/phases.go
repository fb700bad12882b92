package engine

import "fmt"

// PhaseOrder places an item in one of the fixed build phases. Pool items,
// which are ordered by their requires and provides, use PhaseNone.
//
// The phases run in ascending order. The pool runs after the last phase and
// is anchored to the subvolume as the phases left it, via the
// phases-provide item.
type PhaseOrder int

const (
	PhaseNone PhaseOrder = iota
	// PhaseMakeSubvol creates the subvolume. Exactly one item per layer.
	PhaseMakeSubvol
	// PhaseRpmRemove removes RPMs in one installer transaction.
	PhaseRpmRemove
	// PhaseRpmInstall installs RPMs in one installer transaction.
	PhaseRpmInstall
	// PhaseRpmBuild builds RPMs from sources inside the subvolume.
	PhaseRpmBuild
	// PhaseRemovePaths deletes paths in reverse lexical order.
	PhaseRemovePaths
)

// Phases lists the phases in build order.
var Phases = []PhaseOrder{
	PhaseMakeSubvol,
	PhaseRpmRemove,
	PhaseRpmInstall,
	PhaseRpmBuild,
	PhaseRemovePaths,
}

func (p PhaseOrder) String() string {
	switch p {
	case PhaseNone:
		return "NONE"
	case PhaseMakeSubvol:
		return "MAKE_SUBVOL"
	case PhaseRpmRemove:
		return "RPM_REMOVE"
	case PhaseRpmInstall:
		return "RPM_INSTALL"
	case PhaseRpmBuild:
		return "RPM_BUILD"
	case PhaseRemovePaths:
		return "REMOVE_PATHS"
	default:
		return fmt.Sprintf("PHASE(%d)", int(p))
	}
}
