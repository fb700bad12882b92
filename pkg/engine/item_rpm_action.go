package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/fsimage/pkg/subvol"
)

// RpmAction is what to do with an RPM.
type RpmAction string

const (
	RpmActionInstall RpmAction = "install"
	// RpmActionRemoveIfExists removes the package when installed.
	RpmActionRemoveIfExists RpmAction = "remove_if_exists"
)

// defaultRpmCommand maps actions on named packages to installer commands.
var defaultRpmCommand = map[RpmAction]RpmCommand{
	RpmActionInstall:        RpmInstallName,
	RpmActionRemoveIfExists: RpmRemoveName,
}

// RpmActionItem installs or removes one RPM, given either by name or as a
// local .rpm file.
type RpmActionItem struct {
	ItemBase
	Name   string
	Source string
	Action RpmAction
}

// NewRpmActionItem validates an RPM action. Exactly one of name and source
// must be set.
func NewRpmActionItem(base ItemBase, name, source string, action RpmAction) (RpmActionItem, error) {
	if (name == "") == (source == "") {
		return RpmActionItem{}, NewPermanentError("rpm: exactly one of name or source must be set", nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}
	if _, ok := defaultRpmCommand[action]; !ok {
		return RpmActionItem{}, NewPermanentError(fmt.Sprintf("rpm: bad action %q", action), nil).
			WithCode(ErrCodeValidation).WithResource(base.FromTarget)
	}
	if source != "" {
		if _, err := hostFs.Stat(source); err != nil {
			return RpmActionItem{}, NewPermanentError("rpm: cannot read source", err).
				WithCode(ErrCodeNotFound).WithResource(source)
		}
	}
	return RpmActionItem{ItemBase: base, Name: name, Source: source, Action: action}, nil
}

func (RpmActionItem) Kind() string                     { return KindRpmAction }
func (RpmActionItem) Provides() ([]Provide, error)     { return nil, nil }
func (RpmActionItem) Requires() ([]Requirement, error) { return nil, nil }

func (i RpmActionItem) Phase() PhaseOrder {
	if i.Action == RpmActionRemoveIfExists {
		return PhaseRpmRemove
	}
	return PhaseRpmInstall
}

// resolvedRpm is an action whose local RPM, if any, has been inspected.
type resolvedRpm struct {
	item     RpmActionItem
	name     string
	metadata *RpmMetadata
}

func resolveRpmActions(ctx context.Context, items []Item, opts *LayerOpts) ([]resolvedRpm, error) {
	resolved := make([]resolvedRpm, 0, len(items))
	for _, item := range items {
		rpm, ok := item.(RpmActionItem)
		if !ok {
			return nil, NewInternalError(fmt.Sprintf("%s in an RPM phase", ItemString(item)), nil)
		}
		if rpm.Source == "" {
			resolved = append(resolved, resolvedRpm{item: rpm, name: rpm.Name})
			continue
		}

		if opts.RpmInspect == nil {
			return nil, NewPermanentError("local RPMs need an RPM inspector", nil).
				WithCode(ErrCodeValidation).WithResource(rpm.Source)
		}
		md, err := opts.RpmInspect.FileMetadata(ctx, rpm.Source)
		if err != nil {
			return nil, NewPermanentError("cannot read RPM metadata", err).WithResource(rpm.Source)
		}
		resolved = append(resolved, resolvedRpm{item: rpm, name: md.Name, metadata: &md})
	}
	return resolved, nil
}

// checkRpmActionConflicts fails when several actions of the layer name the
// same RPM, even when they agree.
func checkRpmActionConflicts(ctx context.Context, items []Item, opts *LayerOpts) error {
	resolved, err := resolveRpmActions(ctx, items, opts)
	if err != nil {
		return err
	}

	byName := make(map[string][]resolvedRpm)
	for _, r := range resolved {
		byName[r.name] = append(byName[r.name], r)
	}

	names := make([]string, 0, len(byName))
	for name, actions := range byName {
		if len(actions) > 1 {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)

	actions := byName[names[0]]
	described := make([]string, len(actions))
	for n, a := range actions {
		described[n] = fmt.Sprintf("%s from %s", a.item.Action, a.item.Provenance())
	}
	sort.Strings(described)
	return NewConflictError(
		fmt.Sprintf("RPM action conflict for %s: %s", names[0], strings.Join(described, ", ")), nil,
	).WithCode(ErrCodeRpmConflict).WithResource(names[0]).WithDetail("rpms", names)
}

// PhaseBuilder plans one installer call per command. Local RPMs are
// inspected now; whether a local install is a downgrade is decided at
// build time, against the packages the subvolume actually has.
func (RpmActionItem) PhaseBuilder(ctx context.Context, items []Item, opts *LayerOpts) (PhaseBuilder, error) {
	if opts.Rpm == nil {
		return nil, NewPermanentError("RPM actions need an RPM executor", nil).
			WithCode(ErrCodeValidation).WithResource(opts.LayerTarget)
	}
	installer, err := opts.Installer()
	if err != nil {
		return nil, err
	}
	resolved, err := resolveRpmActions(ctx, items, opts)
	if err != nil {
		return nil, err
	}

	var appliance *subvol.Subvol
	if opts.BuildAppliance != "" {
		if appliance, err = opts.LocateLayer(opts.BuildAppliance); err != nil {
			return nil, err
		}
	}

	return func(ctx context.Context, sv *subvol.Subvol) error {
		commands := make(map[RpmCommand]map[string]struct{})
		for _, r := range resolved {
			cmd, pkg, err := rpmCommand(ctx, sv, r, opts)
			if err != nil {
				return err
			}
			if commands[cmd] == nil {
				commands[cmd] = make(map[string]struct{})
			}
			commands[cmd][pkg] = struct{}{}
		}

		protected, err := ProtectedPathSet(sv)
		if err != nil {
			return err
		}

		for _, cmd := range RpmCommandOrder {
			pkgs := commands[cmd]
			if len(pkgs) == 0 {
				continue
			}
			sorted := make([]string, 0, len(pkgs))
			for p := range pkgs {
				sorted = append(sorted, p)
			}
			sort.Strings(sorted)

			tx := RpmTransaction{
				Command:        cmd,
				Packages:       sorted,
				ProtectedPaths: protected.Sorted(),
				Installer:      installer,
				BuildAppliance: appliance,
				PreserveCache:  opts.PreserveInstallerCache,
			}
			if err := opts.Rpm.Execute(ctx, sv, tx); err != nil {
				return fmt.Errorf("%s %s: %w", installer, cmd, err)
			}
		}
		return nil
	}, nil
}

// rpmCommand picks the installer command for one action and the argument
// to pass it. A local RPM is a fresh install only when the package is not
// installed; any other inspection failure is returned.
func rpmCommand(ctx context.Context, sv *subvol.Subvol, r resolvedRpm, opts *LayerOpts) (RpmCommand, string, error) {
	if r.metadata == nil {
		return defaultRpmCommand[r.item.Action], r.name, nil
	}
	if r.item.Action == RpmActionRemoveIfExists {
		// Removal is by name, even for local RPMs.
		return RpmRemoveName, r.name, nil
	}

	installed, err := opts.RpmInspect.InstalledMetadata(ctx, sv, r.name)
	if err != nil {
		if HasCode(err, ErrCodeNotFound) {
			opts.Logger.Debug().Err(err).Str("rpm", r.name).Msg("Treating local RPM as a fresh install")
			return RpmLocalInstall, r.item.Source, nil
		}
		return "", "", fmt.Errorf("failed to query installed %s: %w", r.name, err)
	}
	if opts.RpmInspect.CompareVersions(*r.metadata, installed) <= 0 {
		return RpmLocalDowngrade, r.item.Source, nil
	}
	return RpmLocalInstall, r.item.Source, nil
}
