package rpm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/fsimage/pkg/engine"
	"github.com/openfroyo/fsimage/pkg/subvol"
)

// applianceWorkDir is where the install root is bind mounted inside a
// build appliance.
const applianceWorkDir = "/fsimage-install-root"

// DnfExecutor applies RPM transactions with dnf or yum.
type DnfExecutor struct {
	logger zerolog.Logger
}

// NewDnfExecutor creates an executor.
func NewDnfExecutor(logger zerolog.Logger) *DnfExecutor {
	return &DnfExecutor{
		logger: logger.With().Str("component", "rpm").Logger(),
	}
}

// Execute runs one installer transaction against sv. With a build
// appliance the installer runs inside it via systemd-nspawn, with sv bind
// mounted read-write and local RPM files read-only.
func (e *DnfExecutor) Execute(ctx context.Context, sv *subvol.Subvol, tx engine.RpmTransaction) error {
	if len(tx.Packages) == 0 {
		return nil
	}
	if tx.Installer == "" {
		return fmt.Errorf("installer is required")
	}

	// The installer must never create the metadata directory.
	if _, err := sv.Fs().Stat(subvol.FsPath(subvol.MetaDir)); err != nil {
		return engine.NewPermanentError("install root has no metadata directory", err).
			WithCode(engine.ErrCodeProtectedPath).WithResource(sv.String())
	}
	existing := e.existingProtected(sv, tx.ProtectedPaths)

	name, args := e.command(sv, tx)
	e.logger.Info().
		Str("installer", tx.Installer).
		Str("command", string(tx.Command)).
		Strs("packages", tx.Packages).
		Strs("protected_paths", tx.ProtectedPaths).
		Msg("Running RPM transaction")

	if _, err := sv.RunAsRoot(ctx, name, args...); err != nil {
		return fmt.Errorf("%s %s failed: %w", tx.Installer, tx.Command, err)
	}

	for _, p := range existing {
		if _, err := lstat(sv, p); err != nil {
			return engine.NewPermanentError(
				fmt.Sprintf("%s %s removed the protected path %s", tx.Installer, tx.Command, p), err,
			).WithCode(engine.ErrCodeProtectedPath).WithResource(p)
		}
	}

	if !tx.PreserveCache {
		cache := sv.Path("var", "cache", tx.Installer)
		if _, err := sv.RunAsRoot(ctx, "rm", "--recursive", "--force", "--one-file-system", "--", cache); err != nil {
			return fmt.Errorf("failed to remove installer cache: %w", err)
		}
	}
	return nil
}

func (e *DnfExecutor) command(sv *subvol.Subvol, tx engine.RpmTransaction) (string, []string) {
	installArgs := func(root string) []string {
		args := []string{tx.Installer, "--installroot=" + root, "--assumeyes"}
		if tx.PreserveCache {
			args = append(args, "--setopt=keepcache=1")
		}
		args = append(args, string(tx.Command))
		return append(args, tx.Packages...)
	}

	if tx.BuildAppliance == nil {
		argv := installArgs(sv.Path())
		return argv[0], argv[1:]
	}

	args := []string{
		"--quiet",
		"--register=no",
		"--directory=" + tx.BuildAppliance.Path(),
		"--bind=" + sv.Path() + ":" + applianceWorkDir,
	}
	if isLocalCommand(tx.Command) {
		for _, pkg := range tx.Packages {
			args = append(args, "--bind-ro="+pkg)
		}
	}
	args = append(args, "--")
	args = append(args, installArgs(applianceWorkDir)...)
	return "systemd-nspawn", args
}

// existingProtected returns the protected paths present before the
// transaction, in image-relative form without a trailing slash.
func (e *DnfExecutor) existingProtected(sv *subvol.Subvol, protected []string) []string {
	var out []string
	for _, p := range protected {
		p = strings.TrimSuffix(p, "/")
		if _, err := lstat(sv, p); err == nil {
			out = append(out, p)
		} else if !os.IsNotExist(err) {
			e.logger.Warn().Err(err).Str("path", p).Msg("Cannot stat protected path")
		}
	}
	return out
}

func lstat(sv *subvol.Subvol, rel string) (os.FileInfo, error) {
	return sv.Lstat(filepath.Clean(rel))
}

func isLocalCommand(cmd engine.RpmCommand) bool {
	return cmd == engine.RpmLocalInstall || cmd == engine.RpmLocalDowngrade
}
