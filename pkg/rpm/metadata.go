package rpm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/openfroyo/fsimage/pkg/engine"
	"github.com/openfroyo/fsimage/pkg/subvol"
)

const (
	queryFormat = "%{NAME}:%{epochnum}:%{VERSION}:%{RELEASE}"
	rpmDBPath   = "var/lib/rpm"
)

// Inspector reads RPM metadata with the rpm tool.
type Inspector struct {
	runner subvol.Runner
}

// NewInspector creates an inspector that runs rpm through runner.
func NewInspector(runner subvol.Runner) *Inspector {
	return &Inspector{runner: runner}
}

// FileMetadata queries a local .rpm file.
func (i *Inspector) FileMetadata(ctx context.Context, path string) (engine.RpmMetadata, error) {
	if !strings.HasSuffix(path, ".rpm") {
		return engine.RpmMetadata{}, engine.NewPermanentError("RPM files must end with .rpm", nil).
			WithCode(engine.ErrCodeValidation).WithResource(path)
	}
	return i.query(ctx, "--package", path)
}

// InstalledMetadata queries the RPM database of sv. A subvolume without a
// database has nothing installed; rpm is not run, since it would create
// one.
func (i *Inspector) InstalledMetadata(ctx context.Context, sv *subvol.Subvol, name string) (engine.RpmMetadata, error) {
	if _, err := sv.Fs().Stat(subvol.FsPath(rpmDBPath)); err != nil {
		if os.IsNotExist(err) {
			return engine.RpmMetadata{}, engine.NewPermanentError("no RPM database", err).
				WithCode(engine.ErrCodeNotFound).WithResource(sv.Path(rpmDBPath))
		}
		return engine.RpmMetadata{}, err
	}

	md, err := i.query(ctx, "--dbpath", sv.Path(rpmDBPath), name)
	if subvol.IsCommandError(err) {
		return engine.RpmMetadata{}, engine.NewPermanentError(fmt.Sprintf("%s is not installed", name), err).
			WithCode(engine.ErrCodeNotFound).WithResource(name)
	}
	return md, err
}

// CompareVersions compares two builds of one package by epoch, then
// version, then release, the way rpm does.
func (i *Inspector) CompareVersions(a, b engine.RpmMetadata) int {
	return CompareVersions(a, b)
}

func (i *Inspector) query(ctx context.Context, args ...string) (engine.RpmMetadata, error) {
	argv := append([]string{"--query", "--queryformat", queryFormat}, args...)
	res, err := i.runner.Run(ctx, subvol.Command{Name: "rpm", Args: argv})
	if err != nil {
		return engine.RpmMetadata{}, fmt.Errorf("rpm query failed: %w", err)
	}
	return parseMetadata(res.Stdout)
}

// parseMetadata parses one line of queryFormat output.
func parseMetadata(out string) (engine.RpmMetadata, error) {
	line := strings.Trim(strings.TrimSpace(out), `'"`)
	fields := strings.Split(line, ":")
	if len(fields) != 4 {
		return engine.RpmMetadata{}, fmt.Errorf("unexpected rpm query output %q", out)
	}
	epoch, err := strconv.Atoi(fields[1])
	if err != nil {
		return engine.RpmMetadata{}, fmt.Errorf("bad epoch in %q: %w", out, err)
	}
	return engine.RpmMetadata{
		Name:    fields[0],
		Epoch:   epoch,
		Version: fields[2],
		Release: fields[3],
	}, nil
}
