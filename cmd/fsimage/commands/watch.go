package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openfroyo/fsimage/pkg/compiler"
	"github.com/openfroyo/fsimage/pkg/config"
)

const replanDelay = 500 * time.Millisecond

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <layer-file>",
		Short: "Re-plan a layer whenever it or its sources change",
		Long: `Watch a layer file and the host files it installs, and print a new
plan after every change. Policies given with --policy are reloaded
when they change.

Nothing is built; use this while editing a layer to see ordering and
policy problems as soon as they appear.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if len(policyPaths) > 0 {
				if err := a.policies.WatchPolicies(ctx, policyPaths); err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
			}

			w := &layerWatcher{
				layerFile: args[0],
				loader:    config.NewLoader(a.tel.Logger.Zerolog()),
				compiler:  a.compiler,
				out:       cmd.OutOrStdout(),
				logger:    a.tel.Logger.Zerolog().With().Str("component", "watch").Logger(),
			}
			return w.Run(ctx)
		},
	}
}

// layerWatcher re-plans a layer when any file it depends on changes.
type layerWatcher struct {
	layerFile string
	loader    *config.Loader
	compiler  *compiler.Compiler
	out       io.Writer
	logger    zerolog.Logger

	watcher *fsnotify.Watcher
	files   map[string]bool
	dirs    map[string]bool
}

// Run plans once and then after every change until ctx is done.
func (w *layerWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	w.watcher = watcher
	w.files = make(map[string]bool)
	w.dirs = make(map[string]bool)

	w.replan(ctx)

	var (
		timer   *time.Timer
		replans = make(chan struct{}, 1)
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Layer input changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(replanDelay, func() {
				select {
				case replans <- struct{}{}:
				default:
				}
			})

		case <-replans:
			w.replan(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// replan reloads the layer, refreshes the watched set and prints the plan.
func (w *layerWatcher) replan(ctx context.Context) {
	files := []string{w.layerFile}
	if layer, err := w.loader.LoadLayer(ctx, w.layerFile); err == nil {
		files = append(files, layer.Sources()...)
	}
	w.watch(files)

	result, err := w.compiler.Plan(ctx, compiler.PlanRequest{
		BuildRequest: compiler.BuildRequest{LayerFile: w.layerFile},
	})
	if err != nil {
		printError(w.out, err.Error())
		return
	}

	printSection(w.out, fmt.Sprintf("%s  %s", time.Now().Format(time.TimeOnly), result.Layer))
	for _, phase := range result.Phases {
		printLabelValue(w.out, phase.Order.String(), fmt.Sprintf("%d item(s)", len(phase.Items)))
	}
	printLabelValue(w.out, "Pool", fmt.Sprintf("%d item(s) on %d level(s)", len(result.Items), len(result.Levels)))
	printPolicyWarnings(w.out, result.Policy)
}

// watch adds the parent directories of files to the watcher. Editors
// often replace a file instead of writing it, which a watch on the file
// itself would miss.
func (w *layerWatcher) watch(files []string) {
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		w.files[abs] = true
		dir := filepath.Dir(abs)
		if w.dirs[dir] {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("path", dir).Msg("Failed to watch directory")
			continue
		}
		w.dirs[dir] = true
	}
}

func (w *layerWatcher) relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	return w.files[abs]
}
