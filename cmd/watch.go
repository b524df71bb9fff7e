package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/textform/internal/config"
	"github.com/conneroisu/textform/internal/engine"
	"github.com/conneroisu/textform/internal/logging"
	"github.com/conneroisu/textform/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir|template]",
	Short: "Transform templates again when they change",
	Long: `Watch transforms every template under a directory, then transforms a
template again each time it changes. A change to an include file transforms
every watched template. The compiled template cache is kept between runs, so
only templates whose generated program changed are built again.

Examples:
  textform watch                          # Watch the current directory
  textform watch ./templates -v           # List every change
  textform watch model.tt -a name=World   # Watch a single template`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

var (
	watchVerbose  bool
	watchDelay    time.Duration
	watchExcludes []string
	watchFlags    *TransformFlags
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVarP(&watchVerbose, "verbose", "v", false, "Verbose output")
	watchCmd.Flags().DurationVar(&watchDelay, "delay", 300*time.Millisecond, "Wait this long for changes to settle")
	watchCmd.Flags().StringArrayVar(&watchExcludes, "exclude", nil, "Template to leave alone")
	watchFlags = AddTransformFlags(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	if err := watchFlags.ValidateFlags(); err != nil {
		return err
	}
	info, err := os.Stat(root)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	e := newEngine(cfg, watchFlags, logger)
	defer e.Close()

	fw, err := watcher.NewFileWatcher(watchDelay, logger)
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Stop()

	fw.AddFilter(watcher.TemplateOrIncludeFilter)
	fw.AddFilter(watcher.NoVendorFilter)
	fw.AddFilter(watcher.NoGitFilter)
	if len(watchExcludes) > 0 {
		fw.AddFilter(watcher.ExcludeFilter(watchExcludes...))
	}

	w := &templateWatch{
		engine: e,
		cfg:    cfg,
		flags:  watchFlags,
		logger: logger,
		root:   root,
		single: !info.IsDir(),
		accept: func(path string) bool {
			for _, ex := range watchExcludes {
				if filepath.Clean(ex) == filepath.Clean(path) {
					return false
				}
			}
			return true
		},
		stdout: cmd.OutOrStdout(),
		stderr: cmd.ErrOrStderr(),
	}

	if w.single {
		err = fw.AddPath(filepath.Dir(root))
	} else {
		err = fw.AddRecursive(root)
	}
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fw.AddHandler(w.handle)

	templates, err := w.templates()
	if err != nil {
		return err
	}
	fmt.Fprintf(w.stdout, "Found %d template(s)\n", len(templates))
	w.transform(ctx, templates)

	if err := fw.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	fmt.Fprintln(w.stdout, "Watching for changes... (Press Ctrl+C to stop)")

	<-ctx.Done()
	fmt.Fprintln(w.stdout, "Stopping file watcher...")
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// templateWatch transforms templates in response to watcher events
type templateWatch struct {
	engine *engine.Engine
	cfg    *config.Config
	flags  *TransformFlags
	logger logging.Logger
	root   string
	single bool
	accept func(string) bool
	stdout io.Writer
	stderr io.Writer
}

func (w *templateWatch) handle(ctx context.Context, events []watcher.ChangeEvent) error {
	if watchVerbose {
		for _, event := range events {
			fmt.Fprintf(w.stdout, "%s: %s\n", event.Type, event.Path)
		}
	} else {
		fmt.Fprintf(w.stdout, "%d file(s) changed\n", len(events))
	}

	targets, err := w.affected(events)
	if err != nil {
		return err
	}
	w.transform(ctx, targets)
	return nil
}

// affected returns the templates to transform for events. Any include
// change affects every template since includes are resolved at parse time.
func (w *templateWatch) affected(events []watcher.ChangeEvent) ([]string, error) {
	seen := make(map[string]bool)
	var targets []string
	for _, event := range events {
		if event.Type == watcher.EventTypeDeleted || event.Type == watcher.EventTypeRenamed {
			continue
		}
		if watcher.IncludeFilter(event.Path) {
			return w.templates()
		}
		if !watcher.TemplateFilter(event.Path) || seen[event.Path] {
			continue
		}
		if w.single && filepath.Clean(event.Path) != filepath.Clean(w.root) {
			continue
		}
		seen[event.Path] = true
		targets = append(targets, event.Path)
	}
	sort.Strings(targets)
	return targets, nil
}

// templates lists the watched templates
func (w *templateWatch) templates() ([]string, error) {
	if w.single {
		return []string{w.root}, nil
	}
	all, err := findTemplates(w.root)
	if err != nil {
		return nil, err
	}
	found := all[:0]
	for _, path := range all {
		if w.accept(path) {
			found = append(found, path)
		}
	}
	return found, nil
}

// transform processes templates and reports their errors. Failures are
// reported and watching continues.
func (w *templateWatch) transform(ctx context.Context, templates []string) {
	if len(templates) == 0 {
		return
	}
	start := time.Now()
	results, err := transformAll(ctx, w.engine, w.cfg, w.flags, w.logger, templates, "", w.stdout)
	if err != nil {
		fmt.Fprintf(w.stderr, "Transform failed: %v\n", err)
		return
	}

	if err := report(w.stdout, w.stderr, results, "Processing '%s' failed."); err != nil {
		fmt.Fprintf(w.stderr, "%v\n", err)
		return
	}
	fmt.Fprintf(w.stdout, "Transformed %d template(s) in %s\n", len(templates), time.Since(start).Round(time.Millisecond))
}
