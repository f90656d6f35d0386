// Package app implements forge's CLI functionality: the forge binary
// defers all its real work to the exported methods here.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/FollowTheProcess/msg"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/juju/ansiterm/tabwriter"

	"github.com/foundry-build/forge/analysis"
	"github.com/foundry-build/forge/artefact"
	"github.com/foundry-build/forge/compile"
	"github.com/foundry-build/forge/config"
	"github.com/foundry-build/forge/discover"
	"github.com/foundry-build/forge/envutil"
	"github.com/foundry-build/forge/flags"
	"github.com/foundry-build/forge/housekeeping"
	"github.com/foundry-build/forge/logger"
	"github.com/foundry-build/forge/pipeline"
	"github.com/foundry-build/forge/prebuild"
	"github.com/foundry-build/forge/psyclone"
	"github.com/foundry-build/forge/tool"
)

// Options holds every forge CLI flag, at their zero values if unset.
type Options struct {
	ProjectLabel    string        // --label, defaults to the project root's base name
	ProjectRoot     string        // --root, names the default label and holds an optional .env (defaults to $CWD)
	FabWorkspace    string        // --workspace, overrides $FAB_WORKSPACE
	Compiler        string        // --fc, the Fortran compiler executable (defaults to $FC or gfortran)
	Flags           []string      // --flag, common compiler flags applied to every file
	Multiprocessing bool          // --no-parallel inverts this
	NProcs          int           // --procs
	Verbose         bool          // --verbose
	OlderThan       time.Duration // forge clean --older-than, 0 sweeps everything not currently in use
}

// App is the forge program: holds where to write output, the parsed
// CLI options and the logger/printer pair set up during Setup.
type App struct {
	stdout  io.Writer
	stderr  io.Writer
	Options *Options
	logger  logger.Logger
	printer msg.Printer
}

// New creates a new App writing to stdout/stderr.
func New(stdout, stderr io.Writer) *App {
	printer := msg.Default()
	printer.Stdout = stdout
	printer.Stderr = stderr
	return &App{
		stdout:  stdout,
		stderr:  stderr,
		Options: &Options{Multiprocessing: true},
		printer: printer,
	}
}

// setup resolves defaults that depend on other options being parsed
// first, and builds the run's logger.
func (a *App) setup() (*config.Config, error) {
	if a.Options.ProjectRoot == "" {
		root, err := filepath.Abs(".")
		if err != nil {
			return nil, err
		}
		a.Options.ProjectRoot = root
	}
	if a.Options.ProjectLabel == "" {
		a.Options.ProjectLabel = filepath.Base(a.Options.ProjectRoot)
	}

	// Auto load a .env file next to the project (if present) so that
	// FC, FFLAGS and FPP set there are visible to config.New.
	dotenvPath := filepath.Join(a.Options.ProjectRoot, ".env")
	if _, err := os.Stat(dotenvPath); err == nil {
		if err := godotenv.Load(dotenvPath); err != nil {
			return nil, fmt.Errorf("could not load .env file: %w", err)
		}
	}

	if a.Options.Compiler == "" {
		a.Options.Compiler = os.Getenv("FC")
	}
	if a.Options.Compiler == "" {
		a.Options.Compiler = "gfortran"
	}

	opts := []config.Option{
		config.WithMultiprocessing(a.Options.Multiprocessing),
		config.WithVerbose(a.Options.Verbose),
	}
	if a.Options.FabWorkspace != "" {
		opts = append(opts, config.WithFabWorkspace(a.Options.FabWorkspace))
	}
	if a.Options.NProcs > 0 {
		opts = append(opts, config.WithNProcs(a.Options.NProcs))
	}

	cfg, err := config.New(a.Options.ProjectLabel, opts...)
	if err != nil {
		return nil, err
	}

	if err := cfg.PrepOutputFolders(); err != nil {
		return nil, err
	}

	logPath := filepath.Join(cfg.ProjectWorkspace, "log.txt")
	log, err := logger.NewZapLogger(a.Options.Verbose, logPath)
	if err != nil {
		return nil, err
	}
	a.logger = log

	return cfg, nil
}

// fcCompiler adapts tool.Compile into the compile.Compiler seam the
// scheduler needs, binding the compiler executable name chosen by the
// CLI's --fc flag.
type fcCompiler struct {
	name string
}

func (c fcCompiler) Compile(ctx context.Context, moduleDir, src, obj string, compileFlags []string) error {
	return tool.Compile(ctx, c.name, moduleDir, src, obj, compileFlags)
}

// discoverStep walks the project's source tree and publishes every
// Fortran and X90 source as the all_source collection, the input the
// later steps select from.
type discoverStep struct{}

func (discoverStep) Name() string { return "discover source" }

func (discoverStep) Run(_ context.Context, cfg *config.Config, log logger.Logger) error {
	paths, err := discover.AllSources(cfg.SourceRoot)
	if err != nil {
		return err
	}
	all := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		all[p] = struct{}{}
	}
	cfg.Artefacts.Set(artefact.AllSource, all)
	log.Info("discovered %d source file(s)", len(paths))
	return nil
}

// compileStep is the pipeline.Step that drives the compile scheduler
// over every Fortran source under the project's source root, plus any
// standard Fortran the code-gen step produced into build_output.
type compileStep struct {
	app *App
}

func (compileStep) Name() string { return "compile" }

func (s compileStep) Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store := cfg.Artefacts
	generated := store.Paths(artefact.PsycloneOutput)
	sources, err := discover.Analyse(cfg.SourceRoot, generated...)
	if err != nil {
		return err
	}
	log.Info("analysing %d Fortran source file(s)", len(sources))

	store.Set(artefact.BuildTrees, map[string]map[string]analysis.Fortran{cfg.SourceRoot: sources})

	flagsCfg := flags.Config{Common: s.app.Options.Flags}
	prebuildStore, err := prebuild.New(cfg.PrebuildFolder)
	if err != nil {
		return err
	}

	scheduler := &compile.Scheduler{
		Store:           prebuildStore,
		BuildOutput:     cfg.BuildOutput,
		Compiler:        fcCompiler{name: s.app.Options.Compiler},
		CompilerName:    s.app.Options.Compiler,
		CompilerVersion: compilerVersion(s.app.Options.Compiler),
		Multiprocessing: cfg.Multiprocessing,
		NProcs:          cfg.NProcs,
		FlagsFor: func(path string) ([]string, error) {
			return flagsCfg.FlagsFor(path, flags.Params{Source: cfg.SourceRoot, Output: cfg.BuildOutput})
		},
	}

	compiled, current, err := scheduler.Run(ctx, sources, map[string]struct{}{})
	if err != nil {
		return err
	}
	log.Info("compiled %d file(s)", len(compiled))

	objects := make(map[string]struct{}, len(compiled))
	for _, cf := range compiled {
		objects[cf.OutputPath] = struct{}{}
	}
	store.Set(artefact.ObjectFiles, map[string]map[string]struct{}{cfg.SourceRoot: objects})
	store.AddCurrentPrebuilds(current...)
	return nil
}

// Build runs the full pipeline against the project at Options.ProjectRoot.
func (a *App) Build(ctx context.Context) error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync() // nolint: errcheck

	codegen := &psyclone.Step{
		KernelRoots:    []string{cfg.SourceRoot},
		AnalyseX90:     discover.X90,
		AnalyseFortran: discover.Fortran,
	}
	p := pipeline.New(a.Options.ProjectLabel, a.logger, discoverStep{}, codegen, compileStep{app: a})
	if err := p.Run(ctx, cfg); err != nil {
		return err
	}
	a.printer.Goodf("Build of %q completed successfully", a.Options.ProjectLabel)
	return nil
}

// Graph prints the dependency-wave compile schedule for the project's
// sources without compiling anything, `forge graph`.
func (a *App) Graph(ctx context.Context) error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync() // nolint: errcheck
	_ = ctx

	sources, err := discover.Analyse(cfg.SourceRoot)
	if err != nil {
		return err
	}

	waves, err := compile.Waves(sources)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.stdout, 0, 8, 1, '\t', tabwriter.AlignRight)
	titleStyle := color.New(color.FgHiWhite, color.Bold)
	waveStyle := color.New(color.FgHiCyan, color.Bold)

	fmt.Fprintf(a.stdout, "Compile wave schedule for %s:\n", cfg.SourceRoot)
	titleStyle.Fprintln(writer, "Wave\tFiles")

	for i, wave := range waves {
		sorted := append([]string(nil), wave...)
		sort.Strings(sorted)
		fmt.Fprintf(writer, "%s\t%v\n", waveStyle.Sprint(i), sorted)
	}

	return writer.Flush()
}

// Clean forces a housekeeping sweep of the project's prebuild folder
// right now, `forge clean`.
func (a *App) Clean(_ context.Context) error {
	cfg, err := a.setup()
	if err != nil {
		return err
	}
	defer a.logger.Sync() // nolint: errcheck

	var policy housekeeping.Policy = housekeeping.AllUnused{}
	if a.Options.OlderThan > 0 {
		policy = housekeeping.OlderThan{Age: a.Options.OlderThan, Now: time.Now()}
	}

	deleted, err := housekeeping.Sweep(cfg.PrebuildFolder, map[string]struct{}{}, policy)
	if err != nil {
		return err
	}

	if len(deleted) == 0 {
		a.printer.Good("Nothing to remove")
		return nil
	}
	for _, path := range deleted {
		a.printer.Textf("Removed %s", path)
	}
	a.printer.Good("Done")
	return nil
}

// compilerVersion shells out for the compiler's --version string.
// $FC may legitimately be a command with arguments ("mpif90 -f90=..."),
// so the whole thing is split shell-style rather than treated as one
// executable name.
func compilerVersion(compilerName string) string {
	version, err := envutil.Exec(compilerName + " --version")
	if err != nil {
		return "unknown"
	}
	return version
}
