// Package config implements forge's Config: the single immutable value
// a build program constructs before handing it a list of steps to run.
// It resolves the workspace layout, the toolchain and the worker count
// once, up front, so every step sees the same settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/foundry-build/forge/artefact"
	"github.com/foundry-build/forge/envutil"
)

// Config holds everything a pipeline run needs to know about where its
// workspace lives and how hard it's allowed to work.
type Config struct {
	ProjectLabel string

	FabWorkspace     string
	ProjectWorkspace string
	SourceRoot       string
	BuildOutput      string
	PrebuildFolder   string
	MetricsFolder    string

	// Compiler, CompilerFlags and Preprocessor default from $FC,
	// $FFLAGS and $FPP respectively.
	Compiler      string
	CompilerFlags []string
	Preprocessor  string

	Multiprocessing bool
	NProcs          int
	ReuseArtefacts  bool
	Verbose         bool

	Artefacts *artefact.Store
}

// Option configures a Config during construction.
type Option func(*Config)

// WithFabWorkspace overrides the workspace root that would otherwise be
// read from $FAB_WORKSPACE or default to ~/fab-workspace.
func WithFabWorkspace(path string) Option {
	return func(c *Config) { c.FabWorkspace = path }
}

// WithMultiprocessing disables worker-pool execution across every step
// that would otherwise fan out, useful for debugging a stalled build.
func WithMultiprocessing(enabled bool) Option {
	return func(c *Config) { c.Multiprocessing = enabled }
}

// WithNProcs pins the worker count used by multiprocessing steps. A
// value of 0 leaves the default (available CPU count) in place.
func WithNProcs(n int) Option {
	return func(c *Config) { c.NProcs = n }
}

// WithReuseArtefacts enables the reduced-reprocessing mode that skips
// certain analysis steps on a subsequent run when their inputs are
// unchanged. Unsophisticated: it trusts that nothing outside the
// artefact store changed between runs.
func WithReuseArtefacts(enabled bool) Option {
	return func(c *Config) { c.ReuseArtefacts = enabled }
}

// WithVerbose raises the configured logger's level to debug.
func WithVerbose(enabled bool) Option {
	return func(c *Config) { c.Verbose = enabled }
}

// WithCompiler overrides the Fortran compiler executable that would
// otherwise be read from $FC or default to gfortran.
func WithCompiler(name string) Option {
	return func(c *Config) { c.Compiler = name }
}

// WithCompilerFlags overrides the compiler flags that would otherwise
// be read from $FFLAGS.
func WithCompilerFlags(flags []string) Option {
	return func(c *Config) { c.CompilerFlags = flags }
}

// WithPreprocessor overrides the preprocessor executable that would
// otherwise be read from $FPP.
func WithPreprocessor(name string) Option {
	return func(c *Config) { c.Preprocessor = name }
}

// New builds a Config for the named project. The project label has its
// spaces replaced with underscores before being used as a workspace
// directory name.
func New(projectLabel string, opts ...Option) (*Config, error) {
	c := &Config{
		ProjectLabel:    strings.ReplaceAll(projectLabel, " ", "_"),
		Multiprocessing: true,
		Artefacts:       artefact.New(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.FabWorkspace == "" {
		ws, err := defaultWorkspace()
		if err != nil {
			return nil, fmt.Errorf("could not determine default workspace: %w", err)
		}
		c.FabWorkspace = ws
	}

	c.ProjectWorkspace = filepath.Join(c.FabWorkspace, c.ProjectLabel)
	c.MetricsFolder = filepath.Join(c.ProjectWorkspace, "metrics", c.ProjectLabel)
	c.SourceRoot = filepath.Join(c.ProjectWorkspace, "source")
	c.BuildOutput = filepath.Join(c.ProjectWorkspace, "build_output")
	c.PrebuildFolder = filepath.Join(c.BuildOutput, "_prebuild")

	if c.Multiprocessing && c.NProcs <= 0 {
		c.NProcs = runtime.NumCPU()
	}

	if c.Compiler == "" {
		c.Compiler = os.Getenv("FC")
	}
	if c.Compiler == "" {
		c.Compiler = "gfortran"
	}
	if len(c.CompilerFlags) == 0 {
		if fflags := os.Getenv("FFLAGS"); fflags != "" {
			flags, err := envutil.Split(fflags)
			if err != nil {
				return nil, fmt.Errorf("could not parse $FFLAGS: %w", err)
			}
			c.CompilerFlags = flags
		}
	}
	if c.Preprocessor == "" {
		c.Preprocessor = os.Getenv("FPP")
	}

	return c, nil
}

// defaultWorkspace returns $FAB_WORKSPACE if set, else ~/fab-workspace.
func defaultWorkspace() (string, error) {
	if ws := os.Getenv("FAB_WORKSPACE"); ws != "" {
		return ws, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "fab-workspace"), nil
}

// PrepOutputFolders creates the build output and prebuild directories,
// idempotently.
func (c *Config) PrepOutputFolders() error {
	if err := os.MkdirAll(c.BuildOutput, 0o755); err != nil {
		return fmt.Errorf("could not create build output folder: %w", err)
	}
	if err := os.MkdirAll(c.PrebuildFolder, 0o755); err != nil {
		return fmt.Errorf("could not create prebuild folder: %w", err)
	}
	return nil
}
