package psyclone_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/foundry-build/forge/analysis"
	"github.com/foundry-build/forge/artefact"
	"github.com/foundry-build/forge/config"
	"github.com/foundry-build/forge/logger"
	"github.com/foundry-build/forge/pipeline"
	"github.com/foundry-build/forge/psyclone"
)

var _ pipeline.Step = (*psyclone.Step)(nil)

// nullLogger drops everything, for tests that don't assert on logs.
type nullLogger struct{}

func (nullLogger) Sync() error          { return nil }
func (nullLogger) Debug(string, ...any) {}
func (nullLogger) Info(string, ...any)  {}
func (nullLogger) Warn(string, ...any)  {}
func (nullLogger) Error(string, ...any) {}

var _ logger.Logger = nullLogger{}

// stepFixture assembles a runnable psyclone.Step over a temp project:
// one x90 referencing two kernels, one kernel file defining them.
type stepFixture struct {
	cfg       *config.Config
	step      *psyclone.Step
	x90Path   string
	generated int
}

func newStepFixture(t *testing.T) *stepFixture {
	t.Helper()

	cfg, err := config.New("psyclone test", config.WithFabWorkspace(t.TempDir()), config.WithMultiprocessing(false))
	if err != nil {
		t.Fatalf("config.New returned an error: %v", err)
	}
	if err := os.MkdirAll(cfg.SourceRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := cfg.PrepOutputFolders(); err != nil {
		t.Fatal(err)
	}

	x90Path := filepath.Join(cfg.SourceRoot, "alg.x90")
	src := "call invoke( name = \"m\", compute_flux_kernel(f1), update_state_kernel(f2))\n"
	if err := os.WriteFile(x90Path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	kernelRoot := filepath.Join(cfg.SourceRoot, "kernels")
	if err := os.MkdirAll(kernelRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	kernelFile := filepath.Join(kernelRoot, "kernels_mod.f90")
	if err := os.WriteFile(kernelFile, []byte("module kernels_mod\nend module\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg.Artefacts.Set(artefact.AllSource, map[string]struct{}{x90Path: {}})

	fixture := &stepFixture{cfg: cfg, x90Path: x90Path}

	fixture.step = &psyclone.Step{
		KernelRoots: []string{kernelRoot},
		AnalyseFortran: func(path string) (analysis.Fortran, error) {
			return analysis.Fortran{
				Path: path,
				PsycloneKernels: map[string]uint32{
					"compute_flux_kernel": 10,
					"update_state_kernel": 20,
				},
			}, nil
		},
		AnalyseX90: func(parsablePath string) (analysis.X90, error) {
			return analysis.X90{
				Path: parsablePath,
				KernelDeps: map[string]struct{}{
					"compute_flux_kernel": {},
					"update_state_kernel": {},
				},
			}, nil
		},
		Generator: generatorFunc(func(_ context.Context, args []string) error {
			fixture.generated++
			alg := argAfter(args, "-oalg")
			gen := argAfter(args, "-opsy")
			if err := os.WriteFile(alg, []byte("standard fortran"), 0o644); err != nil {
				return err
			}
			return os.WriteFile(gen, []byte("psy layer"), 0o644)
		}),
	}

	return fixture
}

type generatorFunc func(ctx context.Context, args []string) error

func (f generatorFunc) Generate(ctx context.Context, args []string) error {
	return f(ctx, args)
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func TestStepSecondRunReusesCache(t *testing.T) {
	t.Parallel()
	fixture := newStepFixture(t)

	if err := fixture.step.Run(context.Background(), fixture.cfg, nullLogger{}); err != nil {
		t.Fatalf("first Run returned an error: %v", err)
	}
	if fixture.generated != 1 {
		t.Fatalf("expected exactly 1 tool invocation on first run, got %d", fixture.generated)
	}

	outputs := fixture.cfg.Artefacts.Paths(artefact.PsycloneOutput)
	if len(outputs) != 2 {
		t.Fatalf("expected the modified alg and _psy outputs, got %v", outputs)
	}
	if len(fixture.cfg.Artefacts.CurrentPrebuildSet()) == 0 {
		t.Error("expected the prebuilt outputs to be registered as current")
	}

	if err := fixture.step.Run(context.Background(), fixture.cfg, nullLogger{}); err != nil {
		t.Fatalf("second Run returned an error: %v", err)
	}
	if fixture.generated != 1 {
		t.Errorf("expected zero additional tool invocations on second run, got %d total", fixture.generated)
	}
}

func TestStepInvokeNameEditInvalidatesCache(t *testing.T) {
	t.Parallel()
	fixture := newStepFixture(t)

	if err := fixture.step.Run(context.Background(), fixture.cfg, nullLogger{}); err != nil {
		t.Fatalf("first Run returned an error: %v", err)
	}

	// Only the stripped name = "..." keyword changes: the parsable
	// rewrite is byte-identical, but the original file's hash is not.
	edited := "call invoke( name = \"renamed\", compute_flux_kernel(f1), update_state_kernel(f2))\n"
	if err := os.WriteFile(fixture.x90Path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := fixture.step.Run(context.Background(), fixture.cfg, nullLogger{}); err != nil {
		t.Fatalf("second Run returned an error: %v", err)
	}
	if fixture.generated != 2 {
		t.Errorf("expected the invoke-name edit to force a re-invocation, got %d invocation(s)", fixture.generated)
	}
}

func TestStepPreprocessesUpperCaseX90(t *testing.T) {
	t.Parallel()
	fixture := newStepFixture(t)

	rawPath := filepath.Join(fixture.cfg.SourceRoot, "other.X90")
	if err := os.WriteFile(rawPath, []byte("call invoke(compute_flux_kernel(f))\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fixture.cfg.Artefacts.Set(artefact.AllSource, map[string]struct{}{
		fixture.x90Path: {},
		rawPath:         {},
	})

	var preprocessed []string
	fixture.step.Preprocessor = func(_ context.Context, src, dst string) error {
		preprocessed = append(preprocessed, src)
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644)
	}

	if err := fixture.step.Run(context.Background(), fixture.cfg, nullLogger{}); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	if len(preprocessed) != 1 || preprocessed[0] != rawPath {
		t.Errorf("expected exactly the .X90 file to be preprocessed, got %v", preprocessed)
	}

	collection := fixture.cfg.Artefacts.Paths(artefact.PreprocessedX90)
	if len(collection) != 2 {
		t.Errorf("expected both x90 files in preprocessed_x90, got %v", collection)
	}
	for _, p := range collection {
		if !strings.HasSuffix(p, ".x90") {
			t.Errorf("expected only lowercase .x90 paths in preprocessed_x90, got %q", p)
		}
	}
}

func TestStepUnknownKernelSuggestsClosestMatch(t *testing.T) {
	t.Parallel()
	fixture := newStepFixture(t)

	fixture.step.AnalyseX90 = func(parsablePath string) (analysis.X90, error) {
		return analysis.X90{
			Path:       parsablePath,
			KernelDeps: map[string]struct{}{"compute_flux": {}},
		}, nil
	}

	err := fixture.step.Run(context.Background(), fixture.cfg, nullLogger{})
	if err == nil {
		t.Fatal("expected an unknown kernel error, got nil")
	}

	var unknown *psyclone.UnknownKernelError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected an *UnknownKernelError, got %T: %v", err, err)
	}
	if unknown.Closest != "compute_flux_kernel" {
		t.Errorf("expected the closest known kernel to be suggested, got %q", unknown.Closest)
	}
}
