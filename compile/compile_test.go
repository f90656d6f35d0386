package compile_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/foundry-build/forge/analysis"
	"github.com/foundry-build/forge/compile"
	"github.com/foundry-build/forge/hash"
	"github.com/foundry-build/forge/prebuild"
)

// fakeCompiler writes deterministic, source-derived bytes for the obj
// and any .mod files the compiled file defines, standing in for a real
// $FC invocation so combo-hash behaviour can be tested without one.
type fakeCompiler struct {
	moduleDefs map[string][]string
	calls      []string
}

func (f *fakeCompiler) Compile(_ context.Context, moduleDir, src, obj string, flags []string) error {
	f.calls = append(f.calls, src)
	if err := os.MkdirAll(filepath.Dir(obj), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(obj, []byte("obj:"+src), 0o644); err != nil {
		return err
	}
	for _, mod := range f.moduleDefs[src] {
		modPath := filepath.Join(moduleDir, mod+".mod")
		if err := os.WriteFile(modPath, []byte("mod:"+mod+":"+src), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func newScheduler(t *testing.T, fc *fakeCompiler) (*compile.Scheduler, string) {
	t.Helper()
	buildOutput := t.TempDir()
	store, err := prebuild.New(filepath.Join(buildOutput, "_prebuild"))
	if err != nil {
		t.Fatalf("prebuild.New returned an error: %v", err)
	}
	return &compile.Scheduler{
		Store:           store,
		BuildOutput:     buildOutput,
		Compiler:        fc,
		CompilerName:    "foo_cc",
		CompilerVersion: "1.2.3",
		Multiprocessing: true,
		NProcs:          4,
		FlagsFor: func(path string) ([]string, error) {
			return []string{"flag1", "flag2"}, nil
		},
	}, buildOutput
}

func TestWaveSchedulingOrder(t *testing.T) {
	t.Parallel()
	// a.f90 -> b.f90 -> c.f90 (a depends on b, b depends on c)
	sources := map[string]analysis.Fortran{
		"a.f90": {Path: "a.f90", FileDeps: []string{"b.f90"}, ModuleDefs: []string{"mod_a"}},
		"b.f90": {Path: "b.f90", FileDeps: []string{"c.f90"}, ModuleDefs: []string{"mod_b"}},
	}

	fc := &fakeCompiler{moduleDefs: map[string][]string{"a.f90": {"mod_a"}, "b.f90": {"mod_b"}}}
	sched, _ := newScheduler(t, fc)

	alreadyCompiled := map[string]struct{}{"c.f90": {}}
	_, _, err := sched.Run(context.Background(), sources, alreadyCompiled)
	if err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	if len(fc.calls) != 2 || fc.calls[0] != "b.f90" || fc.calls[1] != "a.f90" {
		t.Errorf("expected compile order [b.f90, a.f90], got %v", fc.calls)
	}
}

func TestStalledGraphWhenDependencyMissing(t *testing.T) {
	t.Parallel()
	sources := map[string]analysis.Fortran{
		"a.f90": {Path: "a.f90", FileDeps: []string{"b.f90"}},
		"b.f90": {Path: "b.f90", FileDeps: []string{"c.f90"}},
	}

	fc := &fakeCompiler{moduleDefs: map[string][]string{}}
	sched, _ := newScheduler(t, fc)

	_, _, err := sched.Run(context.Background(), sources, map[string]struct{}{})
	if err == nil {
		t.Fatal("expected a stalled error, got nil")
	}
	var stalled *compile.StalledError
	if !errors.As(err, &stalled) {
		t.Fatalf("expected a *StalledError, got %T: %v", err, err)
	}
}

func TestSecondRunSkipsCompilationWhenUnchanged(t *testing.T) {
	t.Parallel()
	sources := map[string]analysis.Fortran{
		"foofile.f90": {
			Path:       "foofile.f90",
			FileHash:   34567,
			ModuleDefs: []string{"mod_def_1", "mod_def_2"},
		},
	}

	fc := &fakeCompiler{moduleDefs: map[string][]string{"foofile.f90": {"mod_def_1", "mod_def_2"}}}
	sched, _ := newScheduler(t, fc)

	if _, _, err := sched.Run(context.Background(), sources, map[string]struct{}{}); err != nil {
		t.Fatalf("first Run returned an error: %v", err)
	}
	if len(fc.calls) != 1 {
		t.Fatalf("expected exactly 1 compiler invocation on first run, got %d", len(fc.calls))
	}

	if _, _, err := sched.Run(context.Background(), sources, map[string]struct{}{}); err != nil {
		t.Fatalf("second Run returned an error: %v", err)
	}
	if len(fc.calls) != 1 {
		t.Errorf("expected zero additional compiler invocations on second run, got %d total", len(fc.calls))
	}
}

func TestChangingFlagsChangesObjHashNotModsHash(t *testing.T) {
	t.Parallel()
	f := analysis.Fortran{
		Path:       "foofile.f90",
		FileHash:   34567,
		ModuleDefs: []string{"mod_def_1", "mod_def_2"},
		ModuleDeps: []string{"mod_dep_1", "mod_dep_2"},
	}

	compilerNameHash := hash.String("foo_cc")
	compilerVersionHash := hash.String("1.2.3")
	modHashes := map[string]uint32{"mod_dep_1": 12345, "mod_dep_2": 23456}

	modsComboHash := hash.Combine(f.FileHash, compilerNameHash, compilerVersionHash)

	flagsHash1 := hash.String(fmtFlags([]string{"flag1", "flag2"}))
	flagsHash2 := hash.String(fmtFlags([]string{"flag1", "flag3"}))

	var upstream uint32
	for _, dep := range f.ModuleDeps {
		upstream = hash.Combine(upstream, modHashes[dep])
	}

	objHash1 := hash.Combine(modsComboHash, flagsHash1, upstream)
	objHash2 := hash.Combine(modsComboHash, flagsHash2, upstream)

	if objHash1 == objHash2 {
		t.Error("expected changing flags to change obj_combo_hash")
	}
	// mods_combo_hash never incorporates flags at all.
	modsComboHash2 := hash.Combine(f.FileHash, compilerNameHash, compilerVersionHash)
	if modsComboHash != modsComboHash2 {
		t.Error("mods_combo_hash should be stable regardless of flags")
	}
}

func TestChangingUpstreamModuleHashChangesObjHashByExactDelta(t *testing.T) {
	t.Parallel()
	modHashesBefore := map[string]uint32{"mod_dep_1": 12345, "mod_dep_2": 23456}
	modHashesAfter := map[string]uint32{"mod_dep_1": 12346, "mod_dep_2": 23456}

	var upstreamBefore, upstreamAfter uint32
	for _, dep := range []string{"mod_dep_1", "mod_dep_2"} {
		upstreamBefore = hash.Combine(upstreamBefore, modHashesBefore[dep])
		upstreamAfter = hash.Combine(upstreamAfter, modHashesAfter[dep])
	}

	base := hash.Combine(34567, hash.String("foo_cc"), hash.String("1.2.3"))
	flagsHash := hash.String(fmtFlags([]string{"flag1", "flag2"}))

	objBefore := hash.Combine(base, flagsHash, upstreamBefore)
	objAfter := hash.Combine(base, flagsHash, upstreamAfter)

	if objAfter-objBefore != 1 {
		t.Errorf("expected obj_combo_hash to move by exactly 1, moved by %d", objAfter-objBefore)
	}
}

func fmtFlags(flags []string) string {
	s := ""
	for i, f := range flags {
		if i > 0 {
			s += " "
		}
		s += f
	}
	return "[" + s + "]"
}
