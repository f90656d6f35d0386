// Package compile implements forge's dependency-wave Fortran compile
// scheduler, the heart of the incremental build engine: per-file
// combo-hash cache keys, module-interface hash propagation between
// waves, and the parallel wave loop itself.
package compile

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/foundry-build/forge/analysis"
	"github.com/foundry-build/forge/graph"
	"github.com/foundry-build/forge/hash"
	"github.com/foundry-build/forge/parallel"
	"github.com/foundry-build/forge/prebuild"
)

// StalledError is returned when the scheduler cannot advance: some
// uncompiled files remain but none of them has all of its dependencies
// satisfied by what has compiled so far.
type StalledError struct {
	Remaining map[string][]string // path -> unmet file_deps
}

func (e *StalledError) Error() string {
	return fmt.Sprintf("compile scheduler stalled: %d files have unresolvable dependencies: %v", len(e.Remaining), e.Remaining)
}

// Error is a single file's compiler-subprocess failure.
type Error struct {
	Path   string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compiling %s: %v\nstderr: %s", e.Path, e.Err, e.Stderr)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CompiledFile pairs a source input with its combo-hashed output
// object path in the prebuild store.
type CompiledFile struct {
	InputPath  string
	OutputPath string
}

// Compiler is the contract forge needs from the external Fortran
// compiler: compile src into obj using the given module directory and
// flags. out-of-scope internals (exact argv construction, subprocess
// handling) live in the tool package; this is the seam the scheduler
// calls through so it can be tested without a real compiler.
type Compiler interface {
	Compile(ctx context.Context, moduleDir, src, obj string, flags []string) error
}

// Scheduler runs the dependency-wave compile loop over an analysed
// source DAG.
type Scheduler struct {
	Store           *prebuild.Store
	BuildOutput     string
	Compiler        Compiler
	CompilerName    string
	CompilerVersion string
	Multiprocessing bool
	NProcs          int

	// FlagsFor returns the compiler flags for a given path.
	FlagsFor func(path string) ([]string, error)
}

// waveResult is what one file's processing produces, threaded back
// into the scheduler's bookkeeping after a wave completes.
type waveResult struct {
	path         string
	compiled     CompiledFile
	moduleHashes map[string]uint32
	currentFiles []string
}

// Run compiles every file in sources, returning the compiled outputs
// keyed by path and the list of every prebuild file now current.
// alreadyCompiled seeds the compiled set for files built elsewhere.
func (s *Scheduler) Run(ctx context.Context, sources map[string]analysis.Fortran, alreadyCompiled map[string]struct{}) (map[string]CompiledFile, []string, error) {
	compiled := make(map[string]struct{}, len(sources))
	for p := range alreadyCompiled {
		compiled[p] = struct{}{}
	}

	uncompiled := make(map[string]analysis.Fortran, len(sources))
	for path, f := range sources {
		if _, done := compiled[path]; !done {
			uncompiled[path] = f
		}
	}

	modHashes := make(map[string]uint32)
	results := make(map[string]CompiledFile, len(sources))
	var currentFiles []string

	compilerNameHash := hash.String(s.CompilerName)
	compilerVersionHash := hash.String(s.CompilerVersion)

	for len(uncompiled) > 0 {
		wave := nextWave(uncompiled, compiled)
		if len(wave) == 0 {
			return nil, nil, stalledError(uncompiled, compiled)
		}

		waveFiles := make([]analysis.Fortran, 0, len(wave))
		for _, path := range wave {
			waveFiles = append(waveFiles, uncompiled[path])
		}

		outcomes := parallel.Map(ctx, waveFiles, s.Multiprocessing, s.NProcs, func(ctx context.Context, f analysis.Fortran) (waveResult, error) {
			return s.processFile(ctx, f, modHashes, compilerNameHash, compilerVersionHash)
		})

		if err := outcomes.Errors(); err != nil {
			return nil, nil, err
		}

		for _, outcome := range outcomes {
			r := outcome.Value
			results[r.path] = r.compiled
			currentFiles = append(currentFiles, r.currentFiles...)
			for mod, h := range r.moduleHashes {
				modHashes[mod] = h
			}
			compiled[r.path] = struct{}{}
			delete(uncompiled, r.path)
		}
	}

	return results, currentFiles, nil
}

// nextWave returns every uncompiled path whose file_deps are all
// already in compiled.
func nextWave(uncompiled map[string]analysis.Fortran, compiled map[string]struct{}) []string {
	var wave []string
	for path, f := range uncompiled {
		ready := true
		for _, dep := range f.FileDeps {
			if _, ok := compiled[dep]; !ok {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, path)
		}
	}
	return wave
}

// stalledError builds a StalledError listing, for each remaining file,
// the dependencies that are not yet satisfied.
func stalledError(uncompiled map[string]analysis.Fortran, compiled map[string]struct{}) *StalledError {
	remaining := make(map[string][]string, len(uncompiled))
	for path, f := range uncompiled {
		var unmet []string
		for _, dep := range f.FileDeps {
			if _, ok := compiled[dep]; !ok {
				unmet = append(unmet, dep)
			}
		}
		remaining[path] = unmet
	}
	return &StalledError{Remaining: remaining}
}

// processFile is the single-file half of the loop: combo-hash
// computation, cache check, and compile-or-reuse.
func (s *Scheduler) processFile(ctx context.Context, f analysis.Fortran, modHashes map[string]uint32, compilerNameHash, compilerVersionHash uint32) (waveResult, error) {
	modsComboHash := hash.Combine(f.FileHash, compilerNameHash, compilerVersionHash)

	flags, err := s.FlagsFor(f.Path)
	if err != nil {
		return waveResult{}, err
	}
	flagsHash := hash.String(fmt.Sprint(flags))

	var upstreamInterfaceHash uint32
	for _, dep := range f.ModuleDeps {
		upstreamInterfaceHash = hash.Combine(upstreamInterfaceHash, modHashes[dep])
	}
	objComboHash := hash.Combine(modsComboHash, flagsHash, upstreamInterfaceHash)

	stem := stemOf(f.Path)
	objPath := s.Store.PathFor(stem, objComboHash, "o")

	allModsExist := true
	modPaths := make(map[string]string, len(f.ModuleDefs))
	for _, mod := range f.ModuleDefs {
		modPath := s.Store.PathFor(mod, modsComboHash, "mod")
		modPaths[mod] = modPath
		if !s.Store.Exists(modPath) {
			allModsExist = false
		}
	}

	var currentFiles []string

	if allModsExist && s.Store.Exists(objPath) {
		for mod, cachedModPath := range modPaths {
			outPath := filepath.Join(s.BuildOutput, mod+".mod")
			if err := s.Store.Restore(cachedModPath, outPath); err != nil {
				return waveResult{}, err
			}
			currentFiles = append(currentFiles, cachedModPath)
		}
		currentFiles = append(currentFiles, objPath)

		moduleHashes, err := hashModules(f.ModuleDefs, s.BuildOutput)
		if err != nil {
			return waveResult{}, err
		}
		return waveResult{
			path:         f.Path,
			compiled:     CompiledFile{InputPath: f.Path, OutputPath: objPath},
			moduleHashes: moduleHashes,
			currentFiles: currentFiles,
		}, nil
	}

	outObj := filepath.Join(s.BuildOutput, stem+".o")
	if err := s.Compiler.Compile(ctx, s.BuildOutput, f.Path, outObj, flags); err != nil {
		return waveResult{}, &Error{Path: f.Path, Err: err}
	}

	if err := s.Store.Stash(outObj, objPath); err != nil {
		return waveResult{}, err
	}
	currentFiles = append(currentFiles, objPath)

	for mod, cachedModPath := range modPaths {
		producedModPath := filepath.Join(s.BuildOutput, mod+".mod")
		if err := s.Store.Stash(producedModPath, cachedModPath); err != nil {
			return waveResult{}, err
		}
		currentFiles = append(currentFiles, cachedModPath)
	}

	moduleHashes, err := hashModules(f.ModuleDefs, s.BuildOutput)
	if err != nil {
		return waveResult{}, err
	}

	return waveResult{
		path:         f.Path,
		compiled:     CompiledFile{InputPath: f.Path, OutputPath: objPath},
		moduleHashes: moduleHashes,
		currentFiles: currentFiles,
	}, nil
}

// hashModules reads and hashes the .mod file for each named module out
// of buildOutput, the module-interface propagation step that makes the
// next wave's obj_combo_hash sensitive to upstream interface changes.
func hashModules(moduleDefs []string, buildOutput string) (map[string]uint32, error) {
	out := make(map[string]uint32, len(moduleDefs))
	for _, mod := range moduleDefs {
		h, err := hash.File(filepath.Join(buildOutput, mod+".mod"))
		if err != nil {
			return nil, fmt.Errorf("hashing module interface %s: %w", mod, err)
		}
		out[mod] = h
	}
	return out, nil
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Waves exposes the plain dependency-wave layering (no compiling) over
// an analysed source DAG, for callers that just want to know the
// schedule without running it. Used by the graph command in the CLI.
func Waves(sources map[string]analysis.Fortran) ([][]string, error) {
	g := graph.New()
	for path := range sources {
		g.AddVertex(path)
	}
	for path, f := range sources {
		for _, dep := range f.FileDeps {
			if g.ContainsVertex(dep) {
				if err := g.AddEdge(dep, path); err != nil {
					return nil, err
				}
			}
		}
	}
	return g.Waves()
}
