package psyclone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/foundry-build/forge/analysis"
	"github.com/foundry-build/forge/artefact"
	"github.com/foundry-build/forge/config"
	"github.com/foundry-build/forge/hash"
	"github.com/foundry-build/forge/logger"
	"github.com/foundry-build/forge/parallel"
	"github.com/foundry-build/forge/prebuild"
	"github.com/foundry-build/forge/tool"
)

// UnknownKernelError is raised when an x90 file's invoke() references a
// kernel name that no file under the kernel roots defines.
type UnknownKernelError struct {
	Name    string
	X90     string
	Closest string
}

func (e *UnknownKernelError) Error() string {
	msg := fmt.Sprintf("%s references unknown kernel %q", e.X90, e.Name)
	if e.Closest != "" {
		msg += fmt.Sprintf(" (closest known kernel: %q)", e.Closest)
	}
	return msg
}

// closestKernel finds the known kernel name closest to name, or an
// empty string if nothing is remotely similar.
func closestKernel(name string, kernelHashes map[string]uint32) string {
	names := make([]string, 0, len(kernelHashes))
	for k := range kernelHashes {
		names = append(names, k)
	}
	matches := fuzzy.RankFindNormalizedFold(name, names)
	sort.Sort(matches)
	if len(matches) != 0 {
		return matches[0].Target
	}
	return ""
}

// Step is the code-gen pipeline step: preprocess .X90 sources into
// .x90, rewrite each into its parsable form, analyse them, roll up
// kernel metadata hashes across every kernel root, then generate (or
// reuse from the prebuild store) the standard Fortran outputs.
type Step struct {
	KernelRoots          []string
	TransformationScript string
	CLIArgs              []string

	// AnalyseX90 and AnalyseFortran are the external analyser
	// contracts: deterministic, pure in their input's content.
	AnalyseX90     analysis.X90Analyser
	AnalyseFortran analysis.FortranAnalyser

	// Preprocessor and Generator default to the real external tools
	// (cpp and psyclone) when nil; tests substitute fakes.
	Preprocessor func(ctx context.Context, src, dst string) error
	Generator    Runner
}

func (s *Step) Name() string { return "psyclone" }

// toolGenerator adapts the real psyclone subprocess invocation to the
// Runner seam.
type toolGenerator struct{}

func (toolGenerator) Generate(ctx context.Context, args []string) error {
	return tool.Psyclone(ctx, args)
}

// x90Result is one x90 file's final outcome, merged into the artefact
// store after the fan-out completes.
type x90Result struct {
	outputs      []string
	currentFiles []string
}

func (s *Step) Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := prebuild.New(cfg.PrebuildFolder)
	if err != nil {
		return err
	}

	preprocess := s.Preprocessor
	if preprocess == nil {
		preprocess = func(ctx context.Context, src, dst string) error {
			return tool.Preprocess(ctx, src, dst)
		}
	}
	generator := s.Generator
	if generator == nil {
		generator = toolGenerator{}
	}

	x90s, err := s.preprocessX90s(ctx, cfg, preprocess)
	if err != nil {
		return err
	}
	log.Info("psyclone processing %d x90 file(s)", len(x90s))

	analysed, err := s.analyseX90s(ctx, cfg, x90s)
	if err != nil {
		return err
	}

	kernelHashes, err := s.analyseKernels(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("found %d kernel(s) under %d kernel root(s)", len(kernelHashes), len(s.KernelRoots))

	var scriptHash uint32
	if s.TransformationScript != "" {
		scriptHash, err = hash.File(s.TransformationScript)
		if err != nil {
			return fmt.Errorf("hashing transformation script: %w", err)
		}
	} else {
		log.Warn("no transformation script specified")
	}

	cliArgsHash := hash.String(strings.Join(s.CLIArgs, " "))

	outcomes := parallel.Map(ctx, analysed, cfg.Multiprocessing, cfg.NProcs, func(ctx context.Context, a analysis.X90) (x90Result, error) {
		return s.processX90(ctx, cfg, store, generator, a, kernelHashes, scriptHash, cliArgsHash)
	})
	if err := outcomes.Errors(); err != nil {
		return err
	}

	var outputs []string
	for _, outcome := range outcomes {
		outputs = append(outputs, outcome.Value.outputs...)
		cfg.Artefacts.AddCurrentPrebuilds(outcome.Value.currentFiles...)
	}
	cfg.Artefacts.Set(artefact.PsycloneOutput, outputs)

	return nil
}

// outputPath maps a source file into build_output, preserving its
// position relative to the source root where possible, with newExt
// replacing its extension.
func outputPath(cfg *config.Config, src, newExt string) string {
	stem := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	rel, err := filepath.Rel(cfg.SourceRoot, src)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel, err = filepath.Rel(cfg.BuildOutput, src)
		if err != nil || strings.HasPrefix(rel, "..") {
			return filepath.Join(cfg.BuildOutput, stem+newExt)
		}
	}
	return filepath.Join(cfg.BuildOutput, filepath.Dir(rel), stem+newExt)
}

// preprocessX90s runs the generic preprocessor over every .X90 in
// all_source, producing .x90 siblings under build_output, and returns
// those together with the .x90 files that never needed preprocessing.
// The union is stored as the preprocessed_x90 collection.
func (s *Step) preprocessX90s(ctx context.Context, cfg *config.Config, preprocess func(context.Context, string, string) error) ([]string, error) {
	raw := artefact.SuffixFilter(artefact.AllSource, ".X90")(cfg.Artefacts)

	outcomes := parallel.Map(ctx, raw, cfg.Multiprocessing, cfg.NProcs, func(ctx context.Context, src string) (string, error) {
		dst := outputPath(cfg, src, ".x90")
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return "", err
		}
		if err := preprocess(ctx, src, dst); err != nil {
			return "", fmt.Errorf("preprocessing %s: %w", src, err)
		}
		return dst, nil
	})
	if err := outcomes.Errors(); err != nil {
		return nil, err
	}

	x90Set := make(map[string]struct{})
	for _, dst := range outcomes.Values() {
		x90Set[dst] = struct{}{}
	}
	for _, p := range artefact.SuffixFilter(artefact.AllSource, ".x90")(cfg.Artefacts) {
		x90Set[p] = struct{}{}
	}
	cfg.Artefacts.Set(artefact.PreprocessedX90, x90Set)

	x90s := make([]string, 0, len(x90Set))
	for p := range x90Set {
		x90s = append(x90s, p)
	}
	sort.Strings(x90s)
	return x90s, nil
}

// analyseX90s writes each x90's parsable rewrite next to its
// build_output position, analyses the rewrite, and pairs the result
// with the hash of the original file, so an edit to a stripped
// invoke-name still invalidates the cache.
func (s *Step) analyseX90s(ctx context.Context, cfg *config.Config, x90s []string) ([]analysis.X90, error) {
	outcomes := parallel.Map(ctx, x90s, cfg.Multiprocessing, cfg.NProcs, func(_ context.Context, x90Path string) (analysis.X90, error) {
		src, err := os.ReadFile(x90Path)
		if err != nil {
			return analysis.X90{}, err
		}

		parsablePath := outputPath(cfg, x90Path, ".parsable_x90")
		if err := os.MkdirAll(filepath.Dir(parsablePath), 0o755); err != nil {
			return analysis.X90{}, err
		}
		if err := os.WriteFile(parsablePath, []byte(MakeParsable(string(src))), 0o644); err != nil {
			return analysis.X90{}, err
		}

		analysed, err := s.AnalyseX90(parsablePath)
		if err != nil {
			return analysis.X90{}, &analysis.Error{Path: x90Path, Err: err}
		}

		originalHash, err := hash.File(x90Path)
		if err != nil {
			return analysis.X90{}, err
		}

		return analysis.X90{
			Path:         x90Path,
			OriginalHash: originalHash,
			ParsableHash: analysed.ParsableHash,
			KernelDeps:   analysed.KernelDeps,
		}, nil
	})
	if err := outcomes.Errors(); err != nil {
		return nil, err
	}
	return outcomes.Values(), nil
}

// analyseKernels walks every kernel root for .f90 files (skipping the
// prebuild folder), analyses each, and merges their kernel metadata
// hashes into one mapping. A kernel name defined in two different
// files is a DuplicateKernelError.
func (s *Step) analyseKernels(ctx context.Context, cfg *config.Config) (map[string]uint32, error) {
	kernelFileSet := make(map[string]struct{})
	for _, root := range s.KernelRoots {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path == cfg.PrebuildFolder {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.EqualFold(filepath.Ext(path), ".f90") {
				kernelFileSet[path] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking kernel root %s: %w", root, err)
		}
	}

	kernelFiles := make([]string, 0, len(kernelFileSet))
	for p := range kernelFileSet {
		kernelFiles = append(kernelFiles, p)
	}
	sort.Strings(kernelFiles)

	outcomes := parallel.Map(ctx, kernelFiles, cfg.Multiprocessing, cfg.NProcs, func(_ context.Context, path string) (analysis.Fortran, error) {
		analysed, err := s.AnalyseFortran(path)
		if err != nil {
			return analysis.Fortran{}, &analysis.Error{Path: path, Err: err}
		}
		return analysed, nil
	})
	if err := outcomes.Errors(); err != nil {
		return nil, err
	}

	return CollectKernelHashes(outcomes.Values())
}

// processX90 computes one x90 file's combo hash and either reuses its
// cached outputs or invokes the code-gen tool.
func (s *Step) processX90(ctx context.Context, cfg *config.Config, store *prebuild.Store, generator Runner, a analysis.X90, kernelHashes map[string]uint32, scriptHash, cliArgsHash uint32) (x90Result, error) {
	for kernel := range a.KernelDeps {
		if _, ok := kernelHashes[kernel]; !ok {
			return x90Result{}, &UnknownKernelError{
				Name:    kernel,
				X90:     a.Path,
				Closest: closestKernel(kernel, kernelHashes),
			}
		}
	}

	payload := Payload{
		Analysed:                 a,
		KernelHashes:             kernelHashes,
		TransformationScriptHash: scriptHash,
		CLIArgsHash:              cliArgsHash,
	}
	combo := payload.ComboHash()

	stem := strings.TrimSuffix(filepath.Base(a.Path), filepath.Ext(a.Path))
	outputs := ExpectedOutputs(store, cfg.BuildOutput, stem, combo)

	toolArgs := tool.PsycloneArgs(s.KernelRoots, outputs.Generated, outputs.ModifiedAlg, s.TransformationScript, s.CLIArgs, a.Path)

	result, err := Process(ctx, store, generator, outputs, toolArgs)
	if err != nil {
		return x90Result{}, err
	}

	produced := []string{result.Outputs.ModifiedAlg}
	if fileExists(result.Outputs.Generated) {
		produced = append(produced, result.Outputs.Generated)
	}
	return x90Result{outputs: produced, currentFiles: result.CurrentFiles}, nil
}
