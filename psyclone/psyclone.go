// Package psyclone implements forge's code-gen step: rewriting
// domain-specific Fortran (.X90/.x90) into standard Fortran plus an
// auxiliary "PSy" file via an external tool, with a combo hash that
// rolls up every upstream analysis that can invalidate the result:
// the un-rewritten file's hash, every referenced kernel's metadata
// hash, the transformation script's hash and the CLI args' hash.
package psyclone

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/foundry-build/forge/analysis"
	"github.com/foundry-build/forge/hash"
	"github.com/foundry-build/forge/prebuild"
)

// invokeName matches from "call" through the "," after the name
// keyword argument in a call invoke( name = "...", argument list. Any
// gap may be whitespace or a & line-continuation, and the name string
// may be single or double quoted. It is applied only after comment
// lines have already been stripped.
var invokeName = regexp.MustCompile(`call[\s&]+invoke[\s&]*\([\s&]*name[\s&]*=[\s&]*('[^']*'|"[^"]*")[\s&]*,[\s&]*`)

// MakeParsable rewrites x90 source into its "parsable" form: comment
// lines are stripped first, then every call invoke( name = "...",
// keyword argument is removed, leaving call invoke(. The comments must
// go first: a name keyword followed by a comment line has no trailing
// &, so leaving the comment in place would produce broken Fortran.
// Idempotent: the comment-stripping pass finds nothing to strip on its
// own output, and the name-stripping regex finds nothing left to
// match.
//
// The strip is line-oriented, so a continuation line that begins with
// a ! inside a quoted string is also removed. Rare in real Fortran,
// but a known limitation.
func MakeParsable(src string) string {
	lines := strings.Split(src, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "!") {
			continue
		}
		kept = append(kept, line)
	}

	return invokeName.ReplaceAllLiteralString(strings.Join(kept, "\n"), "call invoke(")
}

// DuplicateKernelError is raised when two source files under the
// kernel roots define a kernel of the same name.
type DuplicateKernelError struct {
	Name  string
	First string
	Again string
}

func (e *DuplicateKernelError) Error() string {
	return fmt.Sprintf("kernel %q is defined in both %s and %s", e.Name, e.First, e.Again)
}

// CollectKernelHashes merges the kernel metadata hashes of every
// analysed kernel source file into a single kernel-name -> hash
// mapping, the union across every kernel root.
func CollectKernelHashes(analysed []analysis.Fortran) (map[string]uint32, error) {
	kernelHashes := make(map[string]uint32)
	definedIn := make(map[string]string)

	for _, f := range analysed {
		for kernel, h := range f.PsycloneKernels {
			if first, ok := definedIn[kernel]; ok && first != f.Path {
				return nil, &DuplicateKernelError{Name: kernel, First: first, Again: f.Path}
			}
			kernelHashes[kernel] = h
			definedIn[kernel] = f.Path
		}
	}

	return kernelHashes, nil
}

// Payload aggregates every input that determines one x90 file's combo
// hash.
type Payload struct {
	Analysed                 analysis.X90
	KernelHashes             map[string]uint32
	TransformationScriptHash uint32
	CLIArgsHash              uint32
}

// ComboHash computes the per-x90 cache key: the un-rewritten file's
// hash, the sum over its kernel deps' metadata hashes, the
// transformation script's hash and the CLI args' hash. OriginalHash is
// used, not ParsableHash, so an invoke-name edit still invalidates the
// cache even though it leaves the parsable rewrite unchanged.
func (p Payload) ComboHash() uint32 {
	var kernelSum uint32
	for kernel := range p.Analysed.KernelDeps {
		kernelSum = hash.Combine(kernelSum, p.KernelHashes[kernel])
	}
	return hash.Combine(p.Analysed.OriginalHash, kernelSum, p.TransformationScriptHash, p.CLIArgsHash)
}

// Outputs names the expected output paths for one x90 file: the
// modified algorithm file and the (optional) generated PSy file, both
// in build_output and under their combo-hashed prebuild names.
type Outputs struct {
	ModifiedAlg string
	Generated   string
	PrebuildAlg string
	PrebuildPsy string
}

// ExpectedOutputs computes the build_output and prebuild paths for one
// x90 file given its stem and combo hash.
func ExpectedOutputs(store *prebuild.Store, buildOutput, stem string, combo uint32) Outputs {
	return Outputs{
		ModifiedAlg: filepath.Join(buildOutput, stem+".f90"),
		Generated:   filepath.Join(buildOutput, stem+"_psy.f90"),
		PrebuildAlg: store.PathFor(stem, combo, "f90"),
		PrebuildPsy: store.PathFor(stem+"_psy", combo, "f90"),
	}
}

// Runner invokes the external code-gen tool.
type Runner interface {
	Generate(ctx context.Context, args []string) error
}

// ProcessResult is one x90 file's outcome: the output paths it
// produced (or reused from cache) and the prebuild files that are now
// current.
type ProcessResult struct {
	Outputs      Outputs
	CurrentFiles []string
	FromCache    bool
}

// Process handles a single x90 file: check the prebuild cache for the
// modified-alg output, reuse it (and the optional _psy output) if
// present, or invoke the external tool and stash what it produces.
func Process(ctx context.Context, store *prebuild.Store, runner Runner, outputs Outputs, toolArgs []string) (ProcessResult, error) {
	if store.Exists(outputs.PrebuildAlg) {
		var current []string
		if err := store.Restore(outputs.PrebuildAlg, outputs.ModifiedAlg); err != nil {
			return ProcessResult{}, err
		}
		current = append(current, outputs.PrebuildAlg)

		if store.Exists(outputs.PrebuildPsy) {
			if err := store.Restore(outputs.PrebuildPsy, outputs.Generated); err != nil {
				return ProcessResult{}, err
			}
			current = append(current, outputs.PrebuildPsy)
		}

		return ProcessResult{Outputs: outputs, CurrentFiles: current, FromCache: true}, nil
	}

	if err := runner.Generate(ctx, toolArgs); err != nil {
		return ProcessResult{}, fmt.Errorf("psyclone invocation failed: %w", err)
	}

	var current []string
	if err := store.Stash(outputs.ModifiedAlg, outputs.PrebuildAlg); err != nil {
		return ProcessResult{}, err
	}
	current = append(current, outputs.PrebuildAlg)

	// The _psy file is optional: some x90s do not generate one.
	if fileExists(outputs.Generated) {
		if err := store.Stash(outputs.Generated, outputs.PrebuildPsy); err != nil {
			return ProcessResult{}, err
		}
		current = append(current, outputs.PrebuildPsy)
	}

	return ProcessResult{Outputs: outputs, CurrentFiles: current}, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
