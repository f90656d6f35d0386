// Package discover is the forge CLI's built-in source analyser: a
// regex-based module/use-statement scanner good enough to exercise the
// pipeline end to end without a real Fortran front end. Deliberately
// thin. Production callers are expected to supply their own
// analysis.FortranAnalyser backed by a real parser; this one exists so
// forge graph and a bare forge run (which builds) work against a plain
// directory of .f90 files.
package discover

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/foundry-build/forge/analysis"
	"github.com/foundry-build/forge/hash"
)

var (
	moduleDecl = regexp.MustCompile(`(?i)^\s*module\s+(\w+)\s*$`)
	useDecl    = regexp.MustCompile(`(?i)^\s*use\s*(?:,\s*\w+\s*::)?\s*(\w+)`)
	kernelDecl = regexp.MustCompile(`(?i)^\s*type\s*,[^:!]*extends\s*\(\s*kernel_type\s*\)[^:]*::\s*(\w+)`)
	endType    = regexp.MustCompile(`(?i)^\s*end\s*type\b`)
	invokeCall = regexp.MustCompile(`(?i)call\s+invoke\s*\(`)
	kernelArg  = regexp.MustCompile(`(\w+)\s*\(`)
)

// Sources walks root for .f90/.F90 files and returns their paths,
// sorted for deterministic scheduling output.
func Sources(root string) ([]string, error) {
	return walk(root, ".f90")
}

// AllSources walks root for every file the pipeline can consume:
// Fortran sources and X90 sources, either case.
func AllSources(root string) ([]string, error) {
	return walk(root, ".f90", ".x90")
}

func walk(root string, exts ...string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, want := range exts {
			if ext == want {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover: could not walk %s: %w", root, err)
	}
	return paths, nil
}

// Fortran scans path for module definitions, use-statement
// dependencies and kernel metadata blocks (a type extending
// kernel_type, hashed from its declaration through end type). FileDeps
// is left empty; resolving module names to file paths is Analyse's job
// once every file in the set has been scanned once.
func Fortran(path string) (analysis.Fortran, error) {
	f, err := os.Open(path)
	if err != nil {
		return analysis.Fortran{}, err
	}
	defer f.Close()

	fileHash, err := hash.File(path)
	if err != nil {
		return analysis.Fortran{}, err
	}

	var defs, deps []string
	seenDeps := make(map[string]struct{})
	var kernels map[string]uint32
	var kernelName string
	var kernelBlock strings.Builder

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if kernelName != "" {
			kernelBlock.WriteString(line)
			kernelBlock.WriteByte('\n')
			if endType.MatchString(line) {
				if kernels == nil {
					kernels = make(map[string]uint32)
				}
				kernels[kernelName] = hash.String(kernelBlock.String())
				kernelName = ""
				kernelBlock.Reset()
			}
			continue
		}
		if m := kernelDecl.FindStringSubmatch(line); m != nil {
			kernelName = strings.ToLower(m[1])
			kernelBlock.WriteString(line)
			kernelBlock.WriteByte('\n')
			continue
		}

		if m := moduleDecl.FindStringSubmatch(line); m != nil {
			defs = append(defs, strings.ToLower(m[1]))
			continue
		}
		if m := useDecl.FindStringSubmatch(line); m != nil {
			name := strings.ToLower(m[1])
			if _, ok := seenDeps[name]; !ok {
				seenDeps[name] = struct{}{}
				deps = append(deps, name)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return analysis.Fortran{}, fmt.Errorf("discover: could not scan %s: %w", path, err)
	}

	return analysis.Fortran{
		Path:            path,
		FileHash:        fileHash,
		ModuleDefs:      defs,
		ModuleDeps:      deps,
		PsycloneKernels: kernels,
	}, nil
}

// X90 scans a parsable x90 file for invoke() calls and returns the
// kernel-type names referenced inside them as kernel deps. Naive in
// the same way Fortran is: every name(...) inside an invoke's argument
// list counts as a kernel reference.
func X90(parsablePath string) (analysis.X90, error) {
	data, err := os.ReadFile(parsablePath)
	if err != nil {
		return analysis.X90{}, err
	}
	parsableHash, err := hash.File(parsablePath)
	if err != nil {
		return analysis.X90{}, err
	}

	// Join & continuations so an invoke's argument list is one string.
	src := strings.ReplaceAll(string(data), "&\n", " ")

	deps := make(map[string]struct{})
	for _, loc := range invokeCall.FindAllStringIndex(src, -1) {
		args := balancedArgs(src[loc[1]:])
		for _, m := range kernelArg.FindAllStringSubmatch(args, -1) {
			deps[strings.ToLower(m[1])] = struct{}{}
		}
	}

	return analysis.X90{
		Path:         parsablePath,
		ParsableHash: parsableHash,
		KernelDeps:   deps,
	}, nil
}

// balancedArgs returns the text up to the close paren matching the
// open paren just consumed by the caller's match.
func balancedArgs(s string) string {
	depth := 1
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s[:i]
			}
		}
	}
	return s
}

// Analyse scans every source under root, plus any extra files handed
// in (code-gen outputs that live outside the source tree), and
// resolves each file's module-name dependencies (ModuleDeps, by
// definer name) into file path dependencies (FileDeps), which is what
// the compile scheduler's wave layering actually consumes.
func Analyse(root string, extra ...string) (map[string]analysis.Fortran, error) {
	paths, err := Sources(root)
	if err != nil {
		return nil, err
	}
	paths = append(paths, extra...)

	definedBy := make(map[string]string, len(paths))
	files := make(map[string]analysis.Fortran, len(paths))

	for _, path := range paths {
		if _, ok := files[path]; ok {
			continue
		}
		f, err := Fortran(path)
		if err != nil {
			return nil, err
		}
		for _, mod := range f.ModuleDefs {
			definedBy[mod] = path
		}
		files[path] = f
	}

	for path, f := range files {
		var fileDeps []string
		seen := make(map[string]struct{})
		for _, mod := range f.ModuleDeps {
			dep, ok := definedBy[mod]
			if !ok || dep == path {
				continue
			}
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			fileDeps = append(fileDeps, dep)
		}
		f.FileDeps = fileDeps
		files[path] = f
	}

	return files, nil
}
