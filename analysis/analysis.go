// Package analysis defines the contract types that cross the boundary
// into forge from an external source analyser. The analyser itself
// (the Fortran/X90 parser) is an external collaborator; only its
// result shape lives here.
package analysis

// Fortran identifies one analysed Fortran source file. Immutable once
// constructed.
type Fortran struct {
	Path string

	// FileHash is the content hash of the original source file.
	FileHash uint32

	// FileDeps holds the paths of source files this file directly
	// references (via #include or module use resolved to a path).
	FileDeps []string

	// ModuleDefs holds the names of Fortran modules this file defines.
	ModuleDefs []string

	// ModuleDeps holds the names of Fortran modules this file consumes.
	ModuleDeps []string

	// PsycloneKernels maps a kernel-type name defined in this file to
	// the hash of its metadata block.
	PsycloneKernels map[string]uint32
}

// X90 identifies one analysed X90 source file. The two hashes are
// distinct fields and the caller picks explicitly at the use site:
// OriginalHash is what must participate in any combo hash (so an edit
// to the stripped invoke-name still invalidates the cache),
// ParsableHash is what the analyser actually observed when it parsed
// the rewritten file.
type X90 struct {
	Path string

	// OriginalHash is the content hash of the un-rewritten .x90 file.
	OriginalHash uint32

	// ParsableHash is the content hash of the .parsable_x90 file the
	// analyser actually read.
	ParsableHash uint32

	// KernelDeps is the set of kernel-type names referenced via
	// invoke() calls in this file.
	KernelDeps map[string]struct{}
}

// Error wraps a single analysis failure with the path that caused it,
// the error kind a step's final aggregate report needs to distinguish
// from a compiler or tool failure.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return "analysing " + e.Path + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FortranAnalyser is the contract an external Fortran source analyser
// must satisfy: deterministic and pure in path's content, returning
// either a fully populated Fortran record or an error.
type FortranAnalyser func(path string) (Fortran, error)

// X90Analyser is the contract an external X90 source analyser must
// satisfy, over the parsable rewrite of a file.
type X90Analyser func(parsablePath string) (X90, error)
