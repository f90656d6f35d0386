// Package tool implements forge's subprocess wrappers for its external
// collaborators: the preprocessor, the code-gen tool and the Fortran
// compiler. Each is invoked directly via os/exec rather than through
// the hookstep shell interpreter, since their command lines are
// assembled by forge itself, not by a user-supplied shell snippet.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// ErrNotFound is returned when the requested tool binary cannot be
// located on $PATH.
var ErrNotFound = errors.New("tool: executable not found")

// ErrFailed is returned when a tool exits non-zero. Callers that need
// the stderr for a report should use errors.As against *FailedError.
var ErrFailed = errors.New("tool: command exited non-zero")

// FailedError carries the detail behind ErrFailed.
type FailedError struct {
	Command []string
	Stderr  string
	Stdout  string
	Err     error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("command %v failed: %v\nstderr: %s", e.Command, e.Err, e.Stderr)
}

func (e *FailedError) Unwrap() error {
	return ErrFailed
}

// Result holds the captured output of a tool invocation that exited
// zero.
type Result struct {
	Stdout string
	Stderr string
}

// Run invokes name with args, returning its captured stdout/stderr on
// success. On a non-zero exit it returns a *FailedError wrapping
// ErrFailed; if the binary cannot be found it returns an error
// wrapping ErrNotFound.
func Run(ctx context.Context, name string, args ...string) (Result, error) {
	if _, err := exec.LookPath(name); err != nil {
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Result{}, &FailedError{
			Command: append([]string{name}, args...),
			Stdout:  stdout.String(),
			Stderr:  stderr.String(),
			Err:     err,
		}
	}

	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Preprocess runs the generic C preprocessor over src, writing the
// result to dst: cpp -traditional-cpp -P [extra args] <in> <out>.
func Preprocess(ctx context.Context, src, dst string, extraArgs ...string) error {
	args := append([]string{"-traditional-cpp", "-P"}, extraArgs...)
	args = append(args, src, dst)
	_, err := Run(ctx, "cpp", args...)
	return err
}

// CompilerModuleFlag returns the flag a Fortran compiler family uses
// to set its module-output directory. Unrecognised compilers fall back
// to -J, gfortran's flag.
func CompilerModuleFlag(compilerName string) string {
	switch compilerName {
	case "ifort", "ifx":
		return "-module"
	default:
		return "-J"
	}
}

// Compile invokes the Fortran compiler to build src into obj with the
// given flags: $FC [flags] -c <src> -o <obj>, with the
// module-output-directory flag injected according to the compiler
// family.
func Compile(ctx context.Context, compilerName, moduleDir, src, obj string, flags []string) error {
	args := make([]string, 0, len(flags)+6)
	args = append(args, flags...)
	args = append(args, CompilerModuleFlag(compilerName), moduleDir)
	args = append(args, "-c", src, "-o", obj)
	_, err := Run(ctx, compilerName, args...)
	return err
}

// PsycloneArgs assembles the code-gen tool's command line:
// psyclone -api dynamo0.3 -l all (-d <kernel_root>)* -opsy <gen> -oalg
// <alg> [-s <transform>] [<cli_args>...] <x90>.
func PsycloneArgs(kernelRoots []string, genPath, algPath, transformScript string, cliArgs []string, x90Path string) []string {
	args := []string{"-api", "dynamo0.3", "-l", "all"}
	for _, root := range kernelRoots {
		args = append(args, "-d", root)
	}
	args = append(args, "-opsy", genPath, "-oalg", algPath)
	if transformScript != "" {
		args = append(args, "-s", transformScript)
	}
	args = append(args, cliArgs...)
	args = append(args, x90Path)
	return args
}

// Psyclone invokes the code-gen tool with the assembled args.
func Psyclone(ctx context.Context, args []string) error {
	_, err := Run(ctx, "psyclone", args...)
	return err
}
