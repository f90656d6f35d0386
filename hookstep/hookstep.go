// Package hookstep runs user-declared hook commands as pipeline steps:
// VCS grabs, generic preprocess invocations, anything a project wants
// to run as a plain shell command rather than through a dedicated Go
// step. It embeds a shell interpreter so forge stays a single static
// binary with no dependency on an external /bin/sh.
//
// Based on https://github.com/go-task/task/blob/master/internal/execext/exec.go
package hookstep

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/foundry-build/forge/config"
	"github.com/foundry-build/forge/iostream"
	"github.com/foundry-build/forge/logger"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// DefaultTimeout is how long a hook command is given to exit after its
// context is cancelled and it has been sent an interrupt signal, before
// it is killed. It does not limit how long a command may run.
const DefaultTimeout = 15 * time.Second

// Runner is something capable of running a hook command and returning
// its Result.
type Runner interface {
	Run(ctx context.Context, cmd string, stream iostream.IOStream, env []string) (Result, error)
}

// Result holds the outcome of running a hook command.
type Result struct {
	Cmd    string
	Stdout string
	Stderr string
	Status int
}

// Ok reports whether the command exited zero.
func (r Result) Ok() bool {
	return r.Status == 0
}

// IntegratedRunner implements Runner using a pure Go shell interpreter,
// so grab-from-VCS and generic-preprocess hooks never depend on an
// external shell being present on the host.
type IntegratedRunner struct {
	parser  *syntax.Parser
	timeout time.Duration
}

// NewIntegratedRunner returns a hook runner with no external shell
// dependency, using DefaultTimeout as the interrupt-to-kill wait when a
// command's context is cancelled.
func NewIntegratedRunner() IntegratedRunner {
	return IntegratedRunner{
		parser:  syntax.NewParser(),
		timeout: DefaultTimeout,
	}
}

// Run parses cmd as shell syntax and executes it, multiplexing its
// stdout/stderr into both the returned Result and stream.
func (r IntegratedRunner) Run(ctx context.Context, cmd string, stream iostream.IOStream, env []string) (Result, error) {
	prog, err := r.parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		return Result{}, fmt.Errorf("hook command %q is not valid shell syntax: %w", cmd, err)
	}

	env = append(env, os.Environ()...)

	result := Result{Cmd: cmd}
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}

	stdoutMultiWriter := io.MultiWriter(stdout, stream.Stdout)
	stderrMultiWriter := io.MultiWriter(stderr, stream.Stderr)

	execHandler := func(interp.ExecHandlerFunc) interp.ExecHandlerFunc {
		return interp.DefaultExecHandler(r.timeout)
	}

	runner, err := interp.New(
		interp.Params("-e"),
		interp.Env(expand.ListEnviron(env...)),
		interp.ExecHandlers(execHandler),
		interp.OpenHandler(interp.DefaultOpenHandler()),
		interp.StdIO(nil, stdoutMultiWriter, stderrMultiWriter),
	)
	if err != nil {
		return Result{}, err
	}

	if err := runner.Run(ctx, prog); err != nil {
		status, ok := interp.IsExitStatus(err)
		if !ok {
			return Result{}, err
		}
		result.Status = int(status)
	}

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	return result, nil
}

// Step adapts a single hook command into a pipeline step. The command
// sees SOURCE_ROOT, BUILD_OUTPUT and PROJECT_WORKSPACE in its
// environment, so a grab-from-VCS or preprocess hook knows where the
// run's files live without hardcoding paths.
type Step struct {
	StepName string
	Cmd      string
	Env      []string
	Stream   iostream.IOStream
	Runner   Runner
}

func (s *Step) Name() string { return s.StepName }

// Run executes the hook command, failing the step if the command is
// not valid shell syntax or exits non-zero.
func (s *Step) Run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	runner := s.Runner
	if runner == nil {
		runner = NewIntegratedRunner()
	}
	stream := s.Stream
	if stream.Stdout == nil || stream.Stderr == nil {
		stream = iostream.OS()
	}

	env := append([]string{
		"SOURCE_ROOT=" + cfg.SourceRoot,
		"BUILD_OUTPUT=" + cfg.BuildOutput,
		"PROJECT_WORKSPACE=" + cfg.ProjectWorkspace,
	}, s.Env...)

	result, err := runner.Run(ctx, s.Cmd, stream, env)
	if err != nil {
		return err
	}
	if !result.Ok() {
		return fmt.Errorf("hook %q exited with status %d\nstderr: %s", s.Cmd, result.Status, result.Stderr)
	}
	log.Debug("hook %q ok", s.Cmd)
	return nil
}
