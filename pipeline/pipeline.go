// Package pipeline implements forge's run orchestration: the ordered
// list of steps a build executes, workspace preparation, and the
// default housekeeping insertion. A run logs its banner, preps the
// output folders, resets the artefact store, appends a default
// housekeeping step if the caller declared none, then executes every
// step in order, timing each one.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/foundry-build/forge/config"
	"github.com/foundry-build/forge/housekeeping"
	"github.com/foundry-build/forge/logger"
)

// Step is one unit of work in a build, given the config and the
// shared artefact store to read from and write to.
type Step interface {
	Name() string
	Run(ctx context.Context, cfg *config.Config, log logger.Logger) error
}

// State tracks a Pipeline's lifecycle: Ready -> Running -> (Done | Failed).
type State int

const (
	Ready State = iota
	Running
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// housekeepingStep is the default sweep inserted when a build declares
// no housekeeping step of its own: a hard cleanup of everything the
// run didn't mark current.
type housekeepingStep struct{}

func (housekeepingStep) Name() string { return "housekeeping (default all_unused)" }

func (housekeepingStep) Run(_ context.Context, cfg *config.Config, log logger.Logger) error {
	current := cfg.Artefacts.CurrentPrebuildSet()
	deleted, err := housekeeping.Sweep(cfg.PrebuildFolder, current, housekeeping.AllUnused{})
	if err != nil {
		return err
	}
	log.Info("housekeeping swept %d stale prebuild(s)", len(deleted))
	return nil
}

// isHousekeeping reports whether step is a user-declared housekeeping
// step, identified by name convention rather than a type assertion so
// any Step implementation (including a hookstep-backed one) can opt
// in to satisfying this requirement.
func isHousekeeping(steps []Step) bool {
	defaultName := housekeepingStep{}.Name()
	for _, s := range steps {
		if s.Name() == defaultName {
			return true
		}
		if hk, ok := s.(interface{ IsHousekeeping() bool }); ok && hk.IsHousekeeping() {
			return true
		}
	}
	return false
}

// Pipeline runs an ordered list of steps against a shared Config.
type Pipeline struct {
	Label string
	Steps []Step
	Log   logger.Logger

	state State
}

// New returns a Pipeline in the Ready state.
func New(label string, log logger.Logger, steps ...Step) *Pipeline {
	return &Pipeline{Label: label, Steps: steps, Log: log, state: Ready}
}

// State reports the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes the pipeline's steps in order against cfg, appending a
// default housekeeping step after them if the caller declared none.
func (p *Pipeline) Run(ctx context.Context, cfg *config.Config) error {
	p.state = Running

	if err := p.prep(cfg); err != nil {
		p.state = Failed
		return err
	}

	steps := p.Steps
	if !isHousekeeping(steps) {
		p.Log.Info("no housekeeping specified, adding a default hard cleanup")
		steps = append(steps, housekeepingStep{})
	}

	start := time.Now()
	for _, step := range steps {
		stepStart := time.Now()
		p.Log.Info("running step %q", step.Name())
		if err := step.Run(ctx, cfg, p.Log); err != nil {
			p.state = Failed
			p.Log.Error("step %q failed after %s: %v", step.Name(), time.Since(stepStart), err)
			return fmt.Errorf("step %q failed: %w", step.Name(), err)
		}
		p.Log.Info("step %q took %s", step.Name(), time.Since(stepStart))
	}
	p.Log.Info("all steps complete, %s took %s", p.Label, time.Since(start))

	p.state = Done
	return nil
}

// prep implements the workspace-preparation half of run(): create
// output folders and reset the artefact store so every run starts
// from the same clean slate, regardless of what a previous run left
// behind in memory.
func (p *Pipeline) prep(cfg *config.Config) error {
	p.Log.Info("")
	p.Log.Info("------------------------------------------------------------")
	p.Log.Info("running %s", cfg.ProjectLabel)
	p.Log.Info("------------------------------------------------------------")
	p.Log.Info("")

	if err := cfg.PrepOutputFolders(); err != nil {
		return err
	}
	cfg.Artefacts.Reset()
	return nil
}
