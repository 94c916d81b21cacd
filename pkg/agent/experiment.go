package agent

import (
	"time"

	"github.com/srand/fgmachine/pkg/coordinator"
	"github.com/srand/fgmachine/pkg/history"
	"github.com/srand/fgmachine/pkg/project"
	"github.com/srand/fgmachine/pkg/runner"
	"github.com/srand/fgmachine/pkg/utils"
)

// State of an experiment on this machine.
type State int

const (
	// Capacity reserved, process not yet started.
	Admitted State = iota
	Running
	// Process exited, reports in flight.
	Completing
	Released
)

func (s State) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case Running:
		return "running"
	case Completing:
		return "completing"
	case Released:
		return "released"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type experiment struct {
	id              string
	projectID       string
	project         *project.Project
	hyperparameters map[string]any
	args            []string

	// Guarded by Agent.mu
	state  State
	proc   *runner.Process
	killed bool

	started  time.Time
	finished time.Time
	exitCode int

	// Written by the reporter only.
	results        int
	invalidResults int

	// Reports to the coordinator, in submission order.
	reporter *utils.SerialQueue
}

func newExperiment(id, projectID string, proj *project.Project, hyperparameters map[string]any) *experiment {
	return &experiment{
		id:              id,
		projectID:       projectID,
		project:         proj,
		hyperparameters: hyperparameters,
		args:            proj.Arguments(hyperparameters),
		state:           Admitted,
		started:         time.Now(),
		exitCode:        runner.UnknownExitCode,
		reporter:        utils.NewSerialQueue(),
	}
}

func (e *experiment) record(status coordinator.Status, killed bool) *history.Record {
	return &history.Record{
		ID:       e.id,
		Project:  e.projectID,
		Args:     e.args,
		ExitCode: e.exitCode,
		Status:   string(status),
		Killed:   killed,
		Results:  e.results,
		Invalid:  e.invalidResults,
		Started:  e.started,
		Finished: e.finished,
	}
}
