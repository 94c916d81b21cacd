package coordinator

import (
	"context"
	"encoding/json"
)

// Terminal status of an experiment.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// StatusFromExitCode maps a process exit code to a terminal status.
func StatusFromExitCode(code int) Status {
	if code == 0 {
		return StatusSuccess
	}
	return StatusFail
}

// Client is the outbound interface to the coordinator.
type Client interface {
	// Registers the machine and returns the coordinator's view of it,
	// including the id assigned to the machine.
	RegisterMachine(ctx context.Context, specs any) (json.RawMessage, error)

	// Marks the experiment as started.
	Started(ctx context.Context, experimentID string) error

	// Reports one result document.
	Result(ctx context.Context, experimentID string, payload any) error

	// Reports the terminal status.
	Status(ctx context.Context, experimentID string, status Status) error

	// Marks the experiment as finished.
	Finished(ctx context.Context, experimentID string) error
}
