package events

import (
	"context"
	"time"
)

type Kind string

const (
	KindStarted  Kind = "started"
	KindFinished Kind = "finished"
)

// Event describes a lifecycle transition of an experiment.
type Event struct {
	Kind       Kind      `json:"kind"`
	Experiment string    `json:"experiment"`
	Project    string    `json:"project"`
	Machine    string    `json:"machine,omitempty"`
	Status     string    `json:"status,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Time       time.Time `json:"time"`
}

// Publisher delivers lifecycle events to observers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close()
}

type nopPublisher struct{}

// NewNopPublisher returns a publisher that drops all events.
func NewNopPublisher() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, *Event) error {
	return nil
}

func (nopPublisher) Close() {}
