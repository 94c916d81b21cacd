package history

import (
	"context"
	"time"

	"github.com/srand/fgmachine/pkg/utils"
)

// Record summarizes a finished experiment.
type Record struct {
	ID       string    `json:"id"`
	Project  string    `json:"project"`
	Args     []string  `json:"args"`
	ExitCode int       `json:"exit_code"`
	Status   string    `json:"status"`
	Killed   bool      `json:"killed,omitempty"`
	Results  int       `json:"results"`
	Invalid  int       `json:"invalid_results,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
}

// Store keeps records of finished experiments.
type Store interface {
	Save(ctx context.Context, record *Record) error

	// Returns utils.ErrNotFound for unknown experiments.
	Get(ctx context.Context, id string) (*Record, error)

	Close() error
}

type nopStore struct{}

// NewNopStore returns a store that keeps nothing.
func NewNopStore() Store {
	return nopStore{}
}

func (nopStore) Save(context.Context, *Record) error {
	return nil
}

func (nopStore) Get(context.Context, string) (*Record, error) {
	return nil, utils.ErrNotFound
}

func (nopStore) Close() error {
	return nil
}
