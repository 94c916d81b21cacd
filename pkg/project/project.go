package project

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/srand/fgmachine/pkg/utils"
)

// Project describes how experiments of one kind are started.
type Project struct {
	// Executable to run.
	Command string `json:"command" yaml:"command"`

	// Fixed arguments placed before the hyperparameters.
	Args []string `json:"args" yaml:"args"`

	// Working directory of the experiment process.
	Cwd string `json:"cwd" yaml:"cwd"`

	// Capacity consumed by one running experiment.
	Capacity int `json:"capacity" yaml:"capacity"`

	// Hyperparameter formatting.
	Options Options `json:"options" yaml:"options"`

	// Directory holding one result directory per experiment.
	Results string `json:"results" yaml:"results"`
}

func (p *Project) Validate() error {
	if p.Command == "" {
		return fmt.Errorf("%w: command is required", utils.ErrBadRequest)
	}
	if p.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be greater than zero", utils.ErrBadRequest)
	}
	if _, ok := formatters[p.Options]; !ok {
		return fmt.Errorf("%w: invalid options %v", utils.ErrBadRequest, p.Options)
	}
	return nil
}

// Arguments returns the fixed arguments followed by the formatted
// hyperparameters. Hyperparameters are emitted in lexical key order.
func (p *Project) Arguments(hyperparameters map[string]any) []string {
	args := append([]string{}, p.Args...)

	keys := make([]string, 0, len(hyperparameters))
	for key := range hyperparameters {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		args = append(args, p.Options.Format(key, hyperparameters[key])...)
	}
	return args
}

// ResultsDir returns the directory where the experiment writes its results.
func (p *Project) ResultsDir(experimentID string) string {
	return filepath.Join(p.Results, experimentID)
}
