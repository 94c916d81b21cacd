package agent

import (
	"errors"
	"time"

	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

type Config struct {
	// Base URL of the coordinator.
	CoordinatorUrl string `mapstructure:"coordinator_url"`

	// URL at which the coordinator reaches this machine.
	MachineUrl string `mapstructure:"machine_url"`

	// Address to listen on. Derived from the machine URL if empty.
	Listen string `mapstructure:"listen"`

	// Total capacity of the machine in unit-cost experiments.
	MaxCapacity int `mapstructure:"max_capacity"`

	// Path to the project catalog (.json or .yaml).
	Projects string `mapstructure:"projects"`

	// Path to the cached machine identity.
	Specs string `mapstructure:"specs"`

	// Timeout of a single report to the coordinator.
	ReportTimeout time.Duration `mapstructure:"report_timeout"`

	// Compress report bodies with gzip.
	CompressReports bool `mapstructure:"compress_reports"`

	// Result files larger than this are not reported, e.g. "50MB".
	ResultsMaxSize string `mapstructure:"results_max_size"`

	// Experiment history database: "" disables it, "memory" keeps it in memory.
	History string `mapstructure:"history"`

	// NATS server for lifecycle events. Events are disabled if empty.
	NatsUrl string `mapstructure:"nats_url"`

	// Subject prefix for lifecycle events.
	NatsSubject string `mapstructure:"nats_subject"`

	// Log verbosity level: 0 = info, 1 = debug, 2 = trace
	Verbosity int `mapstructure:"verbosity"`
}

// Checks if the agent configuration is valid.
func (c *Config) Validate() error {
	if c.CoordinatorUrl == "" {
		return errors.New("No coordinator address specified")
	}

	if _, err := utils.ParseHttpUrl(c.CoordinatorUrl); err != nil {
		return errors.New("The coordinator URL is not a valid URL: " + err.Error())
	}

	if c.MachineUrl == "" {
		return errors.New("No machine address specified")
	}

	if _, err := utils.ParseHttpUrl(c.MachineUrl); err != nil {
		return errors.New("The machine URL is not a valid URL: " + err.Error())
	}

	if c.MaxCapacity < 0 {
		return errors.New("The capacity must not be negative")
	}

	if c.ResultsMaxSize != "" {
		if _, err := utils.ParseSize(c.ResultsMaxSize); err != nil {
			return errors.New("The results size limit is invalid: " + err.Error())
		}
	}

	return nil
}

// ListenAddress returns the address the HTTP server binds to.
func (c *Config) ListenAddress() (string, error) {
	if c.Listen != "" {
		return c.Listen, nil
	}
	return utils.ListenAddress(c.MachineUrl)
}

// ResultsMaxBytes returns the result size limit in bytes, 0 if unlimited.
func (c *Config) ResultsMaxBytes() int64 {
	if c.ResultsMaxSize == "" {
		return 0
	}
	size, err := utils.ParseSize(c.ResultsMaxSize)
	if err != nil {
		return 0
	}
	return size
}

func (c *Config) Log() {
	log.Info("Agent configuration:")
	log.Infof("  coordinator_url = %s", c.CoordinatorUrl)
	log.Infof("  machine_url = %s", c.MachineUrl)
	log.Infof("  listen = %s", c.Listen)
	log.Infof("  max_capacity = %d", c.MaxCapacity)
	log.Infof("  projects = %s", c.Projects)
	log.Infof("  specs = %s", c.Specs)
	log.Infof("  report_timeout = %s", c.ReportTimeout)
	log.Infof("  compress_reports = %v", c.CompressReports)
	log.Infof("  results_max_size = %s", c.ResultsMaxSize)
	log.Infof("  history = %s", c.History)
	log.Infof("  nats_url = %s", c.NatsUrl)
	log.Infof("  nats_subject = %s", c.NatsSubject)
}
