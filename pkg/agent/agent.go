package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/srand/fgmachine/pkg/capacity"
	"github.com/srand/fgmachine/pkg/coordinator"
	"github.com/srand/fgmachine/pkg/events"
	"github.com/srand/fgmachine/pkg/history"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/machine"
	"github.com/srand/fgmachine/pkg/metrics"
	"github.com/srand/fgmachine/pkg/project"
	"github.com/srand/fgmachine/pkg/results"
	"github.com/srand/fgmachine/pkg/runner"
	"github.com/srand/fgmachine/pkg/utils"
)

// Dependencies of an agent. Optional fields default to no-op
// implementations.
type Dependencies struct {
	Catalog   project.Catalog
	Client    coordinator.Client
	Identity  *machine.Identity
	Runner    *runner.Runner
	Harvester *results.Harvester

	Events  events.Publisher
	History history.Store
	Metrics *metrics.Metrics
}

// CapacityInfo answers a capacity check from the coordinator.
type CapacityInfo struct {
	Capacity int    `json:"capacity"`
	Address  string `json:"address"`
	ID       string `json:"_id"`
}

// Status summarizes the agent for diagnostics.
type Status struct {
	Available int      `json:"available"`
	Max       int      `json:"max"`
	Running   []string `json:"running"`
}

// Agent admits experiments against the machine's capacity, runs them
// and reports their outcome to the coordinator.
type Agent struct {
	catalog   project.Catalog
	ledger    *capacity.Ledger
	client    coordinator.Client
	identity  *machine.Identity
	runner    *runner.Runner
	harvester *results.Harvester
	events    events.Publisher
	history   history.Store
	metrics   *metrics.Metrics

	reportTimeout time.Duration

	mu          sync.Mutex
	experiments map[string]*experiment
	lifecycles  sync.WaitGroup
}

func New(config *Config, deps Dependencies) *Agent {
	if deps.Catalog == nil {
		deps.Catalog = project.NewCatalog()
	}
	if deps.Identity == nil {
		deps.Identity = machine.NewIdentity(map[string]any{"address": config.MachineUrl})
	}
	if deps.Runner == nil {
		deps.Runner = runner.NewRunner()
	}
	if deps.Harvester == nil {
		deps.Harvester = results.NewHarvester(utils.NewOsFs())
		deps.Harvester.MaxSize = config.ResultsMaxBytes()
	}
	if deps.Events == nil {
		deps.Events = events.NewNopPublisher()
	}
	if deps.History == nil {
		deps.History = history.NewNopStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}

	timeout := config.ReportTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a := &Agent{
		catalog:       deps.Catalog,
		ledger:        capacity.NewLedger(config.MaxCapacity, deps.Catalog),
		client:        deps.Client,
		identity:      deps.Identity,
		runner:        deps.Runner,
		harvester:     deps.Harvester,
		events:        deps.Events,
		history:       deps.History,
		metrics:       deps.Metrics,
		reportTimeout: timeout,
		experiments:   map[string]*experiment{},
	}

	a.metrics.CapacityMax.Set(float64(a.ledger.Max()))
	a.updateCapacityMetrics()
	return a
}

// Query returns how many more experiments of the project could be
// admitted right now.
func (a *Agent) Query(projectID string) int {
	return a.ledger.Query(projectID)
}

// Capacity answers a capacity check. It fails with
// utils.ErrCapacityExhausted when no experiment of the project fits.
func (a *Agent) Capacity(projectID string) (*CapacityInfo, error) {
	slots := a.ledger.Query(projectID)
	if slots == 0 {
		return nil, utils.ErrCapacityExhausted
	}

	return &CapacityInfo{
		Capacity: slots,
		Address:  a.identity.Address(),
		ID:       a.identity.ID(),
	}, nil
}

// Start admits and launches an experiment.
//
// Fails with utils.ErrCapacityExhausted if the project is unknown or
// does not fit, with utils.ErrDuplicate if an experiment with the same
// id is still active and with utils.ErrSpawn if the process could not
// be started. No capacity is held after a failure.
func (a *Agent) Start(projectID, experimentID string, hyperparameters map[string]any) error {
	if experimentID == "" {
		return fmt.Errorf("%w: missing experiment id", utils.ErrBadRequest)
	}

	proj, ok := a.catalog.Get(projectID)
	if !ok {
		a.metrics.Admissions.WithLabelValues("refused").Inc()
		return fmt.Errorf("%w: %w: %s", utils.ErrCapacityExhausted, utils.ErrUnknownProject, projectID)
	}

	exp := newExperiment(experimentID, projectID, proj, hyperparameters)

	// Register before reserving so that concurrent starts of the same
	// id cannot both be admitted.
	if err := a.register(exp); err != nil {
		a.metrics.Admissions.WithLabelValues("refused").Inc()
		return err
	}

	if !a.ledger.Reserve(projectID) {
		a.unregister(exp)
		a.metrics.Admissions.WithLabelValues("refused").Inc()
		return utils.ErrCapacityExhausted
	}
	a.updateCapacityMetrics()

	log.Infof("Admitted experiment %s of project %s", exp.id, projectID)

	exp.reporter.Start()
	exp.reporter.Submit(func() { a.reportStarted(exp) })

	proc, err := a.runner.Start(runner.Spec{
		Name:    exp.id,
		Command: proj.Command,
		Args:    exp.args,
		Dir:     proj.Cwd,
		Env: []string{
			"FGMACHINE_EXPERIMENT_ID=" + exp.id,
			"FGMACHINE_PROJECT_ID=" + projectID,
			"FGMACHINE_RESULTS_DIR=" + proj.ResultsDir(exp.id),
		},
	})
	if err != nil {
		log.Errorf("Experiment %s could not be started: %v", exp.id, err)
		a.ledger.Release(projectID)
		a.updateCapacityMetrics()
		a.metrics.Admissions.WithLabelValues("failed").Inc()
		a.unregister(exp)

		// The coordinator already knows the experiment as started,
		// close it out as failed.
		a.lifecycles.Add(1)
		exp.reporter.Submit(func() {
			defer a.lifecycles.Done()
			a.reportSpawnFailure(exp)
		})
		exp.reporter.Close()
		return err
	}

	a.metrics.Admissions.WithLabelValues("admitted").Inc()
	a.metrics.ExperimentsRunning.Inc()

	if killed := a.attach(exp, proc); killed {
		proc.Kill()
	}

	a.lifecycles.Add(1)
	go a.complete(exp)

	return nil
}

// Kill asks the experiment's process to terminate. The experiment is
// completed through its normal exit path. Unknown experiments and
// experiments whose process has already exited are ignored. Returns
// true if the kill was requested.
func (a *Agent) Kill(experimentID string) bool {
	a.mu.Lock()
	exp, ok := a.experiments[experimentID]
	var proc *runner.Process
	if ok && (exp.state == Admitted || exp.state == Running) {
		exp.killed = true
		proc = exp.proc
	} else {
		ok = false
	}
	a.mu.Unlock()

	if !ok {
		log.Debugf("Kill of unknown or finished experiment %s ignored", experimentID)
		return false
	}

	log.Info("Killing experiment", experimentID)
	if proc != nil {
		proc.Kill()
	}
	return true
}

// Status returns the available capacity and the active experiments.
func (a *Agent) Status() *Status {
	a.mu.Lock()
	running := make([]string, 0, len(a.experiments))
	for id := range a.experiments {
		running = append(running, id)
	}
	a.mu.Unlock()

	sort.Strings(running)

	return &Status{
		Available: a.ledger.Available(),
		Max:       a.ledger.Max(),
		Running:   running,
	}
}

// State returns the lifecycle state of an active experiment.
func (a *Agent) State(experimentID string) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	exp, ok := a.experiments[experimentID]
	if !ok {
		return Released, false
	}
	return exp.state, true
}

// Experiment returns the record of a finished experiment. Fails with
// utils.ErrNotFound if the experiment is not in the history.
func (a *Agent) Experiment(ctx context.Context, experimentID string) (*history.Record, error) {
	record, err := a.history.Get(ctx, experimentID)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w: %s", utils.ErrNotFound, utils.ErrUnknownExperiment, experimentID)
	}
	return record, err
}

// Wait blocks until all active experiments have been released.
func (a *Agent) Wait() {
	a.lifecycles.Wait()
}

// Shutdown kills all active experiments and waits for their reports to
// be delivered, or for ctx to expire.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	ids := make([]string, 0, len(a.experiments))
	for id := range a.experiments {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		a.Kill(id)
	}

	done := make(chan struct{})
	go func() {
		a.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Agent) register(exp *experiment) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.experiments[exp.id]; ok {
		return fmt.Errorf("%w: %s", utils.ErrDuplicate, exp.id)
	}
	a.experiments[exp.id] = exp
	return nil
}

func (a *Agent) unregister(exp *experiment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	exp.state = Released
	if a.experiments[exp.id] == exp {
		delete(a.experiments, exp.id)
	}
}

// attach stores the process handle. Returns true if a kill was
// requested while the process was being started.
func (a *Agent) attach(exp *experiment, proc *runner.Process) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	exp.proc = proc
	exp.state = Running
	return exp.killed
}

func (a *Agent) setState(exp *experiment, state State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	exp.state = state
}

// complete runs when the process exits. Capacity is returned before any
// reporting takes place.
func (a *Agent) complete(exp *experiment) {
	code := exp.proc.Wait()
	exp.exitCode = code
	exp.finished = time.Now()

	a.setState(exp, Completing)
	a.ledger.Release(exp.projectID)
	a.updateCapacityMetrics()
	a.metrics.ExperimentsRunning.Dec()

	log.Infof("Experiment %s exited with code %d", exp.id, code)

	exp.reporter.Submit(func() {
		defer a.lifecycles.Done()
		a.reportCompletion(exp)
	})
	exp.reporter.Close()
}

func (a *Agent) updateCapacityMetrics() {
	a.metrics.CapacityAvailable.Set(float64(a.ledger.Available()))
}

// report runs one coordinator call. Failures are logged and counted,
// never retried.
func (a *Agent) report(kind string, exp *experiment, call func(ctx context.Context) error) {
	if a.client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.reportTimeout)
	defer cancel()

	if err := call(ctx); err != nil {
		if !errors.Is(err, utils.ErrReporting) {
			err = fmt.Errorf("%w: %w", utils.ErrReporting, err)
		}
		log.Warnf("Experiment %s: %s report failed: %v", exp.id, kind, err)

		var detailed utils.DetailedError
		if errors.As(err, &detailed) && detailed.Details() != "" {
			log.Debugf("Experiment %s: coordinator said: %s", exp.id, detailed.Details())
		}
		a.metrics.ReportsFailed.WithLabelValues(kind).Inc()
		return
	}
	log.Debugf("Experiment %s: %s reported", exp.id, kind)
}

func (a *Agent) publish(event *events.Event) {
	event.Machine = a.identity.ID()
	event.Time = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), a.reportTimeout)
	defer cancel()

	if err := a.events.Publish(ctx, event); err != nil {
		log.Debugf("Failed to publish %s event for %s: %v", event.Kind, event.Experiment, err)
	}
}

func (a *Agent) reportStarted(exp *experiment) {
	a.report("started", exp, func(ctx context.Context) error {
		return a.client.Started(ctx, exp.id)
	})

	a.publish(&events.Event{
		Kind:       events.KindStarted,
		Experiment: exp.id,
		Project:    exp.projectID,
	})
}

func (a *Agent) reportCompletion(exp *experiment) {
	for payload, err := range a.harvester.Harvest(exp.project.Results, exp.id) {
		if err != nil {
			log.Warnf("Experiment %s: %v", exp.id, err)
			exp.invalidResults++
			a.metrics.Results.WithLabelValues("invalid").Inc()
			continue
		}

		exp.results++
		a.metrics.Results.WithLabelValues("read").Inc()
		a.report("result", exp, func(ctx context.Context) error {
			return a.client.Result(ctx, exp.id, payload)
		})
	}

	a.finish(exp, coordinator.StatusFromExitCode(exp.exitCode))
}

func (a *Agent) reportSpawnFailure(exp *experiment) {
	exp.exitCode = runner.UnknownExitCode
	exp.finished = time.Now()
	a.finish(exp, coordinator.StatusFail)
}

// finish sends the terminal status and the finished marker, records the
// experiment and releases it.
func (a *Agent) finish(exp *experiment, status coordinator.Status) {
	a.report("status", exp, func(ctx context.Context) error {
		return a.client.Status(ctx, exp.id, status)
	})

	a.report("finished", exp, func(ctx context.Context) error {
		return a.client.Finished(ctx, exp.id)
	})

	a.metrics.Finished.WithLabelValues(string(status)).Inc()

	code := exp.exitCode
	a.publish(&events.Event{
		Kind:       events.KindFinished,
		Experiment: exp.id,
		Project:    exp.projectID,
		Status:     string(status),
		ExitCode:   &code,
	})

	a.mu.Lock()
	killed := exp.killed
	a.mu.Unlock()

	record := exp.record(status, killed)
	ctx, cancel := context.WithTimeout(context.Background(), a.reportTimeout)
	if err := a.history.Save(ctx, record); err != nil {
		log.Warnf("Failed to record experiment %s: %v", exp.id, err)
	}
	cancel()

	a.unregister(exp)
	log.Infof("Experiment %s finished: %s", exp.id, status)
}
