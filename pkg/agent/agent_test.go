//go:build !windows

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/srand/fgmachine/pkg/coordinator"
	"github.com/srand/fgmachine/pkg/history"
	"github.com/srand/fgmachine/pkg/machine"
	"github.com/srand/fgmachine/pkg/project"
	"github.com/srand/fgmachine/pkg/results"
	"github.com/srand/fgmachine/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Kind    string
	ID      string
	Payload any
}

// recordingClient records reports in the order they arrive.
type recordingClient struct {
	mu    sync.Mutex
	calls []call
	fail  bool

	// Reports of a gated kind wait for the gate to be released.
	gates map[string]*gate
}

type gate struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

// Gate holds back reports of the given kind until release is closed.
// entered is closed when the first such report arrives. Must be called
// before the experiment is started.
func (c *recordingClient) Gate(kind string) (entered <-chan struct{}, release chan<- struct{}) {
	g := &gate{entered: make(chan struct{}), release: make(chan struct{})}
	if c.gates == nil {
		c.gates = map[string]*gate{}
	}
	c.gates[kind] = g
	return g.entered, g.release
}

func (c *recordingClient) add(kind, id string, payload any) error {
	if g, ok := c.gates[kind]; ok {
		g.once.Do(func() { close(g.entered) })
		<-g.release
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{Kind: kind, ID: id, Payload: payload})
	if c.fail {
		return errors.New("coordinator unreachable")
	}
	return nil
}

func (c *recordingClient) RegisterMachine(ctx context.Context, specs any) (json.RawMessage, error) {
	return json.RawMessage(`{"_id": "m1"}`), c.add("register", "", specs)
}

func (c *recordingClient) Started(ctx context.Context, id string) error {
	return c.add("started", id, nil)
}

func (c *recordingClient) Result(ctx context.Context, id string, payload any) error {
	return c.add("result", id, payload)
}

func (c *recordingClient) Status(ctx context.Context, id string, status coordinator.Status) error {
	return c.add("status", id, status)
}

func (c *recordingClient) Finished(ctx context.Context, id string) error {
	return c.add("finished", id, nil)
}

func (c *recordingClient) For(id string) []call {
	c.mu.Lock()
	defer c.mu.Unlock()

	var calls []call
	for _, call := range c.calls {
		if call.ID == id {
			calls = append(calls, call)
		}
	}
	return calls
}

func (c *recordingClient) Kinds(id string) []string {
	var kinds []string
	for _, call := range c.For(id) {
		kinds = append(kinds, call.Kind)
	}
	return kinds
}

type fixture struct {
	agent   *Agent
	client  *recordingClient
	results string
	history history.Store
}

func shellProject(script, results string) *project.Project {
	return &project.Project{
		Command:  "/bin/sh",
		Args:     []string{"-c", script},
		Capacity: 1,
		Results:  results,
	}
}

func newFixture(t *testing.T, max int, projects map[string]string) *fixture {
	resultsDir := t.TempDir()

	catalog := project.NewCatalog()
	for id, script := range projects {
		catalog[id] = shellProject(script, resultsDir)
	}

	store, err := history.NewBadgerStore("memory")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	client := &recordingClient{}
	agent := New(&Config{
		MachineUrl:    "http://localhost:5081",
		MaxCapacity:   max,
		ReportTimeout: 5 * time.Second,
	}, Dependencies{
		Catalog:   catalog,
		Client:    client,
		Identity:  machine.NewIdentity(map[string]any{"_id": "m1", "address": "http://localhost:5081"}),
		Harvester: results.NewHarvester(utils.NewOsFs()),
		History:   store,
	})

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		agent.Shutdown(ctx)
	})

	return &fixture{agent: agent, client: client, results: resultsDir, history: store}
}

func waitChan(t *testing.T, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for report")
	}
}

func (f *fixture) waitReleased(t *testing.T, id string) {
	require.Eventually(t, func() bool {
		_, active := f.agent.State(id)
		return !active
	}, 10*time.Second, 10*time.Millisecond)
}

const writeResults = `mkdir -p "$FGMACHINE_RESULTS_DIR"
echo '{"loss": 0.25}' > "$FGMACHINE_RESULTS_DIR/out.json"
echo 'free text' > "$FGMACHINE_RESULTS_DIR/notes.txt"
exit 2`

func TestFailedExperimentReportsResultsAndStatus(t *testing.T) {
	f := newFixture(t, 1, map[string]string{"p": writeResults})

	require.NoError(t, f.agent.Start("p", "e1", map[string]any{"_id": "e1"}))
	f.waitReleased(t, "e1")

	calls := f.client.For("e1")
	require.Equal(t, []string{"started", "result", "status", "finished"}, f.client.Kinds("e1"))
	assert.Equal(t, results.Payload{"loss": json.Number("0.25")}, calls[1].Payload)
	assert.Equal(t, coordinator.StatusFail, calls[2].Payload)

	assert.Equal(t, 1, f.agent.Query("p"))

	record, err := f.agent.Experiment(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, record.ExitCode)
	assert.Equal(t, "fail", record.Status)
	assert.Equal(t, 1, record.Results)
	assert.False(t, record.Killed)
}

func TestSuccessfulExperiment(t *testing.T) {
	f := newFixture(t, 1, map[string]string{"p": "exit 0"})

	require.NoError(t, f.agent.Start("p", "e1", map[string]any{"_id": "e1", "lr": 0.1}))
	f.waitReleased(t, "e1")

	calls := f.client.For("e1")
	require.Equal(t, []string{"started", "status", "finished"}, f.client.Kinds("e1"))
	assert.Equal(t, coordinator.StatusSuccess, calls[1].Payload)
}

func TestExperimentEnvironment(t *testing.T) {
	script := `mkdir -p "$FGMACHINE_RESULTS_DIR"
printf '{"id": "%s"}' "$FGMACHINE_EXPERIMENT_ID" > "$FGMACHINE_RESULTS_DIR/env.json"`
	f := newFixture(t, 1, map[string]string{"p": script})

	require.NoError(t, f.agent.Start("p", "e7", map[string]any{"_id": "e7"}))
	f.waitReleased(t, "e7")

	calls := f.client.For("e7")
	require.Equal(t, []string{"started", "result", "status", "finished"}, f.client.Kinds("e7"))
	assert.Equal(t, results.Payload{"id": "e7"}, calls[1].Payload)
	assert.FileExists(t, filepath.Join(f.results, "e7", "env.json"))
}

func TestAdmissionLimit(t *testing.T) {
	f := newFixture(t, 3, map[string]string{"p": "exec sleep 30"})

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, f.agent.Start("p", id, map[string]any{"_id": id}))
	}

	err := f.agent.Start("p", "e4", map[string]any{"_id": "e4"})
	assert.ErrorIs(t, err, utils.ErrCapacityExhausted)
	assert.Equal(t, 0, f.agent.Query("p"))

	_, err = f.agent.Capacity("p")
	assert.ErrorIs(t, err, utils.ErrCapacityExhausted)

	assert.True(t, f.agent.Kill("e2"))
	f.waitReleased(t, "e2")
	assert.Equal(t, 1, f.agent.Query("p"))

	info, err := f.agent.Capacity("p")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Capacity)
	assert.Equal(t, "m1", info.ID)
	assert.Equal(t, "http://localhost:5081", info.Address)

	assert.Equal(t, []string{"e1", "e3"}, f.agent.Status().Running)
	assert.Empty(t, f.client.For("e4"))
}

func TestAdmissionLimitReleasedByExit(t *testing.T) {
	// Each experiment runs until its go file appears, then exits with 0.
	script := `while [ ! -e "$FGMACHINE_RESULTS_DIR.go" ]; do sleep 0.05; done
exit 0`
	f := newFixture(t, 3, map[string]string{"p": script})

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, f.agent.Start("p", id, map[string]any{"_id": id}))
	}

	err := f.agent.Start("p", "e4", map[string]any{"_id": "e4"})
	assert.ErrorIs(t, err, utils.ErrCapacityExhausted)
	assert.Equal(t, 0, f.agent.Query("p"))

	require.NoError(t, os.WriteFile(filepath.Join(f.results, "e2.go"), nil, 0666))
	f.waitReleased(t, "e2")

	assert.Equal(t, 1, f.agent.Query("p"))
	info, err := f.agent.Capacity("p")
	require.NoError(t, err)
	assert.Equal(t, 1, info.Capacity)

	calls := f.client.For("e2")
	require.Equal(t, []string{"started", "status", "finished"}, f.client.Kinds("e2"))
	assert.Equal(t, coordinator.StatusSuccess, calls[1].Payload)

	for _, id := range []string{"e1", "e3"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.results, id+".go"), nil, 0666))
	}
}

func TestKill(t *testing.T) {
	f := newFixture(t, 1, map[string]string{"p": "exec sleep 30"})

	require.NoError(t, f.agent.Start("p", "e1", map[string]any{"_id": "e1"}))
	assert.True(t, f.agent.Kill("e1"))
	f.agent.Kill("e1")
	f.waitReleased(t, "e1")

	calls := f.client.For("e1")
	require.Equal(t, []string{"started", "status", "finished"}, f.client.Kinds("e1"))
	assert.Equal(t, coordinator.StatusFail, calls[1].Payload)
	assert.Equal(t, 1, f.agent.Query("p"))

	record, err := f.agent.Experiment(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, record.Killed)
}

func TestKillUnknown(t *testing.T) {
	f := newFixture(t, 2, map[string]string{"p": "exit 0"})

	assert.False(t, f.agent.Kill("nope"))
	assert.Equal(t, 2, f.agent.Query("p"))
	assert.Empty(t, f.client.For("nope"))
}

func TestKillAfterExitIsIgnored(t *testing.T) {
	f := newFixture(t, 1, map[string]string{"p": "exit 0"})

	entered, release := f.client.Gate("status")

	require.NoError(t, f.agent.Start("p", "e1", map[string]any{"_id": "e1"}))
	waitChan(t, entered)

	state, active := f.agent.State("e1")
	require.True(t, active)
	assert.Equal(t, Completing, state)
	assert.False(t, f.agent.Kill("e1"))

	close(release)
	f.waitReleased(t, "e1")

	record, err := f.agent.Experiment(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, record.ExitCode)
	assert.Equal(t, "success", record.Status)
	assert.False(t, record.Killed)
}

func TestUnknownProject(t *testing.T) {
	f := newFixture(t, 2, nil)

	err := f.agent.Start("nope", "e1", map[string]any{"_id": "e1"})
	assert.ErrorIs(t, err, utils.ErrCapacityExhausted)
	assert.ErrorIs(t, err, utils.ErrUnknownProject)
	assert.Equal(t, 0, f.agent.Query("nope"))
	assert.Empty(t, f.client.For("e1"))
}

func TestDuplicateExperiment(t *testing.T) {
	f := newFixture(t, 2, map[string]string{"p": "exec sleep 30"})

	require.NoError(t, f.agent.Start("p", "e1", map[string]any{"_id": "e1"}))
	err := f.agent.Start("p", "e1", map[string]any{"_id": "e1"})
	assert.ErrorIs(t, err, utils.ErrDuplicate)
	assert.Equal(t, 1, f.agent.Query("p"))
}

func TestSpawnFailureReleasesCapacity(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.agent.catalog["broken"] = &project.Project{
		Command:  filepath.Join(f.results, "does-not-exist"),
		Capacity: 1,
		Results:  f.results,
	}

	err := f.agent.Start("broken", "e1", map[string]any{"_id": "e1"})
	assert.ErrorIs(t, err, utils.ErrSpawn)
	assert.Equal(t, 1, f.agent.Query("broken"))

	_, active := f.agent.State("e1")
	assert.False(t, active)

	require.Eventually(t, func() bool {
		return len(f.client.For("e1")) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"started", "status", "finished"}, f.client.Kinds("e1"))
}

func TestSpawnFailureIsNotActiveWhileReporting(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.agent.catalog["broken"] = &project.Project{
		Command:  filepath.Join(f.results, "does-not-exist"),
		Capacity: 1,
		Results:  f.results,
	}

	entered, release := f.client.Gate("started")

	err := f.agent.Start("broken", "e1", map[string]any{"_id": "e1"})
	assert.ErrorIs(t, err, utils.ErrSpawn)
	waitChan(t, entered)

	_, active := f.agent.State("e1")
	assert.False(t, active)
	assert.Empty(t, f.agent.Status().Running)

	err = f.agent.Start("broken", "e1", map[string]any{"_id": "e1"})
	assert.ErrorIs(t, err, utils.ErrSpawn)
	assert.NotErrorIs(t, err, utils.ErrDuplicate)

	close(release)
	require.Eventually(t, func() bool {
		return len(f.client.For("e1")) == 6
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.agent.Query("broken"))
}

func TestReportingFailuresDoNotBlockRelease(t *testing.T) {
	f := newFixture(t, 1, map[string]string{"p": writeResults})
	f.client.fail = true

	require.NoError(t, f.agent.Start("p", "e1", map[string]any{"_id": "e1"}))
	f.waitReleased(t, "e1")

	assert.Equal(t, []string{"started", "result", "status", "finished"}, f.client.Kinds("e1"))
	assert.Equal(t, 1, f.agent.Query("p"))
}

func TestConcurrentStartsNeverOverdraw(t *testing.T) {
	f := newFixture(t, 4, map[string]string{"p": "exec sleep 30"})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := "e" + string(rune('a'+i))
			if f.agent.Start("p", id, map[string]any{"_id": id}) == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, admitted)
	assert.Equal(t, 0, f.agent.Query("p"))
	assert.Len(t, f.agent.Status().Running, 4)
}
