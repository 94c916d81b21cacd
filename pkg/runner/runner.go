package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/utils"
)

// Exit code reported when the exit status of a process is unknown,
// e.g. after termination by a signal.
const UnknownExitCode = -1

// Spec describes a process to launch.
type Spec struct {
	// Label used to prefix diagnostic output, typically the experiment id.
	Name string

	Command string
	Args    []string
	Dir     string

	// Additional environment variables, appended to the agent's environment.
	Env []string

	// Output sinks. Both default to the log.
	Stdout io.Writer
	Stderr io.Writer
}

type Runner struct {
	// Maximum time to wait for output pipes to close after the process
	// has exited, in case a child process inherited them.
	WaitDelay time.Duration
}

func NewRunner() *Runner {
	return &Runner{
		WaitDelay: 5 * time.Second,
	}
}

// Start launches the process. The returned error wraps utils.ErrSpawn
// if the command could not be started.
func (r *Runner) Start(spec Spec) (*Process, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("%w: no command", utils.ErrSpawn)
	}

	// Log writers created here are flushed and closed on exit.
	var owned []io.Closer

	stdout := spec.Stdout
	if stdout == nil {
		w := log.NewLogWriter(log.InfoLevel, "["+spec.Name+"]")
		owned = append(owned, w)
		stdout = w
	}

	stderr := spec.Stderr
	if stderr == nil {
		w := log.NewLogWriter(log.WarningLevel, "["+spec.Name+"] Error:")
		owned = append(owned, w)
		stderr = w
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = &sink{w: stdout}
	cmd.Stderr = &sink{w: stderr}
	cmd.WaitDelay = r.WaitDelay
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)

	log.Info("Running", strings.Join(cmd.Args, " "))

	if err := cmd.Start(); err != nil {
		for _, w := range owned {
			w.Close()
		}
		return nil, fmt.Errorf("%w: %s: %w", utils.ErrSpawn, spec.Command, err)
	}

	proc := &Process{
		cmd:      cmd,
		name:     spec.Name,
		done:     make(chan struct{}),
		exitCode: UnknownExitCode,
		owned:    owned,
	}
	go proc.wait()

	return proc, nil
}

// Process is a handle to a started process.
type Process struct {
	cmd      *exec.Cmd
	name     string
	done     chan struct{}
	exitCode int
	owned    []io.Closer

	killOnce sync.Once
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	code := UnknownExitCode
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		log.Debugf("Process %s exited: %v", p.name, err)
	default:
		log.Warnf("Process %s: %v", p.name, err)
	}

	for _, w := range p.owned {
		w.Close()
	}

	p.exitCode = code
	close(p.done)
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process has exited and returns its exit code.
// A process terminated by a signal reports UnknownExitCode.
func (p *Process) Wait() int {
	<-p.done
	return p.exitCode
}

// Kill terminates the process and its process group. Calling Kill on
// an exited process, or more than once, has no effect.
func (p *Process) Kill() {
	select {
	case <-p.done:
		return
	default:
	}

	p.killOnce.Do(func() {
		log.Info("Killing process", p.name)
		if err := killProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			log.Warnf("Failed to kill process %s: %v", p.name, err)
		}
	})
}

// sink shields the process from a failing output writer. Write errors
// and panics are swallowed so that the pipe is always drained.
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	failed bool
}

func (s *sink) Write(data []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return len(data), nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Debug("Output sink panicked, discarding further output:", r)
			s.failed = true
			n, err = len(data), nil
		}
	}()

	if _, werr := s.w.Write(data); werr != nil {
		log.Debug("Output sink failed, discarding further output:", werr)
		s.failed = true
	}
	return len(data), nil
}
