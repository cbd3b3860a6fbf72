// Package process supervises a single long-running child process:
// spawn, graceful-then-hard stop, and restart-with-backoff on
// unexpected exit. It backs both the VPN supervisor (spec §4.9,
// component C3) and the DHCP driver's daemon lifecycle (spec §4.5),
// which the spec describes identically ("spawn + track child handle";
// "graceful termination signal, then a hard kill after timeout").
package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	nnerrors "github.com/nnoe/node-agent/internal/errors"
)

// Spec describes how to launch and stop the child process.
type Spec struct {
	// Name identifies the process in logs and metrics.
	Name string
	// BinaryPath is the executable to run.
	BinaryPath string
	// Args are passed to BinaryPath.
	Args []string
	// StopTimeout is how long to wait after a graceful signal before
	// sending SIGKILL.
	StopTimeout time.Duration
	// BackoffCeiling caps the exponential restart backoff.
	BackoffCeiling time.Duration
}

// generation wraps one spawned *exec.Cmd with the single goroutine
// allowed to call Wait on it; Stop and the restart monitor both learn
// of exit via exited, never by calling Wait twice.
type generation struct {
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// Supervisor tracks one child process and restarts it with exponential
// backoff, capped at Spec.BackoffCeiling, whenever it exits unexpectedly.
type Supervisor struct {
	spec Spec
	log  logr.Logger

	mu      sync.Mutex
	gen     *generation
	stopped bool // true once Stop has been called; restarts cease.
}

// New returns a Supervisor for spec. It does not start the process;
// call Start.
func New(spec Spec, log logr.Logger) *Supervisor {
	if spec.StopTimeout == 0 {
		spec.StopTimeout = 10 * time.Second
	}
	if spec.BackoffCeiling == 0 {
		spec.BackoffCeiling = 2 * time.Minute
	}
	return &Supervisor{spec: spec, log: log.WithValues("process", spec.Name)}
}

// Start spawns the child process and begins the restart-on-exit
// monitor loop, which runs until ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	if err := s.spawn(); err != nil {
		return err
	}

	go s.monitor(ctx)
	return nil
}

func (s *Supervisor) spawn() error {
	cmd := exec.Command(s.spec.BinaryPath, s.spec.Args...)
	if err := cmd.Start(); err != nil {
		return nnerrors.New(nnerrors.ChildProcess, s.spec.Name, fmt.Errorf("spawning %s: %w", s.spec.BinaryPath, err))
	}

	g := &generation{cmd: cmd, exited: make(chan struct{})}
	go func() {
		g.err = cmd.Wait()
		close(g.exited)
	}()

	s.mu.Lock()
	s.gen = g
	s.mu.Unlock()

	s.log.Info("child process started", "pid", cmd.Process.Pid)
	return nil
}

func (s *Supervisor) monitor(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = s.spec.BackoffCeiling
	// backoff/v5's ExponentialBackOff has no elapsed-time limit, so it never
	// stops trying; the ceiling bounds the delay instead.

	for {
		s.mu.Lock()
		g := s.gen
		s.mu.Unlock()
		if g == nil {
			return
		}

		select {
		case <-g.exited:
		case <-ctx.Done():
			return
		}

		s.mu.Lock()
		stopped := s.stopped
		s.mu.Unlock()
		if stopped {
			return
		}

		s.log.Error(g.err, "child process exited unexpectedly, restarting")

		delay := b.NextBackOff()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}

		if err := s.spawn(); err != nil {
			s.log.Error(err, "restart attempt failed")
		} else {
			b.Reset()
		}
	}
}

// IsRunning reports whether the child process is currently believed to
// be alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	g := s.gen
	s.mu.Unlock()
	if g == nil {
		return false
	}
	select {
	case <-g.exited:
		return false
	default:
		return true
	}
}

// Stop sends a graceful termination signal, waits up to StopTimeout, and
// sends SIGKILL if the process has not exited by then. After Stop
// returns, the monitor loop will not restart the process.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	g := s.gen
	s.mu.Unlock()

	if g == nil || g.cmd.Process == nil {
		return nil
	}

	select {
	case <-g.exited:
		return nil
	default:
	}

	if err := g.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Error(err, "sending SIGTERM failed, sending SIGKILL")
		return s.kill(g)
	}

	select {
	case <-g.exited:
		return nil
	case <-time.After(s.spec.StopTimeout):
		return s.kill(g)
	case <-ctx.Done():
		return s.kill(g)
	}
}

func (s *Supervisor) kill(g *generation) error {
	if g.cmd.Process == nil {
		return nil
	}
	if err := g.cmd.Process.Kill(); err != nil {
		return nnerrors.New(nnerrors.ChildProcess, s.spec.Name, fmt.Errorf("killing %s: %w", s.spec.Name, err))
	}
	<-g.exited
	return nil
}
