package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

const (
	// startupGrace is how long a daemon must stay alive after launch before
	// the start is declared successful. Nebula exits immediately on a bad
	// config, so an early exit is a launch failure, not a running daemon.
	startupGrace = 1 * time.Second

	// stopPollInterval and stopPolls bound the graceful shutdown window:
	// SIGTERM, poll for exit up to stopPolls times, then SIGKILL.
	stopPollInterval = 1 * time.Second
	stopPolls        = 10

	logTailBytes = 2048
)

var (
	ErrAlreadyRunning = errors.New("daemon already running for this config")
	ErrNotRunning     = errors.New("no running daemon for this config")
	ErrLaunchFailed   = errors.New("daemon failed to launch")
)

// State is the lifecycle state of one supervised daemon.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// StartResult reports a successful daemon launch.
type StartResult struct {
	Name      string
	PID       int
	StartedAt time.Time
}

// StopResult is one entry of a KillAll summary.
type StopResult struct {
	Name      string
	StoppedAt time.Time
	Err       error
}

// managedProcess is the supervisor's record for one logical name. Its mutex
// serializes all read-modify-write sequences for that name; operations on
// different names do not contend.
type managedProcess struct {
	mu        sync.Mutex
	name      string
	pid       int
	state     State
	startedAt time.Time
	stoppedAt *time.Time

	// waitCh is closed by the reaper goroutine when the OS process exits.
	// waitErr is written before the close and read only after it.
	waitCh  chan struct{}
	waitErr error
}

// Supervisor starts, stops and tracks nebula daemon processes keyed by the
// logical configuration name. It exclusively owns the name to PID mapping;
// its view is reconciled against live OS state on every status query.
type Supervisor struct {
	mu    sync.Mutex
	procs map[string]*managedProcess

	nebulaBin string
	configDir string
}

// New returns a supervisor launching nebulaBin with per-name config files
// under configDir.
func New(nebulaBin, configDir string) (*Supervisor, error) {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return &Supervisor{
		procs:     make(map[string]*managedProcess),
		nebulaBin: nebulaBin,
		configDir: configDir,
	}, nil
}

// ConfigPath returns the config file location for a logical name.
func (s *Supervisor) ConfigPath(name string) string {
	return filepath.Join(s.configDir, name+".yaml")
}

func (s *Supervisor) logPath(name string) string {
	return filepath.Join(s.configDir, name+".log")
}

func (s *Supervisor) entry(name string, create bool) *managedProcess {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.procs[name]
	if !ok && create {
		p = &managedProcess{name: name, state: StateStopped}
		s.procs[name] = p
	}
	return p
}

func (s *Supervisor) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.procs))
	for name := range s.procs {
		names = append(names, name)
	}
	return names
}

// Start writes the configuration payload for name and launches the daemon in
// its own session, so a supervisor restart does not take running tunnels
// down with it. The daemon must survive a short grace period before the
// start is reported as successful.
func (s *Supervisor) Start(name string, configPayload []byte) (StartResult, error) {
	p := s.entry(name, true)

	p.mu.Lock()
	p.reconcileLocked()
	// StateStopping counts as running: a concurrent Stop still owns the name
	// until its process is gone.
	if p.state == StateStarting || p.state == StateRunning || p.state == StateStopping {
		pid := p.pid
		p.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: %q (pid %d)", ErrAlreadyRunning, name, pid)
	}

	configPath := s.ConfigPath(name)
	if err := os.WriteFile(configPath, configPayload, 0o600); err != nil {
		p.mu.Unlock()
		return StartResult{}, fmt.Errorf("failed to write config for %q: %w", name, err)
	}

	logFile, err := os.OpenFile(s.logPath(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		p.mu.Unlock()
		return StartResult{}, fmt.Errorf("failed to open log file for %q: %w", name, err)
	}

	cmd := exec.Command(s.nebulaBin, "-config", configPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		p.mu.Unlock()
		return StartResult{}, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}

	waitCh := make(chan struct{})
	p.pid = cmd.Process.Pid
	p.state = StateStarting
	p.startedAt = time.Now()
	p.stoppedAt = nil
	p.waitCh = waitCh
	p.waitErr = nil
	startedAt := p.startedAt
	pid := p.pid
	p.mu.Unlock()

	go func() {
		err := cmd.Wait()
		logFile.Close()
		p.mu.Lock()
		if p.waitCh == waitCh {
			p.waitErr = err
		}
		p.mu.Unlock()
		close(waitCh)
	}()

	slog.Info("daemon launched", "name", name, "pid", pid, "config", configPath)

	// Grace period: an immediate exit means a bad config or binary, not a
	// running daemon.
	select {
	case <-waitCh:
		p.mu.Lock()
		p.reconcileLocked()
		p.state = StateFailed
		p.mu.Unlock()
		tail := readLogTail(s.logPath(name))
		return StartResult{}, fmt.Errorf("%w: exited during startup: %s", ErrLaunchFailed, tail)
	case <-time.After(startupGrace):
	}

	p.mu.Lock()
	if p.state == StateStarting {
		p.state = StateRunning
	}
	p.mu.Unlock()

	slog.Info("daemon running", "name", name, "pid", pid)
	return StartResult{Name: name, PID: pid, StartedAt: startedAt}, nil
}

// Stop terminates the daemon for name: SIGTERM first, then SIGKILL if it has
// not exited within the graceful window. Internal state is corrected before
// reporting, so a process that already died externally yields ErrNotRunning
// rather than stale success.
func (s *Supervisor) Stop(name string) (time.Time, error) {
	p := s.entry(name, false)
	if p == nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotRunning, name)
	}

	p.mu.Lock()
	p.reconcileLocked()
	if p.state != StateStarting && p.state != StateRunning {
		p.mu.Unlock()
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotRunning, name)
	}

	p.state = StateStopping
	pid := p.pid
	waitCh := p.waitCh
	// The lock is released during the wait; the reaper goroutine needs it to
	// record the exit before closing waitCh.
	p.mu.Unlock()

	slog.Info("stopping daemon", "name", name, "pid", pid)
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		// Process vanished between reconcile and signal.
		now := time.Now()
		p.mu.Lock()
		if p.waitCh == waitCh {
			p.state = StateStopped
			p.stoppedAt = &now
		}
		p.mu.Unlock()
		return time.Time{}, fmt.Errorf("%w: %q", ErrNotRunning, name)
	}

	exited := false
	for i := 0; i < stopPolls && !exited; i++ {
		select {
		case <-waitCh:
			exited = true
		case <-time.After(stopPollInterval):
		}
	}

	if !exited {
		slog.Warn("daemon ignored SIGTERM, escalating", "name", name, "pid", pid)
		_ = syscall.Kill(pid, syscall.SIGKILL)
		<-waitCh
	}

	now := time.Now()
	p.mu.Lock()
	// Only finalize if the record still belongs to the process we signalled;
	// a later Start must not have its fresh state clobbered.
	if p.waitCh == waitCh {
		p.state = StateStopped
		p.stoppedAt = &now
	}
	p.mu.Unlock()

	slog.Info("daemon stopped", "name", name, "pid", pid, "forced", !exited)
	return now, nil
}

// KillAll stops every tracked daemon, best-effort: one failure does not stop
// processing of the remaining names.
func (s *Supervisor) KillAll() []StopResult {
	names := s.names()
	results := make([]StopResult, 0, len(names))

	for _, name := range names {
		stoppedAt, err := s.Stop(name)
		if err != nil {
			slog.Warn("kill-all: daemon not stopped", "name", name, "error", err)
		}
		results = append(results, StopResult{Name: name, StoppedAt: stoppedAt, Err: err})
	}
	return results
}

// reconcileLocked folds the reaper's observation into the record: a process
// that exited while we believed it alive becomes Stopped (if we asked) or
// Failed (if we did not). Callers must hold p.mu.
func (p *managedProcess) reconcileLocked() {
	if p.state != StateStarting && p.state != StateRunning && p.state != StateStopping {
		return
	}
	if p.waitCh == nil {
		return
	}
	select {
	case <-p.waitCh:
		now := time.Now()
		p.stoppedAt = &now
		if p.state == StateStopping {
			p.state = StateStopped
		} else {
			p.state = StateFailed
			slog.Warn("daemon exited unexpectedly", "name", p.name, "pid", p.pid, "wait_err", p.waitErr)
		}
	default:
	}
}

func readLogTail(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "(no diagnostic output captured)"
	}
	if len(data) > logTailBytes {
		data = data[len(data)-logTailBytes:]
	}
	return string(data)
}
