package supervisor

import (
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Status is the reconciled view of one logical name. Unknown names are not
// an error; they report Running=false.
type Status struct {
	Name       string     `json:"config_name"`
	Running    bool       `json:"running"`
	State      State      `json:"state"`
	PID        int        `json:"pid,omitempty"`
	CPUPercent float64    `json:"cpu_percent,omitempty"`
	MemoryMB   float64    `json:"memory_mb,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	OSStatus   string     `json:"os_status,omitempty"`
}

// Status reports the current state of name, reconciling against live OS
// state first: a record claiming to run whose process has exited is corrected
// before it is reported.
func (s *Supervisor) Status(name string) Status {
	p := s.entry(name, false)
	if p == nil {
		return Status{Name: name, Running: false, State: StateStopped}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.reconcileLocked()

	st := Status{
		Name:      name,
		State:     p.state,
		StoppedAt: p.stoppedAt,
	}
	if p.state == StateStarting || p.state == StateRunning {
		st.Running = true
		st.PID = p.pid
		startedAt := p.startedAt
		st.StartedAt = &startedAt
		fillResourceUsage(&st, p.pid)
	}
	return st
}

// StatusAll reports every known name.
func (s *Supervisor) StatusAll() []Status {
	names := s.names()
	statuses := make([]Status, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, s.Status(name))
	}
	return statuses
}

// fillResourceUsage is best-effort: resource metrics are informational and
// their failure must not turn a healthy status into an error.
func fillResourceUsage(st *Status, pid int) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		st.MemoryMB = float64(mem.RSS) / (1024 * 1024)
	}
	if osStatus, err := proc.Status(); err == nil {
		st.OSStatus = strings.Join(osStatus, ",")
	}
}
