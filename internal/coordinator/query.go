package coordinator

import (
	"sort"
	"time"

	"github.com/rubo/ziskgo/internal/protocol"
)

// WorkerInfo is one row of the workers-list query endpoint.
type WorkerInfo struct {
	WorkerID      string
	Capacity      int
	State         string
	LastHeartbeat time.Time
	CurrentJobID  string
}

// SystemStatus summarizes the coordinator for the system-status query
// endpoint.
type SystemStatus struct {
	Workers       int
	IdleWorkers   int
	BusyWorkers   int
	TotalCapacity int
	RunningJobs   int
	PendingJobs   int
}

// ListJobs returns a snapshot of every known job, sorted by job id.
func (c *Coordinator) ListJobs() []protocol.Job {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]protocol.Job, 0, len(c.jobs))
	for _, j := range c.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// JobStatus returns the named job's current state.
func (c *Coordinator) JobStatus(jobID string) (protocol.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[jobID]
	if !ok {
		return protocol.Job{}, false
	}
	return *j, true
}

// ListWorkers returns a snapshot of every known worker, sorted by worker
// id, with the connection state stringly encoded for the wire.
func (c *Coordinator) ListWorkers() []WorkerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]WorkerInfo, 0, len(c.workers))
	for _, h := range c.workers {
		out = append(out, WorkerInfo{
			WorkerID:      h.id,
			Capacity:      h.capacity,
			State:         h.state.String(),
			LastHeartbeat: h.lastHeartbeat,
			CurrentJobID:  h.currentJobID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// Status returns the system-status summary.
func (c *Coordinator) Status() SystemStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s SystemStatus
	for _, h := range c.workers {
		s.Workers++
		s.TotalCapacity += h.capacity
		switch h.state {
		case protocol.WorkerIdle:
			s.IdleWorkers++
		case protocol.WorkerBusy:
			s.BusyWorkers++
		}
	}
	for _, j := range c.jobs {
		switch j.State {
		case protocol.JobRunning:
			s.RunningJobs++
		case protocol.JobPending:
			s.PendingJobs++
		}
	}
	return s
}
