// Package coordinator implements the coordinator side of the worker
// protocol and its job/worker bookkeeping: registration, heartbeats, task
// dispatch, cancellation, and graceful shutdown.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rubo/ziskgo/internal/logging"
	"github.com/rubo/ziskgo/internal/protocol"
)

// HeartbeatInterval is the coordinator's heartbeat cadence.
const HeartbeatInterval = 30 * time.Second

type workerHandle struct {
	id            string
	capacity      int
	state         protocol.WorkerConnState
	lastHeartbeat time.Time
	currentJobID  string

	// send serializes writes to the stream: gRPC allows one concurrent
	// sender, and both the heartbeat loop and task dispatch write here.
	sendMu sync.Mutex
	send   func(*protocol.CoordinatorMessage) error
	cancel context.CancelFunc
}

func (h *workerHandle) sendMsg(m *protocol.CoordinatorMessage) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()
	return h.send(m)
}

// Coordinator tracks connected workers and in-flight jobs, and drives the
// per-connection WorkerStream RPC handler.
type Coordinator struct {
	mu      sync.Mutex
	workers map[string]*workerHandle
	jobs    map[string]*protocol.Job
	pending map[string]chan *protocol.ExecuteTaskResponse
	logger  logging.Logger
}

// New builds an empty Coordinator.
func New(logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Coordinator{
		workers: make(map[string]*workerHandle),
		jobs:    make(map[string]*protocol.Job),
		pending: make(map[string]chan *protocol.ExecuteTaskResponse),
		logger:  logger,
	}
}

// WorkerStream implements protocol.CoordinatorServer: one invocation per
// worker connection, for the lifetime of that connection.
func (c *Coordinator) WorkerStream(stream protocol.Coordinator_WorkerStreamServer) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	first, err := stream.Recv()
	if err != nil {
		return err
	}

	handle, err := c.register(ctx, stream, first, cancel)
	if err != nil {
		return stream.Send(&protocol.CoordinatorMessage{
			Kind: protocol.CoordMsgRegisterResponse,
			RegisterResponse: &protocol.RegisterResponse{
				Accepted: false,
				Message:  err.Error(),
			},
		})
	}
	defer c.disconnect(handle.id)

	if err := stream.Send(&protocol.CoordinatorMessage{
		Kind: protocol.CoordMsgRegisterResponse,
		RegisterResponse: &protocol.RegisterResponse{
			Accepted:     true,
			RegisteredAt: time.Now(),
		},
	}); err != nil {
		return err
	}

	inbound := make(chan *protocol.WorkerMessage, 16)
	recvErrs := make(chan error, 1)
	go func() {
		for {
			msg, err := stream.Recv()
			if err != nil {
				recvErrs <- err
				return
			}
			inbound <- msg
		}
	}()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-recvErrs:
			return err

		case <-ticker.C:
			if err := handle.sendMsg(&protocol.CoordinatorMessage{Kind: protocol.CoordMsgHeartbeat, Heartbeat: &protocol.Heartbeat{Timestamp: time.Now()}}); err != nil {
				return err
			}

		case msg := <-inbound:
			c.touchHeartbeat(handle.id)
			if err := c.handleWorkerMessage(handle, msg); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) register(ctx context.Context, stream protocol.Coordinator_WorkerStreamServer, msg *protocol.WorkerMessage, cancel context.CancelFunc) (*workerHandle, error) {
	var id string
	var capacity int
	var lastJobID string

	switch msg.Kind {
	case protocol.WorkerMsgRegister:
		id, capacity = msg.Register.WorkerID, msg.Register.Capacity
	case protocol.WorkerMsgReconnect:
		id, capacity, lastJobID = msg.Reconnect.WorkerID, msg.Reconnect.Capacity, msg.Reconnect.LastKnownJob
	default:
		return nil, fmt.Errorf("coordinator: expected Register or Reconnect as first message, got kind %d", msg.Kind)
	}
	if id == "" {
		return nil, fmt.Errorf("coordinator: worker id must not be empty")
	}

	handle := &workerHandle{
		id:            id,
		capacity:      capacity,
		state:         protocol.WorkerIdle,
		lastHeartbeat: time.Now(),
		currentJobID:  lastJobID,
		send:          func(m *protocol.CoordinatorMessage) error { return stream.Send(m) },
		cancel:        cancel,
	}

	c.mu.Lock()
	c.workers[id] = handle
	c.mu.Unlock()

	return handle, nil
}

func (c *Coordinator) disconnect(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.workers[workerID]; ok {
		h.state = protocol.WorkerDisconnected
	}
}

func (c *Coordinator) touchHeartbeat(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.workers[workerID]; ok {
		h.lastHeartbeat = time.Now()
	}
}

func (c *Coordinator) handleWorkerMessage(handle *workerHandle, msg *protocol.WorkerMessage) error {
	switch msg.Kind {
	case protocol.WorkerMsgHeartbeatAck:
		return nil

	case protocol.WorkerMsgExecuteTaskResponse:
		return c.handleTaskResponse(handle, msg.ExecuteTaskResponse)

	case protocol.WorkerMsgWorkerError:
		c.mu.Lock()
		handle.state = protocol.WorkerError
		c.mu.Unlock()
		c.logger.Warning().Log(msg.WorkerError.Message)
		return nil

	case protocol.WorkerMsgStreamData:
		return nil

	default:
		return fmt.Errorf("coordinator: unknown worker message kind %d", msg.Kind)
	}
}

func (c *Coordinator) handleTaskResponse(handle *workerHandle, resp *protocol.ExecuteTaskResponse) error {
	c.mu.Lock()
	job, ok := c.jobs[resp.JobID]
	waiter := c.pending[resp.JobID]
	handle.state = protocol.WorkerIdle
	handle.currentJobID = ""
	if ok && waiter == nil {
		// Legacy single-task dispatch; a LaunchProof phase driver owns the
		// job's final state itself.
		if resp.Success {
			job.State = protocol.JobSucceeded
		} else {
			job.State = protocol.JobFailed
		}
	}
	c.mu.Unlock()

	// A waiting phase driver observes every response, valid or not, so it
	// can fail the job instead of hanging on a missing reply.
	if waiter != nil {
		select {
		case waiter <- resp:
		default:
		}
	}

	if (resp.Success && resp.Result == nil) || (!resp.Success && resp.Result != nil) {
		return fmt.Errorf("coordinator: invariant violation: success=%v with result=%v", resp.Success, resp.Result != nil)
	}
	return nil
}

// Dispatch sends task to the named worker, marking it Busy.
func (c *Coordinator) Dispatch(workerID string, task *protocol.ExecuteTask) error {
	c.mu.Lock()
	handle, ok := c.workers[workerID]
	if ok {
		handle.state = protocol.WorkerBusy
		handle.currentJobID = task.JobID
		if _, exists := c.jobs[task.JobID]; !exists {
			c.jobs[task.JobID] = &protocol.Job{JobID: task.JobID, State: protocol.JobRunning}
		}
	}
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("coordinator: unknown worker %q", workerID)
	}
	return handle.sendMsg(&protocol.CoordinatorMessage{Kind: protocol.CoordMsgExecuteTask, ExecuteTask: task})
}

// CancelJob sends JobCancelled to the worker currently holding jobID, iff
// it still holds it.
func (c *Coordinator) CancelJob(jobID, reason string) error {
	c.mu.Lock()
	var handle *workerHandle
	for _, h := range c.workers {
		if h.currentJobID == jobID {
			handle = h
			break
		}
	}
	c.mu.Unlock()

	if handle == nil {
		return nil
	}
	return handle.sendMsg(&protocol.CoordinatorMessage{Kind: protocol.CoordMsgJobCancelled, JobCancelled: &protocol.JobCancelled{JobID: jobID, Reason: reason}})
}

// Shutdown sends a Shutdown message to the named worker with the given
// grace period.
func (c *Coordinator) Shutdown(workerID, reason string, grace time.Duration) error {
	c.mu.Lock()
	handle, ok := c.workers[workerID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("coordinator: unknown worker %q", workerID)
	}
	return handle.sendMsg(&protocol.CoordinatorMessage{
		Kind: protocol.CoordMsgShutdown,
		Shutdown: &protocol.ShutdownMsg{
			Reason:       reason,
			GraceSeconds: int(grace.Seconds()),
		},
	})
}

// WorkerState returns the connection state of the named worker.
func (c *Coordinator) WorkerState(workerID string) (protocol.WorkerConnState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.workers[workerID]
	if !ok {
		return protocol.WorkerDisconnected, false
	}
	return h.state, true
}
