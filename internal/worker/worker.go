// Package worker implements the worker side of the coordinator protocol: a
// single-threaded cooperative event loop selecting over an inbound
// message subscription, a computation-result channel, a 30-second
// heartbeat tick, and the stream's closure, backed off and retried with
// github.com/joeycumines/go-catrate on disconnection.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeycumines/go-catrate"

	"github.com/rubo/ziskgo/internal/logging"
	"github.com/rubo/ziskgo/internal/protocol"
)

// HeartbeatInterval is the coordinator's heartbeat cadence.
const HeartbeatInterval = 30 * time.Second

// DefaultInputPathPollTimeout is how long a worker waits for a task's
// input file to appear before giving up.
const DefaultInputPathPollTimeout = 60 * time.Second

// DefaultInputPathPollInterval is how often a worker re-checks for a
// task's input file during the poll window.
const DefaultInputPathPollInterval = 500 * time.Millisecond

// ErrInputPathEscapesBase is returned when a task's input path, after
// canonicalization, falls outside the worker's configured input base
// directory.
var ErrInputPathEscapesBase = errors.New("worker: input path escapes configured base directory")

// ErrInputPathTimeout is returned when a task's input file does not
// appear within the poll window.
var ErrInputPathTimeout = errors.New("worker: input path did not appear before timeout")

// ErrRegistrationRejected is returned by Run when the coordinator's
// RegisterResponse carries accepted == false; the worker exits
// immediately rather than retrying.
var ErrRegistrationRejected = errors.New("worker: registration rejected by coordinator")

// ErrNoCurrentJob is returned when a Prove or Aggregate task arrives for a
// worker with no current job context.
var ErrNoCurrentJob = errors.New("worker: no current job context")

// Compute runs one dispatched task to completion, honoring ctx
// cancellation (the cancelable computation handle).
type Compute func(ctx context.Context, task *protocol.ExecuteTask) (*protocol.TaskResult, error)

// Config configures a Worker.
type Config struct {
	WorkerID string
	Capacity int
	Compute  Compute
	Logger   logging.Logger

	// ReconnectRates bounds reconnection attempts per worker id; nil
	// disables pacing (reconnect immediately).
	ReconnectRates map[time.Duration]int

	// InputBaseDir is the directory a task's InputPath must resolve
	// inside of, after canonicalization. Empty disables input-path
	// validation (a task's InputPath is then assumed valid as-is).
	InputBaseDir string

	// InputPathPollTimeout/InputPathPollInterval bound how long and how
	// often a worker polls for a task's input file to appear. Zero
	// values default to DefaultInputPathPollTimeout/
	// DefaultInputPathPollInterval.
	InputPathPollTimeout  time.Duration
	InputPathPollInterval time.Duration
}

func (c Config) pollTimeout() time.Duration {
	if c.InputPathPollTimeout > 0 {
		return c.InputPathPollTimeout
	}
	return DefaultInputPathPollTimeout
}

func (c Config) pollInterval() time.Duration {
	if c.InputPathPollInterval > 0 {
		return c.InputPathPollInterval
	}
	return DefaultInputPathPollInterval
}

type jobContext struct {
	jobID    string
	taskType protocol.TaskType
	cancel   context.CancelFunc
	done     chan computeResult
}

type computeResult struct {
	jobID  string
	result *protocol.TaskResult
	err    error
}

// Worker drives one worker's lifecycle against a coordinator stream.
type Worker struct {
	cfg     Config
	logger  logging.Logger
	limiter *catrate.Limiter

	state      protocol.WorkerConnState
	currentJob *jobContext
	lastJobID  string

	pendingStream []*protocol.StreamDataFragment
}

// New builds a Worker from cfg.
func New(cfg Config) (*Worker, error) {
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("worker: WorkerID is required")
	}
	if cfg.Compute == nil {
		return nil, fmt.Errorf("worker: Compute is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	var limiter *catrate.Limiter
	if len(cfg.ReconnectRates) > 0 {
		limiter = catrate.NewLimiter(cfg.ReconnectRates)
	}
	return &Worker{cfg: cfg, logger: logger, limiter: limiter, state: protocol.WorkerDisconnected}, nil
}

// State returns the worker's current connection state.
func (w *Worker) State() protocol.WorkerConnState { return w.state }

// Run drives the worker's connect/serve/reconnect loop until ctx is
// cancelled, the coordinator rejects registration, or a Shutdown message's
// grace period elapses.
func (w *Worker) Run(ctx context.Context, client protocol.CoordinatorClient) error {
	for {
		err := w.runOnce(ctx, client)
		if errors.Is(err, ErrRegistrationRejected) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err == nil {
			return nil
		}

		w.state = protocol.WorkerDisconnected
		wait := w.backoff()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (w *Worker) backoff() time.Duration {
	if w.limiter == nil {
		return 0
	}
	if t, ok := w.limiter.Allow(w.cfg.WorkerID); !ok {
		return time.Until(t)
	}
	return 0
}

func (w *Worker) runOnce(ctx context.Context, client protocol.CoordinatorClient) (err error) {
	w.state = protocol.WorkerConnecting

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := protocol.NewWorkerStream(ctx, client)
	if err != nil {
		return err
	}
	defer stream.Close()

	inbound := make(chan *protocol.CoordinatorMessage, 16)
	unsubscribe := stream.Subscribe(ctx, inbound)
	defer unsubscribe()

	if err := w.register(ctx, stream); err != nil {
		return err
	}

	results := make(chan computeResult, 1)
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-stream.Done():
			return stream.Err()

		case <-ticker.C:
			// Heartbeats originate at the coordinator; a missed tick here
			// only matters if the coordinator stops sending its own.

		case msg, ok := <-inbound:
			if !ok {
				continue
			}
			done, handleErr := w.handleMessage(ctx, stream, msg, results)
			if handleErr != nil {
				return handleErr
			}
			if done {
				return nil
			}

		case res := <-results:
			w.finishJob(ctx, stream, res)
		}
	}
}

func (w *Worker) register(ctx context.Context, stream *protocol.WorkerStream) error {
	var msg *protocol.WorkerMessage
	if w.lastJobID != "" {
		msg = &protocol.WorkerMessage{
			Kind: protocol.WorkerMsgReconnect,
			Reconnect: &protocol.ReconnectRequest{
				WorkerID:     w.cfg.WorkerID,
				Capacity:     w.cfg.Capacity,
				LastKnownJob: w.lastJobID,
			},
		}
	} else {
		msg = &protocol.WorkerMessage{
			Kind: protocol.WorkerMsgRegister,
			Register: &protocol.RegisterRequest{
				WorkerID: w.cfg.WorkerID,
				Capacity: w.cfg.Capacity,
			},
		}
	}
	// Subscribe before sending, so the response cannot slip past between
	// the send and the subscription.
	inbound := make(chan *protocol.CoordinatorMessage, 1)
	cancel := stream.Subscribe(ctx, inbound)
	defer cancel()

	if err := stream.Send(ctx, msg); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-inbound:
		if resp.Kind != protocol.CoordMsgRegisterResponse || resp.RegisterResponse == nil {
			return fmt.Errorf("worker: expected RegisterResponse as first message, got kind %d", resp.Kind)
		}
		if !resp.RegisterResponse.Accepted {
			return ErrRegistrationRejected
		}
		w.state = protocol.WorkerIdle
		return nil
	}
}

// handleMessage processes one inbound CoordinatorMessage. done reports
// that the stream loop should exit cleanly (a drained Shutdown).
func (w *Worker) handleMessage(ctx context.Context, stream *protocol.WorkerStream, msg *protocol.CoordinatorMessage, results chan<- computeResult) (done bool, err error) {
	switch msg.Kind {
	case protocol.CoordMsgRegisterResponse:
		// Already consumed by register's dedicated subscription; every
		// subscriber sees every inbound message.
		return false, nil

	case protocol.CoordMsgHeartbeat:
		return false, stream.Send(ctx, &protocol.WorkerMessage{Kind: protocol.WorkerMsgHeartbeatAck})

	case protocol.CoordMsgExecuteTask:
		return false, w.handleExecuteTask(ctx, stream, msg.ExecuteTask, results)

	case protocol.CoordMsgJobCancelled:
		w.cancelCurrentComputation(msg.JobCancelled.JobID)
		return false, nil

	case protocol.CoordMsgStreamData:
		// Inbound out-of-band bytes (hints or inputs); forwarding to the
		// hint stream processor / input mapper is the caller's concern.
		return false, nil

	case protocol.CoordMsgShutdown:
		w.drainPendingStream(ctx, stream)
		select {
		case <-time.After(time.Duration(msg.Shutdown.GraceSeconds) * time.Second):
		case <-ctx.Done():
		}
		return true, nil

	default:
		return false, fmt.Errorf("worker: unknown coordinator message kind %d", msg.Kind)
	}
}

func (w *Worker) handleExecuteTask(ctx context.Context, stream *protocol.WorkerStream, task *protocol.ExecuteTask, results chan<- computeResult) error {
	// Prove and Aggregate tasks continue a job this worker already holds
	// context for: either a task in flight or the job a prior phase of
	// which this worker completed. Cancellation clears that context.
	hasJobContext := (w.currentJob != nil && w.currentJob.jobID == task.JobID) || w.lastJobID == task.JobID
	if (task.TaskType == protocol.TaskProve || task.TaskType == protocol.TaskAggregate) && !hasJobContext {
		return stream.Send(ctx, &protocol.WorkerMessage{
			Kind: protocol.WorkerMsgExecuteTaskResponse,
			ExecuteTaskResponse: &protocol.ExecuteTaskResponse{
				JobID:        task.JobID,
				TaskType:     task.TaskType,
				Success:      false,
				ErrorMessage: ErrNoCurrentJob.Error(),
			},
		})
	}

	if task.InputPath != "" {
		if err := w.awaitInputPath(ctx, task.InputPath); err != nil {
			return stream.Send(ctx, &protocol.WorkerMessage{
				Kind: protocol.WorkerMsgExecuteTaskResponse,
				ExecuteTaskResponse: &protocol.ExecuteTaskResponse{
					JobID:        task.JobID,
					TaskType:     task.TaskType,
					Success:      false,
					ErrorMessage: err.Error(),
				},
			})
		}
	}

	taskCtx, cancel := context.WithCancel(ctx)
	w.currentJob = &jobContext{jobID: task.JobID, taskType: task.TaskType, cancel: cancel}
	w.state = protocol.WorkerBusy

	go func() {
		result, err := w.cfg.Compute(taskCtx, task)
		results <- computeResult{jobID: task.JobID, result: result, err: err}
	}()

	return nil
}

// awaitInputPath validates inputPath against the configured base
// directory (after canonicalization, it must be contained within it)
// and polls for its existence up to the configured timeout.
func (w *Worker) awaitInputPath(ctx context.Context, inputPath string) error {
	resolved := inputPath
	if w.cfg.InputBaseDir != "" {
		base, err := filepath.Abs(w.cfg.InputBaseDir)
		if err != nil {
			return fmt.Errorf("worker: resolve input base dir: %w", err)
		}
		candidate := filepath.Join(base, inputPath)
		candidate, err = filepath.Abs(candidate)
		if err != nil {
			return fmt.Errorf("worker: resolve input path: %w", err)
		}
		if candidate != base && !strings.HasPrefix(candidate, base+string(filepath.Separator)) {
			return ErrInputPathEscapesBase
		}
		resolved = candidate
	}

	timeout := time.After(w.cfg.pollTimeout())
	ticker := time.NewTicker(w.cfg.pollInterval())
	defer ticker.Stop()

	for {
		if _, err := os.Stat(resolved); err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return ErrInputPathTimeout
		case <-ticker.C:
		}
	}
}

func (w *Worker) finishJob(ctx context.Context, stream *protocol.WorkerStream, res computeResult) {
	job := w.currentJob
	if job == nil || job.jobID != res.jobID {
		// Stale completion from an already-cancelled job; drop it.
		return
	}
	w.currentJob = nil
	w.state = protocol.WorkerIdle
	w.lastJobID = res.jobID

	resp := &protocol.ExecuteTaskResponse{JobID: res.jobID, TaskType: job.taskType}
	if res.err != nil {
		resp.Success = false
		resp.ErrorMessage = res.err.Error()
	} else {
		resp.Success = true
		resp.Result = res.result
	}

	_ = stream.Send(ctx, &protocol.WorkerMessage{Kind: protocol.WorkerMsgExecuteTaskResponse, ExecuteTaskResponse: resp})
}

// cancelCurrentComputation implements the cancellation contract:
// signal the task handle, clear current_job, set state Idle. Idempotent,
// and a no-op if jobID doesn't match the current job.
func (w *Worker) cancelCurrentComputation(jobID string) {
	if w.currentJob == nil || w.currentJob.jobID != jobID {
		return
	}
	w.currentJob.cancel()
	w.currentJob = nil
	w.lastJobID = ""
	w.state = protocol.WorkerIdle
}

func (w *Worker) drainPendingStream(ctx context.Context, stream *protocol.WorkerStream) {
	for _, frag := range w.pendingStream {
		_ = stream.Send(ctx, &protocol.WorkerMessage{Kind: protocol.WorkerMsgStreamData, StreamData: frag})
	}
	w.pendingStream = nil
}
