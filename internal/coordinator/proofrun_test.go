package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rubo/ziskgo/internal/protocol"
)

// addFakeWorker registers a worker handle whose send func behaves like a
// remote worker: every ExecuteTask is answered asynchronously through
// handleTaskResponse, computing one challenge per assigned chunk, one
// proof share per received challenge, and pairwise merges during
// aggregation.
func addFakeWorker(t *testing.T, c *Coordinator, id string, capacity int, workerIdx int) {
	t.Helper()

	handle := &workerHandle{
		id:            id,
		capacity:      capacity,
		state:         protocol.WorkerIdle,
		lastHeartbeat: time.Now(),
	}
	handle.send = func(m *protocol.CoordinatorMessage) error {
		if m.Kind != protocol.CoordMsgExecuteTask {
			return nil
		}
		task := m.ExecuteTask
		go func() {
			resp := &protocol.ExecuteTaskResponse{
				JobID:    task.JobID,
				TaskType: task.TaskType,
				Success:  true,
				Result:   &protocol.TaskResult{},
			}
			switch task.TaskType {
			case protocol.TaskContribution:
				for _, chunk := range task.ContributionParams.ChunkIDs {
					resp.Result.Challenges = append(resp.Result.Challenges, protocol.Challenge{
						AirgroupID: chunk % 2,
						WorkerIdx:  workerIdx,
						Value:      []uint64{uint64(chunk)},
					})
				}
			case protocol.TaskProve:
				for _, ch := range task.ProveParams.Challenges {
					resp.Result.Proofs = append(resp.Result.Proofs, protocol.ProofShare{
						AirgroupID: ch.AirgroupID,
						WorkerIdx:  ch.WorkerIdx,
						Values:     ch.Value,
					})
				}
			case protocol.TaskAggregate:
				merged := protocol.ProofShare{
					AirgroupID: task.AggParams.AggProofs[0].AirgroupID,
					WorkerIdx:  task.AggParams.AggProofs[0].WorkerIdx,
				}
				for _, p := range task.AggParams.AggProofs {
					merged.Values = append(merged.Values, p.Values...)
				}
				if task.AggParams.FinalProof {
					var steps uint64
					for _, v := range merged.Values {
						steps += v
					}
					resp.Result.FinalProof = &protocol.FinalProof{Proof: []byte("final"), ExecutedSteps: steps}
				} else {
					resp.Result.Proofs = []protocol.ProofShare{merged}
				}
			}
			if err := c.handleTaskResponse(handle, resp); err != nil {
				t.Errorf("handleTaskResponse: %v", err)
			}
		}()
		return nil
	}

	c.mu.Lock()
	c.workers[id] = handle
	c.mu.Unlock()
}

func TestLaunchProofRunsAllThreePhases(t *testing.T) {
	c := New(nil)
	addFakeWorker(t, c, "w0", 2, 0)
	addFakeWorker(t, c, "w1", 2, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final, err := c.LaunchProof(ctx, &protocol.LaunchProofRequest{
		DataID:          "data-1",
		ComputeCapacity: 4,
	})
	require.NoError(t, err)
	require.NotNil(t, final)
	require.Equal(t, []byte("final"), final.Proof)

	jobs := c.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, protocol.JobSucceeded, jobs[0].State)
	require.Equal(t, protocol.PhaseAggregate, jobs[0].Phase)
	require.Equal(t, "data-1", jobs[0].DataID)
}

func TestLaunchProofRequiresIdleWorkers(t *testing.T) {
	c := New(nil)
	_, err := c.LaunchProof(context.Background(), &protocol.LaunchProofRequest{ComputeCapacity: 1})
	require.ErrorContains(t, err, "no idle workers")
}

func TestLaunchProofRejectsInsufficientCapacity(t *testing.T) {
	c := New(nil)
	addFakeWorker(t, c, "w0", 1, 0)

	_, err := c.LaunchProof(context.Background(), &protocol.LaunchProofRequest{
		ComputeCapacity:        1,
		MinimalComputeCapacity: 10,
	})
	require.ErrorContains(t, err, "below minimal")
}

func TestLaunchProofFailsJobOnWorkerError(t *testing.T) {
	c := New(nil)

	handle := &workerHandle{id: "w0", capacity: 2, state: protocol.WorkerIdle}
	handle.send = func(m *protocol.CoordinatorMessage) error {
		if m.Kind != protocol.CoordMsgExecuteTask {
			return nil
		}
		task := m.ExecuteTask
		go func() {
			_ = c.handleTaskResponse(handle, &protocol.ExecuteTaskResponse{
				JobID:        task.JobID,
				TaskType:     task.TaskType,
				Success:      false,
				ErrorMessage: "boom",
			})
		}()
		return nil
	}
	c.mu.Lock()
	c.workers["w0"] = handle
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := c.LaunchProof(ctx, &protocol.LaunchProofRequest{ComputeCapacity: 2})
	require.ErrorContains(t, err, "boom")

	jobs := c.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, protocol.JobFailed, jobs[0].State)
}

func TestQueryEndpoints(t *testing.T) {
	c := New(nil)
	addFakeWorker(t, c, "w0", 3, 0)
	addFakeWorker(t, c, "w1", 5, 1)

	workers := c.ListWorkers()
	require.Len(t, workers, 2)
	require.Equal(t, "w0", workers[0].WorkerID)
	require.Equal(t, "Idle", workers[0].State)
	require.Equal(t, 5, workers[1].Capacity)

	status := c.Status()
	require.Equal(t, 2, status.Workers)
	require.Equal(t, 2, status.IdleWorkers)
	require.Equal(t, 0, status.BusyWorkers)
	require.Equal(t, 8, status.TotalCapacity)

	_, ok := c.JobStatus("missing")
	require.False(t, ok)
}
