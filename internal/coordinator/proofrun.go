package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/rubo/ziskgo/internal/aggregation"
	"github.com/rubo/ziskgo/internal/protocol"
)

// LaunchProof drives one proof job through its three phases:
// partial contribution across capacity-partitioned worker groups, per-
// airgroup proving on the original contributors, and the pairwise
// aggregation tree down to the final proof.
func (c *Coordinator) LaunchProof(ctx context.Context, req *protocol.LaunchProofRequest) (*protocol.FinalProof, error) {
	if req.ComputeCapacity <= 0 {
		return nil, fmt.Errorf("coordinator: compute capacity must be positive, got %d", req.ComputeCapacity)
	}

	workers := c.idleWorkers()
	if len(workers) == 0 {
		return nil, fmt.Errorf("coordinator: no idle workers available")
	}
	var total int
	for _, w := range workers {
		total += w.Capacity
	}
	if total < req.MinimalComputeCapacity {
		return nil, fmt.Errorf("coordinator: total capacity %d below minimal %d", total, req.MinimalComputeCapacity)
	}

	groups, err := aggregation.Partition(workers, req.ComputeCapacity)
	if err != nil {
		return nil, err
	}

	jobID := uuid.NewString()
	job := &protocol.Job{JobID: jobID, DataID: req.DataID, Phase: protocol.PhaseContribution, State: protocol.JobRunning}

	waiter := make(chan *protocol.ExecuteTaskResponse, len(workers))
	c.mu.Lock()
	c.jobs[jobID] = job
	c.pending[jobID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, jobID)
		c.mu.Unlock()
	}()

	final, err := c.runPhases(ctx, req, job, groups, waiter)

	c.mu.Lock()
	if err != nil {
		job.State = protocol.JobFailed
	} else {
		job.State = protocol.JobSucceeded
	}
	c.mu.Unlock()

	return final, err
}

func (c *Coordinator) runPhases(ctx context.Context, req *protocol.LaunchProofRequest, job *protocol.Job, groups [][]aggregation.WorkerCapacity, waiter chan *protocol.ExecuteTaskResponse) (*protocol.FinalProof, error) {
	// Worker indexes are positions in the flattened group order; the
	// Prove phase routes each airgroup's challenges back to the worker
	// whose index contributed them.
	var flat []aggregation.WorkerCapacity
	for _, g := range groups {
		flat = append(flat, g...)
	}

	challenges, err := c.contributionPhase(ctx, req, job.JobID, flat, waiter)
	if err != nil {
		return nil, err
	}

	c.setPhase(job, protocol.PhaseProve)
	shares, err := c.provePhase(ctx, job.JobID, flat, challenges, waiter)
	if err != nil {
		return nil, err
	}

	c.setPhase(job, protocol.PhaseAggregate)
	return c.aggregatePhase(ctx, job.JobID, flat, shares, waiter)
}

func (c *Coordinator) setPhase(job *protocol.Job, phase protocol.JobPhase) {
	c.mu.Lock()
	job.Phase = phase
	c.mu.Unlock()
}

// contributionPhase assigns each worker a contiguous run of chunk ids
// proportional to its capacity (capacity units are per-chunk work units;
// the partition target is the total chunk count) and gathers every
// worker's challenges.
func (c *Coordinator) contributionPhase(ctx context.Context, req *protocol.LaunchProofRequest, jobID string, flat []aggregation.WorkerCapacity, waiter chan *protocol.ExecuteTaskResponse) ([]protocol.Challenge, error) {
	nextChunk := 0
	tasks := make(map[string]*protocol.ExecuteTask, len(flat))
	for _, w := range flat {
		chunks := make([]int, 0, w.Capacity)
		for i := 0; i < w.Capacity && nextChunk < req.ComputeCapacity; i++ {
			chunks = append(chunks, nextChunk)
			nextChunk++
		}
		tasks[w.WorkerID] = &protocol.ExecuteTask{
			JobID:              jobID,
			TaskType:           protocol.TaskContribution,
			InputPath:          contributionInputPath(req),
			ContributionParams: &protocol.ContributionParams{ChunkIDs: chunks},
		}
	}

	responses, err := c.dispatchAndAwait(ctx, jobID, tasks, waiter)
	if err != nil {
		return nil, err
	}

	var challenges []protocol.Challenge
	for _, resp := range responses {
		challenges = append(challenges, resp.Result.Challenges...)
	}
	if len(challenges) == 0 {
		return nil, fmt.Errorf("coordinator: contribution phase produced no challenges")
	}
	return challenges, nil
}

func contributionInputPath(req *protocol.LaunchProofRequest) string {
	if req.InputsMode == protocol.InputsPath {
		return req.InputsURI
	}
	return ""
}

// provePhase groups challenges by airgroup and sends each group back to
// the worker that contributed it, gathering the resulting proof shares in
// deterministic worker_idx order.
func (c *Coordinator) provePhase(ctx context.Context, jobID string, flat []aggregation.WorkerCapacity, challenges []protocol.Challenge, waiter chan *protocol.ExecuteTaskResponse) ([]protocol.ProofShare, error) {
	grouped := aggregation.GroupChallengesByAirgroup(challenges)

	airgroups := make([]int, 0, len(grouped))
	for id := range grouped {
		airgroups = append(airgroups, id)
	}
	sort.Ints(airgroups)

	tasks := make(map[string]*protocol.ExecuteTask, len(grouped))
	for _, id := range airgroups {
		group := grouped[id]
		idx := group[0].WorkerIdx
		if idx < 0 || idx >= len(flat) {
			return nil, fmt.Errorf("coordinator: challenge names worker index %d outside the %d dispatched workers", idx, len(flat))
		}
		workerID := flat[idx].WorkerID
		if existing, ok := tasks[workerID]; ok {
			existing.ProveParams.Challenges = append(existing.ProveParams.Challenges, group...)
			continue
		}
		tasks[workerID] = &protocol.ExecuteTask{
			JobID:       jobID,
			TaskType:    protocol.TaskProve,
			ProveParams: &protocol.ProveParams{Challenges: group},
		}
	}

	responses, err := c.dispatchAndAwait(ctx, jobID, tasks, waiter)
	if err != nil {
		return nil, err
	}

	var shares []protocol.ProofShare
	for _, resp := range responses {
		shares = append(shares, resp.Result.Proofs...)
	}
	if len(shares) == 0 {
		return nil, fmt.Errorf("coordinator: prove phase produced no proof shares")
	}
	return aggregation.SortProofShares(shares), nil
}

// aggregatePhase runs the pairwise aggregation tree: each round halves
// the outstanding share count, in waves bounded by the worker pool, until
// the final invocation returns the final proof with its executed steps.
func (c *Coordinator) aggregatePhase(ctx context.Context, jobID string, flat []aggregation.WorkerCapacity, shares []protocol.ProofShare, waiter chan *protocol.ExecuteTaskResponse) (*protocol.FinalProof, error) {
	for {
		if len(shares) <= 2 {
			resp, err := c.dispatchAndAwaitOne(ctx, jobID, flat[0].WorkerID, &protocol.ExecuteTask{
				JobID:    jobID,
				TaskType: protocol.TaskAggregate,
				AggParams: &protocol.AggParams{
					AggProofs:  shares,
					LastProof:  true,
					FinalProof: true,
				},
			}, waiter)
			if err != nil {
				return nil, err
			}
			if resp.Result.FinalProof == nil {
				return nil, fmt.Errorf("coordinator: final aggregation returned no final proof")
			}
			return resp.Result.FinalProof, nil
		}

		pairs, leftover := aggregation.PairForAggregation(shares)

		var next []protocol.ProofShare
		for start := 0; start < len(pairs); start += len(flat) {
			end := start + len(flat)
			if end > len(pairs) {
				end = len(pairs)
			}

			tasks := make(map[string]*protocol.ExecuteTask, end-start)
			for i, pair := range pairs[start:end] {
				tasks[flat[i].WorkerID] = &protocol.ExecuteTask{
					JobID:     jobID,
					TaskType:  protocol.TaskAggregate,
					AggParams: &protocol.AggParams{AggProofs: pair[:]},
				}
			}

			responses, err := c.dispatchAndAwait(ctx, jobID, tasks, waiter)
			if err != nil {
				return nil, err
			}
			for _, resp := range responses {
				next = append(next, resp.Result.Proofs...)
			}
		}
		if leftover != nil {
			next = append(next, *leftover)
		}

		if len(next) >= len(shares) {
			return nil, fmt.Errorf("coordinator: aggregation round did not reduce share count (%d -> %d)", len(shares), len(next))
		}
		shares = aggregation.SortProofShares(next)
	}
}

// dispatchAndAwait sends every task and gathers exactly one validated
// response per task, failing fast on the first invalid or unsuccessful
// one.
func (c *Coordinator) dispatchAndAwait(ctx context.Context, jobID string, tasks map[string]*protocol.ExecuteTask, waiter chan *protocol.ExecuteTaskResponse) ([]*protocol.ExecuteTaskResponse, error) {
	for workerID, task := range tasks {
		if err := c.Dispatch(workerID, task); err != nil {
			return nil, err
		}
	}

	responses := make([]*protocol.ExecuteTaskResponse, 0, len(tasks))
	for len(responses) < len(tasks) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp := <-waiter:
			if err := validateResponse(jobID, resp); err != nil {
				return nil, err
			}
			responses = append(responses, resp)
		}
	}
	return responses, nil
}

func (c *Coordinator) dispatchAndAwaitOne(ctx context.Context, jobID, workerID string, task *protocol.ExecuteTask, waiter chan *protocol.ExecuteTaskResponse) (*protocol.ExecuteTaskResponse, error) {
	responses, err := c.dispatchAndAwait(ctx, jobID, map[string]*protocol.ExecuteTask{workerID: task}, waiter)
	if err != nil {
		return nil, err
	}
	return responses[0], nil
}

func validateResponse(jobID string, resp *protocol.ExecuteTaskResponse) error {
	if err := aggregation.ValidateJobID(jobID, resp.JobID); err != nil {
		return err
	}
	if err := aggregation.ValidateTaskResponse(resp.Success, resp.Result != nil); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("coordinator: task failed: %s", resp.ErrorMessage)
	}
	return nil
}

// idleWorkers snapshots the currently idle workers, sorted by worker id
// so partitioning is deterministic across calls.
func (c *Coordinator) idleWorkers() []aggregation.WorkerCapacity {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []aggregation.WorkerCapacity
	for _, h := range c.workers {
		if h.state == protocol.WorkerIdle {
			out = append(out, aggregation.WorkerCapacity{WorkerID: h.id, Capacity: h.capacity})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}
