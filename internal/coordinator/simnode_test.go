package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rubo/ziskgo/internal/protocol"
	"github.com/rubo/ziskgo/internal/worker"
)

// simCompute answers every phase of a proof job the way a real worker
// would shape its results, without doing any proving.
func simCompute(ctx context.Context, task *protocol.ExecuteTask) (*protocol.TaskResult, error) {
	result := &protocol.TaskResult{}
	switch task.TaskType {
	case protocol.TaskContribution:
		for _, chunk := range task.ContributionParams.ChunkIDs {
			result.Challenges = append(result.Challenges, protocol.Challenge{
				AirgroupID: chunk % 2,
				WorkerIdx:  0,
				Value:      []uint64{uint64(chunk) + 1},
			})
		}
	case protocol.TaskProve:
		for _, ch := range task.ProveParams.Challenges {
			result.Proofs = append(result.Proofs, protocol.ProofShare{
				AirgroupID: ch.AirgroupID,
				WorkerIdx:  ch.WorkerIdx,
				Values:     ch.Value,
			})
		}
	case protocol.TaskAggregate:
		var steps uint64
		for _, p := range task.AggParams.AggProofs {
			for _, v := range p.Values {
				steps += v
			}
		}
		if task.AggParams.FinalProof {
			result.FinalProof = &protocol.FinalProof{Proof: []byte("simulated"), ExecutedSteps: steps}
		} else {
			result.Proofs = []protocol.ProofShare{{Values: []uint64{steps}}}
		}
	}
	return result, nil
}

func TestSimulatedNodeEndToEnd(t *testing.T) {
	c := New(nil)

	node, err := NewSimulatedNode(c, worker.Config{
		WorkerID: "sim-0",
		Capacity: 2,
		Compute:  simCompute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	runDone := make(chan error, 1)
	go func() { runDone <- node.Run(ctx) }()

	require.Eventually(t, func() bool {
		state, ok := c.WorkerState("sim-0")
		return ok && state == protocol.WorkerIdle
	}, 10*time.Second, 10*time.Millisecond, "worker never registered")

	final, err := c.LaunchProof(ctx, &protocol.LaunchProofRequest{
		DataID:          "sim-data",
		ComputeCapacity: 2,
		SimulatedNode:   true,
	})
	require.NoError(t, err)
	require.Equal(t, []byte("simulated"), final.Proof)
	require.Equal(t, uint64(1+2), final.ExecutedSteps)

	cancel()
	<-runDone
}
