// Package aggregation implements the distributed proof-aggregation
// pipeline's bookkeeping: partitioning workers into contribution
// groups, grouping challenges by airgroup for the Prove phase, and pairing
// proof shares for the tree-shaped Aggregate phase.
package aggregation

import (
	"fmt"
	"sort"

	"github.com/rubo/ziskgo/internal/protocol"
)

// WorkerCapacity pairs a worker id with its compute capacity, the unit
// Partition sums against a target.
type WorkerCapacity struct {
	WorkerID string
	Capacity int
}

// Partition groups workers, in input order, into consecutive groups whose
// summed capacity is at least target. A group closes as soon as its sum
// reaches target, so any group may exceed it; workers left over after the
// last closed group are appended to that group. Partition returns an error if no non-empty grouping can reach target
// (i.e. total capacity across all workers falls short).
func Partition(workers []WorkerCapacity, target int) ([][]WorkerCapacity, error) {
	if target <= 0 {
		return nil, fmt.Errorf("aggregation: partition target must be positive, got %d", target)
	}

	var total int
	for _, w := range workers {
		total += w.Capacity
	}
	if total < target {
		return nil, fmt.Errorf("aggregation: total worker capacity %d is below target %d", total, target)
	}

	var groups [][]WorkerCapacity
	var current []WorkerCapacity
	var sum int
	for _, w := range workers {
		current = append(current, w)
		sum += w.Capacity
		if sum >= target {
			groups = append(groups, current)
			current = nil
			sum = 0
		}
	}
	if len(current) > 0 {
		if len(groups) == 0 {
			groups = append(groups, current)
		} else {
			groups[len(groups)-1] = append(groups[len(groups)-1], current...)
		}
	}
	return groups, nil
}

// GroupChallengesByAirgroup groups a flat challenge list by AirgroupID,
// for the Prove phase's "collects all challenges, groups them by
// airgroup_id" step.
func GroupChallengesByAirgroup(challenges []protocol.Challenge) map[int][]protocol.Challenge {
	grouped := make(map[int][]protocol.Challenge)
	for _, c := range challenges {
		grouped[c.AirgroupID] = append(grouped[c.AirgroupID], c)
	}
	return grouped
}

// SortProofShares orders proof shares by WorkerIdx, then AirgroupID,
// restoring a deterministic order before a phase transition; workers may
// return their shares in any order.
func SortProofShares(shares []protocol.ProofShare) []protocol.ProofShare {
	out := make([]protocol.ProofShare, len(shares))
	copy(out, shares)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WorkerIdx != out[j].WorkerIdx {
			return out[i].WorkerIdx < out[j].WorkerIdx
		}
		return out[i].AirgroupID < out[j].AirgroupID
	})
	return out
}

// PairForAggregation pairs adjacent proof shares for one aggregation
// round, halving the outstanding count each round. An odd share out is
// returned as leftover and carried unchanged to the next round.
func PairForAggregation(shares []protocol.ProofShare) (pairs [][2]protocol.ProofShare, leftover *protocol.ProofShare) {
	for i := 0; i+1 < len(shares); i += 2 {
		pairs = append(pairs, [2]protocol.ProofShare{shares[i], shares[i+1]})
	}
	if len(shares)%2 == 1 {
		last := shares[len(shares)-1]
		leftover = &last
	}
	return pairs, leftover
}

// ValidateTaskResponse enforces the phase consistency rule: a response
// reporting success=true with no result (or success=false with a result)
// is an invariant violation and fails the job.
func ValidateTaskResponse(success bool, hasResult bool) error {
	if success && !hasResult {
		return fmt.Errorf("aggregation: task reported success with no result payload")
	}
	if !success && hasResult {
		return fmt.Errorf("aggregation: task reported failure but carried a result payload")
	}
	return nil
}

// ValidateJobID aborts an operation whose response job id doesn't match
// the job it was dispatched for.
func ValidateJobID(expected, got string) error {
	if expected != got {
		return fmt.Errorf("aggregation: job id mismatch: expected %q, got %q", expected, got)
	}
	return nil
}
