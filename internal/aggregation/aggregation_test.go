package aggregation

import (
	"testing"

	"github.com/rubo/ziskgo/internal/protocol"
)

func TestPartitionReachesTargetPerGroup(t *testing.T) {
	workers := []WorkerCapacity{
		{WorkerID: "a", Capacity: 3},
		{WorkerID: "b", Capacity: 4},
		{WorkerID: "c", Capacity: 2},
		{WorkerID: "d", Capacity: 5},
	}

	groups, err := Partition(workers, 5)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}

	for _, g := range groups {
		var sum int
		for _, w := range g {
			sum += w.Capacity
		}
		if sum < 5 {
			t.Fatalf("group %+v sums to %d, below target", g, sum)
		}
	}
}

func TestPartitionInsufficientCapacity(t *testing.T) {
	if _, err := Partition([]WorkerCapacity{{WorkerID: "a", Capacity: 1}}, 10); err == nil {
		t.Fatalf("expected error when total capacity is below target")
	}
}

func TestSortProofShares(t *testing.T) {
	shares := []protocol.ProofShare{
		{AirgroupID: 2, WorkerIdx: 1},
		{AirgroupID: 1, WorkerIdx: 0},
		{AirgroupID: 0, WorkerIdx: 1},
	}
	sorted := SortProofShares(shares)
	if sorted[0].WorkerIdx != 0 {
		t.Fatalf("expected worker 0 first, got %+v", sorted)
	}
	if sorted[1].AirgroupID != 0 || sorted[2].AirgroupID != 2 {
		t.Fatalf("secondary sort by airgroup not stable: %+v", sorted)
	}
	// original input must be untouched
	if shares[0].AirgroupID != 2 {
		t.Fatalf("SortProofShares mutated its input")
	}
}

func TestPairForAggregation(t *testing.T) {
	shares := []protocol.ProofShare{{WorkerIdx: 0}, {WorkerIdx: 1}, {WorkerIdx: 2}}
	pairs, leftover := PairForAggregation(shares)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if leftover == nil || leftover.WorkerIdx != 2 {
		t.Fatalf("expected worker 2 as leftover, got %+v", leftover)
	}
}

func TestValidateTaskResponse(t *testing.T) {
	if err := ValidateTaskResponse(true, false); err == nil {
		t.Fatalf("expected error for success=true with no result")
	}
	if err := ValidateTaskResponse(false, true); err == nil {
		t.Fatalf("expected error for success=false with a result")
	}
	if err := ValidateTaskResponse(true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateJobID(t *testing.T) {
	if err := ValidateJobID("a", "b"); err == nil {
		t.Fatalf("expected mismatch error")
	}
	if err := ValidateJobID("a", "a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
