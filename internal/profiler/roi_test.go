package profiler

import "testing"

func TestArenaLookup(t *testing.T) {
	arena := NewArena()
	main := arena.Add("main", 0x1000, 0x1fff)
	helper := arena.Add("helper", 0x2000, 0x2fff)

	if idx, ok := arena.Lookup(0x1500); !ok || idx != main {
		t.Fatalf("Lookup(0x1500) = %d, %v; want %d, true", idx, ok, main)
	}
	if idx, ok := arena.Lookup(0x2abc); !ok || idx != helper {
		t.Fatalf("Lookup(0x2abc) = %d, %v; want %d, true", idx, ok, helper)
	}
	if _, ok := arena.Lookup(0x3000); ok {
		t.Fatalf("Lookup(0x3000) should miss the disjoint cover")
	}
	if _, ok := arena.Lookup(0x0fff); ok {
		t.Fatalf("Lookup(0x0fff) should miss before the first ROI")
	}
}

func TestProfilerStepsNeverExceedTotal(t *testing.T) {
	arena := NewArena()
	arena.Add("main", 0x1000, 0x1fff)

	p := New(arena, func(op uint32) bool { return op == 1 }, CostModel{
		BaseCost: 10,
		MainCost: 2,
		OpStepCost: map[uint32]uint64{
			1: 3,
		},
	})

	for i := 0; i < 5; i++ {
		p.Probe(Step{Opcode: 1, PC: 0x1000 + uint64(i)})
	}
	// Steps outside any ROI are still counted globally but not attributed.
	p.Probe(Step{Opcode: 2, PC: 0x9000})

	if p.TotalSteps() != 6 {
		t.Fatalf("TotalSteps() = %d, want 6", p.TotalSteps())
	}
	roi := arena.ROI(0)
	if roi.Steps > p.TotalSteps() {
		t.Fatalf("ROI steps %d exceed total steps %d", roi.Steps, p.TotalSteps())
	}
	if roi.Steps != 5 {
		t.Fatalf("ROI steps = %d, want 5", roi.Steps)
	}

	wantCost := uint64(10) + 6*2 + 5*3
	if p.TotalCost() != wantCost {
		t.Fatalf("TotalCost() = %d, want %d", p.TotalCost(), wantCost)
	}
}

func TestProfilerCallReturnAttribution(t *testing.T) {
	arena := NewArena()
	mainROI := arena.Add("main", 0x1000, 0x1fff)
	helperROI := arena.Add("helper", 0x2000, 0x2fff)
	_ = mainROI

	p := New(arena, nil, CostModel{MainCost: 1})

	// call from main (0x1004) into helper (target 0x2000)
	p.Probe(Step{PC: 0x1004, A: 0x2000, SetPC: true, StoreRA: true, StoreOffset: 1})
	// a step inside the callee
	p.Probe(Step{PC: 0x2000})
	// return: jalr reading ra
	p.Probe(Step{PC: 0x2004, SetPC: true, BSrc: OperandRegister, BOffset: RAIndex})

	if arena.ROI(helperROI).Callers[mainROI] == nil {
		t.Fatalf("expected helper ROI to record main as a caller")
	}
	if arena.ROI(helperROI).Callers[mainROI].Calls != 1 {
		t.Fatalf("expected exactly one recorded call")
	}
}

func TestRankOpcodes(t *testing.T) {
	arena := NewArena()
	arena.Add("main", 0, 0xffff)
	p := New(arena, nil, CostModel{})

	for i := 0; i < 3; i++ {
		p.Probe(Step{Opcode: 7, PC: 1})
	}
	p.Probe(Step{Opcode: 9, PC: 1})

	ranks := p.RankOpcodes()
	if len(ranks) != 2 || ranks[0].Opcode != 7 || ranks[0].Count != 3 {
		t.Fatalf("unexpected ranking: %+v", ranks)
	}
}
