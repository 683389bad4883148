// Package profiler implements the region-of-interest (ROI) call-graph
// profiler: a probe invoked once per emulated step that attributes steps
// and a synthetic cost model to the innermost ROI covering the program
// counter, threading call/return detection through an explicit call stack.
package profiler

import "sort"

// OperandSource distinguishes where an instruction's "b" operand comes
// from, needed to detect a return (jalr reading the link register).
type OperandSource int

const (
	OperandImmediate OperandSource = iota
	OperandRegister
)

// RAIndex is the register index conventionally used as the return-address
// link register (x1, "ra") in the RISC-V calling convention.
const RAIndex = 1

// Step describes one emulated instruction, as passed to Profiler.Probe.
// Regs is the full register snapshot at the time of the step; the profiler
// itself does not read it (a call's return address is taken as PC+4), but
// the snapshot reaches CostModel.MemoryFn with the rest of the Step.
type Step struct {
	Opcode      uint32
	A, B        uint64
	PC          uint64
	Regs        [32]uint64
	SetPC       bool
	StoreRA     bool
	StoreOffset int
	BSrc        OperandSource
	BOffset     int
}

// IsCall reports whether this step is a jal-with-link call:
// set_pc ∧ store_ra ∧ store_offset == 1.
func (s Step) IsCall() bool {
	return s.SetPC && s.StoreRA && s.StoreOffset == 1
}

// IsReturn reports whether this step is a jalr-style return:
// set_pc ∧ ¬store_ra ∧ b_src == REG ∧ b_offset == ra_index.
func (s Step) IsReturn() bool {
	return s.SetPC && !s.StoreRA && s.BSrc == OperandRegister && s.BOffset == RAIndex
}

// CallerStats accumulates, per calling ROI, how many times a callee ROI
// was entered from it and the aggregate steps attributed back to the
// caller for time spent in the callee.
type CallerStats struct {
	Calls uint64
	Steps uint64
}

// ROI is a named PC interval whose statistics are accumulated separately.
// ROIs are stored in an arena and referred to by index; the Callers map is
// keyed by caller ROI index rather than holding owning pointers, since
// ROI->caller relationships form a graph that may cycle under mutual
// recursion.
type ROI struct {
	Name     string
	FromPC   uint64
	ToPC     uint64
	Steps    uint64
	Cost     uint64
	OpCounts map[uint32]uint64
	Callers  map[int]*CallerStats
	depth    int
}

// Arena is a disjoint cover of ROM addresses by ROI, sorted by FromPC so
// Lookup can binary-search it the way a BTreeMap<pc,roi>::range(..=pc)
// would: stdlib Go has no ordered map, so a sorted slice plus sort.Search
// is the idiomatic replacement.
type Arena struct {
	rois []ROI
}

// NewArena returns an empty Arena; regions are registered with Add. The
// caller is responsible for ensuring the regions are disjoint; Add does not
// validate this since the ROM layout that produces them is trusted input.
func NewArena() *Arena {
	return &Arena{}
}

// Add registers a new ROI and returns its arena index. ROIs must be added
// in ascending FromPC order; Add panics otherwise, since Lookup's binary
// search assumes the backing slice stays sorted without re-sorting on
// every insert.
func (a *Arena) Add(name string, fromPC, toPC uint64) int {
	if len(a.rois) > 0 && fromPC < a.rois[len(a.rois)-1].FromPC {
		panic("profiler: ROIs must be added in ascending FromPC order")
	}
	a.rois = append(a.rois, ROI{
		Name:     name,
		FromPC:   fromPC,
		ToPC:     toPC,
		OpCounts: make(map[uint32]uint64),
		Callers:  make(map[int]*CallerStats),
	})
	return len(a.rois) - 1
}

// Lookup returns the index of the innermost ROI covering pc, mirroring
// BTreeMap<pc, roi_index>::range(..=pc).next_back() followed by a ToPC
// bound check.
func (a *Arena) Lookup(pc uint64) (int, bool) {
	// sort.Search finds the first index whose FromPC > pc; the candidate
	// ROI is the one immediately before it.
	i := sort.Search(len(a.rois), func(i int) bool { return a.rois[i].FromPC > pc })
	if i == 0 {
		return 0, false
	}
	idx := i - 1
	if pc < a.rois[idx].FromPC || pc > a.rois[idx].ToPC {
		return 0, false
	}
	return idx, true
}

// ROI returns a copy of the ROI at idx.
func (a *Arena) ROI(idx int) ROI { return a.rois[idx] }

// Len returns the number of registered ROIs.
func (a *Arena) Len() int { return len(a.rois) }

// CostModel is the synthetic per-step cost formula:
//
//	total = BaseCost + MainCost*steps + Σ op_count*OpStepCost + precompiled + memory
//
// Costs are accumulated incrementally per step rather than recomputed from
// totals at report time, which is algebraically equivalent to the closed
// form above.
type CostModel struct {
	BaseCost      uint64
	MainCost      uint64
	OpStepCost    map[uint32]uint64
	PrecompiledFn func(opcode uint32) uint64
	MemoryFn      func(Step) uint64
}

func (m CostModel) stepCost(s Step) uint64 {
	cost := m.MainCost
	if c, ok := m.OpStepCost[s.Opcode]; ok {
		cost += c
	}
	if m.PrecompiledFn != nil {
		cost += m.PrecompiledFn(s.Opcode)
	}
	if m.MemoryFn != nil {
		cost += m.MemoryFn(s)
	}
	return cost
}

type callFrame struct {
	pc            uint64
	ra            uint64
	callerROI     int
	calledROI     int
	costsSnapshot uint64
	calleeSteps   uint64
	name          string
}

// IsFrequent classifies an opcode as "frequent" for the purposes of the
// frequent/rare step split; callers supply the per-op-type predicate since
// it depends on the opcode table owned by the emulator, not this package.
type IsFrequent func(opcode uint32) bool

// Profiler attributes emulated steps and synthetic cost to the ROI tree,
// maintaining an explicit call stack to fold callee cost back into the
// calling ROI on return.
type Profiler struct {
	arena      *Arena
	isFrequent IsFrequent
	cost       CostModel

	totalSteps    uint64
	frequentSteps uint64
	rareOps       map[uint32]uint64
	pcHistogram   map[uint64]uint64
	totalCost     uint64

	callStack []callFrame
}

// New builds a Profiler over the given ROI arena.
func New(arena *Arena, isFrequent IsFrequent, cost CostModel) *Profiler {
	return &Profiler{
		arena:       arena,
		isFrequent:  isFrequent,
		cost:        cost,
		rareOps:     make(map[uint32]uint64),
		pcHistogram: make(map[uint64]uint64),
	}
}

// Probe records one emulated step.
func (p *Profiler) Probe(s Step) {
	p.totalSteps++
	if p.isFrequent != nil && p.isFrequent(s.Opcode) {
		p.frequentSteps++
	} else {
		p.rareOps[s.Opcode]++
	}
	p.pcHistogram[s.PC]++

	stepCost := p.cost.stepCost(s)
	p.totalCost += stepCost

	roiIdx, ok := p.arena.Lookup(s.PC)

	switch {
	case ok && s.IsCall():
		calledIdx, calledOK := p.arena.Lookup(s.A)
		name := ""
		if calledOK {
			name = p.arena.rois[calledIdx].Name
			stats := p.arena.rois[calledIdx].Callers[roiIdx]
			if stats == nil {
				stats = &CallerStats{}
				p.arena.rois[calledIdx].Callers[roiIdx] = stats
			}
			stats.Calls++
		}
		p.callStack = append(p.callStack, callFrame{
			pc:            s.PC,
			ra:            s.PC + 4,
			callerROI:     roiIdx,
			calledROI:     calledIdx,
			costsSnapshot: p.totalCost,
			calleeSteps:   p.arena.rois[calledIdx].Steps,
			name:          name,
		})
		p.attribute(roiIdx, s, stepCost)

	case s.IsReturn() && len(p.callStack) > 0:
		frame := p.callStack[len(p.callStack)-1]
		p.callStack = p.callStack[:len(p.callStack)-1]
		calleeCost := p.totalCost - frame.costsSnapshot
		if stats, found := p.arena.rois[frame.calledROI].Callers[frame.callerROI]; found {
			stats.Steps += p.arena.rois[frame.calledROI].Steps - frame.calleeSteps
		}
		p.arena.rois[frame.callerROI].Cost += calleeCost
		if ok {
			p.attribute(roiIdx, s, 0)
		}

	case ok:
		p.attribute(roiIdx, s, stepCost)
	}
}

func (p *Profiler) attribute(roiIdx int, s Step, stepCost uint64) {
	roi := &p.arena.rois[roiIdx]
	roi.Steps++
	roi.OpCounts[s.Opcode]++
	roi.Cost += stepCost
}

// TotalCost returns BaseCost plus every step's accumulated incremental
// cost, matching the closed-form cost model.
func (p *Profiler) TotalCost() uint64 { return p.cost.BaseCost + p.totalCost }

// TotalSteps returns the total number of probed steps.
func (p *Profiler) TotalSteps() uint64 { return p.totalSteps }

// OpcodeRank is one row of the opcode-frequency report.
type OpcodeRank struct {
	Opcode uint32
	Count  uint64
}

// RankOpcodes returns rare-opcode counts sorted by count, descending.
func (p *Profiler) RankOpcodes() []OpcodeRank {
	ranks := make([]OpcodeRank, 0, len(p.rareOps))
	for op, count := range p.rareOps {
		ranks = append(ranks, OpcodeRank{Opcode: op, Count: count})
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Count != ranks[j].Count {
			return ranks[i].Count > ranks[j].Count
		}
		return ranks[i].Opcode < ranks[j].Opcode
	})
	return ranks
}
