package stats

import (
	"strings"
	"testing"

	"github.com/rubo/ziskgo/internal/profiler"
)

func TestReportWriteText(t *testing.T) {
	arena := profiler.NewArena()
	arena.Add("main", 0, 100)

	p := profiler.New(arena, func(op uint32) bool { return op == 1 }, profiler.CostModel{MainCost: 1})
	p.Probe(profiler.Step{Opcode: 1, PC: 0})
	p.Probe(profiler.Step{Opcode: 2, PC: 4})

	report := NewReport(p, arena)

	var sb strings.Builder
	if err := report.WriteText(&sb); err != nil {
		t.Fatalf("WriteText: %v", err)
	}

	out := sb.String()
	if !strings.Contains(out, "total steps: 2") {
		t.Fatalf("missing total steps line: %q", out)
	}
	if !strings.Contains(out, "0x02\t1") {
		t.Fatalf("missing ranked rare opcode row: %q", out)
	}
	if !strings.Contains(out, "main\t0x0\t0x64\t2\t2") {
		t.Fatalf("missing roi row: %q", out)
	}
}
