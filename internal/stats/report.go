package stats

import (
	"fmt"
	"io"

	"github.com/rubo/ziskgo/internal/profiler"
)

// Report renders the human-readable cost/profile summary: total steps and
// cost, a ranked rare-opcode table, and a per-ROI cost breakdown.
type Report struct {
	TotalSteps uint64
	TotalCost  uint64
	Opcodes    []profiler.OpcodeRank
	ROIs       []profiler.ROI
}

// NewReport builds a Report from a Profiler's accumulated totals and the
// arena it was run against.
func NewReport(p *profiler.Profiler, arena *profiler.Arena) Report {
	rois := make([]profiler.ROI, arena.Len())
	for i := 0; i < arena.Len(); i++ {
		rois[i] = arena.ROI(i)
	}
	return Report{
		TotalSteps: p.TotalSteps(),
		TotalCost:  p.TotalCost(),
		Opcodes:    p.RankOpcodes(),
		ROIs:       rois,
	}
}

// WriteText renders the report in the plain fixed-column text format used
// for console/log output: totals, then the opcode frequency table ranked
// by count descending, then one row per ROI with its attributed steps and
// cost.
func (r Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "total steps: %d\ntotal cost: %d\n\n", r.TotalSteps, r.TotalCost); err != nil {
		return err
	}

	if len(r.Opcodes) > 0 {
		if _, err := fmt.Fprintln(w, "opcode\tcount"); err != nil {
			return err
		}
		for _, rank := range r.Opcodes {
			if _, err := fmt.Fprintf(w, "0x%02x\t%d\n", rank.Opcode, rank.Count); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	if len(r.ROIs) > 0 {
		if _, err := fmt.Fprintln(w, "roi\tfrom\tto\tsteps\tcost"); err != nil {
			return err
		}
		for _, roi := range r.ROIs {
			if _, err := fmt.Fprintf(w, "%s\t0x%x\t0x%x\t%d\t%d\n", roi.Name, roi.FromPC, roi.ToPC, roi.Steps, roi.Cost); err != nil {
				return err
			}
		}
	}

	return nil
}
