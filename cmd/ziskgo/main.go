// Command ziskgo is the CLI entrypoint wiring the execution/proving
// pipeline together: "execute", "verify-constraints" and "prove"
// subcommands each build a prover.Facade and drive it over an ELF and
// stdin input. Argument parsing itself is deliberately thin; the pipeline
// components it wires are the actual subject of this module.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/rubo/ziskgo/internal/device"
	"github.com/rubo/ziskgo/internal/executor"
	"github.com/rubo/ziskgo/internal/logging"
	"github.com/rubo/ziskgo/internal/profiler"
	"github.com/rubo/ziskgo/internal/prover"
	"github.com/rubo/ziskgo/internal/stats"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	logger := logging.Default()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "execute":
		err = runExecute(ctx, os.Args[2:])
	case "verify-constraints":
		err = runVerifyConstraints(ctx, os.Args[2:])
	case "prove":
		err = runProve(ctx, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Err().Log(err.Error())
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ziskgo <execute|verify-constraints|prove> [flags]")
}

type commonFlags struct {
	elf       string
	inputPath string
	asm       bool
	basePort  int
	localRank int
	chunkSize int
	stats     bool
}

func parseCommon(fs *flag.FlagSet, args []string) (commonFlags, error) {
	var c commonFlags
	fs.StringVar(&c.elf, "elf", "", "path to the RISC-V ELF to translate")
	fs.StringVar(&c.inputPath, "input", "", "path to the stdin input file")
	fs.BoolVar(&c.asm, "asm", false, "use the assembly-accelerated backend instead of the pure interpreter")
	fs.IntVar(&c.basePort, "asm-base-port", 23115, "base port for asm backend micro-services")
	fs.IntVar(&c.localRank, "asm-local-rank", 0, "local rank for asm backend shared-memory naming")
	fs.IntVar(&c.chunkSize, "chunk-size", 1<<21, "steps per trace chunk (power of two)")
	fs.BoolVar(&c.stats, "stats", false, "collect execution statistics and write stats_<pid>.json/.csv plus a text report")
	if err := fs.Parse(args); err != nil {
		return commonFlags{}, err
	}
	if c.elf == "" {
		return commonFlags{}, fmt.Errorf("ziskgo: -elf is required")
	}
	return c, nil
}

func readStdin(c commonFlags) ([]byte, error) {
	if c.inputPath == "" {
		return nil, nil
	}
	return os.ReadFile(c.inputPath)
}

func asmConfig(c commonFlags) prover.AsmConfig {
	return prover.AsmConfig{BasePort: c.basePort, LocalRank: c.localRank}
}

// statsRun bundles the optional -stats instrumentation: a scope/mark
// collector persisted as stats_<pid>.json/.csv, plus a ROI profiler the
// emulator probes, rendered as the ranked text report once the run ends.
type statsRun struct {
	collector *stats.Collector
	arena     *profiler.Arena
	profiler  *profiler.Profiler
}

func newStatsRun(enabled bool) *statsRun {
	if !enabled {
		return nil
	}
	arena := profiler.NewArena()
	arena.Add("rom", 0, ^uint64(0))
	return &statsRun{
		collector: stats.New(),
		arena:     arena,
		profiler:  profiler.New(arena, nil, profiler.CostModel{MainCost: 1}),
	}
}

func (s *statsRun) probe() *profiler.Profiler {
	if s == nil {
		return nil
	}
	return s.profiler
}

// finish dumps the json/csv stats files and writes the ranked report.
// Filesystem errors during the dump are logged and otherwise silenced;
// the run itself already succeeded.
func (s *statsRun) finish(logger logging.Logger) {
	if s == nil {
		return
	}
	if err := s.collector.StoreStats(); err != nil {
		logger.Warning().Err(err).Log("stats dump failed")
	}
	if err := stats.NewReport(s.profiler, s.arena).WriteText(os.Stdout); err != nil {
		logger.Warning().Err(err).Log("stats report failed")
	}
}

func runExecute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ExitOnError)
	c, err := parseCommon(fs, args)
	if err != nil {
		return err
	}

	sr := newStatsRun(c.stats)

	facade := buildFacade(c).Pure().WitnessOnly()
	if c.asm {
		facade = buildFacade(c).Asm(asmConfig(c)).WitnessOnly()
	}
	facade = facade.WithTranslator(elfStubTranslator{}).
		WithEmulator(chunkEmulator{chunkSize: c.chunkSize, probe: sr.probe()}).
		WithProfiler(sr.probe())

	if err := setupWithStats(ctx, facade, c.elf, sr); err != nil {
		return err
	}
	stdin, err := readStdin(c)
	if err != nil {
		return err
	}

	var scope stats.Scope
	if sr != nil {
		scope = sr.collector.Begin(0, "execute", 0)
	}
	result, err := facade.Execute(ctx, stdin)
	if err != nil {
		return err
	}
	if sr != nil {
		sr.collector.End(scope)
	}
	sr.finish(logging.Default())

	fmt.Printf("executed %d steps\n", result.TotalSteps)
	return nil
}

// setupWithStats runs facade.Setup inside its own collector scope when
// stats are enabled.
func setupWithStats(ctx context.Context, facade *prover.Facade, elf string, sr *statsRun) error {
	var scope stats.Scope
	if sr != nil {
		scope = sr.collector.Begin(0, "setup", 0)
	}
	err := facade.Setup(ctx, elf)
	if sr != nil {
		sr.collector.End(scope)
	}
	return err
}

func runVerifyConstraints(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify-constraints", flag.ExitOnError)
	c, err := parseCommon(fs, args)
	if err != nil {
		return err
	}

	sr := newStatsRun(c.stats)

	facade := buildFacade(c).Pure().VerifyConstraints()
	if c.asm {
		facade = buildFacade(c).Asm(asmConfig(c)).VerifyConstraints()
	}
	facade = facade.WithTranslator(elfStubTranslator{}).
		WithEmulator(chunkEmulator{chunkSize: c.chunkSize, probe: sr.probe()}).
		WithProfiler(sr.probe())

	if err := setupWithStats(ctx, facade, c.elf, sr); err != nil {
		return err
	}
	stdin, err := readStdin(c)
	if err != nil {
		return err
	}

	var scope stats.Scope
	if sr != nil {
		scope = sr.collector.Begin(0, "verify-constraints", 0)
	}
	if err := facade.VerifyConstraints(ctx, stdin); err != nil {
		return err
	}
	if sr != nil {
		sr.collector.End(scope)
	}
	sr.finish(logging.Default())

	fmt.Println("constraints satisfied")
	return nil
}

func runProve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("prove", flag.ExitOnError)
	var vadcopOut, snarkOut string
	var snarkProtocol string
	fs.StringVar(&vadcopOut, "output", "proof.bin", "path to write the vadcop proof")
	fs.StringVar(&snarkOut, "snark-output", "", "path to write a snark-wrapped proof (empty skips wrapping)")
	fs.StringVar(&snarkProtocol, "snark-protocol", "", "snark wrapper protocol: plonk|fflonk")
	c, err := parseCommon(fs, args)
	if err != nil {
		return err
	}

	sr := newStatsRun(c.stats)

	facade := buildFacade(c).Pure().Prove()
	if c.asm {
		facade = buildFacade(c).Asm(asmConfig(c)).Prove()
	}
	facade = facade.WithTranslator(elfStubTranslator{}).
		WithEmulator(chunkEmulator{chunkSize: c.chunkSize, probe: sr.probe()}).
		WithProfiler(sr.probe()).
		WithOutputPaths(vadcopOut, snarkOut)

	if err := setupWithStats(ctx, facade, c.elf, sr); err != nil {
		return err
	}
	stdin, err := readStdin(c)
	if err != nil {
		return err
	}

	protocol := prover.SnarkProtocolNone
	switch snarkProtocol {
	case "plonk":
		protocol = prover.SnarkProtocolPlonk
	case "fflonk":
		protocol = prover.SnarkProtocolFflonk
	case "":
	default:
		return fmt.Errorf("ziskgo: unknown -snark-protocol %q", snarkProtocol)
	}

	var scope stats.Scope
	if sr != nil {
		scope = sr.collector.Begin(0, "prove", 0)
	}
	proof, err := facade.Prove(ctx, stdin, protocol)
	if err != nil {
		return err
	}
	if sr != nil {
		sr.collector.End(scope)
	}
	sr.finish(logging.Default())

	fmt.Printf("wrote vadcop proof to %s (compressed=%v)\n", vadcopOut, proof.Compressed)
	if snarkOut != "" {
		fmt.Printf("wrote snark proof to %s\n", snarkOut)
	}
	return nil
}

// buildFacade always starts a fresh typestate chain; its methods are
// called exactly once per subcommand invocation above, selecting the
// backend and operation the builder narrows to.
func buildFacade(commonFlags) *prover.Builder {
	return prover.NewBuilder()
}

// elfStubTranslator is the seam the real RISC-V ELF -> ROM translator
// (an external collaborator) plugs into; it treats the ELF file's raw
// bytes as the ROM's instruction stream and derives a Merkle key path
// alongside it, enough to drive the pipeline end to end without a real
// decoder.
type elfStubTranslator struct{}

func (elfStubTranslator) Translate(ctx context.Context, elfPath string) (prover.ROM, error) {
	data, err := os.ReadFile(elfPath)
	if err != nil {
		return prover.ROM{}, fmt.Errorf("elfStubTranslator: read %s: %w", elfPath, err)
	}
	return prover.ROM{
		Name:          elfPath,
		Instructions:  data,
		MerkleKeyPath: elfPath + ".merkle",
	}, nil
}

// chunkEmulator is the seam a real emulator plugs into: it replays the
// ROM's instruction bytes, one operation per byte, chunked at the
// configured chunk size through the chunk-parallel executor, so the
// device bundle sees the same fan-out a real trace would drive. The
// optional probe is invoked once per step on the sequential main pass,
// the way the real emulator's run loop feeds the ROI profiler.
type chunkEmulator struct {
	chunkSize int
	probe     *profiler.Profiler
}

func (e chunkEmulator) Run(ctx context.Context, rom prover.ROM, stdin []byte) (uint64, error) {
	if e.probe != nil {
		for i, b := range rom.Instructions {
			e.probe.Probe(profiler.Step{Opcode: uint32(b), PC: uint64(i)})
		}
	}
	ex, err := executor.New(executor.Config{
		ChunkSize:   uint64(e.chunkSize),
		WorkerCount: runtime.NumCPU(),
		NewBus:      counterBus,
	})
	if err != nil {
		return 0, err
	}

	var traces []executor.EmuTrace
	for start := 0; start < len(rom.Instructions); start += e.chunkSize {
		end := start + e.chunkSize
		if end > len(rom.Instructions) {
			end = len(rom.Instructions)
		}
		ops := make([]device.Operation, end-start)
		for i, b := range rom.Instructions[start:end] {
			ops[i] = device.Operation{Opcode: uint32(b)}
		}
		traces = append(traces, executor.EmuTrace{
			ChunkID:    start / e.chunkSize,
			StartStep:  uint64(start),
			Operations: ops,
		})
	}

	result, _, err := ex.RunMT(ctx, traces)
	if err != nil {
		return 0, err
	}
	return result.TotalSteps, nil
}

func counterBus() *device.Bus {
	bus := device.NewBus()
	bus.Subscribe(device.NewDMADevice())
	bus.Subscribe(device.NewDMAPreCounter())
	bus.Subscribe(device.NewDMAPostCounter())
	bus.Subscribe(device.NewDMABodyAlignedCounter())
	bus.Subscribe(device.NewDMABodyUnalignedCounter())
	bus.Subscribe(device.NewHashCounter())
	return bus
}
