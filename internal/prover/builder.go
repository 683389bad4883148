// Package prover implements the typestate-guarded backend builder and
// the resulting typed prover facade: Backend {Pure, Asm} ×
// Operation {WitnessOnly, VerifyConstraints, Prove} compositions are
// constructed through a chain of narrowing builder types, so illegal
// combinations are unrepresentable rather than checked at runtime.
package prover

import (
	"context"
	"fmt"

	"github.com/rubo/ziskgo/internal/profiler"
	"github.com/rubo/ziskgo/internal/proofio"
)

// Backend selects the emulator variant a Facade drives.
type Backend int

const (
	BackendPure Backend = iota
	BackendAsm
)

func (b Backend) String() string {
	if b == BackendAsm {
		return "asm"
	}
	return "pure"
}

// Operation records which operation a Facade was built for;
// VerifyConstraints and Prove reject a Facade built for a different one.
type Operation int

const (
	OperationWitnessOnly Operation = iota
	OperationVerifyConstraints
	OperationProve
)

// AsmConfig configures the assembly-accelerated backend's external
// micro-services: memory-operations and histogram services over
// per-partition port-based shared memory.
type AsmConfig struct {
	BasePort  int
	LocalRank int
}

// Builder is the entry point of the typestate chain: it narrows to a
// backend before a backend-specific builder narrows to an operation.
type Builder struct{}

// NewBuilder starts a new builder chain.
func NewBuilder() *Builder { return &Builder{} }

// Pure selects the pure-interpreter backend.
func (b *Builder) Pure() *PureBuilder { return &PureBuilder{} }

// Asm selects the assembly-accelerated backend.
func (b *Builder) Asm(cfg AsmConfig) *AsmBuilder { return &AsmBuilder{cfg: cfg} }

// PureBuilder narrows a pure-backend chain to one of the three operations.
type PureBuilder struct{}

func (b *PureBuilder) WitnessOnly() *Facade { return newFacade(BackendPure, OperationWitnessOnly, AsmConfig{}) }
func (b *PureBuilder) VerifyConstraints() *Facade {
	return newFacade(BackendPure, OperationVerifyConstraints, AsmConfig{})
}
func (b *PureBuilder) Prove() *Facade { return newFacade(BackendPure, OperationProve, AsmConfig{}) }

// AsmBuilder narrows an assembly-backend chain to one of the three
// operations.
type AsmBuilder struct{ cfg AsmConfig }

func (b *AsmBuilder) WitnessOnly() *Facade { return newFacade(BackendAsm, OperationWitnessOnly, b.cfg) }
func (b *AsmBuilder) VerifyConstraints() *Facade {
	return newFacade(BackendAsm, OperationVerifyConstraints, b.cfg)
}
func (b *AsmBuilder) Prove() *Facade { return newFacade(BackendAsm, OperationProve, b.cfg) }

// ELFTranslator is the external RISC-V ELF -> internal ROM translator
// (an external collaborator), injected so this package never
// depends on its implementation.
type ELFTranslator interface {
	Translate(ctx context.Context, elfPath string) (ROM, error)
}

// ROM is the translated program the prover facade operates over. MerkleKeyPath
// names the file the ROM's Merkle verification key is written to, registered
// as the "rom" custom commit.
type ROM struct {
	Name          string
	Instructions  []byte
	MerkleKeyPath string
}

// WitnessLibrary is the loaded witness-generation library registered with
// the proof manager during Setup.
type WitnessLibrary struct {
	Name string
}

// Emulator runs a translated ROM over a standard input, reporting the
// executed step count. The pure and assembly-accelerated emulator
// variants both satisfy it; the facade only harvests results.
type Emulator interface {
	Run(ctx context.Context, rom ROM, stdin []byte) (steps uint64, err error)
}

// Facade is the typed, state-machine prover backend: setup -> witness ->
// prove -> aggregate -> verify, with the backend/operation pair fixed at
// construction by the Builder chain above.
type Facade struct {
	backend   Backend
	operation Operation
	asmCfg    AsmConfig

	translator ELFTranslator
	emulator   Emulator
	manager    *Manager

	rom         *ROM
	witnessCell *witnessCell
	asmServices *asmServices
	profiler    *profiler.Profiler

	vadcopPath string
	snarkPath  string
}

func newFacade(backend Backend, operation Operation, asmCfg AsmConfig) *Facade {
	return &Facade{
		backend:     backend,
		operation:   operation,
		asmCfg:      asmCfg,
		manager:     DefaultManager(),
		witnessCell: &witnessCell{},
	}
}

// WithTranslator overrides the ELF->ROM translator (defaults to an error
// if unset, since the real translator lives outside this core).
func (f *Facade) WithTranslator(t ELFTranslator) *Facade {
	f.translator = t
	return f
}

// WithEmulator attaches the emulator the facade's Execute,
// VerifyConstraints and Prove calls run; without one, those calls only
// validate state and report zero steps.
func (f *Facade) WithEmulator(e Emulator) *Facade {
	f.emulator = e
	return f
}

// WithProfiler attaches a ROI profiler; Stats reports a zero Report if
// none is attached.
func (f *Facade) WithProfiler(p *profiler.Profiler) *Facade {
	f.profiler = p
	return f
}

// WithOutputPaths sets the file paths Prove persists its artifacts to.
// Leaving either unset skips persisting that artifact, which is useful
// when a caller only wants the in-memory Proof value.
func (f *Facade) WithOutputPaths(vadcopPath, snarkPath string) *Facade {
	f.vadcopPath = vadcopPath
	f.snarkPath = snarkPath
	return f
}

// Stats reports the attached profiler's totals and ranked rare-opcode
// counts, the data the text report is rendered from.
func (f *Facade) Stats() (totalSteps, totalCost uint64, ranked []profiler.OpcodeRank) {
	if f.profiler == nil {
		return 0, 0, nil
	}
	return f.profiler.TotalSteps(), f.profiler.TotalCost(), f.profiler.RankOpcodes()
}

// Setup translates elfPath, computes and registers the ROM's Merkle
// verification key, starts the assembly backend's micro-services (Asm
// backend only), and loads+registers a witness library.
func (f *Facade) Setup(ctx context.Context, elfPath string) error {
	if f.translator == nil {
		return fmt.Errorf("prover: no ELFTranslator configured")
	}

	rom, err := f.translator.Translate(ctx, elfPath)
	if err != nil {
		return fmt.Errorf("prover: translate: %w", err)
	}
	if rom.MerkleKeyPath == "" {
		return fmt.Errorf("prover: translated ROM has no Merkle key path")
	}
	f.manager.RegisterCommit("rom", rom.MerkleKeyPath)
	f.rom = &rom

	if f.backend == BackendAsm {
		svc, err := startASMServices(f.asmCfg)
		if err != nil {
			return fmt.Errorf("prover: start asm services: %w", err)
		}
		f.asmServices = svc
	}

	return f.witnessCell.register(WitnessLibrary{Name: rom.Name + "-witness"})
}

// ExecutionResult is the summary Execute returns.
type ExecutionResult struct {
	TotalSteps uint64
}

// Execute runs the emulator over stdin without generating a proof.
func (f *Facade) Execute(ctx context.Context, stdin []byte) (ExecutionResult, error) {
	if f.rom == nil {
		return ExecutionResult{}, fmt.Errorf("prover: Setup must run before Execute")
	}
	if f.emulator == nil {
		return ExecutionResult{}, nil
	}
	steps, err := f.emulator.Run(ctx, *f.rom, stdin)
	if err != nil {
		return ExecutionResult{}, fmt.Errorf("prover: execute: %w", err)
	}
	return ExecutionResult{TotalSteps: steps}, nil
}

// VerifyConstraints runs the emulator and checks constraint satisfaction
// without producing a proof. Only valid when the Facade was built with
// VerifyConstraints(); the typestate chain makes calling it on a
// WitnessOnly/Prove facade a caller bug, reported rather than panicked
// since Setup/ELF errors already use the error-return convention.
func (f *Facade) VerifyConstraints(ctx context.Context, stdin []byte) error {
	if f.operation != OperationVerifyConstraints {
		return fmt.Errorf("prover: facade was not built with VerifyConstraints()")
	}
	if f.rom == nil {
		return fmt.Errorf("prover: Setup must run before VerifyConstraints")
	}
	if f.emulator != nil {
		if _, err := f.emulator.Run(ctx, *f.rom, stdin); err != nil {
			return fmt.Errorf("prover: verify constraints: %w", err)
		}
	}
	return nil
}

// SnarkProtocol is the 64-bit protocol id a SNARK-wrapper finalize call is
// matched by.
type SnarkProtocol uint64

const (
	SnarkProtocolNone   SnarkProtocol = 0
	SnarkProtocolPlonk  SnarkProtocol = 1
	SnarkProtocolFflonk SnarkProtocol = 2
)

// Proof is the prove operation's output: a Vadcop proof, optionally
// wrapped into a SNARK proof.
type Proof struct {
	VadcopProof   []byte
	Compressed    bool
	ExecutedSteps uint64
	SnarkProtocol SnarkProtocol
	SnarkProof    []byte
}

// Prove runs the witness pass (the attached emulator, if any) and the prove
// step on a facade that Setup has already configured, and optionally
// finalizes with a SNARK-wrapper conversion. Only valid on a facade built
// with Prove().
func (f *Facade) Prove(ctx context.Context, stdin []byte, snark SnarkProtocol) (*Proof, error) {
	if f.operation != OperationProve {
		return nil, fmt.Errorf("prover: facade was not built with Prove()")
	}
	if f.rom == nil {
		return nil, fmt.Errorf("prover: Setup must run before Prove")
	}
	if _, ok := f.witnessCell.get(); !ok {
		return nil, fmt.Errorf("prover: no witness library registered")
	}

	proof := &Proof{SnarkProtocol: snark}
	if f.emulator != nil {
		steps, err := f.emulator.Run(ctx, *f.rom, stdin)
		if err != nil {
			return nil, fmt.Errorf("prover: witness run: %w", err)
		}
		proof.ExecutedSteps = steps
	}
	proof.VadcopProof = f.manager.proveWitness(f.rom, proof.ExecutedSteps)

	if f.vadcopPath != "" {
		if err := proofio.SaveVadcop(f.vadcopPath, proofio.VadcopProof{
			Proof:      proof.VadcopProof,
			Compressed: proof.Compressed,
		}); err != nil {
			return nil, fmt.Errorf("prover: save vadcop proof: %w", err)
		}
	}

	if snark != SnarkProtocolNone {
		wrapped, err := finalizeSnark(snark, proof.VadcopProof)
		if err != nil {
			return nil, fmt.Errorf("prover: snark finalize: %w", err)
		}
		proof.SnarkProof = wrapped

		if f.snarkPath != "" {
			if err := proofio.SaveSnark(f.snarkPath, proofio.SnarkProof{
				Proof:      proof.SnarkProof,
				ProtocolID: uint64(snark),
			}); err != nil {
				return nil, fmt.Errorf("prover: save snark proof: %w", err)
			}
		}
	}
	return proof, nil
}

func finalizeSnark(protocol SnarkProtocol, vadcop []byte) ([]byte, error) {
	switch protocol {
	case SnarkProtocolPlonk, SnarkProtocolFflonk:
		// The SNARK-wrapper format conversion itself is an external
		// collaborator; this stub is the seam a real conversion
		// plugs into.
		out := make([]byte, len(vadcop))
		copy(out, vadcop)
		return out, nil
	default:
		return nil, fmt.Errorf("prover: unknown snark protocol id %d", protocol)
	}
}
