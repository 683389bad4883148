package prover

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rubo/ziskgo/internal/proofio"
)

type fakeTranslator struct {
	rom ROM
	err error
}

func (f fakeTranslator) Translate(ctx context.Context, elfPath string) (ROM, error) {
	return f.rom, f.err
}

func TestProveWithoutSetupErrors(t *testing.T) {
	facade := NewBuilder().Pure().Prove()
	if _, err := facade.Prove(context.Background(), nil, SnarkProtocolNone); err == nil {
		t.Fatal("expected error calling Prove before Setup")
	}
}

func TestVerifyConstraintsRejectsWrongOperation(t *testing.T) {
	facade := NewBuilder().Pure().Prove()
	if err := facade.VerifyConstraints(context.Background(), nil); err == nil {
		t.Fatal("expected error calling VerifyConstraints on a Prove-built facade")
	}
}

func TestSetupRequiresTranslator(t *testing.T) {
	facade := NewBuilder().Pure().WitnessOnly()
	if err := facade.Setup(context.Background(), "rom.elf"); err == nil {
		t.Fatal("expected error with no translator configured")
	}
}

func TestSetupRegistersRomCommit(t *testing.T) {
	dir := t.TempDir()
	merkleKey := filepath.Join(dir, "rom.merkle")

	facade := NewBuilder().Pure().WitnessOnly().WithTranslator(fakeTranslator{
		rom: ROM{Name: "test-rom", MerkleKeyPath: merkleKey},
	})

	if err := facade.Setup(context.Background(), "rom.elf"); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	path, ok := facade.manager.Commit("rom")
	if !ok || path != merkleKey {
		t.Fatalf("expected rom commit %q, got %q (ok=%v)", merkleKey, path, ok)
	}
}

func TestProvePersistsVadcopAndSnark(t *testing.T) {
	dir := t.TempDir()
	vadcopPath := filepath.Join(dir, "vadcop.bin")
	snarkPath := filepath.Join(dir, "snark.bin")

	facade := NewBuilder().Pure().Prove().
		WithTranslator(fakeTranslator{rom: ROM{Name: "r", MerkleKeyPath: filepath.Join(dir, "rom.merkle")}}).
		WithOutputPaths(vadcopPath, snarkPath)

	if err := facade.Setup(context.Background(), "rom.elf"); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	proof, err := facade.Prove(context.Background(), nil, SnarkProtocolPlonk)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if proof.SnarkProtocol != SnarkProtocolPlonk {
		t.Fatalf("expected plonk protocol, got %v", proof.SnarkProtocol)
	}

	loadedVadcop, err := proofio.Load(vadcopPath)
	if err != nil {
		t.Fatalf("Load vadcop: %v", err)
	}
	if loadedVadcop.Vadcop == nil {
		t.Fatal("expected a vadcop artifact on disk")
	}

	loadedSnark, err := proofio.Load(snarkPath)
	if err != nil {
		t.Fatalf("Load snark: %v", err)
	}
	if loadedSnark.Snark == nil || loadedSnark.Snark.ProtocolID != uint64(SnarkProtocolPlonk) {
		t.Fatalf("expected plonk-tagged snark artifact on disk, got %+v", loadedSnark.Snark)
	}
}

func TestStatsWithNoProfilerIsZero(t *testing.T) {
	facade := NewBuilder().Pure().WitnessOnly()
	steps, cost, ranked := facade.Stats()
	if steps != 0 || cost != 0 || ranked != nil {
		t.Fatalf("expected zero stats with no profiler attached, got steps=%d cost=%d ranked=%v", steps, cost, ranked)
	}
}

func TestAsmBuilderStartsMicroServices(t *testing.T) {
	dir := t.TempDir()
	facade := NewBuilder().Asm(AsmConfig{BasePort: 9000, LocalRank: 1}).WitnessOnly().
		WithTranslator(fakeTranslator{rom: ROM{Name: "r", MerkleKeyPath: filepath.Join(dir, "rom.merkle")}})

	if err := facade.Setup(context.Background(), "rom.elf"); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if facade.asmServices == nil {
		t.Fatal("expected asm services to be started")
	}
}

func TestAsmBuilderRejectsNonPositiveBasePort(t *testing.T) {
	dir := t.TempDir()
	facade := NewBuilder().Asm(AsmConfig{}).WitnessOnly().
		WithTranslator(fakeTranslator{rom: ROM{Name: "r", MerkleKeyPath: filepath.Join(dir, "rom.merkle")}})

	if err := facade.Setup(context.Background(), "rom.elf"); err == nil {
		t.Fatal("expected error for zero BasePort")
	}
}
