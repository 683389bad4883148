package prover

import "testing"

func TestManagerCommRejectsSizeMismatch(t *testing.T) {
	m := &Manager{commits: make(map[string]string)}

	if _, err := m.Comm(4); err != nil {
		t.Fatalf("Comm: %v", err)
	}
	if _, err := m.Comm(2); err == nil {
		t.Fatal("expected error re-requesting a communicator with a different size")
	}
	if c, err := m.Comm(4); err != nil || c.Size() != 4 {
		t.Fatalf("expected the same size-4 communicator back, got %v, err=%v", c, err)
	}
}

func TestWitnessCellRegistersOnce(t *testing.T) {
	cell := &witnessCell{}

	if err := cell.register(WitnessLibrary{Name: "first"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := cell.register(WitnessLibrary{Name: "second"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	lib, ok := cell.get()
	if !ok || lib.Name != "first" {
		t.Fatalf("expected first registration to stick, got %+v (ok=%v)", lib, ok)
	}
}
