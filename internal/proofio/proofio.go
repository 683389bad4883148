// Package proofio persists the two proof artifact shapes: the final
// Vadcop proof {proof, compressed} and the SNARK-wrapped proof {proof,
// protocol_id}.
//
// Both are gob-encoded behind a one-byte discriminator tag. Decode-and-
// see discrimination is unsound with gob: it matches by field name and
// ignores unmatched fields, so decoding a SnarkProof's bytes as a
// VadcopProof silently succeeds (both carry a "Proof []byte" field) and
// returns a wrong-but-well-formed value. The explicit tag removes the
// ambiguity.
package proofio

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
)

// VadcopProof is the top-level aggregated proof before SNARK wrapping.
type VadcopProof struct {
	Proof      []byte
	Compressed bool
}

// SnarkProof is a SNARK-wrapped proof, tagged with the wrapper's 64-bit
// protocol id (Plonk/Fflonk).
type SnarkProof struct {
	Proof      []byte
	ProtocolID uint64
}

type kind uint8

const (
	kindVadcop kind = iota
	kindSnark
)

type envelope struct {
	Kind   kind
	Vadcop VadcopProof
	Snark  SnarkProof
}

func save(path string, env envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("proofio: encode: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// SaveVadcop writes p to path.
func SaveVadcop(path string, p VadcopProof) error {
	return save(path, envelope{Kind: kindVadcop, Vadcop: p})
}

// SaveSnark writes p to path.
func SaveSnark(path string, p SnarkProof) error {
	return save(path, envelope{Kind: kindSnark, Snark: p})
}

// Loaded is the union Load returns: exactly one of Vadcop/Snark is
// non-nil, picked by the envelope's tag.
type Loaded struct {
	Vadcop *VadcopProof
	Snark  *SnarkProof
}

// Load reads and discriminates the proof artifact at path.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("proofio: read: %w", err)
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return Loaded{}, fmt.Errorf("proofio: decode: %w", err)
	}

	switch env.Kind {
	case kindVadcop:
		v := env.Vadcop
		return Loaded{Vadcop: &v}, nil
	case kindSnark:
		s := env.Snark
		return Loaded{Snark: &s}, nil
	default:
		return Loaded{}, fmt.Errorf("proofio: unknown envelope kind %d", env.Kind)
	}
}
