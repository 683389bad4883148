package device

import (
	"crypto/sha256"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
	"golang.org/x/crypto/sha3"
)

// Hash precompile opcodes on the operation bus.
const (
	OpSha256 uint32 = iota + 0x20
	OpKeccak256
	OpPoseidon2
)

// Sha256Digest hashes data with SHA-256.
func Sha256Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Keccak256Digest hashes data with legacy Keccak-256 (the pre-NIST padding
// variant used by the EVM).
func Keccak256Digest(data []byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Poseidon2 permutation parameters over the BN254 scalar field: width 3,
// 8 full rounds, 56 partial rounds.
const (
	poseidon2Width         = 3
	poseidon2FullRounds    = 8
	poseidon2PartialRounds = 56
)

var poseidon2Perm = poseidon2.NewPermutation(poseidon2Width, poseidon2FullRounds, poseidon2PartialRounds)

// Poseidon2Permute applies the Poseidon2 permutation to a state of
// poseidon2Width field elements, each given as 4 little-endian u64 limbs.
// Limb values are reduced into the BN254 scalar field on the way in.
func Poseidon2Permute(words []uint64) ([]uint64, error) {
	if len(words) != poseidon2Width*4 {
		return nil, fmt.Errorf("device: poseidon2 state must be %d words, got %d", poseidon2Width*4, len(words))
	}

	state := make([]fr.Element, poseidon2Width)
	for i := range state {
		var limbs [4]uint64
		copy(limbs[:], words[i*4:i*4+4])
		state[i].SetBytes(limbsToBytes32(limbs))
	}

	if err := poseidon2Perm.Permutation(state); err != nil {
		return nil, fmt.Errorf("device: poseidon2 permutation: %w", err)
	}

	out := make([]uint64, poseidon2Width*4)
	for i := range state {
		b := state[i].Bytes()
		for j := 0; j < 4; j++ {
			var w uint64
			for k := 0; k < 8; k++ {
				w = w<<8 | uint64(b[8*j+k])
			}
			// big-endian word order back to little-endian limb order
			out[i*4+3-j] = w
		}
	}
	return out, nil
}

// HashGenerator is the witness-table generator for the hash precompiles.
// Each input operation's Extra carries the message words; the emitted row
// is the input words followed by the digest words.
type HashGenerator struct{}

func (HashGenerator) ComputeWitness(inputs []Operation, buffer *AirInstance) (AirInstance, error) {
	if buffer == nil {
		buffer = &AirInstance{}
	}
	buffer.Name = "hash"
	buffer.Rows = buffer.Rows[:0]

	for _, op := range inputs {
		var digest []uint64
		switch op.Opcode {
		case OpSha256:
			digest = digestWords(Sha256Digest(wordsToBytes(op.Extra)))
		case OpKeccak256:
			digest = digestWords(Keccak256Digest(wordsToBytes(op.Extra)))
		case OpPoseidon2:
			var err error
			digest, err = Poseidon2Permute(op.Extra)
			if err != nil {
				return AirInstance{}, err
			}
		default:
			return AirInstance{}, fmt.Errorf("device: hash generator got non-hash opcode %d", op.Opcode)
		}

		row := make([]uint64, 0, len(op.Extra)+len(digest))
		row = append(row, op.Extra...)
		row = append(row, digest...)
		buffer.Rows = append(buffer.Rows, row)
	}

	return *buffer, nil
}

func wordsToBytes(words []uint64) []byte {
	out := make([]byte, 0, len(words)*8)
	for _, w := range words {
		for i := 0; i < 8; i++ {
			out = append(out, byte(w>>(8*i)))
		}
	}
	return out
}

func digestWords(digest [32]byte) []uint64 {
	out := make([]uint64, 4)
	for i := 0; i < 4; i++ {
		var w uint64
		for j := 0; j < 8; j++ {
			w |= uint64(digest[8*i+j]) << (8 * j)
		}
		out[i] = w
	}
	return out
}

// NewHashCounter builds the counter-mode device for the three hash
// precompiles.
func NewHashCounter() *OpcodeCounter {
	return NewOpcodeCounter(OpSha256, OpKeccak256, OpPoseidon2)
}
