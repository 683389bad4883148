package device

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Arith256Op names a 256-bit arithmetic hint/precompile operation.
type Arith256Op int

const (
	OpRedMod256 Arith256Op = iota
	OpAddMod256
	OpMulMod256
	OpDivRem256
	OpWPow256
	OpOMul256
	OpWMul256
)

// u256FromWords interprets 4 little-endian u64 limbs as a uint256.Int.
func u256FromWords(words []uint64) *uint256.Int {
	var limbs [4]uint64
	copy(limbs[:], words)
	return new(uint256.Int).SetBytes32(limbsToBytes32(limbs))
}

func limbsToBytes32(limbs [4]uint64) []byte {
	var b [32]byte
	for i := 0; i < 4; i++ {
		// big-endian word order, matching uint256.Int.Bytes32 layout
		put64BE(b[24-8*i:32-8*i], limbs[i])
	}
	return b[:]
}

func put64BE(dst []byte, v uint64) {
	for i := 0; i < 8; i++ {
		dst[7-i] = byte(v >> (8 * i))
	}
}

func u256ToWords(v *uint256.Int) []uint64 {
	b := v.Bytes32()
	words := make([]uint64, 4)
	for i := 0; i < 4; i++ {
		var w uint64
		for j := 0; j < 8; j++ {
			w = w<<8 | uint64(b[8*i+j])
		}
		words[3-i] = w
	}
	return words
}

// RedMod256 computes a mod m.
func RedMod256(a, m []uint64) []uint64 {
	av, mv := u256FromWords(a), u256FromWords(m)
	return u256ToWords(new(uint256.Int).Mod(av, mv))
}

// AddMod256 computes (a + b) mod m.
func AddMod256(a, b, m []uint64) []uint64 {
	av, bv, mv := u256FromWords(a), u256FromWords(b), u256FromWords(m)
	return u256ToWords(new(uint256.Int).AddMod(av, bv, mv))
}

// MulMod256 computes (a * b) mod m.
func MulMod256(a, b, m []uint64) []uint64 {
	av, bv, mv := u256FromWords(a), u256FromWords(b), u256FromWords(m)
	return u256ToWords(new(uint256.Int).MulMod(av, bv, mv))
}

// DivRem256 computes (q, r) such that a = b*q + r, r < b.
//
// The post-check b*q+r == a is an internal-consistency invariant: a failure
// here indicates a broken prover, not a recoverable input error, so it
// panics rather than returning an error.
func DivRem256(a, b []uint64) (q, r []uint64) {
	av, bv := u256FromWords(a), u256FromWords(b)
	if bv.IsZero() {
		panic("device: divrem256 by zero")
	}
	qv := new(uint256.Int).Div(av, bv)
	rv := new(uint256.Int).Mod(av, bv)

	check := new(uint256.Int).Mul(bv, qv)
	check.Add(check, rv)
	if !check.Eq(av) {
		panic(fmt.Sprintf("device: divrem256 post-check failed: b*q+r != a (a=%s b=%s q=%s r=%s)", av, bv, qv, rv))
	}

	return u256ToWords(qv), u256ToWords(rv)
}

// WPow256 computes a^e mod 2^256 (wrapping exponentiation) via
// square-and-multiply.
//
// There is no cheap independent post-check for modular exponentiation (any
// check would just be the same algorithm again), so the square-and-multiply
// result is instead cross-checked against uint256's own Exp as a debug
// assertion (active only under the ziskdebug build tag) rather than an
// always-on panic like DivRem256's.
func WPow256(a, e []uint64) []uint64 {
	av, ev := u256FromWords(a), u256FromWords(e)

	result := uint256.NewInt(1)
	base := new(uint256.Int).Set(av)
	exp := new(uint256.Int).Set(ev)
	one := uint256.NewInt(1)
	low := new(uint256.Int)

	for !exp.IsZero() {
		if low.And(exp, one); !low.IsZero() {
			result.Mul(result, base)
		}
		base.Mul(base, base)
		exp.Rsh(exp, 1)
	}

	if arithDebugChecks {
		if want := new(uint256.Int).Exp(av, ev); !want.Eq(result) {
			panic(fmt.Sprintf("device: wpow256 cross-check failed: got %s, want %s (a=%s e=%s)", result, want, av, ev))
		}
	}

	return u256ToWords(result)
}

// OMul256 computes a * b with 256-bit overflow wraparound (the overflow
// flag itself is not surfaced; only the wrapped product is).
func OMul256(a, b []uint64) []uint64 {
	av, bv := u256FromWords(a), u256FromWords(b)
	return u256ToWords(new(uint256.Int).Mul(av, bv))
}

// WMul256 computes the wrapping (mod 2^256) product of a and b; identical in
// this implementation to OMul256 since uint256.Int arithmetic already wraps.
func WMul256(a, b []uint64) []uint64 {
	return OMul256(a, b)
}
