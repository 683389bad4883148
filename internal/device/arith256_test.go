package device

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func words(v uint64) []uint64 { return []uint64{v, 0, 0, 0} }

func TestWPow256Identities(t *testing.T) {
	require.Equal(t, words(1), WPow256(words(2), words(0)))
	require.Equal(t, words(1), WPow256(words(0), words(0)))
	require.Equal(t, words(0), WPow256(words(0), words(5)))
	require.Equal(t, words(9), WPow256(words(3), words(2)))
}

func TestWPow256MatchesUint256Exp(t *testing.T) {
	for _, tc := range []struct{ a, e uint64 }{
		{2, 64}, {3, 41}, {7, 13}, {0xFFFF_FFFF, 9},
	} {
		want := new(uint256.Int).Exp(uint256.NewInt(tc.a), uint256.NewInt(tc.e))
		require.Equal(t, u256ToWords(want), WPow256(words(tc.a), words(tc.e)), "a=%d e=%d", tc.a, tc.e)
	}
}

func TestDivRem256Property(t *testing.T) {
	// b*q + r = a and r < b for every pair, checked through the same limb
	// representation the hint payloads use.
	for _, tc := range []struct{ a, b uint64 }{
		{100, 7}, {7, 100}, {1, 1}, {0, 3}, {1 << 63, 10},
	} {
		q, r := DivRem256(words(tc.a), words(tc.b))

		qv, rv, bv := u256FromWords(q), u256FromWords(r), u256FromWords(words(tc.b))
		check := new(uint256.Int).Mul(bv, qv)
		check.Add(check, rv)
		require.Equal(t, u256FromWords(words(tc.a)), check, "a=%d b=%d", tc.a, tc.b)
		require.True(t, rv.Lt(bv), "remainder must be < divisor")
	}
}

func TestDivRem256ByZeroPanics(t *testing.T) {
	require.Panics(t, func() { DivRem256(words(1), words(0)) })
}

func TestAddMulMod256(t *testing.T) {
	require.Equal(t, words(2), AddMod256(words(5), words(4), words(7)))
	require.Equal(t, words(6), MulMod256(words(5), words(4), words(7)))
	require.Equal(t, words(3), RedMod256(words(10), words(7)))
}

func TestWMul256WrapsAt256Bits(t *testing.T) {
	maxWord := ^uint64(0)
	all := []uint64{maxWord, maxWord, maxWord, maxWord}
	// (2^256 - 1) * 2 wraps to 2^256 - 2.
	got := WMul256(all, words(2))
	require.Equal(t, []uint64{maxWord - 1, maxWord, maxWord, maxWord}, got)
	require.Equal(t, got, OMul256(all, words(2)))
}
