package device

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bn254"
)

// ECRecoverStatus reports why a recovery succeeded or failed,
// distinguishing "recovery id out of range" and "zero scalar" from the
// broader "not on curve" case.
type ECRecoverStatus int

const (
	ECRecoverSuccess ECRecoverStatus = iota
	ECRecoverInvalidInput
	ECRecoverPointAtInfinity
	ECRecoverNotOnCurve
	ECRecoverInvalidRecoveryID
	ECRecoverZeroScalar
)

// EcRecoverInputs is the parsed payload of an EcRecover hint: message hash,
// signature (r, s), and recovery id.
type EcRecoverInputs struct {
	Hash       [32]byte
	R, S       [32]byte
	RecoveryID uint8
}

// EcRecover recovers the secp256k1 public key that produced (r, s) over
// hash. Recovery is separate from verification against a known key.
func EcRecover(in EcRecoverInputs) (pubKeyX, pubKeyY [32]byte, status ECRecoverStatus, err error) {
	if in.RecoveryID > 3 {
		return pubKeyX, pubKeyY, ECRecoverInvalidRecoveryID, errors.New("device: recovery id out of range")
	}

	r := new(big.Int).SetBytes(in.R[:])
	s := new(big.Int).SetBytes(in.S[:])
	if r.Sign() == 0 || s.Sign() == 0 {
		return pubKeyX, pubKeyY, ECRecoverZeroScalar, errors.New("device: zero scalar in signature")
	}

	compact := make([]byte, 65)
	compact[0] = 27 + in.RecoveryID
	copy(compact[1:33], in.R[:])
	copy(compact[33:65], in.S[:])

	pub, _, err := ecdsa.RecoverCompact(compact, in.Hash[:])
	if err != nil {
		return pubKeyX, pubKeyY, ECRecoverNotOnCurve, err
	}

	pt := pub.ToECDSA()
	pt.X.FillBytes(pubKeyX[:])
	pt.Y.FillBytes(pubKeyY[:])
	return pubKeyX, pubKeyY, ECRecoverSuccess, nil
}

// ScalarMulDoubleAdd computes scalar * P on BN254 G1 one bit at a time,
// the way the scalar-mul witness table walks the scalar, reconstructing
// the scalar from the bits it consumed as it goes. A reconstruction
// mismatch means the walk dropped or duplicated a bit — a broken prover,
// not a recoverable input error — so it panics.
func ScalarMulDoubleAdd(p bn254.G1Affine, scalar *big.Int) (bn254.G1Affine, error) {
	if !p.IsOnCurve() {
		return bn254.G1Affine{}, errors.New("device: point not on BN254 curve")
	}
	if scalar.Sign() <= 0 {
		return bn254.G1Affine{}, errors.New("device: scalar must be positive")
	}

	var acc bn254.G1Jac
	reconstructed := new(big.Int)
	for i := scalar.BitLen() - 1; i >= 0; i-- {
		acc.DoubleAssign()
		reconstructed.Lsh(reconstructed, 1)
		if scalar.Bit(i) == 1 {
			acc.AddMixed(&p)
			reconstructed.SetBit(reconstructed, 0, 1)
		}
	}

	if reconstructed.Cmp(scalar) != 0 {
		panic(fmt.Sprintf("device: scalar reconstruction mismatch: walked %s, input %s", reconstructed, scalar))
	}

	var out bn254.G1Affine
	out.FromJacobian(&acc)
	return out, nil
}

// BN254ScalarMul computes scalar * P on the BN254 G1 subgroup, used as the
// witness-table generator backing the curve scalar-mul device.
func BN254ScalarMul(px, py *big.Int, scalar *big.Int) (x, y *big.Int, err error) {
	var p bn254.G1Affine
	p.X.SetBigInt(px)
	p.Y.SetBigInt(py)
	if !p.IsOnCurve() {
		return nil, nil, errors.New("device: point not on BN254 curve")
	}

	var q bn254.G1Affine
	q.ScalarMultiplication(&p, scalar)

	x = new(big.Int)
	y = new(big.Int)
	q.X.BigInt(x)
	q.Y.BigInt(y)
	return x, y, nil
}

// BN254Pairing computes the BN254 optimal-ate pairing of (p, q), used as the
// witness-table generator backing the Miller-loop pairing device.
func BN254Pairing(p bn254.G1Affine, q bn254.G2Affine) (bn254.GT, error) {
	return bn254.Pair([]bn254.G1Affine{p}, []bn254.G2Affine{q})
}

// BLS12381ScalarMul computes scalar * P on the BLS12-381 G1 subgroup.
func BLS12381ScalarMul(px, py *big.Int, scalar *big.Int) (x, y *big.Int, err error) {
	var p bls12381.G1Affine
	p.X.SetBigInt(px)
	p.Y.SetBigInt(py)
	if !p.IsOnCurve() {
		return nil, nil, errors.New("device: point not on BLS12-381 curve")
	}

	var q bls12381.G1Affine
	q.ScalarMultiplication(&p, scalar)

	x = new(big.Int)
	y = new(big.Int)
	q.X.BigInt(x)
	q.Y.BigInt(y)
	return x, y, nil
}

// BLS12381Pairing computes the BLS12-381 optimal-ate pairing of (p, q).
func BLS12381Pairing(p bls12381.G1Affine, q bls12381.G2Affine) (bls12381.GT, error) {
	return bls12381.Pair([]bls12381.G1Affine{p}, []bls12381.G2Affine{q})
}
