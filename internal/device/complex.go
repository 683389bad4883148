package device

import (
	bls12381fp "github.com/consensys/gnark-crypto/ecc/bls12-381/fp"
	bn254fp "github.com/consensys/gnark-crypto/ecc/bn254/fp"
)

// ComplexBN254 is an element of the BN254 quadratic extension
// Fp2 = Fp[u]/(u^2 + 1), the base field of the G2 twist. Re + Im*u.
type ComplexBN254 struct {
	Re, Im bn254fp.Element
}

// Add sets z = x + y and returns z.
func (z *ComplexBN254) Add(x, y *ComplexBN254) *ComplexBN254 {
	z.Re.Add(&x.Re, &y.Re)
	z.Im.Add(&x.Im, &y.Im)
	return z
}

// Sub sets z = x - y and returns z.
func (z *ComplexBN254) Sub(x, y *ComplexBN254) *ComplexBN254 {
	z.Re.Sub(&x.Re, &y.Re)
	z.Im.Sub(&x.Im, &y.Im)
	return z
}

// Mul sets z = x * y and returns z, using u^2 = -1:
// (a + bu)(c + du) = (ac - bd) + (ad + bc)u.
func (z *ComplexBN254) Mul(x, y *ComplexBN254) *ComplexBN254 {
	var ac, bd, ad, bc bn254fp.Element
	ac.Mul(&x.Re, &y.Re)
	bd.Mul(&x.Im, &y.Im)
	ad.Mul(&x.Re, &y.Im)
	bc.Mul(&x.Im, &y.Re)

	z.Re.Sub(&ac, &bd)
	z.Im.Add(&ad, &bc)
	return z
}

// ComplexBLS12381 is an element of the BLS12-381 quadratic extension
// Fp2 = Fp[u]/(u^2 + 1).
type ComplexBLS12381 struct {
	Re, Im bls12381fp.Element
}

// Add sets z = x + y and returns z.
func (z *ComplexBLS12381) Add(x, y *ComplexBLS12381) *ComplexBLS12381 {
	z.Re.Add(&x.Re, &y.Re)
	z.Im.Add(&x.Im, &y.Im)
	return z
}

// Sub sets z = x - y and returns z.
func (z *ComplexBLS12381) Sub(x, y *ComplexBLS12381) *ComplexBLS12381 {
	z.Re.Sub(&x.Re, &y.Re)
	z.Im.Sub(&x.Im, &y.Im)
	return z
}

// Mul sets z = x * y and returns z.
func (z *ComplexBLS12381) Mul(x, y *ComplexBLS12381) *ComplexBLS12381 {
	var ac, bd, ad, bc bls12381fp.Element
	ac.Mul(&x.Re, &y.Re)
	bd.Mul(&x.Im, &y.Im)
	ad.Mul(&x.Re, &y.Im)
	bc.Mul(&x.Im, &y.Re)

	z.Re.Sub(&ac, &bd)
	z.Im.Add(&ad, &bc)
	return z
}
