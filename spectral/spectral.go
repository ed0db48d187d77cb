// Package spectral factors the characteristic polynomial of a symmetric
// autocovariance sequence phi into its stable (minimum-phase) part.
//
// The polynomial with coefficients phi is self-reciprocal, so its 2m roots
// pair up as z and 1/z. Factorize keeps the m roots outside the unit circle;
// from those, CCoeffs derives the coefficients of the stable factor c(z)
// with c(z)*c(1/z) generating phi, and Decay the closed-form decay constants
// {lambda_j, A_j} of the associated homogeneous Euler equation.
package spectral

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"github.com/qfevre/golq/poly"
)

var ErrFactorization = errors.New("spectral: factorization failed")

// Numeric tolerances for the root partition and the symmetry precondition.
const (
	symTol   = 1e-9
	rootTol  = 1e-8
	denomTol = 1e-12
)

// Factorization is the root-side decomposition of an autocovariance
// sequence: the outside-unit-circle roots of its characteristic polynomial,
// their reciprocals, and the normalization constant Z0 matching the total
// mass of phi at z = 1.
type Factorization struct {
	Z       []complex128 // roots with |z| > 1, sorted by descending modulus
	Z0      complex128   // sum(phi) / prod_i (1 - root_i) over all 2m roots
	Lambdas []complex128 // 1 / Z[i]
	m       int
}

// Factorize extracts the 2m roots of the characteristic polynomial built
// from phi (length 2m+1, symmetric about the center) and partitions them by
// modulus. The symmetry of phi and the resulting z <-> 1/z pairing of the
// roots are asserted, not assumed: a violation, a degenerate (repeated)
// outside root, or a root at z = 1 all return ErrFactorization.
func Factorize(phi []float64) (*Factorization, error) {
	m := (len(phi) - 1) / 2
	if len(phi) < 3 || len(phi)%2 == 0 {
		return nil, fmt.Errorf("spectral: phi must have odd length >= 3, got %d: %w",
			len(phi), ErrFactorization)
	}
	scale := 0.0
	for _, v := range phi {
		scale = math.Max(scale, math.Abs(v))
	}
	for i := 0; i <= m; i++ {
		if math.Abs(phi[m-i]-phi[m+i]) > symTol*scale {
			return nil, fmt.Errorf("spectral: phi is not symmetric at lag %d: %w",
				i, ErrFactorization)
		}
	}

	roots, err := poly.Roots(phi)
	if err != nil {
		return nil, fmt.Errorf("spectral: characteristic roots: %w", ErrFactorization)
	}
	sort.Slice(roots, func(i, j int) bool {
		return cmplx.Abs(roots[i]) > cmplx.Abs(roots[j])
	})
	if len(roots) < m {
		return nil, fmt.Errorf("spectral: expected %d roots, got %d: %w",
			2*m, len(roots), ErrFactorization)
	}

	// sum(phi) / prod(1 - root_i) pins c(1)^2 to phi's mass at z = 1.
	den := complex(1, 0)
	for _, r := range roots {
		den *= 1 - r
	}
	if cmplx.Abs(den) < denomTol {
		return nil, fmt.Errorf("spectral: root at z = 1: %w", ErrFactorization)
	}
	sum := 0.0
	for _, v := range phi {
		sum += v
	}

	z := make([]complex128, m)
	copy(z, roots[:m])
	lambdas := make([]complex128, m)
	for i, zi := range z {
		if cmplx.Abs(zi) < 1-rootTol {
			return nil, fmt.Errorf("spectral: root %v inside the unit circle in the outside partition: %w",
				zi, ErrFactorization)
		}
		for j := 0; j < i; j++ {
			if cmplx.Abs(zi-z[j]) < rootTol*(1+cmplx.Abs(zi)) {
				return nil, fmt.Errorf("spectral: repeated root %v: %w", zi, ErrFactorization)
			}
		}
		lambdas[i] = 1 / zi
	}

	return &Factorization{
		Z:       z,
		Z0:      complex(sum, 0) / den,
		Lambdas: lambdas,
		m:       m,
	}, nil
}

// CCoeffs returns the ascending coefficients of the stable factor c(z),
// scaled so that the constant term is c_0 = sqrt(Z0 * prod(Z) * (-1)^m).
// A non-real or non-positive radicand means phi is not a valid
// positive-definite autocovariance sequence.
func (f *Factorization) CCoeffs() ([]complex128, error) {
	prod := complex(1, 0)
	for _, zi := range f.Z {
		prod *= zi
	}
	c0sq := f.Z0 * prod
	if f.m%2 == 1 {
		c0sq = -c0sq
	}
	if math.Abs(imag(c0sq)) > rootTol*(1+cmplx.Abs(c0sq)) || real(c0sq) <= 0 {
		return nil, fmt.Errorf("spectral: c_0^2 = %v is not real positive: %w",
			c0sq, ErrFactorization)
	}
	c0 := math.Sqrt(real(c0sq))

	coeffs := poly.FromRoots(f.Z)
	s := f.Z0 / complex(c0, 0)
	for i := range coeffs {
		coeffs[i] *= s
	}
	return coeffs, nil
}

// Decay returns the decay rates lambda_j = 1/z_j together with the residues
//
//	A_j = c_0^{-2} / prod_{i != j} (1 - lambda_i/lambda_j)
//
// of the partial-fraction expansion of 1/(c(z)c(1/z)), so that the
// homogeneous solution decays as sum_j A_j lambda_j^t.
func (f *Factorization) Decay() (lambdas, A []complex128, err error) {
	coeffs, err := f.CCoeffs()
	if err != nil {
		return nil, nil, err
	}
	c0 := coeffs[0]

	A = make([]complex128, f.m)
	for j := range A {
		den := complex(1, 0)
		for i, li := range f.Lambdas {
			if i == j {
				continue
			}
			den *= 1 - li/f.Lambdas[j]
		}
		den *= c0 * c0
		if cmplx.Abs(den) < denomTol {
			return nil, nil, fmt.Errorf("spectral: coincident decay rates at j = %d: %w",
				j, ErrFactorization)
		}
		A[j] = 1 / den
	}
	return f.Lambdas, A, nil
}
