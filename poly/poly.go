// Package poly holds the polynomial primitives shared by the spectral
// factorizer and the autocovariance construction: autocorrelation of a
// coefficient vector, root extraction via companion-matrix eigenvalues,
// and expansion/evaluation of polynomials in ascending-power form.
package poly

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

var ErrDegree = errors.New("poly: polynomial of degree < 1 has no roots")
var ErrNoConvergence = errors.New("poly: eigenvalue iteration did not converge")

// Autocorrelation returns the symmetric sequence of length 2n+1 with
//
//	out[n-i] = out[n+i] = sum_j c[j] * c[j+i]
//
// for i = 0..n, where n = len(c)-1. These are the coefficients of
// c(z)*c(1/z), the generating sequence of the Toeplitz form induced by c.
func Autocorrelation(c []float64) []float64 {
	n := len(c) - 1
	out := make([]float64, 2*n+1)
	for i := 0; i <= n; i++ {
		v := 0.0
		for j := 0; j+i <= n; j++ {
			v += c[j] * c[j+i]
		}
		out[n-i] = v
		out[n+i] = v
	}
	return out
}

// Roots returns all roots of the polynomial
//
//	coeffs[0] + coeffs[1]*z + ... + coeffs[n]*z^n
//
// as the eigenvalues of its companion matrix. Zero leading coefficients are
// trimmed first; a polynomial of degree < 1 after trimming is an error.
func Roots(coeffs []float64) ([]complex128, error) {
	n := len(coeffs) - 1
	for n > 0 && coeffs[n] == 0 {
		n--
	}
	if n < 1 {
		return nil, ErrDegree
	}

	// Companion matrix of the monic normalization: ones on the subdiagonal,
	// -coeffs[i]/coeffs[n] in the last column.
	comp := mat.NewDense(n, n, nil)
	for i := 0; i < n-1; i++ {
		comp.Set(i+1, i, 1)
	}
	for i := 0; i < n; i++ {
		comp.Set(i, n-1, -coeffs[i]/coeffs[n])
	}

	var eig mat.Eigen
	if ok := eig.Factorize(comp, mat.EigenNone); !ok {
		return nil, ErrNoConvergence
	}
	return eig.Values(nil), nil
}

// FromRoots expands prod_i (z - roots[i]) into monic ascending coefficients.
func FromRoots(roots []complex128) []complex128 {
	out := make([]complex128, 1, len(roots)+1)
	out[0] = 1
	for _, r := range roots {
		out = append(out, 0)
		for i := len(out) - 1; i > 0; i-- {
			out[i] = out[i-1] - r*out[i]
		}
		out[0] = -r * out[0]
	}
	return out
}

// Eval evaluates an ascending-coefficient polynomial at z by Horner's rule.
func Eval(coeffs []complex128, z complex128) complex128 {
	var v complex128
	for i := len(coeffs) - 1; i >= 0; i-- {
		v = v*z + coeffs[i]
	}
	return v
}
