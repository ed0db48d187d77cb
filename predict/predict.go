// Package predict implements conditional expectation for a stationary
// scalar forcing process with a finite moving-average representation.
//
// A Process holds the autocovariance sequence phi_r of the process. Its
// covariance matrix over n periods is banded Toeplitz; conditioning on a
// partial history works through the Cholesky factor of that matrix: whiten
// the observed path, zero the innovations past the information time, and
// recolor. Under the Gaussian model the zeroed innovations are mean-zero
// and independent of the conditioning set, so the recolored path is the
// conditional expectation.
package predict

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/mat"

	"github.com/qfevre/golq/poly"
)

var ErrArgument = errors.New("predict: invalid argument")
var ErrNotPositiveDefinite = errors.New("predict: covariance is not positive definite")

// Process is the noise model of the forcing sequence: the symmetric
// autocovariance sequence phi_r (length 2k+1) of an MA(k) process.
// Immutable after construction.
type Process struct {
	phiR []float64
	k    int
}

// NewProcess builds the process from the moving-average coefficients r
// (length k+1), with an optional extra variance term hEps at lag zero.
func NewProcess(r []float64, hEps float64) (*Process, error) {
	if len(r) == 0 {
		return nil, fmt.Errorf("predict: empty coefficient vector: %w", ErrArgument)
	}
	k := len(r) - 1
	phiR := poly.Autocorrelation(r)
	phiR[k] += hEps
	return &Process{phiR: phiR, k: k}, nil
}

// K returns the moving-average order of the process.
func (p *Process) K() int {
	return p.k
}

// PhiR returns a copy of the autocovariance sequence (length 2k+1).
func (p *Process) PhiR() []float64 {
	out := make([]float64, len(p.phiR))
	copy(out, p.phiR)
	return out
}

// CovarianceMatrix returns the n-by-n Toeplitz covariance of the process:
//
//	V[i][j] = phi_r[k + |i-j|]  when |i-j| <= k, else 0.
func (p *Process) CovarianceMatrix(n int) (*mat.SymDense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("predict: covariance horizon %d is not positive: %w",
			n, ErrArgument)
	}
	v := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n && j-i <= p.k; j++ {
			v.SetSym(i, j, p.phiR[p.k+j-i])
		}
	}
	return v, nil
}

// Sample draws one path of length n+1 from N(0, V_{n+1}) by coloring
// standard normal draws from rng with the Cholesky factor of V.
func (p *Process) Sample(n int, rng *rand.Rand) ([]float64, error) {
	if rng == nil {
		return nil, fmt.Errorf("predict: nil random source: %w", ErrArgument)
	}
	if n < 0 {
		return nil, fmt.Errorf("predict: negative horizon %d: %w", n, ErrArgument)
	}
	l, err := p.cholesky(n + 1)
	if err != nil {
		return nil, err
	}
	x := blas64.Vector{N: n + 1, Inc: 1, Data: make([]float64, n+1)}
	for i := range x.Data {
		x.Data[i] = rng.NormFloat64()
	}
	// a = L eps
	blas64.Trmv(blas.NoTrans, l.RawTriangular(), x)
	return x.Data, nil
}

// Condition returns E[a | a_0..a_t] for an observed path aHist, where
// t = -1 conditions on nothing and t = len(aHist)-1 on everything:
//
//	w = L^{-1} a;  w[t+1:] = 0;  E[a | info_t] = L w.
func (p *Process) Condition(aHist []float64, t int) ([]float64, error) {
	n := len(aHist)
	if n == 0 {
		return nil, fmt.Errorf("predict: empty history: %w", ErrArgument)
	}
	if t < -1 || t >= n {
		return nil, fmt.Errorf("predict: information time %d outside [-1, %d]: %w",
			t, n-1, ErrArgument)
	}
	l, err := p.cholesky(n)
	if err != nil {
		return nil, err
	}
	w := blas64.Vector{N: n, Inc: 1, Data: make([]float64, n)}
	copy(w.Data, aHist)
	blas64.Trsv(blas.NoTrans, l.RawTriangular(), w)
	for i := t + 1; i < n; i++ {
		w.Data[i] = 0
	}
	blas64.Trmv(blas.NoTrans, l.RawTriangular(), w)
	return w.Data, nil
}

// cholesky returns the lower Cholesky factor of the n-period covariance.
func (p *Process) cholesky(n int) (*mat.TriDense, error) {
	v, err := p.CovarianceMatrix(n)
	if err != nil {
		return nil, err
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(v); !ok {
		return nil, fmt.Errorf("predict: Cholesky of the %d-period covariance failed: %w",
			n, ErrNotPositiveDefinite)
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l, nil
}
