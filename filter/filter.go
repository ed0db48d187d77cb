// Package filter solves the finite-horizon scalar linear-quadratic control
// problem
//
//	min sum_t beta^t { [d(L) y_t - a_t]^2 + h y_t^2 }
//
// with d(L) a lag polynomial of order m and m fixed pre-sample values of y.
// The first-order conditions form a banded linear system W y = a - W_m y_m
// whose generating sequence phi is the autocorrelation of d plus h at lag
// zero; LQFilter assembles that system and solves it by pivoted LU.
// Spectral factorization of phi and conditional-expectation prediction of
// the forcing sequence live in the spectral and predict packages and are
// re-exported here as methods.
package filter

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/qfevre/golq/poly"
	"github.com/qfevre/golq/predict"
	"github.com/qfevre/golq/spectral"
)

var ErrShape = errors.New("filter: invalid input shape")
var ErrDimension = errors.New("filter: dimension mismatch")
var ErrSingular = errors.New("filter: singular system matrix")

// LQFilter holds the parameters of the control problem. All derived
// quantities (the transformed coefficients, phi, the noise process) are
// computed once at construction; the value is immutable afterwards.
type LQFilter struct {
	d     []float64 // lag-polynomial coefficients, discount-transformed
	h     float64
	yM    []float64 // y_{-1}..y_{-m}, discount-transformed
	m     int
	beta  float64
	phi   []float64 // autocorrelation of d with h added at lag 0
	noise *predict.Process
}

type options struct {
	r        []float64
	hEps     float64
	hasNoise bool
	beta     float64
}

// Option configures optional parameters of New.
type Option func(*options)

// WithNoise attaches a moving-average noise model for the forcing sequence,
// with coefficients r (length k+1) and an extra variance term hEps at lag 0.
func WithNoise(r []float64, hEps float64) Option {
	return func(o *options) {
		o.r = append([]float64(nil), r...)
		o.hEps = hEps
		o.hasNoise = true
	}
}

// WithDiscount sets the discount factor beta in (0, 1]. The discounted
// problem is solved as an undiscounted one in transformed coordinates:
// d_j is scaled by beta^{j/2} and y_{-j} by beta^{-j/2}.
func WithDiscount(beta float64) Option {
	return func(o *options) {
		o.beta = beta
	}
}

// New validates the inputs and precomputes phi. It requires
// len(yM) == len(d)-1; yM is ordered y_{-1}, ..., y_{-m}.
func New(d []float64, h float64, yM []float64, opts ...Option) (*LQFilter, error) {
	o := options{beta: 1}
	for _, opt := range opts {
		opt(&o)
	}

	if len(d) == 0 {
		return nil, fmt.Errorf("filter: empty coefficient vector d: %w", ErrShape)
	}
	m := len(d) - 1
	if len(yM) != m {
		return nil, fmt.Errorf("filter: len(y_m) = %d, want m = %d: %w",
			len(yM), m, ErrShape)
	}
	if h < 0 || math.IsNaN(h) {
		return nil, fmt.Errorf("filter: weight h = %v must be non-negative: %w", h, ErrShape)
	}
	if !(o.beta > 0 && o.beta <= 1) {
		return nil, fmt.Errorf("filter: discount factor %v outside (0, 1]: %w",
			o.beta, ErrShape)
	}

	f := &LQFilter{
		d:    append([]float64(nil), d...),
		h:    h,
		yM:   append([]float64(nil), yM...),
		m:    m,
		beta: o.beta,
	}
	if f.beta != 1 {
		for j := range f.d {
			f.d[j] *= math.Pow(f.beta, float64(j)/2)
		}
		for j := range f.yM {
			// yM[j] holds y_{-(j+1)}.
			f.yM[j] *= math.Pow(f.beta, -float64(j+1)/2)
		}
	}

	f.phi = poly.Autocorrelation(f.d)
	f.phi[m] += h

	if o.hasNoise {
		noise, err := predict.NewProcess(o.r, o.hEps)
		if err != nil {
			return nil, fmt.Errorf("filter: noise model: %w", err)
		}
		f.noise = noise
	}
	return f, nil
}

// M returns the order of the lag polynomial.
func (f *LQFilter) M() int {
	return f.m
}

// Beta returns the discount factor.
func (f *LQFilter) Beta() float64 {
	return f.beta
}

// D returns a copy of the (discount-transformed) coefficient vector.
func (f *LQFilter) D() []float64 {
	return append([]float64(nil), f.d...)
}

// YM returns a copy of the (discount-transformed) initial conditions.
func (f *LQFilter) YM() []float64 {
	return append([]float64(nil), f.yM...)
}

// Phi returns a copy of the autocovariance-generating sequence (length 2m+1).
func (f *LQFilter) Phi() []float64 {
	return append([]float64(nil), f.phi...)
}

// Factorize spectrally factors phi. See spectral.Factorize.
func (f *LQFilter) Factorize() (*spectral.Factorization, error) {
	return spectral.Factorize(f.phi)
}

// CCoeffs returns the ascending coefficients of the stable factor c(z) of phi.
func (f *LQFilter) CCoeffs() ([]complex128, error) {
	fac, err := f.Factorize()
	if err != nil {
		return nil, err
	}
	return fac.CCoeffs()
}

// Decay returns the closed-form decay rates and residues {lambda_j, A_j}.
func (f *LQFilter) Decay() (lambdas, A []complex128, err error) {
	fac, err := f.Factorize()
	if err != nil {
		return nil, nil, err
	}
	return fac.Decay()
}

// CovarianceMatrix returns the n-period covariance of the forcing process.
// It fails with predict.ErrArgument for a deterministic model.
func (f *LQFilter) CovarianceMatrix(n int) (*mat.SymDense, error) {
	noise, err := f.noiseProcess()
	if err != nil {
		return nil, err
	}
	return noise.CovarianceMatrix(n)
}

// Sample draws one forcing path of length n+1 from the noise model.
func (f *LQFilter) Sample(n int, rng *rand.Rand) ([]float64, error) {
	noise, err := f.noiseProcess()
	if err != nil {
		return nil, err
	}
	return noise.Sample(n, rng)
}

// Predict returns E[aHist | a_0..a_t] under the noise model.
func (f *LQFilter) Predict(aHist []float64, t int) ([]float64, error) {
	noise, err := f.noiseProcess()
	if err != nil {
		return nil, err
	}
	return noise.Condition(aHist, t)
}

func (f *LQFilter) noiseProcess() (*predict.Process, error) {
	if f.noise == nil {
		return nil, fmt.Errorf("filter: deterministic model has no noise process: %w",
			predict.ErrArgument)
	}
	return f.noise, nil
}
