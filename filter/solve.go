package filter

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/lapack/lapack64"
	"gonum.org/v1/gonum/mat"

	"github.com/qfevre/golq/utils"
)

// Path is the solution of the Euler system for one forcing history.
//
// YHist has length N+m+1 and is in calendar order: the m initial conditions
// y_{-m}..y_{-1} followed by the optimal y_0..y_N. YBar is the free-variable
// solution in the solver's time-reversed order, and L, U are the (pivot- and
// scale-folded) LU factors of W, so that L*U = W exactly.
type Path struct {
	YHist []float64
	L     *mat.Dense
	U     *mat.Dense
	YBar  []float64
}

// SystemMatrices assembles the (n+1)-by-(n+1) Euler-equation matrix W and
// the (n+1)-by-m boundary matrix Wm coupling the free variables to the
// initial conditions. It requires n >= m; rows whose band would extend past
// the matrix at short horizons are truncated rather than rejected, so the
// minimal horizon n == m is valid.
func (f *LQFilter) SystemMatrices(n int) (W, Wm *mat.Dense, err error) {
	m := f.m
	if n < m {
		return nil, nil, fmt.Errorf("filter: horizon %d < m = %d: %w", n, m, ErrDimension)
	}

	// D[j][k] = dot(d[0:j+1], d[k-j:k+1]) on the upper triangle, symmetrized.
	D := mat.NewDense(m+1, m+1, nil)
	for j := 0; j <= m; j++ {
		for k := j; k <= m; k++ {
			v := 0.0
			for i := 0; i <= j; i++ {
				v += f.d[i] * f.d[k-j+i]
			}
			D.Set(j, k, v)
			D.Set(k, j, v)
		}
	}

	// M[i][j] = D[i-j-1][m] for i > j couples the boundary rows to yM.
	M := mat.NewDense(m+1, max(m, 1), nil)
	for j := 0; j < m; j++ {
		for i := j + 1; i <= m; i++ {
			M.Set(i, j, D.At(i-j-1, m))
		}
	}

	W = mat.NewDense(n+1, n+1, nil)
	Wm = mat.NewDense(n+1, max(m, 1), nil)

	// Top-left block: D + h*I, then the boundary coupling M to its right.
	var top mat.Dense
	top.Scale(f.h, utils.Eye(m+1))
	top.Add(&top, D)
	for i := 0; i <= m; i++ {
		for j := 0; j <= m; j++ {
			W.Set(i, j, top.At(i, j))
		}
		for j := 0; j < m && m+1+j <= n; j++ {
			W.Set(i, m+1+j, M.At(i, j))
		}
	}

	// Interior rows carry the full symmetric band phi, shifted one column
	// per row: the stationary Euler recursion away from the boundaries.
	for row := m + 1; row <= n-m; row++ {
		for j, v := range f.phi {
			W.Set(row, row-m+j, v)
		}
	}

	// Terminal rows: truncated leading tails of phi express the free
	// endpoint, with the complementary tail of phi going into Wm.
	for i := 1; i <= m; i++ {
		row := n - m + i
		if row <= m {
			continue
		}
		for j := 0; j < 2*m+1-i; j++ {
			W.Set(row, row-m+j, f.phi[j])
		}
	}
	for i := 0; i < m; i++ {
		for j := 0; j < m-i; j++ {
			Wm.Set(n-i, j, f.phi[m+1+i+j])
		}
	}
	return W, Wm, nil
}

// OptimalY solves the deterministic problem for the forcing history aHist
// (length N+1, N >= m) and returns the full optimal trajectory.
func (f *LQFilter) OptimalY(aHist []float64) (*Path, error) {
	return f.solve(aHist, 0, false)
}

// OptimalYGiven solves the stochastic problem: the forcing history is first
// replaced with its conditional expectation given observations up to time t,
// then the same Euler system is solved. The model must carry a noise
// process (see WithNoise).
func (f *LQFilter) OptimalYGiven(aHist []float64, t int) (*Path, error) {
	return f.solve(aHist, t, true)
}

func (f *LQFilter) solve(aHist []float64, t int, conditional bool) (*Path, error) {
	n := len(aHist) - 1
	if n < f.m {
		return nil, fmt.Errorf("filter: history length %d < m+1 = %d: %w",
			len(aHist), f.m+1, ErrDimension)
	}
	W, Wm, err := f.SystemMatrices(n)
	if err != nil {
		return nil, err
	}

	a := aHist
	if conditional {
		if a, err = f.Predict(aHist, t); err != nil {
			return nil, err
		}
	}

	// The Euler system is indexed backwards relative to calendar time.
	aRev := utils.Reversed(a)
	if !conditional && f.beta != 1 {
		// Undo the discount transform on the forcing side: a_t -> beta^{t/2} a_t.
		for i := range aRev {
			aRev[i] *= math.Pow(f.beta, float64(n-i)/2)
		}
	}

	// a_bar = reversed(a) - Wm yM
	aBar := blas64.Vector{N: n + 1, Inc: 1, Data: aRev}
	yMVec := blas64.Vector{N: f.m, Inc: 1, Data: f.yM}
	if f.m > 0 {
		blas64.Gemv(blas.NoTrans, -1, Wm.RawMatrix(), yMVec, 1, aBar)
	}

	// Pivoted LU of W, solved in place.
	var wf mat.Dense
	wf.CloneFrom(W)
	ipiv := make([]int, n+1)
	if ok := lapack64.Getrf(wf.RawMatrix(), ipiv); !ok {
		return nil, fmt.Errorf("filter: LU factorization of the %d-by-%d system: %w",
			n+1, n+1, ErrSingular)
	}
	yBar := make([]float64, n+1)
	copy(yBar, aBar.Data)
	lapack64.Getrs(blas.NoTrans, wf.RawMatrix(), blas64.General{
		Rows:   n + 1,
		Cols:   1,
		Stride: 1,
		Data:   yBar,
	}, ipiv)
	L, U := unpackLU(&wf, ipiv)

	// Reverse back to calendar order and prepend the initial conditions.
	yHist := make([]float64, n+f.m+1)
	for i, v := range f.yM {
		// yM[i] = y_{-(i+1)}
		yHist[f.m-1-i] = v
	}
	for i, v := range yBar {
		yHist[n+f.m-i] = v
	}
	if !conditional && f.beta != 1 {
		for j := range yHist {
			yHist[j] *= math.Pow(f.beta, -float64(j-f.m)/2)
		}
	}
	return &Path{YHist: yHist, L: L, U: U, YBar: yBar}, nil
}

// unpackLU splits the in-place Getrf factorization into explicit factors,
// with the row permutation and the diagonal of U folded into L:
//
//	L = P L_unit diag(U),  U = diag(U)^{-1} U_raw,
//
// so L*U = W and U has a unit diagonal, matching the normalization the
// closed-form derivation of the solution assumes.
func unpackLU(wf *mat.Dense, ipiv []int) (L, U *mat.Dense) {
	n, _ := wf.Dims()
	L = mat.NewDense(n, n, nil)
	U = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		L.Set(i, i, 1)
		for j := 0; j < i; j++ {
			L.Set(i, j, wf.At(i, j))
		}
		for j := i; j < n; j++ {
			U.Set(i, j, wf.At(i, j))
		}
	}
	// Apply the interchanges to L in reverse order to recover P L_unit.
	raw := L.RawMatrix()
	for i := n - 1; i >= 0; i-- {
		if p := ipiv[i]; p != i {
			ri := raw.Data[i*raw.Stride : i*raw.Stride+n]
			rp := raw.Data[p*raw.Stride : p*raw.Stride+n]
			for j := 0; j < n; j++ {
				ri[j], rp[j] = rp[j], ri[j]
			}
		}
	}
	for j := 0; j < n; j++ {
		dj := U.At(j, j)
		for i := 0; i < n; i++ {
			L.Set(i, j, L.At(i, j)*dj)
		}
		for jj := j; jj < n; jj++ {
			U.Set(j, jj, U.At(j, jj)/dj)
		}
	}
	return L, U
}
