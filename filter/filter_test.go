package filter_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/qfevre/golq/filter"
	"github.com/qfevre/golq/predict"
	"github.com/qfevre/golq/utils"
)

func TestNew_PhiProperties(t *testing.T) {
	f, err := filter.New([]float64{1, -0.5, 0.3}, 0.7, []float64{0, 0})
	require.NoError(t, err)

	phi := f.Phi()
	require.Len(t, phi, 2*f.M()+1)
	for i := 0; i <= f.M(); i++ {
		assert.InDelta(t, phi[f.M()-i], phi[f.M()+i], 1e-12, "phi symmetric at lag %d", i)
	}
	// lag 0 carries the autocorrelation plus h.
	assert.InDelta(t, 1.34+0.7, phi[f.M()], 1e-12)
	assert.InDelta(t, -0.65, phi[f.M()+1], 1e-12)
	assert.InDelta(t, 0.3, phi[f.M()+2], 1e-12)
}

func TestNew_ShapeErrors(t *testing.T) {
	_, err := filter.New(nil, 1, nil)
	assert.ErrorIs(t, err, filter.ErrShape, "empty d")

	_, err = filter.New([]float64{1, 0.2}, 1, []float64{0, 0})
	assert.ErrorIs(t, err, filter.ErrShape, "len(y_m) != m")

	_, err = filter.New([]float64{1, 0.2}, -1, []float64{0})
	assert.ErrorIs(t, err, filter.ErrShape, "negative h")

	_, err = filter.New([]float64{1, 0.2}, 1, []float64{0}, filter.WithDiscount(0))
	assert.ErrorIs(t, err, filter.ErrShape, "beta = 0")

	_, err = filter.New([]float64{1, 0.2}, 1, []float64{0}, filter.WithDiscount(1.5))
	assert.ErrorIs(t, err, filter.ErrShape, "beta > 1")
}

func TestNew_DiscountTransform(t *testing.T) {
	f, err := filter.New([]float64{1, 2}, 1, []float64{3}, filter.WithDiscount(0.5))
	require.NoError(t, err)

	s := math.Sqrt(0.5)
	d := f.D()
	require.Len(t, d, 2)
	assert.InDelta(t, 1.0, d[0], 1e-12)
	assert.InDelta(t, 2*s, d[1], 1e-12)

	yM := f.YM()
	require.Len(t, yM, 1)
	assert.InDelta(t, 3/s, yM[0], 1e-12)
}

func TestSystemMatrices(t *testing.T) {
	f, err := filter.New([]float64{1, -0.6, 0.2}, 0.5, []float64{0, 0})
	require.NoError(t, err)

	const n = 8
	W, Wm, err := f.SystemMatrices(n)
	require.NoError(t, err)

	r, c := W.Dims()
	require.Equal(t, n+1, r)
	require.Equal(t, n+1, c)
	r, c = Wm.Dims()
	require.Equal(t, n+1, r)
	require.Equal(t, 2, c)

	// Zero outside the half-bandwidth m.
	for i := 0; i <= n; i++ {
		for j := 0; j <= n; j++ {
			if i-j > 2 || j-i > 2 {
				assert.Equal(t, 0.0, W.At(i, j), "W[%d][%d] outside the band", i, j)
			}
		}
	}

	// Top-left block is D_{m+1} + h*I.
	topLeft := [][]float64{
		{1.5, -0.6, 0.2},
		{-0.6, 1.86, -0.72},
		{0.2, -0.72, 1.9},
	}
	for i := range topLeft {
		for j := range topLeft[i] {
			assert.InDelta(t, topLeft[i][j], W.At(i, j), 1e-12, "W[%d][%d]", i, j)
		}
	}

	// Interior rows carry phi = [0.2, -0.72, 1.9, -0.72, 0.2] centered.
	phi := f.Phi()
	for _, row := range []int{3, 4, 5, 6} {
		for j, v := range phi {
			assert.InDelta(t, v, W.At(row, row-2+j), 1e-12, "row %d", row)
		}
	}

	// Terminal boundary: truncated tails of phi in W, complements in Wm.
	assert.InDelta(t, phi[3], Wm.At(n, 0), 1e-12)
	assert.InDelta(t, phi[4], Wm.At(n, 1), 1e-12)
	assert.InDelta(t, phi[4], Wm.At(n-1, 0), 1e-12)
	assert.Equal(t, 0.0, Wm.At(n-1, 1))
}

func TestSystemMatrices_MinimalHorizon(t *testing.T) {
	f, err := filter.New([]float64{1, -0.4}, 0.3, []float64{0})
	require.NoError(t, err)

	// n == m must be accepted.
	W, _, err := f.SystemMatrices(1)
	require.NoError(t, err)
	r, c := W.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
	// The whole matrix is the D + h*I block at the minimal horizon.
	assert.InDelta(t, 1.3, W.At(0, 0), 1e-12)
	assert.InDelta(t, -0.4, W.At(0, 1), 1e-12)
	assert.InDelta(t, -0.4, W.At(1, 0), 1e-12)
	assert.InDelta(t, 1.46, W.At(1, 1), 1e-12)
}

func TestSystemMatrices_HorizonTooShort(t *testing.T) {
	f, err := filter.New([]float64{1, -0.4, 0.1}, 0.3, []float64{0, 0})
	require.NoError(t, err)
	_, _, err = f.SystemMatrices(1)
	assert.ErrorIs(t, err, filter.ErrDimension)
}

func TestOptimalY_ConcreteScenario(t *testing.T) {
	f, err := filter.New([]float64{1, 0}, 1, []float64{0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 2, 0}, f.Phi())

	W, _, err := f.SystemMatrices(2)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 2.0
			}
			assert.InDelta(t, want, W.At(i, j), 1e-12, "W[%d][%d]", i, j)
		}
	}

	path, err := f.OptimalY([]float64{1, 1, 1})
	require.NoError(t, err)
	require.Len(t, path.YHist, 4) // N + m + 1
	assert.InDelta(t, 0.0, path.YHist[0], 1e-12, "y_{-1} is the initial condition")
	for _, i := range []int{1, 2, 3} {
		assert.InDelta(t, 0.5, path.YHist[i], 1e-12)
	}

	// The returned factors must reproduce W.
	var prod mat.Dense
	prod.Mul(path.L, path.U)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, W.At(i, j), prod.At(i, j), 1e-10, "L*U at [%d][%d]", i, j)
		}
	}
}

func TestOptimalY_SatisfiesEulerSystem(t *testing.T) {
	f, err := filter.New([]float64{1, -0.6, 0.2}, 0.5, []float64{0.4, -0.1})
	require.NoError(t, err)

	aHist := []float64{1, 0.5, -0.2, 0.8, 1.1, 0.3, -0.4}
	n := len(aHist) - 1
	W, Wm, err := f.SystemMatrices(n)
	require.NoError(t, err)

	path, err := f.OptimalY(aHist)
	require.NoError(t, err)
	require.Len(t, path.YBar, n+1)
	require.Len(t, path.YHist, n+f.M()+1)
	assert.InDelta(t, -0.1, path.YHist[0], 1e-12)
	assert.InDelta(t, 0.4, path.YHist[1], 1e-12)

	// W y_bar = reversed(a) - Wm y_m
	aBar := mat.NewVecDense(n+1, utils.Reversed(aHist))
	var wmy mat.VecDense
	wmy.MulVec(Wm, mat.NewVecDense(f.M(), f.YM()))
	aBar.SubVec(aBar, &wmy)

	var lhs mat.VecDense
	lhs.MulVec(W, mat.NewVecDense(n+1, path.YBar))
	for i := 0; i <= n; i++ {
		assert.InDelta(t, aBar.AtVec(i), lhs.AtVec(i), 1e-10, "residual at row %d", i)
	}

	// L U = W even when pivoting reorders rows.
	var prod mat.Dense
	prod.Mul(path.L, path.U)
	for i := 0; i <= n; i++ {
		for j := 0; j <= n; j++ {
			assert.InDelta(t, W.At(i, j), prod.At(i, j), 1e-10, "L*U at [%d][%d]", i, j)
		}
	}
}

func TestOptimalY_Idempotent(t *testing.T) {
	f, err := filter.New([]float64{1, -0.6, 0.2}, 0.5, []float64{0.4, -0.1})
	require.NoError(t, err)

	aHist := []float64{1, 0.5, -0.2, 0.8, 1.1}
	first, err := f.OptimalY(aHist)
	require.NoError(t, err)
	second, err := f.OptimalY(aHist)
	require.NoError(t, err)
	assert.Equal(t, first.YHist, second.YHist)
	assert.Equal(t, first.YBar, second.YBar)
}

func TestOptimalY_Discounted(t *testing.T) {
	f, err := filter.New([]float64{1, 0}, 1, []float64{0}, filter.WithDiscount(0.5))
	require.NoError(t, err)

	// With d = [1, 0] the objective is separable, so the discounted optimum
	// is still y_t = a_t / 2 pointwise.
	path, err := f.OptimalY([]float64{1, 1, 1})
	require.NoError(t, err)
	require.Len(t, path.YHist, 4)
	assert.InDelta(t, 0.0, path.YHist[0], 1e-12)
	for _, i := range []int{1, 2, 3} {
		assert.InDelta(t, 0.5, path.YHist[i], 1e-10)
	}
}

func TestOptimalY_DimensionError(t *testing.T) {
	f, err := filter.New([]float64{1, -0.4, 0.1}, 0.3, []float64{0, 0})
	require.NoError(t, err)
	_, err = f.OptimalY([]float64{1, 2})
	assert.ErrorIs(t, err, filter.ErrDimension)
}

func TestOptimalYGiven_FullInformation(t *testing.T) {
	opts := []filter.Option{filter.WithNoise([]float64{1, 0.4}, 0)}
	f, err := filter.New([]float64{1, -0.5}, 0.2, []float64{0.3}, opts...)
	require.NoError(t, err)

	aHist := []float64{1, 0.5, -0.2, 0.8}
	det, err := f.OptimalY(aHist)
	require.NoError(t, err)
	full, err := f.OptimalYGiven(aHist, len(aHist)-1)
	require.NoError(t, err)

	require.Len(t, full.YHist, len(det.YHist))
	for i := range det.YHist {
		assert.InDelta(t, det.YHist[i], full.YHist[i], 1e-9, "entry %d", i)
	}
}

func TestOptimalYGiven_DeterministicModel(t *testing.T) {
	f, err := filter.New([]float64{1, -0.5}, 0.2, []float64{0.3})
	require.NoError(t, err)
	_, err = f.OptimalYGiven([]float64{1, 2, 3}, 1)
	assert.ErrorIs(t, err, predict.ErrArgument)
}

func TestNoiseWrappers(t *testing.T) {
	f, err := filter.New([]float64{1, -0.5}, 0.2, []float64{0.3},
		filter.WithNoise([]float64{1, 0.4}, 0.1))
	require.NoError(t, err)

	v, err := f.CovarianceMatrix(4)
	require.NoError(t, err)
	r, _ := v.Dims()
	assert.Equal(t, 4, r)
	assert.InDelta(t, 1.16+0.1, v.At(0, 0), 1e-12)

	pred, err := f.Predict([]float64{1, 2, 3}, -1)
	require.NoError(t, err)
	for _, x := range pred {
		assert.InDelta(t, 0.0, x, 1e-12)
	}

	deterministic, err := filter.New([]float64{1, -0.5}, 0.2, []float64{0.3})
	require.NoError(t, err)
	_, err = deterministic.CovarianceMatrix(4)
	assert.ErrorIs(t, err, predict.ErrArgument)
}

func TestFactorizeWrapper(t *testing.T) {
	f, err := filter.New([]float64{1, -0.5}, 0, []float64{0})
	require.NoError(t, err)

	fac, err := f.Factorize()
	require.NoError(t, err)
	require.Len(t, fac.Lambdas, 1)
	assert.InDelta(t, 0.5, real(fac.Lambdas[0]), 1e-9)

	coeffs, err := f.CCoeffs()
	require.NoError(t, err)
	require.Len(t, coeffs, 2)
	assert.InDelta(t, 1.0, real(coeffs[0]), 1e-9)

	lambdas, A, err := f.Decay()
	require.NoError(t, err)
	require.Len(t, lambdas, 1)
	require.Len(t, A, 1)
	assert.InDelta(t, 1.0, real(A[0]), 1e-9)
}
