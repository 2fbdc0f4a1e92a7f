package spectral

import (
	"fmt"
	"math/rand"
)

// ModelHandle is the explicit capability interface replacing the
// duck-typed model handle described in §9: estimate_spectral_radius plus
// parameter load/replace. No dynamic attribute probing — callers hold a
// concrete variant (AnalyticMatrix, a learned network adapter, or a test
// double) behind this interface.
type ModelHandle interface {
	// EstimateSpectralRadius estimates ρ at a fresh random point. When
	// batchMode is true, nIter random probe points of the model's input
	// dimension are drawn and independently estimated; the result is
	// their arithmetic mean, per §4.8 bullet 6.
	EstimateSpectralRadius(nIter int, tolerance float64, batchMode bool) (float64, error)

	// LoadParams installs parameters for the first time.
	LoadParams(params []float64) error
	// ReplaceParams hot-swaps parameters; callers serialize this against
	// cycle execution per §9 "Hot reload races".
	ReplaceParams(params []float64) error
}

// AnalyticMatrix is a model handle backed by an explicit matrix A: its
// Jacobian is A everywhere, so JVP/JTVP are exact matrix-vector products
// rather than finite-difference approximations.
type AnalyticMatrix struct {
	rows, cols int
	a          []float64 // row-major rows x cols
}

// NewAnalyticMatrix builds a model handle from a dense row-major matrix.
func NewAnalyticMatrix(rows, cols int, a []float64) (*AnalyticMatrix, error) {
	if len(a) != rows*cols {
		return nil, fmt.Errorf("spectral: matrix data length %d does not match %dx%d", len(a), rows, cols)
	}
	cp := make([]float64, len(a))
	copy(cp, a)
	return &AnalyticMatrix{rows: rows, cols: cols, a: cp}, nil
}

func (m *AnalyticMatrix) Eval(x []float64) []float64 {
	return matVec(m.a, m.rows, m.cols, x)
}

func (m *AnalyticMatrix) JVP(_, v []float64) []float64 {
	return matVec(m.a, m.rows, m.cols, v)
}

func (m *AnalyticMatrix) JTVP(_, v []float64) []float64 {
	return matVecTranspose(m.a, m.rows, m.cols, v)
}

func matVec(a []float64, rows, cols int, x []float64) []float64 {
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		sum := 0.0
		base := r * cols
		for c := 0; c < cols; c++ {
			sum += a[base+c] * x[c]
		}
		out[r] = sum
	}
	return out
}

func matVecTranspose(a []float64, rows, cols int, y []float64) []float64 {
	out := make([]float64, cols)
	for c := 0; c < cols; c++ {
		sum := 0.0
		for r := 0; r < rows; r++ {
			sum += a[r*cols+c] * y[r]
		}
		out[c] = sum
	}
	return out
}

// EstimateSpectralRadius implements ModelHandle for AnalyticMatrix.
func (m *AnalyticMatrix) EstimateSpectralRadius(nIter int, tolerance float64, batchMode bool) (float64, error) {
	cfg := Config{MaxIter: nIter, Tolerance: tolerance}
	if !batchMode {
		x := randomUnitVector(m.cols, rand.New(rand.NewSource(seedOrTime(0))))
		return Estimate(m, x, cfg)
	}

	points := make([][]float64, nIter)
	for i := range points {
		points[i] = randomUnitVector(m.cols, rand.New(rand.NewSource(seedOrTime(0) + int64(i))))
	}
	return EstimateBatch(m, points, cfg)
}

// LoadParams replaces the matrix's flattened data; it must match the
// configured rows x cols.
func (m *AnalyticMatrix) LoadParams(params []float64) error {
	if len(params) != m.rows*m.cols {
		return fmt.Errorf("spectral: params length %d does not match %dx%d", len(params), m.rows, m.cols)
	}
	m.a = append([]float64(nil), params...)
	return nil
}

// ReplaceParams is LoadParams under a different name for the hot-reload
// call site (§9), kept distinct so callers can log the two occasions
// differently even though the underlying operation is identical here.
func (m *AnalyticMatrix) ReplaceParams(params []float64) error {
	return m.LoadParams(params)
}
