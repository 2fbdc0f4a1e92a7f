// Package spectral estimates the spectral radius (square case) or
// largest singular value (rectangular case) of the Jacobian of a
// differentiable map f: R^n -> R^m at a point x, via power iteration
// using Jacobian-vector products (C8).
//
// No linear-algebra library (e.g. gonum) exists anywhere in the reference
// corpus this module was grounded on — verified by inspection of every
// example repo's go.mod — so this package is implemented on the standard
// library (math, math/rand) only; see DESIGN.md. The capability-interface
// shape (ModelHandle) follows the teacher's pkg/governance/state_estimator.go
// producer/signer struct pattern, though not its numeric content.
package spectral

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Map is a differentiable map f: R^n -> R^m exposing Jacobian-vector
// products without materializing the Jacobian itself.
type Map interface {
	// Eval returns f(x); used only to learn m = dim(y).
	Eval(x []float64) []float64
	// JVP returns J(x) · v, v of length n, result of length m.
	JVP(x, v []float64) []float64
	// JTVP returns J(x)^T · v, v of length m, result of length n.
	JTVP(x, v []float64) []float64
}

// Config tunes the power iteration.
type Config struct {
	MaxIter   int     // K, default 20 per §8 testable property 10
	Tolerance float64 // τ, default 1e-6
	Seed      int64   // device-local generator seed; 0 means unseeded/nondeterministic per run
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{MaxIter: 20, Tolerance: 1e-6}
}

const nearZeroNorm = 1e-10

// Estimate runs power iteration at a single point x and returns ρ.
// Returns an error only for a degenerate dimension mismatch; a zero map
// legitimately returns ρ = 0, not an error.
func Estimate(f Map, x []float64, cfg Config) (float64, error) {
	if cfg.MaxIter <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1e-6
	}

	n := len(x)
	if n == 0 {
		return 0, fmt.Errorf("spectral: empty input point")
	}

	y := f.Eval(x)
	m := len(y)
	if m == 0 {
		return 0, fmt.Errorf("spectral: map returned empty output")
	}

	rng := rand.New(rand.NewSource(seedOrTime(cfg.Seed)))
	v := randomUnitVector(n, rng)

	square := n == m

	var rhoPrev float64
	rho := 0.0
	for k := 0; k < cfg.MaxIter; k++ {
		var next []float64
		if square {
			next = f.JVP(x, v)
		} else {
			jv := f.JVP(x, v)
			next = f.JTVP(x, jv)
		}

		norm := l2norm(next)
		if norm < nearZeroNorm {
			return rho, nil
		}
		for i := range next {
			next[i] /= norm
		}

		if square {
			jv := f.JVP(x, next)
			rho = math.Abs(dot(next, jv))
		} else {
			jv := f.JVP(x, next)
			jtjv := f.JTVP(x, jv)
			rho = math.Sqrt(math.Abs(dot(next, jtjv)))
		}

		v = next
		if k > 0 && math.Abs(rho-rhoPrev) < cfg.Tolerance {
			return rho, nil
		}
		rhoPrev = rho
	}
	return rho, nil
}

// EstimateBatch processes each point in points independently and returns
// their arithmetic mean, per §8 bullet 6.
func EstimateBatch(f Map, points [][]float64, cfg Config) (float64, error) {
	if len(points) == 0 {
		return 0, fmt.Errorf("spectral: empty batch")
	}
	sum := 0.0
	for i, x := range points {
		// Vary the seed per index so a batch of identical-shape points
		// doesn't collapse onto the same random probe direction.
		pointCfg := cfg
		if cfg.Seed != 0 {
			pointCfg.Seed = cfg.Seed + int64(i)
		}
		rho, err := Estimate(f, x, pointCfg)
		if err != nil {
			return 0, fmt.Errorf("spectral: batch point %d: %w", i, err)
		}
		sum += rho
	}
	return sum / float64(len(points)), nil
}

func randomUnitVector(n int, rng *rand.Rand) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	norm := l2norm(v)
	if norm < nearZeroNorm {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] /= norm
	}
	return v
}

func l2norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func seedOrTime(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	return time.Now().UnixNano()
}
