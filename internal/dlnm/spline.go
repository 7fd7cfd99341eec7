// Package dlnm fits a distributed-lag nonlinear model of weekly mortality
// against temperature and exposes the resulting relative-risk curve.
package dlnm

import (
	"fmt"
	"math"
	"sort"
)

// BSplineBasis is a clamped B-spline basis over a covariate. Interior knots
// sit at percentiles of the observed values, boundary knots at the observed
// minimum and maximum. The leading basis function is dropped, so together
// with a model intercept the basis spans the usual spline space without
// collinearity.
type BSplineBasis struct {
	knots  []float64 // full clamped knot vector
	degree int
	n      int // basis functions before dropping the first
}

// NewBasis builds a basis from observed values. percentiles are the
// interior knot positions in percent.
func NewBasis(values []float64, degree int, percentiles []float64) (*BSplineBasis, error) {
	if len(values) < 2 {
		return nil, fmt.Errorf("dlnm: need at least 2 values, got %d", len(values))
	}
	if degree < 1 {
		return nil, fmt.Errorf("dlnm: degree must be at least 1, got %d", degree)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	lo, hi := sorted[0], sorted[len(sorted)-1]
	if lo == hi {
		return nil, fmt.Errorf("dlnm: covariate is constant at %g", lo)
	}

	interior := make([]float64, 0, len(percentiles))
	for _, p := range percentiles {
		interior = append(interior, percentile(sorted, p))
	}
	sort.Float64s(interior)

	knots := make([]float64, 0, 2*(degree+1)+len(interior))
	for i := 0; i <= degree; i++ {
		knots = append(knots, lo)
	}
	knots = append(knots, interior...)
	for i := 0; i <= degree; i++ {
		knots = append(knots, hi)
	}

	return &BSplineBasis{
		knots:  knots,
		degree: degree,
		n:      len(interior) + degree + 1,
	}, nil
}

// Width is the number of columns Evaluate produces.
func (b *BSplineBasis) Width() int { return b.n - 1 }

// Bounds returns the boundary knots.
func (b *BSplineBasis) Bounds() (lo, hi float64) {
	return b.knots[0], b.knots[len(b.knots)-1]
}

// Evaluate computes the basis at x via the Cox-de Boor recursion. Values
// outside the boundary knots are clamped to them.
func (b *BSplineBasis) Evaluate(x float64) []float64 {
	lo, hi := b.Bounds()
	if x < lo {
		x = lo
	}
	if x > hi {
		x = hi
	}

	t := b.knots
	nAll := b.n

	// Degree 0: indicator of the half-open knot span, with the top
	// boundary folded into the last span.
	work := make([]float64, len(t)-1)
	for i := 0; i < len(t)-1; i++ {
		if (t[i] <= x && x < t[i+1]) || (x == hi && t[i] < t[i+1] && t[i+1] == hi) {
			work[i] = 1
			break
		}
	}
	for d := 1; d <= b.degree; d++ {
		next := make([]float64, len(work)-1)
		for i := range next {
			var left, right float64
			if den := t[i+d] - t[i]; den > 0 {
				left = (x - t[i]) / den * work[i]
			}
			if den := t[i+d+1] - t[i+1]; den > 0 {
				right = (t[i+d+1] - x) / den * work[i+1]
			}
			next[i] = left + right
		}
		work = next
	}

	// Drop the leading basis function.
	out := make([]float64, b.Width())
	copy(out, work[1:nAll])
	return out
}

// percentile evaluates the p-th percentile of sorted values with linear
// interpolation between order statistics.
func percentile(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
