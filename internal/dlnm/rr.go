package dlnm

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/europanel/panel-etl/internal/domain"
)

// Options tune the model. Zero values take the defaults below.
type Options struct {
	// MaxLag is the number of weekly lags of temperature entering the
	// model in addition to lag zero.
	MaxLag int
	// Lag selects which lag's exposure-response curve is returned.
	// Must lie in [0, MaxLag]; the default is lag zero, the same-week
	// association.
	Lag int
	// Degree of the temperature spline.
	Degree int
	// KnotPercentiles place the interior spline knots.
	KnotPercentiles []float64
	// GridPoints is the resolution of the returned curve.
	GridPoints int

	MaxIter int
	Tol     float64
}

func (o Options) withDefaults() Options {
	if o.MaxLag == 0 {
		o.MaxLag = 3
	}
	if o.Degree == 0 {
		o.Degree = 2
	}
	if o.KnotPercentiles == nil {
		o.KnotPercentiles = []float64{10, 75, 90}
	}
	if o.GridPoints == 0 {
		o.GridPoints = 100
	}
	if o.MaxIter == 0 {
		o.MaxIter = 25
	}
	if o.Tol == 0 {
		o.Tol = 1e-8
	}
	return o
}

// Curve is the fitted exposure-response relation: the relative mortality
// risk over the observed temperature range, normalized so its minimum
// (the optimum temperature) is 1.
type Curve struct {
	Temperature []float64
	RR          []float64
}

// Optimum returns the temperature of minimal risk.
func (c *Curve) Optimum() float64 {
	best := 0
	for i, rr := range c.RR {
		if rr < c.RR[best] {
			best = i
		}
	}
	return c.Temperature[best]
}

// series is one region's aligned weekly record.
type series struct {
	mortality   []float64
	temperature []float64
	week        []int
	year        []int
}

// extractSeries filters one region's chronological rows down to those with
// both mortality and temperature present.
func extractSeries(rows []domain.Observation, scenario string) *series {
	s := &series{}
	for _, r := range rows {
		temp := r.TemperatureFor(scenario)
		if !r.Mortality.Valid || !temp.Valid {
			continue
		}
		s.mortality = append(s.mortality, r.Mortality.Value)
		s.temperature = append(s.temperature, temp.Value)
		s.week = append(s.week, r.Week)
		s.year = append(s.year, r.Year)
	}
	return s
}

// FitRiskCurve fits the distributed-lag model on one region's panel rows
// (sorted chronologically) and returns the exposure-response curve of the
// selected lag for the given scenario's temperature.
//
// The design is a quadratic B-spline basis of temperature at lags 0
// through MaxLag, seasonal week-of-year dummies, and year dummies, with
// weekly deaths as a Poisson response. The curve rebuilds the basis on an
// evaluation grid and applies only the chosen lag's coefficient block, so
// a point on it reads as that lag's risk at the temperature relative to
// the optimum.
func FitRiskCurve(rows []domain.Observation, scenario string, opts Options) (*Curve, error) {
	opts = opts.withDefaults()
	if opts.Lag < 0 || opts.Lag > opts.MaxLag {
		return nil, fmt.Errorf("dlnm: lag %d outside [0, %d]", opts.Lag, opts.MaxLag)
	}

	s := extractSeries(rows, scenario)
	if len(s.mortality) <= opts.MaxLag {
		return nil, fmt.Errorf("dlnm: %d usable rows is not enough for %d lags", len(s.mortality), opts.MaxLag)
	}

	basis, err := NewBasis(s.temperature, opts.Degree, opts.KnotPercentiles)
	if err != nil {
		return nil, err
	}
	width := basis.Width()
	nLags := opts.MaxLag + 1

	weekLevels := dummyLevels(s.week[opts.MaxLag:])
	yearLevels := dummyLevels(s.year[opts.MaxLag:])

	n := len(s.mortality) - opts.MaxLag
	p := 1 + nLags*width + len(weekLevels) + len(yearLevels)
	if n < p {
		return nil, fmt.Errorf("dlnm: %d rows for %d coefficients", n, p)
	}

	X := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		t := i + opts.MaxLag
		y[i] = s.mortality[t]
		X.Set(i, 0, 1)
		col := 1
		for lag := 0; lag < nLags; lag++ {
			for k, v := range basis.Evaluate(s.temperature[t-lag]) {
				X.Set(i, col+k, v)
			}
			col += width
		}
		for _, w := range weekLevels {
			if s.week[t] == w {
				X.Set(i, col, 1)
			}
			col++
		}
		for _, yr := range yearLevels {
			if s.year[t] == yr {
				X.Set(i, col, 1)
			}
			col++
		}
	}

	beta, err := fitPoisson(X, y, opts.MaxIter, opts.Tol)
	if err != nil {
		return nil, err
	}

	// The selected lag's spline coefficient block.
	block := beta[1+opts.Lag*width : 1+(opts.Lag+1)*width]

	lo, hi := basis.Bounds()
	curve := &Curve{
		Temperature: make([]float64, opts.GridPoints),
		RR:          make([]float64, opts.GridPoints),
	}
	minLinear := math.Inf(1)
	for i := 0; i < opts.GridPoints; i++ {
		x := lo + float64(i)/float64(opts.GridPoints-1)*(hi-lo)
		linear := 0.0
		for k, v := range basis.Evaluate(x) {
			linear += block[k] * v
		}
		curve.Temperature[i] = x
		curve.RR[i] = linear
		if linear < minLinear {
			minLinear = linear
		}
	}
	for i := range curve.RR {
		curve.RR[i] = math.Exp(curve.RR[i] - minLinear)
	}
	return curve, nil
}

// dummyLevels returns the sorted distinct values minus the first level,
// which folds into the intercept.
func dummyLevels(values []int) []int {
	set := make(map[int]bool)
	for _, v := range values {
		set[v] = true
	}
	levels := make([]int, 0, len(set))
	for v := range set {
		levels = append(levels, v)
	}
	sort.Ints(levels)
	if len(levels) <= 1 {
		return nil
	}
	return levels[1:]
}
