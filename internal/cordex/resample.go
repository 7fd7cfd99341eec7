package cordex

import (
	"sort"
	"time"
)

// sample is one dated value of a series.
type sample struct {
	date  time.Time
	value float64
}

// monthlyToDaily upsamples a monthly series to daily resolution over the
// full calendar span of its years: January 1 of the first sampled year
// through December 31 of the last. Values between sample stamps are
// linearly interpolated; days before the first and after the last stamp
// carry the nearest stamp's value.
func monthlyToDaily(samples []sample) []sample {
	if len(samples) == 0 {
		return nil
	}
	sorted := make([]sample, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].date.Before(sorted[j].date) })

	start := time.Date(sorted[0].date.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(sorted[len(sorted)-1].date.Year(), 12, 31, 0, 0, 0, 0, time.UTC)

	var out []sample
	k := 0
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for k+1 < len(sorted) && !sorted[k+1].date.After(d) {
			k++
		}
		out = append(out, sample{date: d, value: interpolateAt(sorted, k, d)})
	}
	return out
}

// interpolateAt evaluates the series at day d given that sorted[k] is the
// last stamp at or before d (or the first stamp when d precedes it).
func interpolateAt(sorted []sample, k int, d time.Time) float64 {
	cur := sorted[k]
	if d.Before(cur.date) || k+1 >= len(sorted) {
		return cur.value
	}
	next := sorted[k+1]
	span := next.date.Sub(cur.date).Seconds()
	if span <= 0 {
		return cur.value
	}
	frac := d.Sub(cur.date).Seconds() / span
	return cur.value + frac*(next.value-cur.value)
}

// weekSample is a weekly mean keyed by ISO year and week.
type weekSample struct {
	year  int
	week  int
	value float64
}

// weeklyMeans averages a daily series into ISO weeks, in chronological
// order.
func weeklyMeans(days []sample) []weekSample {
	type acc struct {
		sum float64
		n   int
	}
	type key struct{ year, week int }

	sums := make(map[key]*acc)
	var order []key
	for _, d := range days {
		y, w := d.date.ISOWeek()
		k := key{year: y, week: w}
		a, ok := sums[k]
		if !ok {
			a = &acc{}
			sums[k] = a
			order = append(order, k)
		}
		a.sum += d.value
		a.n++
	}

	out := make([]weekSample, 0, len(order))
	for _, k := range order {
		a := sums[k]
		out = append(out, weekSample{year: k.year, week: k.week, value: a.sum / float64(a.n)})
	}
	return out
}
