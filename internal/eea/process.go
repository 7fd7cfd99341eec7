package eea

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/europanel/panel-etl/internal/observability"
)

// Measurement is one weekly per-region pollutant mean.
type Measurement struct {
	Region       string
	Year         int
	Week         int
	Pollutant    string
	Value        float64
	Unit         string
	AggType      string
	Verification int64
}

// unknownPollutant labels measurements whose code has no name mapping.
// They are kept so the data is not silently lost.
const unknownPollutant = "Unknown"

// Aggregate turns raw measurements into weekly per-region means.
//
// Only records flagged valid survive. The region code is the sampling point
// prefix before the first "/", and the week key follows ISO-8601. Records
// in the same (region, year, week, pollutant) group are averaged; their
// unit, aggregation type, and verification flag are expected to agree, and
// when they do not the group keeps the metadata of its earliest record and
// the conflict is logged.
func Aggregate(records []Record, m *observability.Metrics, logger *slog.Logger) []Measurement {
	// Sort up front so "earliest record" is well defined regardless of
	// archive member order.
	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].Samplingpoint < sorted[j].Samplingpoint
	})

	type groupKey struct {
		region    string
		year      int
		week      int
		pollutant string
	}
	type group struct {
		sum          float64
		n            int
		unit         string
		aggType      string
		verification int64
		conflicted   bool
	}

	groups := make(map[groupKey]*group)
	var order []groupKey

	for _, rec := range sorted {
		if rec.Validity != 1 {
			continue
		}
		region, _, _ := strings.Cut(rec.Samplingpoint, "/")
		if region == "" {
			continue
		}
		start, err := time.Parse("2006-01-02 15:04:05", rec.Start)
		if err != nil {
			logger.Warn("skipping record with malformed timestamp", "start", rec.Start, "samplingpoint", rec.Samplingpoint)
			continue
		}
		year, week := start.ISOWeek()

		name, ok := pollutantNames[rec.Pollutant]
		if !ok {
			m.UnknownPollutants.Inc()
			logger.Warn("unmapped pollutant code", "code", rec.Pollutant, "samplingpoint", rec.Samplingpoint)
			name = unknownPollutant
		}

		unit := ""
		if rec.Unit != nil {
			unit = *rec.Unit
		}

		key := groupKey{region: region, year: year, week: week, pollutant: name}
		g, exists := groups[key]
		if !exists {
			g = &group{unit: unit, aggType: rec.AggType, verification: rec.Verification}
			groups[key] = g
			order = append(order, key)
		} else if !g.conflicted && (g.unit != unit || g.aggType != rec.AggType || g.verification != rec.Verification) {
			g.conflicted = true
			logger.Warn("conflicting measurement metadata in group, keeping earliest",
				"region", region, "year", year, "week", week, "pollutant", name)
		}
		g.sum += rec.Value
		g.n++
	}

	out := make([]Measurement, 0, len(order))
	for _, key := range order {
		g := groups[key]
		out = append(out, Measurement{
			Region:       key.region,
			Year:         key.year,
			Week:         key.week,
			Pollutant:    key.pollutant,
			Value:        g.sum / float64(g.n),
			Unit:         g.unit,
			AggType:      g.aggType,
			Verification: g.verification,
		})
	}
	return out
}
