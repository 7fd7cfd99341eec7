// Package panel assembles the weekly per-region panel from the fetched
// sources and writes it out as CSV, partitioned into a domestic and a
// European file.
package panel

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/eea"
	"github.com/europanel/panel-etl/internal/observability"
)

// horizonYear caps the panel: climate scenarios run through 2100 and any
// source row beyond it is discarded.
const horizonYear = 2100

// gridWeeks is the number of weeks in the completeness grid. Source rows
// keyed to ISO week 53 fall outside the grid and are dropped at join time.
const gridWeeks = 52

// Inputs are the long-form source series feeding one panel build.
type Inputs struct {
	Mortality   []domain.WeeklyValue
	Density     []domain.AnnualValue
	Population  []domain.AnnualValue
	Temperature map[string][]domain.WeeklyValue
	AirQuality  []eea.Measurement
}

// Panel is an assembled panel: one row per (region, year, week) of the
// completeness grid, sorted by region, year, week.
type Panel struct {
	// Scenarios and Pollutants fix the wide-format column order.
	Scenarios  []string
	Pollutants []string
	Rows       []domain.Observation
}

// Assemble joins the sources into the complete panel.
//
// The completeness grid is the cross product of every region seen in any
// source, every year between the earliest and latest seen (capped at the
// scenario horizon), and weeks 1 through 52. Annual series are broadcast
// across the weeks of their year. Temperature gaps of at most maxGapWeeks
// consecutive weeks are filled per region and scenario: interior gaps
// linearly, leading and trailing runs with the nearest value.
func Assemble(in Inputs, scenarios []string, maxGapWeeks int, m *observability.Metrics, logger *slog.Logger) *Panel {
	type annualKey struct {
		region string
		year   int
	}
	density := make(map[annualKey]float64, len(in.Density))
	for _, v := range in.Density {
		density[annualKey{v.Region, v.Year}] = v.Value
	}
	population := make(map[annualKey]float64, len(in.Population))
	for _, v := range in.Population {
		population[annualKey{v.Region, v.Year}] = v.Value
	}

	regions := make(map[string]bool)
	minYear, maxYear := 0, 0
	seeYear := func(region string, year int) bool {
		if year > horizonYear {
			m.DroppedRows.WithLabelValues("beyond_horizon").Inc()
			return false
		}
		regions[region] = true
		if minYear == 0 || year < minYear {
			minYear = year
		}
		if year > maxYear {
			maxYear = year
		}
		return true
	}

	cells := make(map[domain.Key]*domain.Observation)
	cell := func(region string, year, week int) *domain.Observation {
		k := domain.Key{Region: region, Year: year, Week: week}
		o, ok := cells[k]
		if !ok {
			o = &domain.Observation{Region: region, Year: year, Week: week}
			cells[k] = o
		}
		return o
	}

	for _, v := range in.Mortality {
		if !seeYear(v.Region, v.Year) {
			continue
		}
		o := cell(v.Region, v.Year, v.Week)
		if o.Mortality.Valid {
			m.DroppedRows.WithLabelValues("duplicate_key").Inc()
			continue
		}
		o.Mortality = domain.F(v.Value)
	}
	for _, v := range in.Density {
		seeYear(v.Region, v.Year)
	}
	for _, v := range in.Population {
		seeYear(v.Region, v.Year)
	}
	for scenario, series := range in.Temperature {
		for _, v := range series {
			if !seeYear(v.Region, v.Year) {
				continue
			}
			o := cell(v.Region, v.Year, v.Week)
			if o.TemperatureFor(scenario).Valid {
				m.DroppedRows.WithLabelValues("duplicate_key").Inc()
				continue
			}
			o.SetTemperature(scenario, domain.F(v.Value))
		}
	}
	pollutantSet := make(map[string]bool)
	for _, v := range in.AirQuality {
		if !seeYear(v.Region, v.Year) {
			continue
		}
		pollutantSet[v.Pollutant] = true
		o := cell(v.Region, v.Year, v.Week)
		if o.PollutantFor(v.Pollutant).Valid {
			m.DroppedRows.WithLabelValues("duplicate_key").Inc()
			continue
		}
		o.SetPollutant(v.Pollutant, domain.F(v.Value))
	}

	p := &Panel{
		Scenarios:  append([]string(nil), scenarios...),
		Pollutants: sortedKeys(pollutantSet),
	}
	if len(regions) == 0 {
		logger.Warn("no source data, panel is empty")
		return p
	}

	// Build the grid in its final sort order, filling from the cell map
	// and the annual lookups.
	codes := sortedKeys(regions)
	for _, region := range codes {
		for year := minYear; year <= maxYear; year++ {
			for week := 1; week <= gridWeeks; week++ {
				o := &domain.Observation{Region: region, Year: year, Week: week}
				if src, ok := cells[domain.Key{Region: region, Year: year, Week: week}]; ok {
					*o = *src
				}
				if v, ok := density[annualKey{region, year}]; ok {
					o.PopulationDensity = domain.F(v)
				}
				if v, ok := population[annualKey{region, year}]; ok {
					o.Population = domain.F(v)
				}
				o.MortalityRate = domain.MortalityRatePer100k(o.Mortality, o.Population)
				p.Rows = append(p.Rows, *o)
			}
		}
	}

	for _, scenario := range p.Scenarios {
		fillTemperatureGaps(p.Rows, scenario, maxGapWeeks, len(codes))
	}

	m.RowsAssembled.Add(float64(len(p.Rows)))
	logger.Info("assembled panel",
		"regions", len(codes), "years", maxYear-minYear+1, "rows", len(p.Rows),
		"pollutants", strings.Join(p.Pollutants, ","))
	return p
}

// fillTemperatureGaps interpolates one scenario's temperature per region.
// Rows are the full grid, so each region occupies a contiguous run of
// (maxYear-minYear+1)*52 rows in week order.
func fillTemperatureGaps(rows []domain.Observation, scenario string, maxGap, regionCount int) {
	if regionCount == 0 || maxGap <= 0 {
		return
	}
	perRegion := len(rows) / regionCount
	for r := 0; r < regionCount; r++ {
		run := rows[r*perRegion : (r+1)*perRegion]

		// Indices of valid values in this region's series.
		var valid []int
		for i := range run {
			if run[i].TemperatureFor(scenario).Valid {
				valid = append(valid, i)
			}
		}
		if len(valid) == 0 {
			continue
		}

		// Leading run: backfill with the first value.
		if lead := valid[0]; lead > 0 && lead <= maxGap {
			v := run[lead].TemperatureFor(scenario)
			for i := 0; i < lead; i++ {
				run[i].SetTemperature(scenario, v)
			}
		}
		// Trailing run: carry the last value forward.
		last := valid[len(valid)-1]
		if trail := len(run) - 1 - last; trail > 0 && trail <= maxGap {
			v := run[last].TemperatureFor(scenario)
			for i := last + 1; i < len(run); i++ {
				run[i].SetTemperature(scenario, v)
			}
		}
		// Interior gaps: linear between the bracketing values.
		for k := 0; k+1 < len(valid); k++ {
			lo, hi := valid[k], valid[k+1]
			gap := hi - lo - 1
			if gap == 0 || gap > maxGap {
				continue
			}
			a := run[lo].TemperatureFor(scenario).Value
			b := run[hi].TemperatureFor(scenario).Value
			for i := lo + 1; i < hi; i++ {
				frac := float64(i-lo) / float64(hi-lo)
				run[i].SetTemperature(scenario, domain.F(a+frac*(b-a)))
			}
		}
	}
}

// Partition splits the panel by region code: codes starting with prefix,
// excluding the country code itself, form the domestic panel.
func (p *Panel) Partition(prefix string) (domestic, rest *Panel) {
	domestic = &Panel{Scenarios: p.Scenarios, Pollutants: p.Pollutants}
	rest = &Panel{Scenarios: p.Scenarios, Pollutants: p.Pollutants}
	for _, row := range p.Rows {
		if strings.HasPrefix(row.Region, prefix) && row.Region != prefix {
			domestic.Rows = append(domestic.Rows, row)
		} else {
			rest.Rows = append(rest.Rows, row)
		}
	}
	return domestic, rest
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
