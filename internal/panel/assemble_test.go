package panel

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/eea"
	"github.com/europanel/panel-etl/internal/observability"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assemble(t *testing.T, in Inputs) *Panel {
	t.Helper()
	return Assemble(in, []string{"rcp45", "rcp85"}, 3, observability.NewMetricsForTesting(), discard())
}

func (p *Panel) row(t *testing.T, region string, year, week int) *domain.Observation {
	t.Helper()
	for _, r := range p.Rows {
		if r.Region == region && r.Year == year && r.Week == week {
			return &r
		}
	}
	t.Fatalf("no row for %s %d-W%02d", region, year, week)
	return &domain.Observation{}
}

func TestAssemble_GridIsComplete(t *testing.T) {
	p := assemble(t, Inputs{
		Mortality: []domain.WeeklyValue{
			{Region: "AT130", Year: 2015, Week: 3, Value: 210},
			{Region: "DE", Year: 2016, Week: 10, Value: 9000},
		},
	})

	// 2 regions x 2 years x 52 weeks.
	assert.Len(t, p.Rows, 2*2*52)

	seen := make(map[domain.Key]bool)
	for _, r := range p.Rows {
		k := domain.Key{Region: r.Region, Year: r.Year, Week: r.Week}
		assert.False(t, seen[k], "duplicate key %+v", k)
		seen[k] = true
		assert.GreaterOrEqual(t, r.Week, 1)
		assert.LessOrEqual(t, r.Week, 52)
	}

	assert.True(t, p.row(t, "AT130", 2015, 3).Mortality.Equal(domain.F(210)))
	assert.False(t, p.row(t, "AT130", 2015, 4).Mortality.Valid, "unfetched cells stay null")
}

func TestAssemble_SortedByRegionYearWeek(t *testing.T) {
	p := assemble(t, Inputs{
		Mortality: []domain.WeeklyValue{
			{Region: "DE", Year: 2015, Week: 1, Value: 1},
			{Region: "AT130", Year: 2015, Week: 1, Value: 1},
		},
	})
	for i := 1; i < len(p.Rows); i++ {
		prev, cur := p.Rows[i-1], p.Rows[i]
		ordered := prev.Region < cur.Region ||
			(prev.Region == cur.Region && prev.Year < cur.Year) ||
			(prev.Region == cur.Region && prev.Year == cur.Year && prev.Week < cur.Week)
		assert.True(t, ordered, "rows %d and %d out of order", i-1, i)
	}
}

func TestAssemble_AnnualValuesBroadcast(t *testing.T) {
	p := assemble(t, Inputs{
		Mortality:  []domain.WeeklyValue{{Region: "AT130", Year: 2015, Week: 1, Value: 184}},
		Population: []domain.AnnualValue{{Region: "AT130", Year: 2015, Value: 1840000}},
		Density:    []domain.AnnualValue{{Region: "AT130", Year: 2015, Value: 4600.5}},
	})

	for week := 1; week <= 52; week++ {
		r := p.row(t, "AT130", 2015, week)
		assert.True(t, r.Population.Equal(domain.F(1840000)), "week %d", week)
		assert.True(t, r.PopulationDensity.Equal(domain.F(4600.5)), "week %d", week)
	}
}

func TestAssemble_MortalityRate(t *testing.T) {
	p := assemble(t, Inputs{
		Mortality:  []domain.WeeklyValue{{Region: "AT130", Year: 2015, Week: 1, Value: 184}},
		Population: []domain.AnnualValue{{Region: "AT130", Year: 2015, Value: 1840000}},
	})

	r := p.row(t, "AT130", 2015, 1)
	require.True(t, r.MortalityRate.Valid)
	assert.InDelta(t, 10.0, r.MortalityRate.Value, 1e-9)

	assert.False(t, p.row(t, "AT130", 2015, 2).MortalityRate.Valid, "rate is null without mortality")
}

func TestAssemble_TemperatureGapFill(t *testing.T) {
	temp := func(week int, v float64) domain.WeeklyValue {
		return domain.WeeklyValue{Region: "AT130", Year: 2015, Week: week, Value: v}
	}
	p := assemble(t, Inputs{
		Temperature: map[string][]domain.WeeklyValue{
			"rcp45": {
				temp(3, 10), temp(6, 16), // gap of 2: filled linearly
				temp(20, 0), temp(30, 0), // gap of 9: stays null
			},
		},
	})

	r := p.row(t, "AT130", 2015, 4)
	require.True(t, r.TemperatureFor("rcp45").Valid)
	assert.InDelta(t, 12.0, r.TemperatureFor("rcp45").Value, 1e-9)
	r = p.row(t, "AT130", 2015, 5)
	assert.InDelta(t, 14.0, r.TemperatureFor("rcp45").Value, 1e-9)

	assert.False(t, p.row(t, "AT130", 2015, 25).TemperatureFor("rcp45").Valid,
		"gaps wider than the limit stay null")

	// Leading run of 2 weeks backfills from week 3.
	assert.True(t, p.row(t, "AT130", 2015, 1).TemperatureFor("rcp45").Equal(domain.F(10)))
	assert.True(t, p.row(t, "AT130", 2015, 2).TemperatureFor("rcp45").Equal(domain.F(10)))

	// Trailing run 31..52 is longer than the limit and stays null.
	assert.False(t, p.row(t, "AT130", 2015, 40).TemperatureFor("rcp45").Valid)
}

func TestAssemble_ScenariosStayIndependent(t *testing.T) {
	p := assemble(t, Inputs{
		Temperature: map[string][]domain.WeeklyValue{
			"rcp45": {{Region: "AT130", Year: 2015, Week: 1, Value: 5}},
			"rcp85": {{Region: "AT130", Year: 2015, Week: 1, Value: 7}},
		},
	})
	r := p.row(t, "AT130", 2015, 1)
	assert.True(t, r.TemperatureFor("rcp45").Equal(domain.F(5)))
	assert.True(t, r.TemperatureFor("rcp85").Equal(domain.F(7)))
}

func TestAssemble_DropsRowsBeyondHorizon(t *testing.T) {
	p := assemble(t, Inputs{
		Temperature: map[string][]domain.WeeklyValue{
			"rcp85": {
				{Region: "AT130", Year: 2100, Week: 1, Value: 20},
				{Region: "AT130", Year: 2101, Week: 1, Value: 21},
			},
		},
	})
	for _, r := range p.Rows {
		assert.LessOrEqual(t, r.Year, 2100)
	}
}

func TestAssemble_Week53OutsideGrid(t *testing.T) {
	p := assemble(t, Inputs{
		Mortality: []domain.WeeklyValue{
			{Region: "AT130", Year: 2020, Week: 53, Value: 250},
			{Region: "AT130", Year: 2020, Week: 52, Value: 240},
		},
	})
	assert.Len(t, p.Rows, 52)
	assert.True(t, p.row(t, "AT130", 2020, 52).Mortality.Equal(domain.F(240)))
}

func TestAssemble_DuplicateKeyKeepsFirst(t *testing.T) {
	p := assemble(t, Inputs{
		Mortality: []domain.WeeklyValue{
			{Region: "AT130", Year: 2015, Week: 1, Value: 100},
			{Region: "AT130", Year: 2015, Week: 1, Value: 999},
		},
	})
	assert.True(t, p.row(t, "AT130", 2015, 1).Mortality.Equal(domain.F(100)))
}

func TestAssemble_AirQualityColumns(t *testing.T) {
	p := assemble(t, Inputs{
		AirQuality: []eea.Measurement{
			{Region: "AT", Year: 2015, Week: 1, Pollutant: "pm10", Value: 22.5},
			{Region: "AT", Year: 2015, Week: 1, Pollutant: "NOx", Value: 31.0},
		},
	})
	assert.Equal(t, []string{"NOx", "pm10"}, p.Pollutants)
	r := p.row(t, "AT", 2015, 1)
	assert.True(t, r.PollutantFor("pm10").Equal(domain.F(22.5)))
	assert.True(t, r.PollutantFor("NOx").Equal(domain.F(31.0)))
}

func TestAssemble_Empty(t *testing.T) {
	p := assemble(t, Inputs{})
	assert.Empty(t, p.Rows)
}

func TestPartition(t *testing.T) {
	p := assemble(t, Inputs{
		Mortality: []domain.WeeklyValue{
			{Region: "AT", Year: 2015, Week: 1, Value: 1},
			{Region: "AT130", Year: 2015, Week: 1, Value: 2},
			{Region: "DE", Year: 2015, Week: 1, Value: 3},
		},
	})

	domestic, rest := p.Partition("AT")

	for _, r := range domestic.Rows {
		assert.Equal(t, "AT130", r.Region)
	}
	codes := make(map[string]bool)
	for _, r := range rest.Rows {
		codes[r.Region] = true
	}
	assert.Equal(t, map[string]bool{"AT": true, "DE": true}, codes,
		"the country total stays in the European panel")
	assert.Len(t, domestic.Rows, 52)
	assert.Len(t, rest.Rows, 2*52)
}
