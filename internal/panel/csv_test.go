package panel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europanel/panel-etl/internal/domain"
)

func samplePanel() *Panel {
	row := domain.Observation{
		Region:            "AT130",
		Year:              2015,
		Week:              1,
		Mortality:         domain.F(184),
		Population:        domain.F(1840000),
		PopulationDensity: domain.F(4600.5),
		MortalityRate:     domain.F(10),
	}
	row.SetTemperature("rcp45", domain.F(3.2))
	row.SetPollutant("pm10", domain.F(22.5))

	empty := domain.Observation{Region: "AT130", Year: 2015, Week: 2}

	return &Panel{
		Scenarios:  []string{"rcp45", "rcp85"},
		Pollutants: []string{"NOx", "pm10"},
		Rows:       []domain.Observation{row, empty},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, samplePanel()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t,
		"NUTS_ID,year,week,mortality,population_density,population,mortality_rate,temperature_rcp45,temperature_rcp85,NOx,pm10",
		lines[0])
	assert.Equal(t, "AT130,2015,1,184.0,4600.5,1840000.0,10.0,3.2,,,22.5", lines[1])
	assert.Equal(t, "AT130,2015,2,,,,,,,,", lines[2], "null cells are empty")
}

func TestCSVRoundTrip(t *testing.T) {
	want := samplePanel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, want))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)

	assert.Equal(t, want.Scenarios, got.Scenarios)
	assert.Equal(t, want.Pollutants, got.Pollutants)
	require.Len(t, got.Rows, len(want.Rows))
	for i := range want.Rows {
		w, g := want.Rows[i], got.Rows[i]
		assert.Equal(t, w.Region, g.Region)
		assert.Equal(t, w.Year, g.Year)
		assert.Equal(t, w.Week, g.Week)
		assert.True(t, w.Mortality.Equal(g.Mortality))
		assert.True(t, w.TemperatureFor("rcp45").Equal(g.TemperatureFor("rcp45")))
		assert.True(t, w.PollutantFor("pm10").Equal(g.PollutantFor("pm10")))
	}
}

func TestReadCSV_RejectsForeignHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b,c\n1,2,3\n"))
	assert.Error(t, err)
}

func TestReadCSV_RejectsBadCells(t *testing.T) {
	body := "NUTS_ID,year,week,mortality,population_density,population,mortality_rate\n" +
		"AT130,2015,1,abc,,,\n"
	_, err := ReadCSV(strings.NewReader(body))
	assert.Error(t, err)
}
