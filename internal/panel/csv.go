package panel

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/europanel/panel-etl/internal/domain"
)

// Fixed leading columns of the panel CSV. Scenario temperatures follow as
// "temperature_<scenario>", then one column per pollutant.
var baseColumns = []string{
	"NUTS_ID", "year", "week",
	"mortality", "population_density", "population", "mortality_rate",
}

const temperaturePrefix = "temperature_"

// Header returns the CSV column names for this panel's shape.
func (p *Panel) Header() []string {
	header := append([]string(nil), baseColumns...)
	for _, s := range p.Scenarios {
		header = append(header, temperaturePrefix+s)
	}
	return append(header, p.Pollutants...)
}

// WriteCSV writes the panel. Numeric cells carry one decimal place; null
// cells are empty.
func WriteCSV(w io.Writer, p *Panel) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(p.Header()); err != nil {
		return err
	}
	record := make([]string, len(baseColumns)+len(p.Scenarios)+len(p.Pollutants))
	for _, row := range p.Rows {
		record[0] = row.Region
		record[1] = strconv.Itoa(row.Year)
		record[2] = strconv.Itoa(row.Week)
		record[3] = row.Mortality.String()
		record[4] = row.PopulationDensity.String()
		record[5] = row.Population.String()
		record[6] = row.MortalityRate.String()
		i := len(baseColumns)
		for _, s := range p.Scenarios {
			record[i] = row.TemperatureFor(s).String()
			i++
		}
		for _, name := range p.Pollutants {
			record[i] = row.PollutantFor(name).String()
			i++
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a panel CSV written by WriteCSV, recovering the scenario
// and pollutant columns from the header.
func ReadCSV(r io.Reader) (*Panel, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("panel: read header: %w", err)
	}
	if len(header) < len(baseColumns) {
		return nil, fmt.Errorf("panel: header has %d columns, want at least %d", len(header), len(baseColumns))
	}
	for i, want := range baseColumns {
		if header[i] != want {
			return nil, fmt.Errorf("panel: header column %d is %q, want %q", i, header[i], want)
		}
	}

	p := &Panel{}
	for _, col := range header[len(baseColumns):] {
		if s, ok := strings.CutPrefix(col, temperaturePrefix); ok {
			p.Scenarios = append(p.Scenarios, s)
		} else {
			p.Pollutants = append(p.Pollutants, col)
		}
	}

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("panel: read row: %w", err)
		}
		line++

		year, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, fmt.Errorf("panel: line %d: bad year %q", line, record[1])
		}
		week, err := strconv.Atoi(record[2])
		if err != nil {
			return nil, fmt.Errorf("panel: line %d: bad week %q", line, record[2])
		}
		row := domain.Observation{Region: record[0], Year: year, Week: week}
		if row.Mortality, err = parseFloatCell(record[3]); err != nil {
			return nil, fmt.Errorf("panel: line %d: %w", line, err)
		}
		if row.PopulationDensity, err = parseFloatCell(record[4]); err != nil {
			return nil, fmt.Errorf("panel: line %d: %w", line, err)
		}
		if row.Population, err = parseFloatCell(record[5]); err != nil {
			return nil, fmt.Errorf("panel: line %d: %w", line, err)
		}
		if row.MortalityRate, err = parseFloatCell(record[6]); err != nil {
			return nil, fmt.Errorf("panel: line %d: %w", line, err)
		}
		i := len(baseColumns)
		for _, s := range p.Scenarios {
			v, err := parseFloatCell(record[i])
			if err != nil {
				return nil, fmt.Errorf("panel: line %d: %w", line, err)
			}
			if v.Valid {
				row.SetTemperature(s, v)
			}
			i++
		}
		for _, name := range p.Pollutants {
			v, err := parseFloatCell(record[i])
			if err != nil {
				return nil, fmt.Errorf("panel: line %d: %w", line, err)
			}
			if v.Valid {
				row.SetPollutant(name, v)
			}
			i++
		}
		p.Rows = append(p.Rows, row)
	}
	return p, nil
}

func parseFloatCell(s string) (domain.Float, error) {
	if s == "" {
		return domain.Null, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.Null, fmt.Errorf("bad numeric cell %q", s)
	}
	return domain.F(v), nil
}
