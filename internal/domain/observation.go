package domain

import (
	"math"
	"strconv"
)

// Float is a nullable float64. The zero value is null.
type Float struct {
	Value float64
	Valid bool
}

// F wraps a float64 in a valid Float.
func F(v float64) Float {
	return Float{Value: v, Valid: true}
}

// Null is the absent Float value.
var Null = Float{}

// Equal reports whether two Floats are both null or both valid with the
// same value. NaN never equals anything, matching float64 semantics.
func (f Float) Equal(other Float) bool {
	if f.Valid != other.Valid {
		return false
	}
	return !f.Valid || f.Value == other.Value
}

// String formats the value with one decimal, or "" when null. This is the
// cell format used by the panel CSV writer.
func (f Float) String() string {
	if !f.Valid {
		return ""
	}
	if math.IsNaN(f.Value) || math.IsInf(f.Value, 0) {
		return ""
	}
	return strconv.FormatFloat(f.Value, 'f', 1, 64)
}

// Key identifies one weekly observation. Annual series use Week == 0.
type Key struct {
	Region string
	Year   int
	Week   int
}

// WeeklyValue is a single long-format record produced by a fetcher.
type WeeklyValue struct {
	Region string
	Year   int
	Week   int
	Value  float64
}

// AnnualValue is a single long-format record for annual series
// (population, population density).
type AnnualValue struct {
	Region string
	Year   int
	Value  float64
}

// Observation is one assembled panel row. Temperature is keyed by
// emissions scenario name (e.g. "rcp85"); Pollutants by pollutant name
// (e.g. "pm10"). Nil maps and absent keys both read as null.
type Observation struct {
	Region            string
	Year              int
	Week              int
	Mortality         Float
	PopulationDensity Float
	Population        Float
	MortalityRate     Float
	Temperature       map[string]Float
	Pollutants        map[string]Float
}

// TemperatureFor returns the temperature for a scenario, null if unset.
func (o *Observation) TemperatureFor(scenario string) Float {
	if o.Temperature == nil {
		return Null
	}
	return o.Temperature[scenario]
}

// PollutantFor returns the value for a pollutant, null if unset.
func (o *Observation) PollutantFor(name string) Float {
	if o.Pollutants == nil {
		return Null
	}
	return o.Pollutants[name]
}

// SetTemperature records a scenario temperature, allocating the map on
// first use.
func (o *Observation) SetTemperature(scenario string, v Float) {
	if o.Temperature == nil {
		o.Temperature = make(map[string]Float)
	}
	o.Temperature[scenario] = v
}

// SetPollutant records a pollutant value, allocating the map on first use.
func (o *Observation) SetPollutant(name string, v Float) {
	if o.Pollutants == nil {
		o.Pollutants = make(map[string]Float)
	}
	o.Pollutants[name] = v
}

// MortalityRatePer100k derives the mortality rate per 100,000 population.
// Returns null when either input is null or population is not positive;
// the zero-population guard is explicit so the panel never carries +Inf.
func MortalityRatePer100k(mortality, population Float) Float {
	if !mortality.Valid || !population.Valid || population.Value <= 0 {
		return Null
	}
	return F(100000 * mortality.Value / population.Value)
}
