package cordex

import (
	"fmt"
	"strings"
	"time"

	"github.com/fhs/go-netcdf/netcdf"
)

// grid is one loaded archive: the rotated coordinate axes, the time axis
// resolved to dates, and the full temperature cube in Kelvin.
type grid struct {
	rlon, rlat []float64
	poleLon    float64
	poleLat    float64
	times      []time.Time
	// tas is indexed [t][rlat][rlon], flattened.
	tas []float32
}

// at returns the temperature at time step t for the grid cell (j, i).
func (g *grid) at(t, j, i int) float64 {
	return float64(g.tas[(t*len(g.rlat)+j)*len(g.rlon)+i])
}

// cellFor maps a geographic point to the nearest grid cell.
func (g *grid) cellFor(lon, lat float64) (j, i int) {
	rlon, rlat := toRotated(lon, lat, g.poleLon, g.poleLat)
	return nearestIndex(g.rlat, rlat), nearestIndex(g.rlon, rlon)
}

// loadGrid reads one archive. The file must carry tas(time, rlat, rlon),
// the rlon/rlat axes, a rotated_pole grid mapping, and a CF time axis on
// the standard or proleptic Gregorian calendar.
func loadGrid(path string) (*grid, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("cordex: open %s: %w", path, err)
	}
	defer ds.Close()

	rlon, err := readAxis(ds, "rlon")
	if err != nil {
		return nil, fmt.Errorf("cordex: %s: %w", path, err)
	}
	rlat, err := readAxis(ds, "rlat")
	if err != nil {
		return nil, fmt.Errorf("cordex: %s: %w", path, err)
	}

	pole, err := ds.Var("rotated_pole")
	if err != nil {
		return nil, fmt.Errorf("cordex: %s: no rotated_pole mapping: %w", path, err)
	}
	poleLon, err := readFloatAttr(pole, "grid_north_pole_longitude")
	if err != nil {
		return nil, fmt.Errorf("cordex: %s: %w", path, err)
	}
	poleLat, err := readFloatAttr(pole, "grid_north_pole_latitude")
	if err != nil {
		return nil, fmt.Errorf("cordex: %s: %w", path, err)
	}

	times, err := readTimeAxis(ds)
	if err != nil {
		return nil, fmt.Errorf("cordex: %s: %w", path, err)
	}

	tasVar, err := ds.Var("tas")
	if err != nil {
		return nil, fmt.Errorf("cordex: %s: no tas variable: %w", path, err)
	}
	tas := make([]float32, len(times)*len(rlat)*len(rlon))
	if err := tasVar.ReadFloat32s(tas); err != nil {
		return nil, fmt.Errorf("cordex: %s: read tas: %w", path, err)
	}

	return &grid{
		rlon:    rlon,
		rlat:    rlat,
		poleLon: poleLon,
		poleLat: poleLat,
		times:   times,
		tas:     tas,
	}, nil
}

func readAxis(ds netcdf.Dataset, name string) ([]float64, error) {
	v, err := ds.Var(name)
	if err != nil {
		return nil, fmt.Errorf("no %s axis: %w", name, err)
	}
	n, err := axisLen(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	if err := v.ReadFloat64s(out); err != nil {
		return nil, fmt.Errorf("read %s axis: %w", name, err)
	}
	return out, nil
}

func axisLen(v netcdf.Var) (uint64, error) {
	dims, err := v.Dims()
	if err != nil {
		return 0, err
	}
	n := uint64(1)
	for _, d := range dims {
		dl, err := d.Len()
		if err != nil {
			return 0, err
		}
		n *= dl
	}
	return n, nil
}

func readFloatAttr(v netcdf.Var, name string) (float64, error) {
	a := v.Attr(name)
	buf := make([]float64, 1)
	if err := a.ReadFloat64s(buf); err != nil {
		return 0, fmt.Errorf("read attribute %s: %w", name, err)
	}
	return buf[0], nil
}

func readStringAttr(v netcdf.Var, name string) (string, error) {
	a := v.Attr(name)
	n, err := a.Len()
	if err != nil {
		return "", fmt.Errorf("read attribute %s: %w", name, err)
	}
	buf := make([]byte, n)
	if err := a.ReadBytes(buf); err != nil {
		return "", fmt.Errorf("read attribute %s: %w", name, err)
	}
	return string(buf), nil
}

// readTimeAxis resolves the CF time axis ("days since ..." or "hours since
// ...") to concrete dates. Model calendars that drop leap days cannot be
// mapped onto real dates, so anything but standard or proleptic Gregorian
// is rejected.
func readTimeAxis(ds netcdf.Dataset) ([]time.Time, error) {
	v, err := ds.Var("time")
	if err != nil {
		return nil, fmt.Errorf("no time axis: %w", err)
	}

	calendar, err := readStringAttr(v, "calendar")
	if err != nil {
		calendar = "standard"
	}
	switch strings.ToLower(strings.TrimSpace(calendar)) {
	case "standard", "gregorian", "proleptic_gregorian":
	default:
		return nil, fmt.Errorf("unsupported calendar %q", calendar)
	}

	units, err := readStringAttr(v, "units")
	if err != nil {
		return nil, err
	}
	step, base, err := parseTimeUnits(units)
	if err != nil {
		return nil, err
	}

	n, err := axisLen(v)
	if err != nil {
		return nil, err
	}
	offsets := make([]float64, n)
	if err := v.ReadFloat64s(offsets); err != nil {
		return nil, fmt.Errorf("read time axis: %w", err)
	}

	times := make([]time.Time, n)
	for i, off := range offsets {
		times[i] = base.Add(time.Duration(off * float64(step)))
	}
	return times, nil
}

// parseTimeUnits parses CF time units like "days since 1949-12-01 00:00:00".
func parseTimeUnits(units string) (time.Duration, time.Time, error) {
	unit, rest, ok := strings.Cut(strings.TrimSpace(units), " since ")
	if !ok {
		return 0, time.Time{}, fmt.Errorf("malformed time units %q", units)
	}
	var step time.Duration
	switch strings.ToLower(unit) {
	case "days":
		step = 24 * time.Hour
	case "hours":
		step = time.Hour
	default:
		return 0, time.Time{}, fmt.Errorf("unsupported time unit %q", unit)
	}

	rest = strings.TrimSpace(rest)
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05Z", "2006-01-02"} {
		if base, err := time.Parse(layout, rest); err == nil {
			return step, base.UTC(), nil
		}
	}
	return 0, time.Time{}, fmt.Errorf("malformed time base %q", rest)
}
