// Package eurostat fetches statistical datasets from the Eurostat
// dissemination API and parses its SDMX-TSV format into long-form records.
package eurostat

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/europanel/panel-etl/internal/domain"
)

// Table is one parsed SDMX-TSV dataset kept in its wide shape: one row per
// dimension combination, one column per time period.
//
// The format packs all dimensions into the first column: the header cell is
// "freq,unit,geo\TIME_PERIOD" (dimension names comma-joined, then the time
// axis after a backslash) and each data row starts with the matching
// comma-joined dimension values. Period headers may carry trailing spaces
// and cells use ":" for missing, optionally followed by flag letters.
type Table struct {
	Dims    []string
	Periods []string
	Rows    []Row
}

// Row is one dimension combination with its cell per period.
type Row struct {
	Dims  []string
	Cells []domain.Float
}

// Dim returns a row's value for the named dimension, or "" if the table
// has no such dimension.
func (t *Table) Dim(r Row, name string) string {
	for i, d := range t.Dims {
		if d == name {
			return r.Dims[i]
		}
	}
	return ""
}

// ParseGzipTSV decompresses and parses an SDMX-TSV body as served with
// compressed=true.
func ParseGzipTSV(r io.Reader) (*Table, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("eurostat: decompress: %w", err)
	}
	defer zr.Close()
	return ParseTSV(zr)
}

// ParseTSV parses an uncompressed SDMX-TSV body.
func ParseTSV(r io.Reader) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("eurostat: read header: %w", err)
		}
		return nil, fmt.Errorf("eurostat: empty body")
	}

	header := strings.Split(sc.Text(), "\t")
	key, rest, ok := strings.Cut(header[0], `\`)
	if !ok || strings.TrimSpace(rest) != "TIME_PERIOD" {
		return nil, fmt.Errorf("eurostat: malformed header key %q", header[0])
	}
	t := &Table{
		Dims:    strings.Split(key, ","),
		Periods: make([]string, 0, len(header)-1),
	}
	for _, p := range header[1:] {
		t.Periods = append(t.Periods, strings.TrimSpace(p))
	}

	line := 1
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != len(t.Periods)+1 {
			return nil, fmt.Errorf("eurostat: line %d has %d cells, want %d", line, len(fields)-1, len(t.Periods))
		}
		dims := strings.Split(fields[0], ",")
		if len(dims) != len(t.Dims) {
			return nil, fmt.Errorf("eurostat: line %d has %d dimensions, want %d", line, len(dims), len(t.Dims))
		}
		row := Row{Dims: dims, Cells: make([]domain.Float, len(t.Periods))}
		for i, cell := range fields[1:] {
			row.Cells[i] = parseCell(cell)
		}
		t.Rows = append(t.Rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("eurostat: read body: %w", err)
	}
	return t, nil
}

// parseCell reads one TSV cell. Values may carry flag letters after the
// number ("12.3 p"); ":" with or without flags means missing.
func parseCell(cell string) domain.Float {
	tokens := strings.Fields(cell)
	if len(tokens) == 0 || tokens[0] == ":" {
		return domain.Null
	}
	v, err := strconv.ParseFloat(tokens[0], 64)
	if err != nil {
		return domain.Null
	}
	return domain.F(v)
}

// ParseWeekLabel parses an ISO-week period label like "2015-W03".
func ParseWeekLabel(label string) (year, week int, err error) {
	if len(label) < 8 || label[4] != '-' || label[5] != 'W' {
		return 0, 0, fmt.Errorf("eurostat: malformed week label %q", label)
	}
	year, err = strconv.Atoi(label[:4])
	if err != nil {
		return 0, 0, fmt.Errorf("eurostat: malformed week label %q", label)
	}
	week, err = strconv.Atoi(label[6:])
	if err != nil || week < 1 || week > 53 {
		return 0, 0, fmt.Errorf("eurostat: malformed week label %q", label)
	}
	return year, week, nil
}
