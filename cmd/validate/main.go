// Command validate performs integrity checks on the panel CSV artifacts
// written by the ETL: key uniqueness, grid completeness, the mortality-rate
// relation, the partition split, and alignment with the boundary GeoJSON.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -domestic data/domestic.csv \
//	  -europe data/europe.csv \
//	  -boundaries data/regions.geojson \
//	  -prefix AT
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/europanel/panel-etl/internal/boundary"
	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/panel"
)

const (
	horizonYear = 2100
	gridWeeks   = 52
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	domesticPath := flag.String("domestic", "", "path to the domestic panel CSV")
	europePath := flag.String("europe", "", "path to the European panel CSV")
	boundariesPath := flag.String("boundaries", "", "path to the boundary GeoJSON (optional)")
	prefix := flag.String("prefix", "AT", "domestic region code prefix")
	flag.Parse()

	if *domesticPath == "" || *europePath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*domesticPath, *europePath, *boundariesPath, *prefix); code != 0 {
		os.Exit(code)
	}
}

func run(domesticPath, europePath, boundariesPath, prefix string) int {
	fmt.Println("=== Panel Integrity Validation ===")
	fmt.Println()

	domestic, err := loadPanel(domesticPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load domestic panel: %v\n", err)
		return 1
	}
	europe, err := loadPanel(europePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load European panel: %v\n", err)
		return 1
	}

	var regions []domain.Region
	if boundariesPath != "" {
		regions, err = loadBoundaries(boundariesPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load boundaries: %v\n", err)
			return 1
		}
	}

	phases := []*phase{
		validateKeys(domestic, europe),
		validateGrid(domestic, europe),
		validateRateRelation(domestic, europe),
		validatePartition(domestic, europe, prefix),
	}
	if regions != nil {
		phases = append(phases, validateBoundaryAlignment(domestic, europe, regions))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Rows: %d domestic, %d European", len(domestic.Rows), len(europe.Rows))
	if regions != nil {
		fmt.Printf(", %d boundary regions", len(regions))
	}
	fmt.Println()

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func loadPanel(path string) (*panel.Panel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return panel.ReadCSV(f)
}

func loadBoundaries(path string) ([]domain.Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return boundary.ReadGeoJSON(f)
}

// ── Phase 1: Keys ──
// Every (region, year, week) key appears at most once across both files,
// week lies within the grid, and no row exceeds the scenario horizon.

func validateKeys(domestic, europe *panel.Panel) *phase {
	p := &phase{name: "Phase 1: Keys (uniqueness, ranges)"}

	seen := map[domain.Key]string{}
	check := func(file string, rows []domain.Observation) {
		for i := range rows {
			row := &rows[i]
			k := domain.Key{Region: row.Region, Year: row.Year, Week: row.Week}
			if row.Region == "" {
				p.errorf("%s row %d: empty region code", file, i+1)
			}
			if row.Week < 1 || row.Week > gridWeeks {
				p.errorf("%s: %s %d week %d outside 1..%d", file, row.Region, row.Year, row.Week, gridWeeks)
			}
			if row.Year > horizonYear {
				p.errorf("%s: %s year %d beyond horizon %d", file, row.Region, row.Year, horizonYear)
			}
			if prev, ok := seen[k]; ok {
				p.errorf("duplicate key %s/%d/W%d (first in %s, again in %s)", k.Region, k.Year, k.Week, prev, file)
				continue
			}
			seen[k] = file
		}
	}
	check("domestic", domestic.Rows)
	check("europe", europe.Rows)
	return p
}

// ── Phase 2: Grid completeness ──
// Each region covers the panel's full year span with exactly weeks 1..52
// per year.

func validateGrid(domestic, europe *panel.Panel) *phase {
	p := &phase{name: "Phase 2: Grid completeness"}

	type regionYear struct {
		region string
		year   int
	}
	weeks := map[regionYear]map[int]bool{}
	years := map[string]map[int]bool{}
	minYear, maxYear := 0, 0

	collect := func(rows []domain.Observation) {
		for i := range rows {
			row := &rows[i]
			ry := regionYear{row.Region, row.Year}
			if weeks[ry] == nil {
				weeks[ry] = map[int]bool{}
			}
			weeks[ry][row.Week] = true
			if years[row.Region] == nil {
				years[row.Region] = map[int]bool{}
			}
			years[row.Region][row.Year] = true
			if minYear == 0 || row.Year < minYear {
				minYear = row.Year
			}
			if row.Year > maxYear {
				maxYear = row.Year
			}
		}
	}
	collect(domestic.Rows)
	collect(europe.Rows)

	if minYear == 0 {
		p.errorf("panel is empty")
		return p
	}

	for region, ys := range years {
		for year := minYear; year <= maxYear; year++ {
			if !ys[year] {
				p.errorf("%s: year %d missing from span %d..%d", region, year, minYear, maxYear)
				continue
			}
			got := weeks[regionYear{region, year}]
			if len(got) != gridWeeks {
				p.errorf("%s %d: %d weeks present, want %d", region, year, len(got), gridWeeks)
			}
		}
	}
	return p
}

// ── Phase 3: Mortality rate ──
// mortality_rate must equal 100000 * mortality / population where both
// inputs are present, and must be null where either is missing. Cells carry
// one decimal place, so the comparison allows for rounding of all three.

func validateRateRelation(domestic, europe *panel.Panel) *phase {
	p := &phase{name: "Phase 3: Mortality rate relation"}

	check := func(file string, rows []domain.Observation) {
		for i := range rows {
			row := &rows[i]
			expect := domain.MortalityRatePer100k(row.Mortality, row.Population)
			switch {
			case !expect.Valid && row.MortalityRate.Valid:
				p.errorf("%s: %s %d/W%d has rate %s with incomplete inputs",
					file, row.Region, row.Year, row.Week, row.MortalityRate.String())
			case expect.Valid && !row.MortalityRate.Valid:
				p.errorf("%s: %s %d/W%d rate missing, expected %s",
					file, row.Region, row.Year, row.Week, expect.String())
			case expect.Valid:
				tol := 0.051 + 100000*0.051/row.Population.Value
				if math.Abs(row.MortalityRate.Value-expect.Value) > tol {
					p.errorf("%s: %s %d/W%d rate %g, expected %g",
						file, row.Region, row.Year, row.Week, row.MortalityRate.Value, expect.Value)
				}
			}
		}
	}
	check("domestic", domestic.Rows)
	check("europe", europe.Rows)
	return p
}

// ── Phase 4: Partition ──
// The domestic file holds exactly the sub-national codes under the prefix;
// the European file holds everything else, including the country code
// itself. Both files must agree on column shape.

func validatePartition(domestic, europe *panel.Panel, prefix string) *phase {
	p := &phase{name: "Phase 4: Partition split"}

	for i := range domestic.Rows {
		code := domestic.Rows[i].Region
		if !strings.HasPrefix(code, prefix) || code == prefix {
			p.errorf("domestic file contains %q, which does not belong under prefix %q", code, prefix)
		}
	}
	for i := range europe.Rows {
		code := europe.Rows[i].Region
		if strings.HasPrefix(code, prefix) && code != prefix {
			p.errorf("European file contains domestic code %q", code)
		}
	}

	if !equalStrings(domestic.Scenarios, europe.Scenarios) {
		p.errorf("scenario columns differ: domestic=%v, europe=%v", domestic.Scenarios, europe.Scenarios)
	}
	if !equalStrings(domestic.Pollutants, europe.Pollutants) {
		p.errorf("pollutant columns differ: domestic=%v, europe=%v", domestic.Pollutants, europe.Pollutants)
	}
	return p
}

// ── Phase 5: Boundary alignment ──
// Every region code in the panel must have a boundary feature, so the map
// endpoint can render every row.

func validateBoundaryAlignment(domestic, europe *panel.Panel, regions []domain.Region) *phase {
	p := &phase{name: "Phase 5: Boundary alignment"}

	known := map[string]bool{}
	for _, r := range regions {
		known[r.Code] = true
	}

	reported := map[string]bool{}
	check := func(rows []domain.Observation) {
		for i := range rows {
			code := rows[i].Region
			if known[code] || reported[code] {
				continue
			}
			reported[code] = true
			p.errorf("panel region %q has no boundary feature", code)
		}
	}
	check(domestic.Rows)
	check(europe.Rows)
	return p
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
