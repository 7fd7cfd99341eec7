package cordex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/domain"
)

// kelvinOffset converts model output (Kelvin) to degrees Celsius.
const kelvinOffset = 273.15

// Service loads archives from a directory tree with one subdirectory per
// scenario (e.g. rcp45/, rcp85/) and produces weekly per-region series.
type Service struct {
	dir       string
	yearStart int
	yearEnd   int
	yearStep  int
	logger    *slog.Logger
}

// NewService wires a Service from configuration.
func NewService(cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		dir:       cfg.CordexDir,
		yearStart: cfg.ClimateYearStart,
		yearEnd:   cfg.ClimateYearEnd,
		yearStep:  cfg.ClimateYearStep,
		logger:    logger,
	}
}

// WeeklyTemperature produces the weekly mean temperature in degrees Celsius
// for every region under one scenario. For each target year in the
// configured range the closest-covering archive is loaded; each region is
// sampled at the grid cell nearest its centroid, and the monthly model
// series is interpolated to days and averaged into ISO weeks.
func (s *Service) WeeklyTemperature(ctx context.Context, scenario string, regions []domain.Region) ([]domain.WeeklyValue, error) {
	cents, err := centroids(regions)
	if err != nil {
		return nil, err
	}

	archives, err := s.selectArchives(scenario)
	if err != nil {
		return nil, err
	}

	// Monthly series per region, keyed by date. Overlapping archives keep
	// the value from the earlier file in chronological order.
	type dateKey struct{ y, m, d int }
	monthly := make(map[string]map[dateKey]sample, len(regions))
	for _, r := range regions {
		monthly[r.Code] = make(map[dateKey]sample)
	}

	for _, name := range archives {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g, err := loadGrid(filepath.Join(s.dir, scenario, name))
		if err != nil {
			return nil, err
		}
		s.logger.Info("loaded climate archive",
			"scenario", scenario, "archive", name, "steps", len(g.times))

		for _, r := range regions {
			c := cents[r.Code]
			j, i := g.cellFor(c.X, c.Y)
			series := monthly[r.Code]
			for t, stamp := range g.times {
				k := dateKey{y: stamp.Year(), m: int(stamp.Month()), d: stamp.Day()}
				if _, ok := series[k]; ok {
					continue
				}
				series[k] = sample{date: stamp, value: g.at(t, j, i)}
			}
		}
	}

	var out []domain.WeeklyValue
	for _, r := range regions {
		series := monthly[r.Code]
		if len(series) == 0 {
			continue
		}
		samples := make([]sample, 0, len(series))
		for _, v := range series {
			samples = append(samples, v)
		}
		for _, w := range weeklyMeans(monthlyToDaily(samples)) {
			out = append(out, domain.WeeklyValue{
				Region: r.Code,
				Year:   w.year,
				Week:   w.week,
				Value:  w.value - kelvinOffset,
			})
		}
	}
	return out, nil
}

// selectArchives resolves the configured target years to a deduplicated,
// chronologically sorted list of archive file names for one scenario.
func (s *Service) selectArchives(scenario string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, scenario))
	if err != nil {
		return nil, fmt.Errorf("cordex: list %s archives: %w", scenario, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}

	picked := make(map[string]bool)
	var out []string
	for year := s.yearStart; year <= s.yearEnd; year += s.yearStep {
		name, err := selectArchive(names, year)
		if err != nil {
			return nil, err
		}
		if !picked[name] {
			picked[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
