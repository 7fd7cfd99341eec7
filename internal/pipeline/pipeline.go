// Package pipeline orchestrates a full panel build: boundaries, mortality
// and population statistics, climate scenarios, air quality, assembly, and
// artifact writing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/europanel/panel-etl/internal/boundary"
	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/eea"
	"github.com/europanel/panel-etl/internal/fetch"
	"github.com/europanel/panel-etl/internal/observability"
	"github.com/europanel/panel-etl/internal/panel"
)

// airQualityStart is the earliest measurement date requested from the EEA.
var airQualityStart = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// airQualityDatasets are the EEA data tiers fetched per country: unverified,
// verified, and historical.
var airQualityDatasets = []int{1, 2, 3}

// BoundarySource builds the unified region collection.
type BoundarySource interface {
	Build(ctx context.Context) ([]domain.Region, error)
}

// StatisticsSource fetches the Eurostat series.
type StatisticsSource interface {
	WeeklyMortality(ctx context.Context) ([]domain.WeeklyValue, error)
	PopulationDensity(ctx context.Context) ([]domain.AnnualValue, error)
	CountryPopulation(ctx context.Context) ([]domain.AnnualValue, error)
	RegionalPopulation(ctx context.Context) ([]domain.AnnualValue, error)
}

// AirQualitySource fetches raw measurements per country.
type AirQualitySource interface {
	FetchCountry(ctx context.Context, country string, dataset int, start, end time.Time) ([]eea.Record, error)
}

// ClimateSource produces weekly temperature series per scenario.
type ClimateSource interface {
	WeeklyTemperature(ctx context.Context, scenario string, regions []domain.Region) ([]domain.WeeklyValue, error)
}

// PanelSink receives the finished build for serving.
type PanelSink interface {
	ReplaceRegions(ctx context.Context, regions []domain.Region) error
	ReplacePanel(ctx context.Context, p *panel.Panel) error
}

// MergePopulation merges country and regional population series; injected
// so the pipeline package does not depend on eurostat directly.
type MergePopulation func(country, regional []domain.AnnualValue) []domain.AnnualValue

// Pipeline runs panel builds and tracks readiness for the HTTP server.
type Pipeline struct {
	boundaries BoundarySource
	stats      StatisticsSource
	air        AirQualitySource
	climate    ClimateSource
	sink       PanelSink
	mergePop   MergePopulation

	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	ready atomic.Bool

	mu      sync.RWMutex
	regions []domain.Region
}

// New wires a Pipeline.
func New(b BoundarySource, s StatisticsSource, a AirQualitySource, c ClimateSource, sink PanelSink, mergePop MergePopulation, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		boundaries: b,
		stats:      s,
		air:        a,
		climate:    c,
		sink:       sink,
		mergePop:   mergePop,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once at least one build has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no panel build has completed yet")
	}
	return nil
}

// Boundaries returns the region collection of the latest build.
func (p *Pipeline) Boundaries() []domain.Region {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.regions
}

// Run executes one complete build.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("panel build started")
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	var regions []domain.Region
	err := p.stage(ctx, "boundary", func(ctx context.Context) error {
		var err error
		regions, err = p.boundaries.Build(ctx)
		if err != nil {
			return err
		}
		if err := p.writeBoundaries(regions); err != nil {
			return err
		}
		return p.sink.ReplaceRegions(ctx, regions)
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.regions = regions
	p.mu.Unlock()

	var in panel.Inputs
	err = p.stage(ctx, "mortality", func(ctx context.Context) error {
		mortality, err := p.stats.WeeklyMortality(ctx)
		if err != nil {
			return p.tolerateUpstream("mortality", err)
		}
		in.Mortality = mortality
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "population", func(ctx context.Context) error {
		density, err := p.stats.PopulationDensity(ctx)
		if err != nil {
			if err = p.tolerateUpstream("density", err); err != nil {
				return err
			}
		}
		country, err := p.stats.CountryPopulation(ctx)
		if err != nil {
			if err = p.tolerateUpstream("country population", err); err != nil {
				return err
			}
		}
		regional, err := p.stats.RegionalPopulation(ctx)
		if err != nil {
			if err = p.tolerateUpstream("regional population", err); err != nil {
				return err
			}
		}
		in.Density = density
		in.Population = p.mergePop(country, regional)
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "climate", func(ctx context.Context) error {
		in.Temperature = make(map[string][]domain.WeeklyValue, len(p.cfg.Scenarios))
		for _, scenario := range p.cfg.Scenarios {
			series, err := p.climate.WeeklyTemperature(ctx, scenario, regions)
			if err != nil {
				return fmt.Errorf("scenario %s: %w", scenario, err)
			}
			in.Temperature[scenario] = series
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "airquality", func(ctx context.Context) error {
		records, err := p.fetchAirQuality(ctx, countryCodes(regions))
		if err != nil {
			return err
		}
		in.AirQuality = eea.Aggregate(records, p.metrics, p.logger)
		return nil
	})
	if err != nil {
		return err
	}

	err = p.stage(ctx, "assemble", func(ctx context.Context) error {
		built := panel.Assemble(in, p.cfg.Scenarios, p.cfg.MaxGapWeeks, p.metrics, p.logger)
		p.logJoinMisses(regions, built)
		if err := p.writePanels(built); err != nil {
			return err
		}
		return p.sink.ReplacePanel(ctx, built)
	})
	if err != nil {
		p.metrics.AssemblyErrors.Inc()
		return err
	}

	p.ready.Store(true)
	p.metrics.PanelReady.Set(1)
	p.logger.Info("panel build finished")
	return nil
}

// logJoinMisses audits the panel against the boundary collection: region
// codes on one side only are not errors, but they surface here so a bad
// code mapping is visible in the logs.
func (p *Pipeline) logJoinMisses(regions []domain.Region, built *panel.Panel) {
	boundary := make(map[string]bool, len(regions))
	for _, r := range regions {
		boundary[r.Code] = true
	}
	inPanel := make(map[string]bool)
	var unmapped []string
	for i := range built.Rows {
		code := built.Rows[i].Region
		if inPanel[code] {
			continue
		}
		inPanel[code] = true
		if !boundary[code] {
			unmapped = append(unmapped, code)
		}
	}
	var noData []string
	for _, r := range regions {
		if !inPanel[r.Code] {
			noData = append(noData, r.Code)
		}
	}
	if len(unmapped) > 0 {
		sort.Strings(unmapped)
		p.logger.Warn("panel regions without boundary feature", "count", len(unmapped), "codes", unmapped)
	}
	if len(noData) > 0 {
		sort.Strings(noData)
		p.logger.Info("boundary regions without panel data", "count", len(noData), "codes", noData)
	}
}

// tolerateUpstream downgrades an upstream fetch failure to "no data for
// this source": the build proceeds and downstream joins carry nulls.
// Malformed payloads and every other error stay fatal.
func (p *Pipeline) tolerateUpstream(source string, err error) error {
	if errors.Is(err, fetch.ErrUpstream) {
		p.logger.Warn("source unavailable, continuing without it", "source", source, "error", err)
		return nil
	}
	return err
}

// stage runs one named build stage with timing and error accounting.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	p.logger.Info("stage started", "stage", name)

	err := fn(ctx)
	elapsed := time.Since(start)
	p.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		p.metrics.StageErrors.WithLabelValues(name).Inc()
		p.logger.Error("stage failed", "stage", name, "elapsed", elapsed, "error", err)
		return fmt.Errorf("stage %s: %w", name, err)
	}
	p.logger.Info("stage finished", "stage", name, "elapsed", elapsed)
	return nil
}

// fetchAirQuality fans out per-country downloads over a bounded worker
// pool. Individual countries may fail without sinking the build; the stage
// errors only when every country fails.
func (p *Pipeline) fetchAirQuality(ctx context.Context, countries []string) ([]eea.Record, error) {
	if len(countries) == 0 {
		return nil, nil
	}
	end := domain.Now().UTC()

	var (
		mu       sync.Mutex
		records  []eea.Record
		failures int
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, p.cfg.AirQualityWorkers)

	for _, country := range countries {
		wg.Add(1)
		sem <- struct{}{}
		go func(country string) {
			defer wg.Done()
			defer func() { <-sem }()

			// A failed dataset partition must not abort the others; the
			// country counts as failed only when all partitions fail.
			var fetched []eea.Record
			failedPartitions := 0
			for _, dataset := range airQualityDatasets {
				batch, err := p.air.FetchCountry(ctx, country, dataset, airQualityStart, end)
				if err != nil {
					failedPartitions++
					p.logger.Warn("air quality partition failed, continuing without it",
						"country", country, "dataset", dataset, "error", err)
					continue
				}
				fetched = append(fetched, batch...)
			}

			mu.Lock()
			defer mu.Unlock()
			if failedPartitions == len(airQualityDatasets) {
				failures++
				p.logger.Warn("air quality fetch failed, continuing without country",
					"country", country)
				return
			}
			records = append(records, fetched...)
		}(country)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failures == len(countries) {
		return nil, fmt.Errorf("all %d countries failed", len(countries))
	}
	return records, nil
}

// countryCodes filters the boundary collection down to country-level codes.
func countryCodes(regions []domain.Region) []string {
	var out []string
	for _, code := range domain.Codes(regions) {
		if len(code) == 2 {
			out = append(out, code)
		}
	}
	return out
}

func (p *Pipeline) writeBoundaries(regions []domain.Region) error {
	if err := os.MkdirAll(p.cfg.DataDir, 0o755); err != nil {
		return err
	}
	f, err := os.Create(p.cfg.BoundaryPath())
	if err != nil {
		return err
	}
	defer f.Close()
	if err := boundary.WriteGeoJSON(f, regions); err != nil {
		return err
	}
	return f.Close()
}

func (p *Pipeline) writePanels(built *panel.Panel) error {
	if err := os.MkdirAll(p.cfg.DataDir, 0o755); err != nil {
		return err
	}
	domestic, rest := built.Partition(p.cfg.DomesticPrefix)
	if err := writeCSVFile(p.cfg.DomesticCSVPath(), domestic); err != nil {
		return err
	}
	return writeCSVFile(p.cfg.RestCSVPath(), rest)
}

func writeCSVFile(path string, pnl *panel.Panel) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := panel.WriteCSV(f, pnl); err != nil {
		return err
	}
	return f.Close()
}
