package eurostat

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/fetch"
)

// Dataset codes on the dissemination API.
const (
	datasetMortality          = "demo_r_mwk3_t"    // weekly deaths, NUTS-3, both sexes
	datasetPopulationDensity  = "demo_r_d3dens"    // annual population density, NUTS-3
	datasetCountryPopulation  = "tps00001"         // annual population, countries
	datasetRegionalPopulation = "demo_r_pjanaggr3" // annual population, NUTS regions
)

// Service fetches and reshapes the Eurostat datasets the panel needs.
type Service struct {
	client  *fetch.Client
	baseURL string
	logger  *slog.Logger
}

// NewService builds a Service on top of a fetch client. baseURL is the
// dissemination API data endpoint and must end with a slash.
func NewService(client *fetch.Client, baseURL string, logger *slog.Logger) *Service {
	return &Service{client: client, baseURL: baseURL, logger: logger}
}

func (s *Service) fetchTable(ctx context.Context, dataset string) (*Table, error) {
	url := s.baseURL + dataset + "?format=TSV&compressed=true"
	body, err := s.client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", dataset, err)
	}
	t, err := ParseGzipTSV(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", dataset, err)
	}
	s.logger.Info("fetched dataset", "dataset", dataset, "rows", len(t.Rows), "periods", len(t.Periods))
	return t, nil
}

// WeeklyMortality returns weekly death counts keyed by (region, ISO year,
// ISO week). Missing cells are dropped rather than carried as nulls.
func (s *Service) WeeklyMortality(ctx context.Context) ([]domain.WeeklyValue, error) {
	t, err := s.fetchTable(ctx, datasetMortality)
	if err != nil {
		return nil, err
	}

	weeks := make([][2]int, len(t.Periods))
	for i, p := range t.Periods {
		y, w, err := ParseWeekLabel(p)
		if err != nil {
			return nil, err
		}
		weeks[i] = [2]int{y, w}
	}

	var out []domain.WeeklyValue
	for _, row := range t.Rows {
		geo := t.Dim(row, "geo")
		for i, cell := range row.Cells {
			if !cell.Valid {
				continue
			}
			out = append(out, domain.WeeklyValue{
				Region: geo,
				Year:   weeks[i][0],
				Week:   weeks[i][1],
				Value:  cell.Value,
			})
		}
	}
	return out, nil
}

// PopulationDensity returns annual population density per NUTS-3 region.
func (s *Service) PopulationDensity(ctx context.Context) ([]domain.AnnualValue, error) {
	t, err := s.fetchTable(ctx, datasetPopulationDensity)
	if err != nil {
		return nil, err
	}
	return meltAnnual(t, nil)
}

// CountryPopulation returns annual population totals per country.
func (s *Service) CountryPopulation(ctx context.Context) ([]domain.AnnualValue, error) {
	t, err := s.fetchTable(ctx, datasetCountryPopulation)
	if err != nil {
		return nil, err
	}
	return meltAnnual(t, nil)
}

// RegionalPopulation returns annual population totals per NUTS region,
// restricted to the both-sexes all-ages series.
func (s *Service) RegionalPopulation(ctx context.Context) ([]domain.AnnualValue, error) {
	t, err := s.fetchTable(ctx, datasetRegionalPopulation)
	if err != nil {
		return nil, err
	}
	return meltAnnual(t, func(t *Table, row Row) bool {
		return t.Dim(row, "sex") == "T" && t.Dim(row, "age") == "TOTAL"
	})
}

// MergePopulation overlays regional population on top of country
// population: where both series cover the same (region, year), the regional
// figure wins. Output is sorted by region then year.
func MergePopulation(country, regional []domain.AnnualValue) []domain.AnnualValue {
	merged := make(map[domain.Key]float64, len(country)+len(regional))
	for _, v := range country {
		merged[domain.Key{Region: v.Region, Year: v.Year}] = v.Value
	}
	for _, v := range regional {
		merged[domain.Key{Region: v.Region, Year: v.Year}] = v.Value
	}

	out := make([]domain.AnnualValue, 0, len(merged))
	for k, v := range merged {
		out = append(out, domain.AnnualValue{Region: k.Region, Year: k.Year, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Region != out[j].Region {
			return out[i].Region < out[j].Region
		}
		return out[i].Year < out[j].Year
	})
	return out
}

// meltAnnual flattens a wide table with annual period labels into long
// records, skipping missing cells and rows rejected by keep.
func meltAnnual(t *Table, keep func(*Table, Row) bool) ([]domain.AnnualValue, error) {
	years := make([]int, len(t.Periods))
	for i, p := range t.Periods {
		y, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("eurostat: malformed year label %q", p)
		}
		years[i] = y
	}

	var out []domain.AnnualValue
	for _, row := range t.Rows {
		if keep != nil && !keep(t, row) {
			continue
		}
		geo := t.Dim(row, "geo")
		for i, cell := range row.Cells {
			if !cell.Valid {
				continue
			}
			out = append(out, domain.AnnualValue{Region: geo, Year: years[i], Value: cell.Value})
		}
	}
	return out, nil
}
