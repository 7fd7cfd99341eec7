package boundary

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/fetch"
)

// codeAliases reconciles boundary-source country codes with the codes
// Eurostat publishes under.
var codeAliases = map[string]string{
	"GB": "UK",
}

// Builder downloads the boundary sources and merges them into one region
// collection.
type Builder struct {
	client          *fetch.Client
	naturalEarthURL string
	nationalURL     string
	logger          *slog.Logger
}

// NewBuilder wires a Builder from configuration. The client should carry
// the short boundary download timeout.
func NewBuilder(client *fetch.Client, cfg *config.Config, logger *slog.Logger) *Builder {
	return &Builder{
		client:          client,
		naturalEarthURL: cfg.NaturalEarthURL,
		nationalURL:     cfg.NationalNUTSURL,
		logger:          logger,
	}
}

// Build fetches both sources and merges them. National NUTS-3 regions come
// first, then European country outlines; when two sources carry the same
// code the earlier source wins.
func (b *Builder) Build(ctx context.Context) ([]domain.Region, error) {
	national, err := b.fetchNationalNUTS(ctx)
	if err != nil {
		return nil, err
	}
	countries, err := b.fetchEuropeanCountries(ctx)
	if err != nil {
		return nil, err
	}
	merged := mergeRegions(national, countries)
	b.logger.Info("built boundaries",
		"national", len(national), "countries", len(countries), "merged", len(merged))
	return merged, nil
}

// fetchEuropeanCountries loads the Natural Earth admin-0 shapefile and
// keeps the European countries, keyed by two-letter ISO code.
func (b *Builder) fetchEuropeanCountries(ctx context.Context) ([]domain.Region, error) {
	data, err := b.client.Get(ctx, b.naturalEarthURL)
	if err != nil {
		return nil, fmt.Errorf("boundary: fetch natural earth: %w", err)
	}
	shpPath, dir, err := extractShapefile(data)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	fields := []string{"CONTINENT", "ISO_A2", "ISO_A2_EH", "NAME_SORT"}
	regions, err := decodeRegions(shpPath, fields, func(attrs map[string]string) (string, string, bool) {
		if attrs["CONTINENT"] != "Europe" {
			return "", "", false
		}
		code := attrs["ISO_A2"]
		// Natural Earth uses -99 for disputed or unassigned codes; the
		// _EH column carries the everyday value.
		if code == "" || code == "-99" {
			code = attrs["ISO_A2_EH"]
		}
		if code == "" || code == "-99" {
			return "", "", false
		}
		if alias, ok := codeAliases[code]; ok {
			code = alias
		}
		return code, attrs["NAME_SORT"], true
	})
	if err != nil {
		return nil, err
	}
	return regions, nil
}

// fetchNationalNUTS loads the national statistics office NUTS-3 shapefile,
// reprojecting from LAEA Europe to WGS84.
func (b *Builder) fetchNationalNUTS(ctx context.Context) ([]domain.Region, error) {
	data, err := b.client.Get(ctx, b.nationalURL)
	if err != nil {
		return nil, fmt.Errorf("boundary: fetch national nuts: %w", err)
	}
	shpPath, dir, err := extractShapefile(data)
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	regions, err := decodeRegions(shpPath, []string{"g_id", "g_name"}, func(attrs map[string]string) (string, string, bool) {
		code := attrs["g_id"]
		if code == "" {
			return "", "", false
		}
		return code, attrs["g_name"], true
	})
	if err != nil {
		return nil, err
	}
	return reproject(regions, proj4LAEAEurope)
}

// mergeRegions concatenates source collections in precedence order and
// drops later duplicates of a code.
func mergeRegions(sources ...[]domain.Region) []domain.Region {
	seen := make(map[string]bool)
	var out []domain.Region
	for _, src := range sources {
		for _, r := range src {
			if seen[r.Code] {
				continue
			}
			seen[r.Code] = true
			out = append(out, r)
		}
	}
	return out
}
