// Package boundary builds the unified region boundary collection: country
// outlines from Natural Earth plus NUTS-3 polygons from the national
// statistics office, reprojected to WGS84 and written as GeoJSON.
package boundary

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/ctessum/geom"

	"github.com/europanel/panel-etl/internal/domain"
)

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string       `json:"type"`
	Properties featureProps `json:"properties"`
	Geometry   geoGeometry  `json:"geometry"`
}

type featureProps struct {
	Code string `json:"NUTS_ID"`
	Name string `json:"name"`
}

type geoGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// WriteGeoJSON writes regions as a FeatureCollection. Each region's rings
// are emitted as a MultiPolygon of single-ring polygons, which round-trips
// through ReadGeoJSON unchanged.
func WriteGeoJSON(w io.Writer, regions []domain.Region) error {
	fc := featureCollection{Type: "FeatureCollection", Features: make([]feature, 0, len(regions))}
	for _, r := range regions {
		coords := make([][][][2]float64, 0, len(r.Geometry))
		for _, ring := range r.Geometry {
			ringCoords := make([][2]float64, 0, len(ring))
			for _, pt := range ring {
				ringCoords = append(ringCoords, [2]float64{pt.X, pt.Y})
			}
			coords = append(coords, [][][2]float64{ringCoords})
		}
		raw, err := json.Marshal(coords)
		if err != nil {
			return fmt.Errorf("boundary: encode %s: %w", r.Code, err)
		}
		fc.Features = append(fc.Features, feature{
			Type:       "Feature",
			Properties: featureProps{Code: r.Code, Name: r.Name},
			Geometry:   geoGeometry{Type: "MultiPolygon", Coordinates: raw},
		})
	}
	enc := json.NewEncoder(w)
	return enc.Encode(fc)
}

// ReadGeoJSON parses a FeatureCollection produced by WriteGeoJSON (or any
// collection of Polygon/MultiPolygon features carrying NUTS_ID and name
// properties). All rings of a feature are flattened into one polygon.
func ReadGeoJSON(r io.Reader) ([]domain.Region, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return nil, fmt.Errorf("boundary: decode geojson: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("boundary: unexpected geojson type %q", fc.Type)
	}

	regions := make([]domain.Region, 0, len(fc.Features))
	for _, f := range fc.Features {
		var poly geom.Polygon
		switch f.Geometry.Type {
		case "Polygon":
			var coords [][][2]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
				return nil, fmt.Errorf("boundary: feature %s: %w", f.Properties.Code, err)
			}
			poly = ringsToPolygon(coords)
		case "MultiPolygon":
			var coords [][][][2]float64
			if err := json.Unmarshal(f.Geometry.Coordinates, &coords); err != nil {
				return nil, fmt.Errorf("boundary: feature %s: %w", f.Properties.Code, err)
			}
			for _, polyCoords := range coords {
				poly = append(poly, ringsToPolygon(polyCoords)...)
			}
		default:
			return nil, fmt.Errorf("boundary: feature %s has unsupported geometry %q", f.Properties.Code, f.Geometry.Type)
		}
		regions = append(regions, domain.Region{
			Code:     f.Properties.Code,
			Name:     f.Properties.Name,
			Geometry: poly,
		})
	}
	return regions, nil
}

func ringsToPolygon(rings [][][2]float64) geom.Polygon {
	poly := make(geom.Polygon, len(rings))
	for i, ring := range rings {
		for _, c := range ring {
			poly[i] = append(poly[i], geom.Point{X: c[0], Y: c[1]})
		}
	}
	return poly
}
