package cordex

import (
	"fmt"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"github.com/europanel/panel-etl/internal/domain"
)

// Proj4 definitions used for centroid computation. Centroids are computed
// in an equal-area projection so elongated regions near the projection
// edges do not drift, then carried back to longitude/latitude.
const (
	proj4WGS84      = "+proj=longlat +datum=WGS84 +no_defs"
	proj4LAEAEurope = "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80 +units=m +no_defs"
)

// centroids returns each region's centroid in WGS84, keyed by region code.
func centroids(regions []domain.Region) (map[string]geom.Point, error) {
	wgs84, err := proj.Parse(proj4WGS84)
	if err != nil {
		return nil, fmt.Errorf("cordex: parse wgs84: %w", err)
	}
	laea, err := proj.Parse(proj4LAEAEurope)
	if err != nil {
		return nil, fmt.Errorf("cordex: parse laea: %w", err)
	}
	forward, err := wgs84.NewTransform(laea)
	if err != nil {
		return nil, fmt.Errorf("cordex: build transform: %w", err)
	}
	inverse, err := laea.NewTransform(wgs84)
	if err != nil {
		return nil, fmt.Errorf("cordex: build inverse transform: %w", err)
	}

	out := make(map[string]geom.Point, len(regions))
	for _, r := range regions {
		projected, err := r.Geometry.Transform(forward)
		if err != nil {
			return nil, fmt.Errorf("cordex: project %s: %w", r.Code, err)
		}
		poly, ok := projected.(geom.Polygon)
		if !ok {
			return nil, fmt.Errorf("cordex: project %s: got %T", r.Code, projected)
		}
		center, err := poly.Centroid().Transform(inverse)
		if err != nil {
			return nil, fmt.Errorf("cordex: centroid of %s: %w", r.Code, err)
		}
		pt, ok := center.(geom.Point)
		if !ok {
			return nil, fmt.Errorf("cordex: centroid of %s: got %T", r.Code, center)
		}
		out[r.Code] = pt
	}
	return out, nil
}
