package boundary

import (
	"archive/zip"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/ctessum/geom/proj"

	"github.com/europanel/panel-etl/internal/domain"
)

// Proj4 definitions for the projections the sources arrive in.
const (
	proj4WGS84 = "+proj=longlat +datum=WGS84 +no_defs"
	// ETRS89-extended / LAEA Europe, used by the national NUTS shapefile.
	proj4LAEAEurope = "+proj=laea +lat_0=52 +lon_0=10 +x_0=4321000 +y_0=3210000 +ellps=GRS80 +units=m +no_defs"
)

// extractShapefile unpacks a zipped shapefile into a temp directory and
// returns the path of the .shp member. The caller removes dir when done.
func extractShapefile(data []byte) (shpPath, dir string, err error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", "", fmt.Errorf("boundary: open zip: %w", err)
	}
	dir, err = os.MkdirTemp("", "boundary-*")
	if err != nil {
		return "", "", err
	}
	for _, f := range zr.File {
		ext := strings.ToLower(filepath.Ext(f.Name))
		switch ext {
		case ".shp", ".shx", ".dbf", ".prj", ".cpg":
		default:
			continue
		}
		rc, err := f.Open()
		if err != nil {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("boundary: open zip member %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			os.RemoveAll(dir)
			return "", "", fmt.Errorf("boundary: read zip member %s: %w", f.Name, err)
		}
		out := filepath.Join(dir, filepath.Base(f.Name))
		if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", "", err
		}
		if ext == ".shp" {
			shpPath = out
		}
	}
	if shpPath == "" {
		os.RemoveAll(dir)
		return "", "", fmt.Errorf("boundary: zip contains no .shp member")
	}
	return shpPath, dir, nil
}

// asPolygon coerces a shapefile geometry into a single polygon. Boundary
// sources sometimes ship region outlines as line features; those rings are
// closed here. Multi-part geometries are flattened into one polygon with
// one ring per part.
func asPolygon(g geom.Geom) (geom.Polygon, error) {
	switch g := g.(type) {
	case geom.Polygon:
		out := make(geom.Polygon, len(g))
		for i, ring := range g {
			out[i] = closeRing(ring)
		}
		return out, nil
	case geom.MultiPolygon:
		var out geom.Polygon
		for _, poly := range g {
			for _, ring := range poly {
				out = append(out, closeRing(ring))
			}
		}
		return out, nil
	case geom.LineString:
		ring := make([]geom.Point, 0, len(g)+1)
		for _, pt := range g {
			ring = append(ring, pt)
		}
		return geom.Polygon{closeRing(ring)}, nil
	case geom.MultiLineString:
		// Parts trace one outline in order; stitch before closing.
		var ring []geom.Point
		for _, part := range g {
			for _, pt := range part {
				ring = append(ring, pt)
			}
		}
		return geom.Polygon{closeRing(ring)}, nil
	default:
		return nil, fmt.Errorf("boundary: unsupported geometry %T", g)
	}
}

func closeRing(ring []geom.Point) []geom.Point {
	if len(ring) >= 2 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}

// reproject transforms every region's polygon from srcProj4 to WGS84.
func reproject(regions []domain.Region, srcProj4 string) ([]domain.Region, error) {
	src, err := proj.Parse(srcProj4)
	if err != nil {
		return nil, fmt.Errorf("boundary: parse source projection: %w", err)
	}
	dst, err := proj.Parse(proj4WGS84)
	if err != nil {
		return nil, fmt.Errorf("boundary: parse wgs84: %w", err)
	}
	ct, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("boundary: build transform: %w", err)
	}
	out := make([]domain.Region, len(regions))
	for i, r := range regions {
		g, err := r.Geometry.Transform(ct)
		if err != nil {
			return nil, fmt.Errorf("boundary: reproject %s: %w", r.Code, err)
		}
		poly, ok := g.(geom.Polygon)
		if !ok {
			return nil, fmt.Errorf("boundary: reproject %s: got %T", r.Code, g)
		}
		out[i] = domain.Region{Code: r.Code, Name: r.Name, Geometry: poly}
	}
	return out, nil
}

// decodeRegions reads all rows of a shapefile, mapping attribute fields to
// region code and name via extract. Rows for which extract returns ok=false
// are skipped.
func decodeRegions(shpPath string, fields []string, extract func(map[string]string) (code, name string, ok bool)) ([]domain.Region, error) {
	dec, err := shp.NewDecoder(shpPath)
	if err != nil {
		return nil, fmt.Errorf("boundary: open shapefile: %w", err)
	}
	defer dec.Close()

	var regions []domain.Region
	for {
		g, attrs, more := dec.DecodeRowFields(fields...)
		if !more {
			break
		}
		for k, v := range attrs {
			attrs[k] = strings.TrimSpace(v)
		}
		code, name, ok := extract(attrs)
		if !ok {
			continue
		}
		poly, err := asPolygon(g)
		if err != nil {
			return nil, fmt.Errorf("boundary: row %s: %w", code, err)
		}
		regions = append(regions, domain.Region{Code: code, Name: name, Geometry: poly})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("boundary: decode shapefile: %w", err)
	}
	return regions, nil
}
