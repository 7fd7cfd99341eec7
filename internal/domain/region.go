package domain

import (
	"github.com/ctessum/geom"
)

// Region is one feature of a boundary collection: a statistical region
// with its polygon in WGS84 longitude/latitude. Geometry may carry
// multiple rings (islands, exclaves) within the single polygon.
type Region struct {
	Code     string
	Name     string
	Geometry geom.Polygon
}

// Codes returns the region codes of a slice in input order.
func Codes(regions []Region) []string {
	out := make([]string, len(regions))
	for i, r := range regions {
		out[i] = r.Code
	}
	return out
}
