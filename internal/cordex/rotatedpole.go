// Package cordex reads Euro-CORDEX NetCDF temperature archives and resamples
// the monthly model output into weekly per-region series.
package cordex

import "math"

// toRotated converts a geographic coordinate (degrees) into the rotated
// grid defined by the given north pole position (degrees). The result is
// in rotated longitude/latitude degrees, the coordinate system of the
// rlon/rlat axes in the archives.
func toRotated(lon, lat, poleLon, poleLat float64) (rlon, rlat float64) {
	const deg = math.Pi / 180

	phi := lat * deg
	phiP := poleLat * deg
	// Longitude measured from the meridian opposite the rotated pole.
	delta := math.Mod(lon-poleLon-180, 360) * deg

	sinPhi, cosPhi := math.Sincos(phi)
	sinPhiP, cosPhiP := math.Sincos(phiP)
	sinDelta, cosDelta := math.Sincos(delta)

	rlat = math.Asin(sinPhi*sinPhiP-cosPhi*cosPhiP*cosDelta) / deg
	rlon = math.Atan2(cosPhi*sinDelta, sinPhi*cosPhiP+cosPhi*sinPhiP*cosDelta) / deg
	return rlon, rlat
}

// nearestIndex returns the index of the axis value closest to x.
func nearestIndex(axis []float64, x float64) int {
	best := 0
	bestDist := math.Abs(axis[0] - x)
	for i, v := range axis[1:] {
		if d := math.Abs(v - x); d < bestDist {
			best = i + 1
			bestDist = d
		}
	}
	return best
}
