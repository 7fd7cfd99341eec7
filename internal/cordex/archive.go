package cordex

import (
	"fmt"
	"regexp"
	"strconv"
)

// Archive stems end in the period they cover, e.g.
// "tas_EUR-11_..._mon_200601-201012.nc".
var periodSuffix = regexp.MustCompile(`(\d{6})-(\d{6})\.nc$`)

// selectArchive picks the file whose covered period's midpoint is closest
// to targetYear. Names without a period suffix are ignored. Ties go to the
// lexicographically smaller name so selection is deterministic across
// directory listings.
func selectArchive(names []string, targetYear int) (string, error) {
	best := ""
	bestDist := 0.0
	target := float64(targetYear)

	for _, name := range names {
		m := periodSuffix.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		from, _ := strconv.Atoi(m[1])
		to, _ := strconv.Atoi(m[2])
		// YYYYMM to fractional year; the midpoint of the covered period.
		fromYear := float64(from/100) + float64(from%100-1)/12
		toYear := float64(to/100) + float64(to%100)/12
		mid := (fromYear + toYear) / 2

		dist := mid - target
		if dist < 0 {
			dist = -dist
		}
		if best == "" || dist < bestDist || (dist == bestDist && name < best) {
			best = name
			bestDist = dist
		}
	}
	if best == "" {
		return "", fmt.Errorf("cordex: no archive covers year %d", targetYear)
	}
	return best, nil
}
