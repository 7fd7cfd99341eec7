package boundary

import (
	"bytes"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europanel/panel-etl/internal/domain"
)

func square(x, y, size float64) geom.Polygon {
	return geom.Polygon{{
		{X: x, Y: y},
		{X: x + size, Y: y},
		{X: x + size, Y: y + size},
		{X: x, Y: y + size},
		{X: x, Y: y},
	}}
}

func TestGeoJSONRoundTrip(t *testing.T) {
	regions := []domain.Region{
		{Code: "AT130", Name: "Wien", Geometry: square(16.2, 48.1, 0.4)},
		{Code: "UK", Name: "United Kingdom", Geometry: append(square(-3, 52, 4), square(-7, 54, 2)...)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, regions))

	got, err := ReadGeoJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, regions, got)
}

func TestReadGeoJSON_PolygonFeature(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature",
		 "properties":{"NUTS_ID":"AT130","name":"Wien"},
		 "geometry":{"type":"Polygon","coordinates":[[[16.2,48.1],[16.6,48.1],[16.6,48.5],[16.2,48.5],[16.2,48.1]]]}}]}`

	got, err := ReadGeoJSON(bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AT130", got[0].Code)
	assert.Equal(t, square(16.2, 48.1, 0.4), got[0].Geometry)
}

func TestReadGeoJSON_RejectsUnsupportedGeometry(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"NUTS_ID":"XX","name":"x"},
		 "geometry":{"type":"Point","coordinates":[1,2]}}]}`

	_, err := ReadGeoJSON(bytes.NewReader([]byte(body)))
	assert.Error(t, err)
}

func TestAsPolygon(t *testing.T) {
	t.Run("line string is closed into a ring", func(t *testing.T) {
		line := geom.LineString{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1}}
		poly, err := asPolygon(line)
		require.NoError(t, err)
		require.Len(t, poly, 1)
		assert.Equal(t, geom.Point{X: 0, Y: 0}, poly[0][0])
		assert.Equal(t, geom.Point{X: 0, Y: 0}, poly[0][len(poly[0])-1])
		assert.Len(t, poly[0], 4)
	})

	t.Run("multi line string parts are stitched in order", func(t *testing.T) {
		ml := geom.MultiLineString{
			{{X: 0, Y: 0}, {X: 1, Y: 0}},
			{{X: 1, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1}},
		}
		poly, err := asPolygon(ml)
		require.NoError(t, err)
		require.Len(t, poly, 1)
		assert.Equal(t, poly[0][0], poly[0][len(poly[0])-1])
	})

	t.Run("closed polygon passes through", func(t *testing.T) {
		in := square(0, 0, 1)
		poly, err := asPolygon(in)
		require.NoError(t, err)
		assert.Equal(t, in, poly)
	})

	t.Run("multi polygon flattens to rings", func(t *testing.T) {
		mp := geom.MultiPolygon{square(0, 0, 1), square(5, 5, 1)}
		poly, err := asPolygon(mp)
		require.NoError(t, err)
		assert.Len(t, poly, 2)
	})
}

func TestMergeRegions_EarlierSourceWins(t *testing.T) {
	national := []domain.Region{
		{Code: "AT130", Name: "Wien", Geometry: square(16, 48, 1)},
		{Code: "AT", Name: "Austria (detailed)", Geometry: square(10, 46, 5)},
	}
	countries := []domain.Region{
		{Code: "AT", Name: "Austria", Geometry: square(9, 46, 6)},
		{Code: "DE", Name: "Germany", Geometry: square(6, 47, 9)},
	}

	got := mergeRegions(national, countries)

	require.Len(t, got, 3)
	assert.Equal(t, "AT130", got[0].Code)
	assert.Equal(t, "Austria (detailed)", got[1].Name, "first source keeps the code")
	assert.Equal(t, "DE", got[2].Code)

	// Merge result does not depend on which source carries the duplicate.
	flipped := mergeRegions(countries, national)
	assert.Equal(t, "Austria", flipped[0].Name)
}
