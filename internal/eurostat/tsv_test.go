package eurostat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europanel/panel-etl/internal/domain"
)

func TestParseTSV(t *testing.T) {
	body := "freq,unit,geo\\TIME_PERIOD\t2015-W01 \t2015-W02 \n" +
		"W,NR,AT130\t210\t198 p\n" +
		"W,NR,DE212\t: \t305\n"

	table, err := ParseTSV(strings.NewReader(body))
	require.NoError(t, err)

	assert.Equal(t, []string{"freq", "unit", "geo"}, table.Dims)
	assert.Equal(t, []string{"2015-W01", "2015-W02"}, table.Periods)
	require.Len(t, table.Rows, 2)

	assert.Equal(t, "AT130", table.Dim(table.Rows[0], "geo"))
	assert.Equal(t, domain.F(210), table.Rows[0].Cells[0])
	assert.Equal(t, domain.F(198), table.Rows[0].Cells[1], "flag letters after the value are ignored")

	assert.Equal(t, domain.Null, table.Rows[1].Cells[0], "colon cells are missing")
	assert.Equal(t, domain.F(305), table.Rows[1].Cells[1])
}

func TestParseTSV_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"header without time axis", "freq,unit,geo\t2015\nW,NR,AT130\t1\n"},
		{"cell count mismatch", "freq,geo\\TIME_PERIOD\t2015\t2016\nW,AT130\t1\n"},
		{"dimension count mismatch", "freq,unit,geo\\TIME_PERIOD\t2015\nW,AT130\t1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTSV(strings.NewReader(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseWeekLabel(t *testing.T) {
	tests := []struct {
		label   string
		year    int
		week    int
		wantErr bool
	}{
		{label: "2015-W03", year: 2015, week: 3},
		{label: "2020-W53", year: 2020, week: 53},
		{label: "1999-W52", year: 1999, week: 52},
		{label: "2015-W00", wantErr: true},
		{label: "2015-W54", wantErr: true},
		{label: "2015W03", wantErr: true},
		{label: "2015-03", wantErr: true},
		{label: "15-W03", wantErr: true},
		{label: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			year, week, err := ParseWeekLabel(tt.label)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.year, year)
			assert.Equal(t, tt.week, week)
		})
	}
}
