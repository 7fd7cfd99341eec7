package eurostat

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/fetch"
	"github.com/europanel/panel-etl/internal/observability"
)

// tsvServer serves gzip-compressed TSV bodies keyed by dataset code.
func tsvServer(t *testing.T, datasets map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := datasets[r.URL.Path[1:]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		assert.Equal(t, "TSV", r.URL.Query().Get("format"))
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte(body))
		require.NoError(t, zw.Close())
	}))
}

func testService(t *testing.T, srv *httptest.Server) *Service {
	t.Helper()
	cfg := &config.Config{FetchBackoffMin: time.Millisecond, FetchBackoffMax: time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := fetch.NewClient("eurostat", time.Second, cfg, observability.NewMetricsForTesting(), logger)
	return NewService(client, srv.URL+"/", logger)
}

func TestWeeklyMortality(t *testing.T) {
	srv := tsvServer(t, map[string]string{
		"demo_r_mwk3_t": "freq,unit,geo\\TIME_PERIOD\t2015-W01 \t2015-W02 \n" +
			"W,NR,AT130\t210\t:\n" +
			"W,NR,UKC11\t95\t88\n",
	})
	defer srv.Close()

	got, err := testService(t, srv).WeeklyMortality(context.Background())
	require.NoError(t, err)

	want := []domain.WeeklyValue{
		{Region: "AT130", Year: 2015, Week: 1, Value: 210},
		{Region: "UKC11", Year: 2015, Week: 1, Value: 95},
		{Region: "UKC11", Year: 2015, Week: 2, Value: 88},
	}
	assert.Equal(t, want, got, "missing cells are dropped, not kept as nulls")
}

func TestRegionalPopulation_FiltersSexAndAge(t *testing.T) {
	srv := tsvServer(t, map[string]string{
		"demo_r_pjanaggr3": "freq,unit,sex,age,geo\\TIME_PERIOD\t2015\n" +
			"A,NR,T,TOTAL,AT130\t1840000\n" +
			"A,NR,F,TOTAL,AT130\t940000\n" +
			"A,NR,T,Y_LT15,AT130\t250000\n",
	})
	defer srv.Close()

	got, err := testService(t, srv).RegionalPopulation(context.Background())
	require.NoError(t, err)

	want := []domain.AnnualValue{{Region: "AT130", Year: 2015, Value: 1840000}}
	assert.Equal(t, want, got)
}

func TestCountryPopulation(t *testing.T) {
	srv := tsvServer(t, map[string]string{
		"tps00001": "freq,indic_de,geo\\TIME_PERIOD\t2014\t2015\n" +
			"A,JAN,AT\t8500000\t8580000\n" +
			"A,JAN,DE\t:\t81680000\n",
	})
	defer srv.Close()

	got, err := testService(t, srv).CountryPopulation(context.Background())
	require.NoError(t, err)

	want := []domain.AnnualValue{
		{Region: "AT", Year: 2014, Value: 8500000},
		{Region: "AT", Year: 2015, Value: 8580000},
		{Region: "DE", Year: 2015, Value: 81680000},
	}
	assert.Equal(t, want, got)
}

func TestMergePopulation_RegionalWins(t *testing.T) {
	country := []domain.AnnualValue{
		{Region: "AT", Year: 2015, Value: 8580000},
		{Region: "DE", Year: 2015, Value: 81680000},
	}
	regional := []domain.AnnualValue{
		{Region: "AT", Year: 2015, Value: 8585000},
		{Region: "AT130", Year: 2015, Value: 1840000},
	}

	got := MergePopulation(country, regional)

	want := []domain.AnnualValue{
		{Region: "AT", Year: 2015, Value: 8585000},
		{Region: "AT130", Year: 2015, Value: 1840000},
		{Region: "DE", Year: 2015, Value: 81680000},
	}
	assert.Equal(t, want, got, "regional figures override country figures on shared keys")
}

func TestMergePopulation_Empty(t *testing.T) {
	assert.Empty(t, MergePopulation(nil, nil))
}
