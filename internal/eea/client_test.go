package eea

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/europanel/panel-etl/internal/config"
	"github.com/europanel/panel-etl/internal/fetch"
	"github.com/europanel/panel-etl/internal/observability"
)

// buildArchive writes records into a parquet member inside a zip, the shape
// the download API responds with.
func buildArchive(t *testing.T, records []Record) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rows.parquet")
	require.NoError(t, parquet.WriteFile(path, records))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("SPO-data/rows.parquet")
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg := &config.Config{FetchBackoffMin: time.Millisecond, FetchBackoffMax: time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fc := fetch.NewClient("eea", time.Second, cfg, observability.NewMetricsForTesting(), logger)
	return NewClient(fc, srv.URL+"/", "ops@example.org", logger)
}

func TestFetchCountry(t *testing.T) {
	want := []Record{
		rec("AT/SPO.123", PollutantPM10, "2015-01-05 00:00:00", 12.5),
		rec("AT/SPO.456", PollutantO3, "2015-01-05 00:00:00", 61.0),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ParquetFile", r.URL.Path)
		var q downloadQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, []string{"AT"}, q.Countries)
		assert.Len(t, q.Pollutants, 3)
		assert.Contains(t, q.Pollutants[0], "vocabulary/aq/pollutant/5")
		assert.Equal(t, 2, q.Dataset)
		assert.Equal(t, "day", q.AggregationType)
		assert.Equal(t, "ops@example.org", q.Email)

		_, _ = w.Write(buildArchive(t, want))
	}))
	defer srv.Close()

	start := time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := newTestClient(t, srv).FetchCountry(context.Background(), "AT", 2, start, end)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestFetchCountry_EmptyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	got, err := newTestClient(t, srv).FetchCountry(context.Background(), "AT", 2, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadArchive_IgnoresNonParquetMembers(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("README.txt")
	require.NoError(t, err)
	_, _ = w.Write([]byte("not data"))
	require.NoError(t, zw.Close())

	got, err := readArchive(buf.Bytes())
	require.NoError(t, err)
	assert.Empty(t, got)
}
