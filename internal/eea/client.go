// Package eea fetches air-quality measurements from the EEA download API
// and aggregates them into weekly per-region pollutant means.
//
// The API takes a JSON filter and answers with a zip archive of parquet
// files, one per sampling point.
package eea

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/europanel/panel-etl/internal/fetch"
)

// Pollutant codes from the EEA air-quality vocabulary.
const (
	PollutantPM10 = 5
	PollutantO3   = 7
	PollutantNOx  = 9
)

const pollutantVocabulary = "http://dd.eionet.europa.eu/vocabulary/aq/pollutant/"

// pollutantNames maps vocabulary codes to panel column names.
var pollutantNames = map[int64]string{
	PollutantPM10: "pm10",
	PollutantO3:   "O3",
	PollutantNOx:  "NOx",
}

// Record is one raw measurement row as stored in the parquet payload.
type Record struct {
	Samplingpoint string  `parquet:"Samplingpoint"`
	Pollutant     int64   `parquet:"Pollutant"`
	Start         string  `parquet:"Start"`
	Value         float64 `parquet:"Value"`
	Unit          *string `parquet:"Unit,optional"`
	AggType       string  `parquet:"AggType"`
	Validity      int64   `parquet:"Validity"`
	Verification  int64   `parquet:"Verification"`
}

// downloadQuery is the filter body of the ParquetFile endpoint.
type downloadQuery struct {
	Countries       []string `json:"countries"`
	Cities          []string `json:"cities"`
	Pollutants      []string `json:"pollutants"`
	Dataset         int      `json:"dataset"`
	DateTimeStart   string   `json:"dateTimeStart"`
	DateTimeEnd     string   `json:"dateTimeEnd"`
	AggregationType string   `json:"aggregationType"`
	Email           string   `json:"email"`
}

// Client talks to the EEA download API.
type Client struct {
	client  *fetch.Client
	baseURL string
	email   string
	logger  *slog.Logger
}

// NewClient builds a Client. baseURL must end with a slash; email is the
// contact address the API requires in every request.
func NewClient(client *fetch.Client, baseURL, email string, logger *slog.Logger) *Client {
	return &Client{client: client, baseURL: baseURL, email: email, logger: logger}
}

// FetchCountry downloads daily-aggregated measurements for one country over
// [start, end). dataset selects the API's data tier (1 unverified, 2
// verified, 3 historical). An empty archive yields an empty slice.
func (c *Client) FetchCountry(ctx context.Context, country string, dataset int, start, end time.Time) ([]Record, error) {
	pollutants := make([]string, 0, len(pollutantNames))
	for _, code := range []int64{PollutantPM10, PollutantO3, PollutantNOx} {
		pollutants = append(pollutants, fmt.Sprintf("%s%d", pollutantVocabulary, code))
	}
	body, err := json.Marshal(downloadQuery{
		Countries:       []string{country},
		Cities:          []string{},
		Pollutants:      pollutants,
		Dataset:         dataset,
		DateTimeStart:   start.UTC().Format("2006-01-02T15:04:05Z"),
		DateTimeEnd:     end.UTC().Format("2006-01-02T15:04:05Z"),
		AggregationType: "day",
		Email:           c.email,
	})
	if err != nil {
		return nil, err
	}

	archive, err := c.client.Post(ctx, c.baseURL+"ParquetFile", "application/json", body)
	if err != nil {
		return nil, fmt.Errorf("eea: fetch %s: %w", country, err)
	}
	records, err := readArchive(archive)
	if err != nil {
		return nil, fmt.Errorf("eea: %s: %w", country, err)
	}
	c.logger.Info("fetched air quality", "country", country, "records", len(records))
	return records, nil
}

// readArchive extracts every parquet member of the zip and reads its rows.
func readArchive(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	dir, err := os.MkdirTemp("", "eea-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	var records []Record
	for i, f := range zr.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".parquet") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %s: %w", f.Name, err)
		}
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read member %s: %w", f.Name, err)
		}
		path := filepath.Join(dir, fmt.Sprintf("part-%d.parquet", i))
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return nil, err
		}
		rows, err := parquet.ReadFile[Record](path)
		if err != nil {
			return nil, fmt.Errorf("parse member %s: %w", f.Name, err)
		}
		records = append(records, rows...)
	}
	return records, nil
}
