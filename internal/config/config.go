package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// DataDir is where built artifacts live: regions.geojson, the two
	// panel CSVs, and the SQLite store.
	DataDir string
	// CordexDir holds the Euro-CORDEX NetCDF archives, one subdirectory
	// per scenario (rcp45/, rcp85/).
	CordexDir string

	EurostatBaseURL string
	EEABaseURL      string
	// EEAContactEmail is required by the EEA bulk-export API request body.
	EEAContactEmail string
	NaturalEarthURL string
	NationalNUTSURL string

	// DomesticPrefix partitions the output panel: codes starting with the
	// prefix (but not equal to it) go to the domestic CSV.
	DomesticPrefix string

	// Scenarios are the emissions scenarios to merge, e.g. ["rcp45","rcp85"].
	Scenarios []string
	// ClimateYearStart/End/Step control which archive target years are
	// loaded per scenario.
	ClimateYearStart int
	ClimateYearEnd   int
	ClimateYearStep  int

	FetchTimeout    time.Duration
	FetchMaxRetries int
	FetchBackoffMin time.Duration
	FetchBackoffMax time.Duration
	// BoundaryTimeout is the short timeout on boundary shapefile downloads.
	BoundaryTimeout time.Duration

	// AirQualityWorkers bounds the per-region fetch concurrency.
	AirQualityWorkers int

	// RebuildInterval > 0 runs the pipeline on a schedule; zero runs once.
	RebuildInterval time.Duration

	// MaxGapWeeks bounds the climate gap interpolation.
	MaxGapWeeks int
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honored if present.
func Load() (*Config, error) {
	// Optional; absence is the normal production case.
	_ = godotenv.Load()

	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	fetchTimeout, err := envDuration("FETCH_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	backoffMin, err := envDuration("FETCH_BACKOFF_MIN", 200*time.Millisecond)
	if err != nil {
		return nil, err
	}
	backoffMax, err := envDuration("FETCH_BACKOFF_MAX", 5*time.Second)
	if err != nil {
		return nil, err
	}
	boundaryTimeout, err := envDuration("BOUNDARY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	rebuildInterval, err := envDuration("REBUILD_INTERVAL", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DataDir:   envOrDefault("DATA_DIR", "./data"),
		CordexDir: envOrDefault("CORDEX_DIR", "./data/cordex"),

		EurostatBaseURL: envOrDefault("EUROSTAT_BASE_URL",
			"https://ec.europa.eu/eurostat/api/dissemination/sdmx/2.1/data/"),
		EEABaseURL: envOrDefault("EEA_BASE_URL",
			"https://eeadmz1-downloads-api-appservice.azurewebsites.net/"),
		EEAContactEmail: os.Getenv("EEA_CONTACT_EMAIL"),
		NaturalEarthURL: envOrDefault("NATURAL_EARTH_URL",
			"https://naciscdn.org/naturalearth/50m/cultural/ne_50m_admin_0_countries.zip"),
		NationalNUTSURL: envOrDefault("NATIONAL_NUTS_URL",
			"https://data.statistik.gv.at/data/OGDEXT_NUTS_1_STATISTIK_AUSTRIA_NUTS3_20250101.zip"),

		DomesticPrefix: envOrDefault("DOMESTIC_PREFIX", "AT"),

		Scenarios:        envList("CLIMATE_SCENARIOS", []string{"rcp45", "rcp85"}),
		ClimateYearStart: envInt("CLIMATE_YEAR_START", 2006),
		ClimateYearEnd:   envInt("CLIMATE_YEAR_END", 2099),
		ClimateYearStep:  envInt("CLIMATE_YEAR_STEP", 10),

		FetchTimeout:    fetchTimeout,
		FetchMaxRetries: envInt("FETCH_MAX_RETRIES", 3),
		FetchBackoffMin: backoffMin,
		FetchBackoffMax: backoffMax,
		BoundaryTimeout: boundaryTimeout,

		AirQualityWorkers: envInt("AIR_QUALITY_WORKERS", 4),

		RebuildInterval: rebuildInterval,
		MaxGapWeeks:     envInt("MAX_GAP_WEEKS", 3),
	}

	if cfg.DataDir == "" {
		return nil, errors.New("DATA_DIR is required")
	}
	if cfg.AirQualityWorkers <= 0 {
		return nil, errors.New("AIR_QUALITY_WORKERS must be positive")
	}
	if cfg.FetchMaxRetries < 0 {
		return nil, errors.New("FETCH_MAX_RETRIES must not be negative")
	}
	if cfg.ClimateYearStep <= 0 {
		return nil, errors.New("CLIMATE_YEAR_STEP must be positive")
	}
	if cfg.MaxGapWeeks < 0 {
		return nil, errors.New("MAX_GAP_WEEKS must not be negative")
	}

	return cfg, nil
}

// BoundaryPath is the unified region boundary GeoJSON.
func (c *Config) BoundaryPath() string {
	return filepath.Join(c.DataDir, "regions.geojson")
}

// DomesticCSVPath is the panel for regions under the domestic prefix.
func (c *Config) DomesticCSVPath() string {
	return filepath.Join(c.DataDir, "domestic.csv")
}

// RestCSVPath is the panel for all remaining regions.
func (c *Config) RestCSVPath() string {
	return filepath.Join(c.DataDir, "europe.csv")
}

// StorePath is the SQLite database backing the query API.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "panel.db")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}

func envList(key string, def []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
