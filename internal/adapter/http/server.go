// Package http exposes the query API over the assembled panel, plus the
// operational health, readiness, and metrics endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ctessum/geom"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/europanel/panel-etl/internal/domain"
	"github.com/europanel/panel-etl/internal/store"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// PanelStore is the store surface the API reads from.
type PanelStore interface {
	Regions(ctx context.Context) ([]store.RegionInfo, error)
	Metrics(ctx context.Context) ([]string, error)
	MetricValues(ctx context.Context, metric string, year, week int) (map[string]float64, error)
	RegionSeries(ctx context.Context, region, metric string) ([]domain.WeeklyValue, error)
}

// BoundaryProvider supplies the current boundary collection for the map
// endpoint.
type BoundaryProvider interface {
	Boundaries() []domain.Region
}

// Server is the fiber application with all routes mounted.
type Server struct {
	app      *fiber.App
	addr     string
	store    PanelStore
	bounds   BoundaryProvider
	ready    ReadinessChecker
	validate *validator.Validate
	logger   *slog.Logger
}

// NewServer builds the server and mounts its routes.
func NewServer(addr string, st PanelStore, bounds BoundaryProvider, ready ReadinessChecker, logger *slog.Logger) *Server {
	s := &Server{
		addr:     addr,
		store:    st,
		bounds:   bounds,
		ready:    ready,
		validate: validator.New(),
		logger:   logger,
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/readyz", s.handleReady)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api/v1")
	api.Get("/regions", s.handleRegions)
	api.Get("/metrics", s.handleMetrics)
	api.Get("/map", s.handleMap)
	api.Get("/series", s.handleSeries)

	return s
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// Test dispatches a request against the app without a listener.
func (s *Server) Test(req *http.Request) (*http.Response, error) {
	return s.app.Test(req, -1)
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= 500 {
		s.logger.Error("request failed", "path", c.Path(), "err", err)
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   http.StatusText(code),
		"message": err.Error(),
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy"})
}

func (s *Server) handleReady(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()
	if err := s.ready.CheckReadiness(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"error":  err.Error(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (s *Server) handleRegions(c *fiber.Ctx) error {
	regions, err := s.store.Regions(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"regions": regions})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	metrics, err := s.store.Metrics(c.Context())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"metrics": metrics})
}

type mapQuery struct {
	Year   int    `query:"year" validate:"required,min=1990,max=2100"`
	Week   int    `query:"week" validate:"required,min=1,max=53"`
	Metric string `query:"metric" validate:"required"`
	Region string `query:"region"`
}

// handleMap serves a choropleth-ready FeatureCollection: every boundary
// polygon with the requested metric under the "value" property, null for
// regions without data. A (year, week) with no data at all is a 404.
func (s *Server) handleMap(c *fiber.Ctx) error {
	var q mapQuery
	if err := c.QueryParser(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.knownMetric(c.Context(), q.Metric); err != nil {
		return err
	}

	values, err := s.store.MetricValues(c.Context(), q.Metric, q.Year, q.Week)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return fiber.NewError(fiber.StatusNotFound,
			fmt.Sprintf("no %s data for %d week %d", q.Metric, q.Year, q.Week))
	}

	features := make([]mapFeature, 0)
	for _, region := range s.bounds.Boundaries() {
		if q.Region != "" && region.Code != q.Region {
			continue
		}
		f := mapFeature{
			Type: "Feature",
			Properties: mapProperties{
				Code: region.Code,
				Name: region.Name,
			},
			Geometry: mapGeometry{
				Type:        "MultiPolygon",
				Coordinates: polygonCoordinates(region.Geometry),
			},
		}
		if v, ok := values[region.Code]; ok {
			f.Properties.Value = &v
		}
		features = append(features, f)
	}
	if q.Region != "" && len(features) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "unknown region "+q.Region)
	}

	return c.JSON(mapResponse{Type: "FeatureCollection", Features: features})
}

type seriesQuery struct {
	Region string `query:"region" validate:"required"`
	Metric string `query:"metric" validate:"required"`
}

func (s *Server) handleSeries(c *fiber.Ctx) error {
	var q seriesQuery
	if err := c.QueryParser(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.validate.Struct(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if err := s.knownMetric(c.Context(), q.Metric); err != nil {
		return err
	}

	series, err := s.store.RegionSeries(c.Context(), q.Region, q.Metric)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "no data for region "+q.Region)
	}

	points := make([]seriesPoint, 0, len(series))
	for _, v := range series {
		points = append(points, seriesPoint{Year: v.Year, Week: v.Week, Value: v.Value})
	}
	return c.JSON(fiber.Map{"region": q.Region, "metric": q.Metric, "series": points})
}

func (s *Server) knownMetric(ctx context.Context, metric string) error {
	metrics, err := s.store.Metrics(ctx)
	if err != nil {
		return err
	}
	for _, m := range metrics {
		if m == metric {
			return nil
		}
	}
	return fiber.NewError(fiber.StatusNotFound, "unknown metric "+metric)
}

type mapResponse struct {
	Type     string       `json:"type"`
	Features []mapFeature `json:"features"`
}

type mapFeature struct {
	Type       string        `json:"type"`
	Properties mapProperties `json:"properties"`
	Geometry   mapGeometry   `json:"geometry"`
}

type mapProperties struct {
	Code  string   `json:"NUTS_ID"`
	Name  string   `json:"name"`
	Value *float64 `json:"value"`
}

type mapGeometry struct {
	Type        string           `json:"type"`
	Coordinates [][][][2]float64 `json:"coordinates"`
}

type seriesPoint struct {
	Year  int     `json:"year"`
	Week  int     `json:"week"`
	Value float64 `json:"value"`
}

// polygonCoordinates flattens a polygon into GeoJSON MultiPolygon
// coordinates, one single-ring polygon per ring.
func polygonCoordinates(poly geom.Polygon) [][][][2]float64 {
	coords := make([][][][2]float64, 0, len(poly))
	for _, ring := range poly {
		ringCoords := make([][2]float64, 0, len(ring))
		for _, pt := range ring {
			ringCoords = append(ringCoords, [2]float64{pt.X, pt.Y})
		}
		coords = append(coords, [][][2]float64{ringCoords})
	}
	return coords
}
