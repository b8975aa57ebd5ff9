// Package api serves the decoding engine over HTTP: a JSON generation
// endpoint, a health probe, and prometheus metrics.
package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/strataml/strata/internal/codec"
	"github.com/strataml/strata/internal/engine"
	"github.com/strataml/strata/internal/logger"
	"github.com/strataml/strata/internal/version"
)

// Server exposes one engine model over HTTP. The model mutates its caches
// and random generator per run, so requests serialize on a mutex.
type Server struct {
	mu      sync.Mutex
	model   *engine.Model
	log     logger.Logger
	metrics *metrics
}

// NewServer wraps a model.
func NewServer(model *engine.Model, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		model:   model,
		log:     log,
		metrics: newMetrics(),
	}
}

// Register mounts the routes.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", s.handleMetrics)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.String(),
	})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	h := promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{})
	h.ServeHTTP(c.Response(), c.Request())
	return nil
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeGenerateRequest(c.Request().Body)
	if err != nil {
		s.metrics.requests.WithLabelValues("/v1/generate", "400").Inc()
		return writeBadRequest(c, err.Error())
	}

	opts := engine.Options{
		BatchSize:   req.BatchSize,
		Label:       req.Label,
		Labels:      req.Labels,
		Seed:        req.Seed,
		CFG:         req.CFG,
		TopK:        req.TopK,
		TopP:        req.TopP,
		Temperature: req.Temperature,
		Smooth:      req.Smooth,
		OnScale:     func(done, total int) { s.metrics.scales.Inc() },
	}

	start := time.Now()
	s.mu.Lock()
	var res engine.Result
	if req.BeamWidth > 1 {
		res, err = s.model.BeamSearch(c.Request().Context(), opts, req.BeamWidth)
	} else {
		res, err = s.model.Generate(c.Request().Context(), opts)
	}
	s.mu.Unlock()
	elapsed := time.Since(start)

	if err != nil {
		status := http.StatusInternalServerError
		errType := "internal_error"
		if errors.Is(err, engine.ErrConfiguration) {
			status = http.StatusBadRequest
			errType = "invalid_request_error"
		}
		s.metrics.requests.WithLabelValues("/v1/generate", strconv.Itoa(status)).Inc()
		s.log.Error("generation failed", "error", err, "elapsed", elapsed)
		return writeError(c, status, errType, err.Error(), "", "")
	}
	s.metrics.duration.Observe(elapsed.Seconds())

	images, err := encodeImages(res)
	if err != nil {
		s.metrics.requests.WithLabelValues("/v1/generate", "500").Inc()
		return writeError(c, http.StatusInternalServerError, "internal_error", err.Error(), "", "")
	}

	s.metrics.requests.WithLabelValues("/v1/generate", "200").Inc()
	s.log.Info("generation complete", "batch", res.Image.B, "elapsed", elapsed)
	return writeJSON(c, http.StatusOK, GenerateResponse{
		ID:        "run_" + uuid.NewString(),
		Labels:    res.Labels,
		Images:    images,
		Scales:    s.model.Schedule().Steps(),
		ElapsedMS: float64(elapsed.Microseconds()) / 1000,
	})
}

func decodeGenerateRequest(body io.Reader) (GenerateRequest, error) {
	var req GenerateRequest
	raw, err := io.ReadAll(body)
	if err != nil {
		return req, newInvalidRequest("read body: " + err.Error())
	}
	if len(raw) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, newInvalidRequest("decode body: " + err.Error())
	}
	return req, nil
}

func encodeImages(res engine.Result) ([]string, error) {
	images := make([]string, res.Image.B)
	for b := 0; b < res.Image.B; b++ {
		var buf bytes.Buffer
		if err := png.Encode(&buf, codec.ToImage(res.Image, b)); err != nil {
			return nil, fmt.Errorf("encode sample %d: %w", b, err)
		}
		images[b] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	return images, nil
}

func writeJSON(c *echo.Context, status int, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Blob(status, echo.MIMEApplicationJSON, raw)
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "", "")
}

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return writeJSON(c, status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}
