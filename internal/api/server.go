// Package api serves text generation over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/parallax-ml/parallax/internal/decode"
	"github.com/parallax-ml/parallax/internal/logger"
	"github.com/parallax-ml/parallax/internal/version"
)

// Defaults applied when a request leaves a field unset.
const (
	DefaultSteps       = 64
	DefaultTemperature = 1.0
	MaxSteps           = 4096
)

type Server struct {
	gen     *decode.Generator
	store   *GenerationStore
	limiter *rate.Limiter
	log     logger.Logger
	clock   func() time.Time
}

// NewServer wires a generator behind the HTTP surface.  A nil limiter
// disables rate limiting.
func NewServer(gen *decode.Generator, store *GenerationStore, limiter *rate.Limiter, log logger.Logger) *Server {
	if store == nil {
		store = NewGenerationStore()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		gen:     gen,
		store:   store,
		limiter: limiter,
		log:     log,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/v1/generations/:id", s.handleGetGeneration)
	e.DELETE("/v1/generations/:id", s.handleDeleteGeneration)
	e.GET("/v1/version", s.handleVersion)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.limiter != nil && !s.limiter.Allow() {
		return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "generation rate limit exceeded")
	}
	if s.gen == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generator not configured")
	}

	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	dreq, err := s.buildRequest(req)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	start := s.clock()
	result, err := s.gen.Generate(c.Request().Context(), dreq)
	if err != nil {
		if errors.Is(err, decode.ErrInvalidSamplingConfig) {
			return writeBadRequest(c, err.Error())
		}
		s.log.Error("generation failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}

	resp := GenerateResponse{
		ID:        newGenerationID(),
		Object:    "generation",
		CreatedAt: start.Unix(),
		Prompt:    req.Prompt,
		Text:      result.Text,
		New:       result.New,
		Tokens:    result.Tokens,
		Steps:     result.Steps,
		LogProbs:  result.LogProbs,
	}
	s.store.Save(resp)
	s.log.Info("generation complete",
		"id", resp.ID,
		"method", dreq.Method,
		"steps", resp.Steps,
		"duration", s.clock().Sub(start))
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetGeneration(c *echo.Context) error {
	id := c.Param("id")
	resp, ok := s.store.Get(id)
	if !ok {
		return writeNotFound(c, "no generation with id "+id)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleDeleteGeneration(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "no generation with id "+id)
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (s *Server) handleVersion(c *echo.Context) error {
	info := version.Resolve()
	return c.JSON(http.StatusOK, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildTime: info.BuildTime,
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// buildRequest validates the DTO and fills server side defaults.
func (s *Server) buildRequest(req GenerateRequest) (decode.Request, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return decode.Request{}, newInvalidRequest("prompt must not be empty")
	}
	steps := req.Steps
	if steps == 0 {
		steps = DefaultSteps
	}
	if steps < 1 || steps > MaxSteps {
		return decode.Request{}, newInvalidRequest("steps out of range")
	}

	method := req.Method
	if method == "" {
		method = decode.MethodGreedy
	}
	temperature := float32(DefaultTemperature)
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	var seed int64
	if req.Seed != nil {
		seed = *req.Seed
	} else {
		seed = s.clock().UnixNano()
	}

	return decode.Request{
		Prompt:            req.Prompt,
		Steps:             steps,
		Seed:              seed,
		Method:            method,
		Temperature:       temperature,
		TopK:              req.TopK,
		TopP:              req.TopP,
		Tau:               req.Tau,
		RepetitionPenalty: req.RepetitionPenalty,
	}, nil
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{Message: msg, Type: errType},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}
