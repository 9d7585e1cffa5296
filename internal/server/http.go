// Package server exposes the JSON HTTP API: definition CRUD, single
// evaluation, and batch playground evaluation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/switchyard-io/switchyard/internal/core"
	"github.com/switchyard-io/switchyard/internal/metrics"
	"github.com/switchyard-io/switchyard/internal/playground"
	"github.com/switchyard-io/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/internal/service"
)

const defaultMaxJSONBodyBytes = 1 << 20

var errJSONBodyTooLarge = errors.New("json request body too large")

type HTTPServer struct {
	service           Service
	metrics           *metrics.Metrics
	maxBodyBytes      int64
	maxCombinations   int
	playgroundWorkers int
}

// HTTPOption configures the HTTP handler.
type HTTPOption func(*HTTPServer)

// WithMetrics attaches Prometheus instrumentation to the handler.
func WithMetrics(m *metrics.Metrics) HTTPOption {
	return func(s *HTTPServer) { s.metrics = m }
}

// WithMaxBodyBytes overrides the JSON request body size cap.
func WithMaxBodyBytes(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

// WithPlaygroundLimits sets the batch evaluation complexity ceiling and
// worker count applied to every playground request.
func WithPlaygroundLimits(maxCombinations, workers int) HTTPOption {
	return func(s *HTTPServer) {
		s.maxCombinations = maxCombinations
		s.playgroundWorkers = workers
	}
}

type evaluateJSONRequest struct {
	FeatureName string       `json:"featureName,omitempty"`
	Environment string       `json:"environment"`
	Context     core.Context `json:"context"`
}

type playgroundJSONRequest struct {
	Environments []string                   `json:"environments"`
	Context      core.Context               `json:"context"`
	Fields       []playground.TemplateField `json:"fields,omitempty"`
	Features     []core.Feature             `json:"features,omitempty"`
	Segments     []core.Segment             `json:"segments,omitempty"`
}

type playgroundJSONResponse struct {
	FeatureOrder []string                                      `json:"featureOrder"`
	Features     map[string]map[string][]core.EvaluationResult `json:"features"`
}

func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:         svc,
		maxBodyBytes:    defaultMaxJSONBodyBytes,
		maxCombinations: playground.DefaultMaxCombinations,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/features", server.handleUpsertFeature)
	mux.HandleFunc("GET /v1/features", server.handleListFeatures)
	mux.HandleFunc("GET /v1/features/{name}", server.handleGetFeature)
	mux.HandleFunc("PUT /v1/features/{name}", server.handleUpdateFeature)
	mux.HandleFunc("DELETE /v1/features/{name}", server.handleDeleteFeature)
	mux.HandleFunc("POST /v1/segments", server.handleUpsertSegment)
	mux.HandleFunc("GET /v1/segments", server.handleListSegments)
	mux.HandleFunc("DELETE /v1/segments/{id}", server.handleDeleteSegment)
	mux.HandleFunc("POST /v1/evaluate", server.handleEvaluate)
	mux.HandleFunc("POST /v1/playground", server.handlePlayground)
	mux.HandleFunc("GET /healthz", server.handleHealthz)

	return server.withRequestMetrics(mux)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withRequestMetrics(next *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		_, route := next.Handler(r)
		next.ServeHTTP(recorder, r)

		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(recorder.status)
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func (s *HTTPServer) handleUpsertFeature(w http.ResponseWriter, r *http.Request) {
	var feature repository.Feature
	if err := s.decodeJSONBody(w, r, &feature); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(feature.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	stored, err := s.service.UpsertFeature(r.Context(), feature)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

func (s *HTTPServer) handleGetFeature(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	feature, err := s.service.GetFeature(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, feature)
}

func (s *HTTPServer) handleListFeatures(w http.ResponseWriter, r *http.Request) {
	features, err := s.service.ListFeatures(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, features)
}

func (s *HTTPServer) handleUpdateFeature(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	var feature repository.Feature
	if err := s.decodeJSONBody(w, r, &feature); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(feature.Name) != "" && feature.Name != name {
		writeJSONError(w, http.StatusBadRequest, "path name and body name must match")
		return
	}
	feature.Name = name

	stored, err := s.service.UpsertFeature(r.Context(), feature)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stored)
}

func (s *HTTPServer) handleDeleteFeature(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.service.DeleteFeature(r.Context(), name); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleUpsertSegment(w http.ResponseWriter, r *http.Request) {
	var segment repository.Segment
	if err := s.decodeJSONBody(w, r, &segment); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(segment.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	stored, err := s.service.UpsertSegment(r.Context(), segment)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, stored)
}

func (s *HTTPServer) handleListSegments(w http.ResponseWriter, r *http.Request) {
	segments, err := s.service.ListSegments(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, segments)
}

func (s *HTTPServer) handleDeleteSegment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "id must be an integer")
		return
	}

	if err := s.service.DeleteSegment(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request evaluateJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(request.Environment) == "" {
		writeJSONError(w, http.StatusBadRequest, "environment is required")
		return
	}

	if strings.TrimSpace(request.FeatureName) == "" {
		results := s.service.EvaluateAll(r.Context(), request.Environment, request.Context)
		s.recordEvaluations(results)
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
		return
	}

	result, err := s.service.Evaluate(r.Context(), request.FeatureName, request.Environment, request.Context)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	s.recordEvaluations([]core.EvaluationResult{result})

	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handlePlayground(w http.ResponseWriter, r *http.Request) {
	var request playgroundJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if len(request.Environments) == 0 {
		writeJSONError(w, http.StatusBadRequest, "environments is required")
		return
	}

	template := playground.Template{Base: request.Context, Fields: request.Fields}
	result, err := s.service.Playground(r.Context(), playground.Request{
		Environments:    request.Environments,
		Template:        template,
		Features:        request.Features,
		Segments:        request.Segments,
		MaxCombinations: s.maxCombinations,
		Workers:         s.playgroundWorkers,
	})
	if err != nil {
		var complexity *playground.ComplexityExceededError
		if errors.As(err, &complexity) {
			if s.metrics != nil {
				s.metrics.RecordPlaygroundRejection()
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":        "too many combinations",
				"combinations": complexity.Combinations,
				"limit":        complexity.Limit,
			})
			return
		}
		writeServiceError(w, err)
		return
	}

	if s.metrics != nil {
		combinations := 0
		for _, environments := range result.Features {
			for _, results := range environments {
				combinations += len(results)
			}
			break
		}
		s.metrics.RecordPlayground(combinations)
	}

	writeJSON(w, http.StatusOK, playgroundJSONResponse{
		FeatureOrder: result.FeatureOrder,
		Features:     result.Features,
	})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) recordEvaluations(results []core.EvaluationResult) {
	if s.metrics == nil {
		return
	}
	for _, result := range results {
		s.metrics.RecordEvaluation(result.StrategyResult.Outcome)
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidDefinition):
		writeJSONError(w, http.StatusBadRequest, serviceErrorMessage(err))
	case errors.Is(err, service.ErrFeatureNotFound), errors.Is(err, service.ErrSegmentNotFound):
		writeJSONError(w, http.StatusNotFound, serviceErrorMessage(err))
	case errors.Is(err, context.Canceled):
		writeJSONError(w, http.StatusRequestTimeout, serviceErrorMessage(err))
	default:
		writeJSONError(w, http.StatusInternalServerError, serviceErrorMessage(err))
	}
}

func serviceErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidDefinition):
		return err.Error()
	case errors.Is(err, service.ErrFeatureNotFound):
		return "feature not found"
	case errors.Is(err, service.ErrSegmentNotFound):
		return "segment not found"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal server error"
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
