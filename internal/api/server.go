package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"wheelslip/internal/config"
	"wheelslip/internal/db"
	"wheelslip/internal/models"
	"wheelslip/internal/output"
	"wheelslip/internal/parser"
	"wheelslip/internal/pipeline"
)

// defaultMaxUpload bounds the CSV body accepted by /api/v1/analyze
const defaultMaxUpload = 64 << 20

// Server represents the API server
type Server struct {
	db      *db.Database
	cfg     config.Config
	logger  *slog.Logger
	router  *mux.Router
	metrics *metrics

	maxUpload int64
}

// NewServer creates a new API server. cfg is the base configuration that
// analyze requests may override per request.
func NewServer(database *db.Database, cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		db:      database,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "api")),
		router:  mux.NewRouter(),
		metrics: newMetrics(),

		maxUpload: defaultMaxUpload,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", s.metrics.handler()).Methods("GET")

	// Runs
	s.router.HandleFunc("/api/v1/runs", s.handleListRuns).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}", s.handleGetRun).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}", s.handleDeleteRun).Methods("DELETE")
	s.router.HandleFunc("/api/v1/runs/{id}/series", s.handleSeries).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}/slips", s.handleSlips).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}/diffloads", s.handleDiffLoads).Methods("GET")
	s.router.HandleFunc("/api/v1/runs/{id}/chart", s.handleChart).Methods("GET")

	// Analysis
	s.router.HandleFunc("/api/v1/analyze", s.handleAnalyze).Methods("POST")

	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metrics.middleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("elapsed", time.Since(start)))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	Limit   int   `json:"limit,omitempty"`
	Offset  int   `json:"offset,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// respondStoreError maps store errors to a status code
func respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q := models.RunQuery{
		Source: r.URL.Query().Get("source"),
		Limit:  100, // default
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		q.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		q.Offset, _ = strconv.Atoi(v)
	}

	runs, err := s.db.ListRuns(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, runs, &meta{
		Total:   len(runs),
		Limit:   q.Limit,
		Offset:  q.Offset,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.db.GetRun(mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.db.DeleteRun(id); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	grid, err := s.db.GetSeries(mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondWithMeta(w, grid, &meta{Total: len(grid), QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleSlips(w http.ResponseWriter, r *http.Request) {
	var wheel models.Wheel
	if v := r.URL.Query().Get("wheel"); v != "" {
		parsed, ok := models.ParseWheel(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "wheel must be left or right")
			return
		}
		wheel = parsed
	}

	events, err := s.db.GetSlipEvents(mux.Vars(r)["id"], wheel)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondWithMeta(w, events, &meta{Total: len(events)})
}

func (s *Server) handleDiffLoads(w http.ResponseWriter, r *http.Request) {
	var minDelta float64
	if v := r.URL.Query().Get("min_delta"); v != "" {
		var err error
		if minDelta, err = strconv.ParseFloat(v, 64); err != nil {
			respondError(w, http.StatusBadRequest, "min_delta must be a number")
			return
		}
	}

	events, err := s.db.GetDiffLoadEvents(mux.Vars(r)["id"], minDelta)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondWithMeta(w, events, &meta{Total: len(events)})
}

// handleChart renders the stored run as an interactive HTML page
func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	run, err := s.db.GetRun(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	grid, err := s.db.GetSeries(id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	slips, err := s.db.GetSlipEvents(id, "")
	if err != nil {
		respondStoreError(w, err)
		return
	}
	diffs, err := s.db.GetDiffLoadEvents(id, 0)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := output.RenderChart(&buf, run.Source, grid, slips, diffs); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleAnalyze runs the pipeline on a CSV request body and stores the run.
// Query parameters named after config keys override the server defaults.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	cfg, err := overrideConfig(s.cfg, r.URL.Query())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	raw, err := parser.ParseCSV(http.MaxBytesReader(w, r.Body, s.maxUpload))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := r.URL.Query().Get("source")
	if source == "" {
		source = "upload"
	}

	res := pipeline.Run(raw, cfg, s.logger.With(slog.String("source", source)))
	run, err := s.db.SaveRun(source, cfg.YAML(), res)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.observeRun(res)

	respondJSON(w, http.StatusCreated, run)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// overrideConfig applies query parameters on top of base and validates the result
func overrideConfig(base config.Config, q url.Values) (config.Config, error) {
	cfg := base
	floats := map[string]*float64{
		"z_threshold":         &cfg.ZThreshold,
		"diff_threshold":      &cfg.DiffThreshold,
		"slip_threshold":      &cfg.SlipThreshold,
		"time_bin_size":       &cfg.TimeBinSize,
		"max_time_difference": &cfg.MaxTimeDifference,
		"min_rpm":             &cfg.MinRPM,
		"max_rpm":             &cfg.MaxRPM,
	}
	for key, dst := range floats {
		v := q.Get(key)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return config.Config{}, fmt.Errorf("%s must be a number", key)
		}
		*dst = f
	}
	if v := q.Get("window_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return config.Config{}, errors.New("window_size must be an integer")
		}
		cfg.WindowSize = n
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
