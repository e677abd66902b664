// Package server exposes the analysis pipeline over HTTP and the record
// validator over gRPC.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/kid-extractor/internal/async"
	"github.com/joseph-ayodele/kid-extractor/internal/entity"
	"github.com/joseph-ayodele/kid-extractor/internal/pipeline"
	"github.com/joseph-ayodele/kid-extractor/internal/repository"
	"github.com/joseph-ayodele/kid-extractor/internal/validation"
)

// Analyzer is satisfied by *pipeline.Processor.
type Analyzer interface {
	Submit(ctx context.Context, pdfPath, sourceName string) (*entity.Analysis, error)
	Analyze(ctx context.Context, req pipeline.AnalyzeRequest) (*entity.Analysis, error)
}

// Exporter is satisfied by *export.Service.
type Exporter interface {
	ExportAnalysesXLSX(ctx context.Context, limit int) ([]byte, error)
}

type HTTPConfig struct {
	MaxUploadBytes int64
	RateLimitEvery time.Duration // zero disables rate limiting
	RateLimitBurst int
	MaxConcurrent  int64
	RequestTimeout time.Duration
	UploadDir      string
	MinScore       float64
}

// HTTPDeps are the collaborators of the HTTP API. Queue, Exporter and Health
// may be nil; the matching endpoints then answer 503.
type HTTPDeps struct {
	Analyzer  Analyzer
	Queue     async.Queue
	Repo      repository.AnalysisRepository
	Validator *validation.Validator
	Exporter  Exporter
	Health    func(ctx context.Context) error
}

type HTTPServer struct {
	deps     HTTPDeps
	cfg      HTTPConfig
	logger   *slog.Logger
	sem      *semaphore.Weighted
	limiters sync.Map // client ip -> *rate.Limiter
}

func NewHTTPServer(deps HTTPDeps, cfg HTTPConfig, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = validation.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "./uploads"
	}
	return &HTTPServer{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
	}
}

// Routes builds the chi router.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.withLogging)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.withRateLimit)
		r.With(s.withConcurrencyLimit).Post("/analyze", s.handleAnalyze)
		r.Post("/validate", s.handleValidate)
	})

	r.Get("/kid-json", s.handleLatestRecord)
	r.Route("/analyses/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetAnalysis)
		r.Get("/xml", s.handleAnalysisXML)
		r.Get("/summary", s.handleAnalysisSummary)
	})
	r.Get("/export.xlsx", s.handleExport)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": message,
		"code":  code,
	})
}
