package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/claude/healthlens/internal/importer"
	"github.com/claude/healthlens/internal/insights"
	"github.com/claude/healthlens/internal/models"
	"github.com/claude/healthlens/internal/storage"
)

// Ingester stores a batch of parsed daily metrics.
type Ingester interface {
	Ingest(ctx context.Context, source string, points []models.MetricPoint) (*importer.Stats, error)
}

// StatsSource reports what has been stored and imported.
type StatsSource interface {
	GetDataStats(ctx context.Context) (*storage.DataStats, error)
	QueryImportLogs(ctx context.Context, limit int) ([]storage.ImportLog, error)
}

// Options configures auth and ingest throttling.
type Options struct {
	APIKey string
	// IngestRate is requests per second; zero disables throttling.
	IngestRate  float64
	IngestBurst int
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	insights *insights.Service
	ingester Ingester
	stats    StatsSource
	log      *slog.Logger
	apiKey   string
	limiter  *rate.Limiter
	router   chi.Router
}

// New creates a new Server with all routes configured.
func New(svc *insights.Service, ingester Ingester, stats StatsSource, opts Options, log *slog.Logger) *Server {
	s := &Server{
		insights: svc,
		ingester: ingester,
		stats:    stats,
		log:      log,
		apiKey:   opts.APIKey,
		router:   chi.NewRouter(),
	}
	if opts.IngestRate > 0 {
		burst := opts.IngestBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.IngestRate), burst)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Use(RequestID)
	s.router.Use(RequestLogging(s.log))
	s.router.Use(CORS)

	// Ingest endpoint (API key required)
	s.router.Route("/api/v1/ingest", func(r chi.Router) {
		r.Use(APIKeyAuth(s.apiKey))
		if s.limiter != nil {
			r.Use(RateLimit(s.limiter))
		}
		r.Post("/", s.handleIngest)
	})

	// Read API (no auth; tsnet handles access)
	s.router.Route("/api/v1/analytics", func(r chi.Router) {
		r.Get("/metrics", s.handleMetrics)
		r.Get("/metric/daily", s.handleDailyMetric)
		r.Get("/overview", s.handleOverview)
		r.Get("/anomalies", s.handleAnomalies)
		r.Get("/correlations", s.handleCorrelations)
		r.Get("/chart-context", s.handleChartContext)
		r.Get("/scores", s.handleScores)
		r.Get("/recovery-vs-strain", s.handleRecoveryVsStrain)
		r.Get("/effort-composition", s.handleEffortComposition)
		r.Get("/readiness-timeline", s.handleReadinessTimeline)
	})
	s.router.Get("/api/v1/stats", s.handleStats)
	s.router.Get("/api/v1/imports", s.handleImports)
}
