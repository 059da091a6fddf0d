package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/claude/healthlens/internal/insights"
	"github.com/claude/healthlens/internal/models"
)

// maxIngestBody caps POST /ingest payloads.
const maxIngestBody = 32 << 20

type ingestRequest struct {
	Metrics []models.MetricPoint `json:"metrics"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var payload ingestRequest
	body := http.MaxBytesReader(w, r.Body, maxIngestBody)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}

	stats, err := s.ingester.Ingest(r.Context(), "api", payload.Metrics)
	if err != nil {
		s.log.Error("ingest error", "error", err, "request_id", requestIDFromContext(r))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.insights.Metrics())
}

func (s *Server) handleDailyMetric(w http.ResponseWriter, r *http.Request) {
	key, ok := requireParam(w, r, "metric_key")
	if !ok {
		return
	}
	start, end, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.insights.DailyMetric(r.Context(), key, start, end)
	s.respond(w, r, resp, err)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	asOf, err := optionalDate(r, "end_date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.insights.Overview(r.Context(), asOf)
	s.respond(w, r, resp, err)
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	resp, err := s.insights.Anomalies(r.Context(), start, end, q.Get("min_level"), q.Get("metric_key"))
	s.respond(w, r, resp, err)
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	window := 0
	if v := r.URL.Query().Get("window_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: window_days %q is not a number", insights.ErrInvalidWindow, v))
			return
		}
		window = n
	}
	resp, err := s.insights.Correlations(r.Context(), r.URL.Query().Get("metric_key"), window)
	s.respond(w, r, resp, err)
}

func (s *Server) handleChartContext(w http.ResponseWriter, r *http.Request) {
	key, ok := requireParam(w, r, "metric_key")
	if !ok {
		return
	}
	start, end, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	focus, err := optionalDate(r, "focus_date")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.insights.ChartContext(r.Context(), key, start, end, focus)
	s.respond(w, r, resp, err)
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.insights.Scores(r.Context(), start, end)
	s.respond(w, r, resp, err)
}

func (s *Server) handleRecoveryVsStrain(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.insights.RecoveryVsStrain(r.Context(), start, end)
	s.respond(w, r, resp, err)
}

func (s *Server) handleEffortComposition(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.insights.EffortComposition(r.Context(), start, end, r.URL.Query().Get("granularity"))
	s.respond(w, r, resp, err)
}

func (s *Server) handleReadinessTimeline(w http.ResponseWriter, r *http.Request) {
	start, end, err := s.dateRange(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.insights.ReadinessTimeline(r.Context(), start, end)
	s.respond(w, r, resp, err)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats.GetDataStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleImports(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}
	logs, err := s.stats.QueryImportLogs(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"imports": logs, "count": len(logs)})
}

// respond writes resp, or maps err to a status.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, resp any, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError sends 400 for bad input and 500 for everything else.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if insights.IsCallerError(err) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.log.Error("request failed", "path", r.URL.Path, "error", err, "request_id", requestIDFromContext(r))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func requireParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": name + " parameter required"})
		return "", false
	}
	return v, true
}

func optionalDate(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	d, err := insights.ParseDate(name, v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// dateRange reads start_date and end_date. A missing end defaults to the
// latest stored date; a missing start to 30 days before end.
func (s *Server) dateRange(r *http.Request) (start, end time.Time, err error) {
	startPtr, err := optionalDate(r, "start_date")
	if err != nil {
		return
	}
	endPtr, err := optionalDate(r, "end_date")
	if err != nil {
		return
	}
	return s.insights.ResolveRange(r.Context(), startPtr, endPtr)
}
