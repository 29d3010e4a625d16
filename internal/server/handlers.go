package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/form"
	"github.com/gkobilansky/form-goat/internal/stats"
	"github.com/gkobilansky/form-goat/internal/store"
)

type HealthResponse struct {
	Status        string `json:"status"`
	TestsCount    int    `json:"tests_count"`
	RunningCount  int    `json:"running_count"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tests, err := s.svc.ListTests(ctx, store.TestFilter{})
	if err != nil {
		s.internalError(w, "list tests", err)
		return
	}
	running := 0
	for _, t := range tests {
		if t.Status == store.StatusRunning {
			running++
		}
	}

	var dbSize int64
	if s.db != nil {
		row := s.db.QueryRowContext(ctx, "SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&dbSize); err != nil {
			s.logger.Warn("failed to read database size", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		TestsCount:    len(tests),
		RunningCount:  running,
		DBSizeBytes:   dbSize,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// AssignRequest asks for the visitor's variant. VisitorID falls back to
// the visitor cookie. When Form is set the response carries it with the
// variant's changes applied.
type AssignRequest struct {
	TestID    int64           `json:"test_id"`
	VisitorID string          `json:"visitor_id,omitempty"`
	Form      form.Definition `json:"form,omitempty"`
}

type AssignResponse struct {
	TestID    int64           `json:"test_id"`
	VisitorID string          `json:"visitor_id"`
	Assigned  bool            `json:"assigned"`
	VariantID string          `json:"variant_id,omitempty"`
	Name      string          `json:"variant_name,omitempty"`
	IsControl bool            `json:"is_control,omitempty"`
	Changes   form.Changes    `json:"changes,omitempty"`
	Form      form.Definition `json:"form,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID <= 0 {
		http.Error(w, "Missing test_id", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	var (
		variant *store.Variant
		visitor = req.VisitorID
		err     error
	)
	if visitor != "" {
		variant, err = s.svc.AssignVariant(ctx, req.TestID, visitor)
	} else {
		variant, visitor, err = s.svc.AssignCurrentVisitor(ctx, req.TestID, s.cookies.ForRequest(w, r))
	}
	if err != nil {
		s.internalError(w, "assign variant", err)
		return
	}

	resp := AssignResponse{TestID: req.TestID, VisitorID: visitor}
	if variant != nil {
		resp.Assigned = true
		resp.VariantID = variant.ID
		resp.Name = variant.Name
		resp.IsControl = variant.IsControl
		resp.Changes = variant.Changes

		if req.Form != nil {
			rendered, ok, err := s.svc.RenderVariant(ctx, req.TestID, variant.ID, req.Form)
			if err != nil {
				http.Error(w, "Failed to apply variant changes: "+err.Error(), http.StatusUnprocessableEntity)
				return
			}
			if ok {
				resp.Form = rendered
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type TrackRequest struct {
	TestID    int64           `json:"test_id"`
	VariantID string          `json:"variant_id"`
	VisitorID string          `json:"visitor_id,omitempty"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TestID <= 0 || req.VariantID == "" {
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	visitor := req.VisitorID
	if visitor == "" {
		visitor = s.cookies.ForRequest(w, r).GetOrCreateVisitorID()
	}

	ok, err := s.svc.TrackEvent(r.Context(), req.TestID, req.VariantID, visitor, store.EventType(req.EventType), req.Data)
	if errors.Is(err, experiment.ErrUnknownEventType) {
		http.Error(w, "Invalid event type", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, "track event", err)
		return
	}
	if !ok {
		http.Error(w, "Test not running or unknown variant", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type VariantResult struct {
	VariantID               string  `json:"variant_id"`
	Name                    string  `json:"name"`
	IsControl               bool    `json:"is_control"`
	Views                   int64   `json:"views"`
	Conversions             int64   `json:"conversions"`
	Bounces                 int64   `json:"bounces"`
	ConversionRate          float64 `json:"conversion_rate"`
	BounceRate              float64 `json:"bounce_rate"`
	AverageTime             float64 `json:"average_time"`
	FieldInteractions       int64   `json:"field_interactions"`
	CILower                 float64 `json:"ci_lower"`
	CIUpper                 float64 `json:"ci_upper"`
	Improvement             float64 `json:"improvement,omitempty"`
	StatisticalSignificance float64 `json:"statistical_significance,omitempty"`
	IsSignificant           bool    `json:"is_significant"`
}

type ResultsResponse struct {
	TestID          int64           `json:"test_id"`
	Status          string          `json:"status"`
	ConfidenceLevel float64         `json:"confidence_level"`
	TotalViews      int64           `json:"total_views"`
	Winner          *string         `json:"winner,omitempty"`
	Variants        []VariantResult `json:"variants"`
}

func toResultsResponse(test *store.Test, res *stats.Results) ResultsResponse {
	resp := ResultsResponse{
		TestID:          test.ID,
		Status:          string(test.Status),
		ConfidenceLevel: res.ConfidenceLevel,
		TotalViews:      res.TotalViews,
		Variants:        make([]VariantResult, 0, len(res.Variants)),
	}
	if test.Status == store.StatusCompleted {
		resp.Winner = test.WinnerVariantID
	} else if w := stats.DetermineWinner(res, res.ConfidenceLevel); w != nil {
		resp.Winner = &w.VariantID
	}
	for _, v := range res.Variants {
		resp.Variants = append(resp.Variants, VariantResult{
			VariantID:               v.VariantID,
			Name:                    v.Name,
			IsControl:               v.IsControl,
			Views:                   v.Views,
			Conversions:             v.Conversions,
			Bounces:                 v.Bounces,
			ConversionRate:          v.ConversionRate,
			BounceRate:              v.BounceRate,
			AverageTime:             v.AverageTime,
			FieldInteractions:       v.FieldInteractions,
			CILower:                 v.CILower,
			CIUpper:                 v.CIUpper,
			Improvement:             v.Improvement,
			StatisticalSignificance: v.StatisticalSignificance,
			IsSignificant:           v.IsSignificant,
		})
	}
	return resp
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	test, err := s.svc.GetTest(ctx, id)
	if err != nil {
		s.internalError(w, "get test", err)
		return
	}
	if test == nil {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	res, err := s.svc.CalculateResults(ctx, id)
	if err != nil {
		s.internalError(w, "calculate results", err)
		return
	}
	if res == nil {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toResultsResponse(test, res))
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid test id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func noContent(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("request failed", "op", op, "error", err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		next.ServeHTTP(w, r)
	})
}
