package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gkobilansky/form-goat/internal/experiment"
	"github.com/gkobilansky/form-goat/internal/form"
	"github.com/gkobilansky/form-goat/internal/store"
)

type VariantRequest struct {
	ID        string       `json:"id,omitempty"`
	Name      string       `json:"name,omitempty"`
	Changes   form.Changes `json:"changes,omitempty"`
	Weight    float64      `json:"weight,omitempty"`
	IsControl bool         `json:"is_control,omitempty"`
}

type CreateTestRequest struct {
	FormID            string           `json:"form_id"`
	Name              string           `json:"name,omitempty"`
	Description       string           `json:"description,omitempty"`
	TestType          string           `json:"test_type,omitempty"`
	GoalType          string           `json:"goal_type,omitempty"`
	TrafficAllocation string           `json:"traffic_allocation,omitempty"`
	MinimumSample     int              `json:"minimum_sample,omitempty"`
	ConfidenceLevel   float64          `json:"confidence_level,omitempty"`
	AutoEndOnWinner   bool             `json:"auto_end_on_winner,omitempty"`
	Variants          []VariantRequest `json:"variants,omitempty"`
}

func (req CreateTestRequest) config() experiment.TestConfig {
	cfg := experiment.TestConfig{
		Name:              req.Name,
		Description:       req.Description,
		TestType:          store.TestType(req.TestType),
		GoalType:          req.GoalType,
		TrafficAllocation: store.Allocation(req.TrafficAllocation),
		MinimumSample:     req.MinimumSample,
		ConfidenceLevel:   req.ConfidenceLevel,
		AutoEndOnWinner:   req.AutoEndOnWinner,
	}
	for _, v := range req.Variants {
		cfg.Variants = append(cfg.Variants, experiment.VariantConfig(v))
	}
	return cfg
}

type VariantResponse struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Changes   form.Changes `json:"changes"`
	Weight    float64      `json:"weight"`
	IsControl bool         `json:"is_control"`
}

type TestResponse struct {
	ID                int64             `json:"id"`
	FormID            string            `json:"form_id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	Status            string            `json:"status"`
	TestType          string            `json:"test_type"`
	GoalType          string            `json:"goal_type,omitempty"`
	TrafficAllocation string            `json:"traffic_allocation"`
	MinimumSample     int               `json:"minimum_sample"`
	ConfidenceLevel   float64           `json:"confidence_level"`
	AutoEndOnWinner   bool              `json:"auto_end_on_winner"`
	WinnerVariantID   *string           `json:"winner_variant_id,omitempty"`
	StartDate         *time.Time        `json:"start_date,omitempty"`
	EndDate           *time.Time        `json:"end_date,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	Variants          []VariantResponse `json:"variants"`
}

func toTestResponse(t *store.Test) TestResponse {
	resp := TestResponse{
		ID:                t.ID,
		FormID:            t.FormID,
		Name:              t.Name,
		Description:       t.Description,
		Status:            string(t.Status),
		TestType:          string(t.TestType),
		GoalType:          t.GoalType,
		TrafficAllocation: string(t.TrafficAllocation),
		MinimumSample:     t.MinimumSample,
		ConfidenceLevel:   t.ConfidenceLevel,
		AutoEndOnWinner:   t.AutoEndOnWinner,
		WinnerVariantID:   t.WinnerVariantID,
		StartDate:         t.StartDate,
		EndDate:           t.EndDate,
		CreatedAt:         t.CreatedAt,
		Variants:          make([]VariantResponse, 0, len(t.Variants)),
	}
	for _, v := range t.Variants {
		changes := v.Changes
		if changes == nil {
			changes = form.Changes{}
		}
		resp.Variants = append(resp.Variants, VariantResponse{
			ID:        v.ID,
			Name:      v.Name,
			Changes:   changes,
			Weight:    v.Weight,
			IsControl: v.IsControl,
		})
	}
	return resp
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	filter := store.TestFilter{
		FormID: r.URL.Query().Get("form_id"),
		Status: store.TestStatus(r.URL.Query().Get("status")),
	}
	tests, err := s.svc.ListTests(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list tests", err)
		return
	}

	resp := make([]TestResponse, 0, len(tests))
	for _, t := range tests {
		resp = append(resp, toTestResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateTest(w http.ResponseWriter, r *http.Request) {
	var req CreateTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	test, err := s.svc.CreateTest(r.Context(), req.FormID, req.config())
	if errors.Is(err, experiment.ErrInvalidConfig) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.internalError(w, "create test", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTestResponse(test))
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	test, err := s.svc.GetTest(r.Context(), id)
	if err != nil {
		s.internalError(w, "get test", err)
		return
	}
	if test == nil {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toTestResponse(test))
}

func (s *Server) handleDeleteTest(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	deleted, err := s.svc.DeleteTest(r.Context(), id)
	if err != nil {
		s.internalError(w, "delete test", err)
		return
	}
	if !deleted {
		http.Error(w, "Test not found or still running", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type CompleteRequest struct {
	WinnerVariantID *string `json:"winner_variant_id,omitempty"`
}

// handleTransition serves start, pause, resume and complete. A false
// result from the service means the test is not in a state that allows
// the transition.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	var (
		done bool
		err  error
	)
	switch chi.URLParam(r, "action") {
	case "start":
		done, err = s.svc.StartTest(ctx, id)
	case "pause":
		done, err = s.svc.PauseTest(ctx, id)
	case "resume":
		done, err = s.svc.ResumeTest(ctx, id)
	case "complete":
		var req CompleteRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "Invalid JSON", http.StatusBadRequest)
				return
			}
		}
		done, err = s.svc.CompleteTest(ctx, id, req.WinnerVariantID)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		s.internalError(w, chi.URLParam(r, "action"), err)
		return
	}
	if !done {
		http.Error(w, "Transition not allowed", http.StatusConflict)
		return
	}

	test, err := s.svc.GetTest(ctx, id)
	if err != nil || test == nil {
		s.internalError(w, "get test", err)
		return
	}
	writeJSON(w, http.StatusOK, toTestResponse(test))
}
