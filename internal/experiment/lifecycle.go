package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gkobilansky/form-goat/internal/form"
	"github.com/gkobilansky/form-goat/internal/metrics"
	"github.com/gkobilansky/form-goat/internal/stats"
	"github.com/gkobilansky/form-goat/internal/store"
)

// TestConfig describes a test to create. Zero values take defaults:
// type ab, equal allocation, 95% confidence, and a Control / Variant B
// pair when Variants is empty.
type TestConfig struct {
	Name              string
	Description       string
	TestType          store.TestType
	GoalType          string
	TrafficAllocation store.Allocation
	MinimumSample     int
	ConfidenceLevel   float64
	AutoEndOnWinner   bool
	Variants          []VariantConfig
}

type VariantConfig struct {
	ID        string
	Name      string
	Changes   form.Changes
	Weight    float64
	IsControl bool
}

func defaultVariants() []VariantConfig {
	return []VariantConfig{
		{ID: "control", Name: "Control", Weight: 50, IsControl: true},
		{ID: "variant_b", Name: "Variant B", Weight: 50},
	}
}

func variantSuffix(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprint(i + 1)
}

func buildVariants(configs []VariantConfig) ([]store.Variant, error) {
	if len(configs) == 0 {
		configs = defaultVariants()
	}

	seen := make(map[string]bool, len(configs))
	variants := make([]store.Variant, len(configs))
	for i, c := range configs {
		id := c.ID
		if id == "" {
			id = "variant_" + variantSuffix(i)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate variant id %q", ErrInvalidConfig, id)
		}
		seen[id] = true

		name := c.Name
		if name == "" {
			name = "Variant " + string(rune('A'+i%26))
		}

		variants[i] = store.Variant{
			ID:        id,
			Name:      name,
			Changes:   c.Changes,
			Weight:    c.Weight,
			IsControl: c.IsControl,
			Position:  i,
		}
	}
	return variants, nil
}

func normalize(t *store.Test) {
	switch t.TestType {
	case store.TypeAB, store.TypeMultivariate, store.TypeSplitURL:
	default:
		t.TestType = store.TypeAB
	}
	switch t.TrafficAllocation {
	case store.AllocationEqual, store.AllocationWeighted, store.AllocationBandit:
	default:
		t.TrafficAllocation = store.AllocationEqual
	}
	if t.ConfidenceLevel <= 0 || t.ConfidenceLevel > 1 {
		t.ConfidenceLevel = store.DefaultConfidenceLevel
	}
	if t.MinimumSample < 0 {
		t.MinimumSample = 0
	}
}

// CreateTest stores a new draft test for formID.
func (s *Service) CreateTest(ctx context.Context, formID string, cfg TestConfig) (*store.Test, error) {
	if formID == "" {
		return nil, fmt.Errorf("%w: form id is required", ErrInvalidConfig)
	}

	variants, err := buildVariants(cfg.Variants)
	if err != nil {
		return nil, err
	}

	test := &store.Test{
		FormID:            formID,
		Name:              cfg.Name,
		Description:       cfg.Description,
		TestType:          cfg.TestType,
		GoalType:          cfg.GoalType,
		TrafficAllocation: cfg.TrafficAllocation,
		MinimumSample:     cfg.MinimumSample,
		ConfidenceLevel:   cfg.ConfidenceLevel,
		AutoEndOnWinner:   cfg.AutoEndOnWinner,
		Variants:          variants,
	}
	if test.Name == "" {
		test.Name = "Test for " + formID
	}
	normalize(test)

	created, err := s.store.CreateTest(ctx, test)
	if err != nil {
		return nil, fmt.Errorf("failed to create test: %w", err)
	}

	s.logger.Info("test created", "test_id", created.ID, "form_id", formID, "variants", len(created.Variants))
	return created, nil
}

// GetTest returns nil when the test does not exist.
func (s *Service) GetTest(ctx context.Context, testID int64) (*store.Test, error) {
	test, err := s.store.GetTest(ctx, testID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return test, nil
}

func (s *Service) ListTests(ctx context.Context, filter store.TestFilter) ([]*store.Test, error) {
	return s.store.ListTests(ctx, filter)
}

// UpdateTest applies mutate to a copy of the stored test and saves it.
// Running tests are never updated. ID, form, status, dates and winner
// are not editable.
func (s *Service) UpdateTest(ctx context.Context, testID int64, mutate func(t *store.Test)) (bool, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil || test == nil || test.Status == store.StatusRunning {
		return false, err
	}

	mutate(test)
	test.ID = testID
	normalize(test)

	if len(test.Variants) == 0 {
		return false, fmt.Errorf("%w: a test needs at least one variant", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(test.Variants))
	for _, v := range test.Variants {
		if v.ID == "" || seen[v.ID] {
			return false, fmt.Errorf("%w: variant ids must be unique and non-empty", ErrInvalidConfig)
		}
		seen[v.ID] = true
	}

	return s.store.UpdateTest(ctx, test)
}

// AddVariant appends a variant to a test that is not running.
func (s *Service) AddVariant(ctx context.Context, testID int64, cfg VariantConfig) (bool, error) {
	return s.UpdateTest(ctx, testID, func(t *store.Test) {
		if cfg.ID == "" {
			cfg.ID = "variant_" + variantSuffix(len(t.Variants))
		}
		if cfg.Name == "" {
			cfg.Name = "Variant " + string(rune('A'+len(t.Variants)%26))
		}
		t.Variants = append(t.Variants, store.Variant{
			ID:        cfg.ID,
			Name:      cfg.Name,
			Changes:   cfg.Changes,
			Weight:    cfg.Weight,
			IsControl: cfg.IsControl,
		})
	})
}

// StartTest moves a draft test to running. Any other running test for the
// same form is paused first.
func (s *Service) StartTest(ctx context.Context, testID int64) (bool, error) {
	return s.activate(ctx, testID, store.StatusDraft)
}

// ResumeTest moves a paused test back to running, pausing any other
// running test for the same form.
func (s *Service) ResumeTest(ctx context.Context, testID int64) (bool, error) {
	return s.activate(ctx, testID, store.StatusPaused)
}

func (s *Service) activate(ctx context.Context, testID int64, from store.TestStatus) (bool, error) {
	paused, ok, err := s.store.Activate(ctx, testID, from, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to activate test %d: %w", testID, err)
	}
	if !ok {
		return false, nil
	}

	for _, id := range paused {
		metrics.Transitions.WithLabelValues(string(store.StatusPaused)).Inc()
		s.logger.Info("test paused", "test_id", id, "reason", "superseded", "by", testID)
	}
	metrics.Transitions.WithLabelValues(string(store.StatusRunning)).Inc()
	s.logger.Info("test running", "test_id", testID, "from", from)
	return true, nil
}

func (s *Service) PauseTest(ctx context.Context, testID int64) (bool, error) {
	ok, err := s.store.SetStatus(ctx, testID, store.StatusRunning, store.StatusPaused)
	if err != nil {
		return false, fmt.Errorf("failed to pause test %d: %w", testID, err)
	}
	if ok {
		metrics.Transitions.WithLabelValues(string(store.StatusPaused)).Inc()
		s.logger.Info("test paused", "test_id", testID)
	}
	return ok, nil
}

// CompleteTest ends a running or paused test. With a nil winnerVariantID
// the winner is determined from the current results and may be none.
// A winner that is not a variant of the test is rejected.
func (s *Service) CompleteTest(ctx context.Context, testID int64, winnerVariantID *string) (bool, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil || test == nil {
		return false, err
	}
	if test.Status != store.StatusRunning && test.Status != store.StatusPaused {
		return false, nil
	}

	winner := winnerVariantID
	if winner != nil {
		if test.Variant(*winner) == nil {
			return false, nil
		}
	} else {
		results, err := s.results(ctx, test)
		if err != nil {
			return false, err
		}
		if w := stats.DetermineWinner(results, test.ConfidenceLevel); w != nil {
			winner = &w.VariantID
		}
	}

	ok, err := s.store.Complete(ctx, testID, winner, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to complete test %d: %w", testID, err)
	}
	if ok {
		metrics.Transitions.WithLabelValues(string(store.StatusCompleted)).Inc()
		attrs := []any{"test_id", testID}
		if winner != nil {
			attrs = append(attrs, "winner", *winner)
		}
		s.logger.Info("test completed", attrs...)
	}
	return ok, nil
}

// DeleteTest removes a test that is not running, with all its data.
func (s *Service) DeleteTest(ctx context.Context, testID int64) (bool, error) {
	ok, err := s.store.DeleteTest(ctx, testID)
	if err != nil {
		return false, fmt.Errorf("failed to delete test %d: %w", testID, err)
	}
	if ok {
		s.logger.Info("test deleted", "test_id", testID)
	}
	return ok, nil
}
