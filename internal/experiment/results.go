package experiment

import (
	"context"
	"fmt"

	"github.com/gkobilansky/form-goat/internal/stats"
	"github.com/gkobilansky/form-goat/internal/store"
)

// CalculateResults returns per-variant metrics summed over all rollup
// days, or nil when the test does not exist. It reads a point-in-time
// snapshot and may run alongside writers.
func (s *Service) CalculateResults(ctx context.Context, testID int64) (*stats.Results, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil || test == nil {
		return nil, err
	}
	return s.results(ctx, test)
}

func (s *Service) results(ctx context.Context, test *store.Test) (*stats.Results, error) {
	totals, err := s.store.SumRollupsByVariant(ctx, test.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum rollups for test %d: %w", test.ID, err)
	}
	return stats.Calculate(test, totals), nil
}

// DetermineWinner returns the winning variant of a test at its configured
// confidence level, or nil.
func (s *Service) DetermineWinner(ctx context.Context, testID int64) (*store.Variant, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil || test == nil {
		return nil, err
	}
	results, err := s.results(ctx, test)
	if err != nil {
		return nil, err
	}

	w := stats.DetermineWinner(results, test.ConfidenceLevel)
	if w == nil {
		return nil, nil
	}
	return test.Variant(w.VariantID), nil
}

// DailyResults returns the raw rollup rows of a test.
func (s *Service) DailyResults(ctx context.Context, testID int64) ([]store.DailyResult, error) {
	return s.store.DailyResults(ctx, testID)
}

// Events returns the raw event log of a test, newest first.
func (s *Service) Events(ctx context.Context, testID int64) ([]*store.Event, error) {
	return s.store.GetEvents(ctx, testID)
}
