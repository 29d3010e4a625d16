package experiment

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gkobilansky/form-goat/internal/metrics"
	"github.com/gkobilansky/form-goat/internal/stats"
	"github.com/gkobilansky/form-goat/internal/store"
)

// SweepOutcome is what the sweep did with one test.
type SweepOutcome struct {
	TestID   int64
	Outcome  string // one of the metrics.Outcome* sweep values
	WinnerID string
	Err      error
}

type SweepReport struct {
	Tests []SweepOutcome
}

// Completed returns the IDs of tests the sweep completed.
func (r *SweepReport) Completed() []int64 {
	var ids []int64
	for _, t := range r.Tests {
		if t.Outcome == metrics.OutcomeCompleted {
			ids = append(ids, t.TestID)
		}
	}
	return ids
}

// Failed returns the outcomes that ended in an error.
func (r *SweepReport) Failed() []SweepOutcome {
	var failed []SweepOutcome
	for _, t := range r.Tests {
		if t.Err != nil {
			failed = append(failed, t)
		}
	}
	return failed
}

// Sweep evaluates every running test with auto_end_on_winner set and
// completes those with a winner once they reach their minimum sample.
// Tests are processed independently: a failure on one is logged and
// recorded in the report without affecting the others. The returned
// error is only for failing to list tests.
func (s *Service) Sweep(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	running, err := s.store.ListTests(ctx, store.TestFilter{Status: store.StatusRunning})
	if err != nil {
		return nil, fmt.Errorf("failed to list running tests: %w", err)
	}

	var candidates []*store.Test
	for _, t := range running {
		if t.AutoEndOnWinner {
			candidates = append(candidates, t)
		}
	}

	report := &SweepReport{Tests: make([]SweepOutcome, len(candidates))}

	// Every goroutine returns nil so one failure never cancels its siblings.
	var g errgroup.Group
	g.SetLimit(s.sweepConcurrency)
	for i, test := range candidates {
		g.Go(func() error {
			out := s.sweepOne(ctx, test)
			report.Tests[i] = out
			metrics.SweepTests.WithLabelValues(out.Outcome).Inc()
			if out.Err != nil {
				s.logger.Error("sweep failed for test", "test_id", test.ID, "error", out.Err)
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info("sweep finished", "running", len(running), "evaluated", len(candidates),
		"completed", len(report.Completed()), "failed", len(report.Failed()))
	return report, nil
}

func (s *Service) sweepOne(ctx context.Context, test *store.Test) SweepOutcome {
	out := SweepOutcome{TestID: test.ID}

	results, err := s.results(ctx, test)
	if err != nil {
		out.Outcome, out.Err = metrics.OutcomeError, err
		return out
	}
	if results.TotalViews < int64(test.MinimumSample) {
		out.Outcome = metrics.OutcomeBelowMinimum
		return out
	}

	winner := stats.DetermineWinner(results, test.ConfidenceLevel)
	if winner == nil {
		out.Outcome = metrics.OutcomeNoWinner
		return out
	}

	ok, err := s.CompleteTest(ctx, test.ID, &winner.VariantID)
	switch {
	case err != nil:
		out.Outcome, out.Err = metrics.OutcomeError, err
	case !ok:
		// Paused or completed since it was listed
		out.Outcome = metrics.OutcomeNoWinner
	default:
		out.Outcome, out.WinnerID = metrics.OutcomeCompleted, winner.VariantID
		s.logger.Info("test auto-completed", "test_id", test.ID, "winner", winner.VariantID,
			"control", winner.IsControl, "views", results.TotalViews)
	}
	return out
}

// RunSweeper runs Sweep every interval until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
