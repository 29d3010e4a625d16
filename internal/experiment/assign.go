package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gkobilansky/form-goat/internal/allocation"
	"github.com/gkobilansky/form-goat/internal/form"
	"github.com/gkobilansky/form-goat/internal/identity"
	"github.com/gkobilansky/form-goat/internal/metrics"
	"github.com/gkobilansky/form-goat/internal/store"
)

// AssignVariant returns the variant visitorID sees for a running test,
// allocating and persisting one on first contact or when the bound
// variant no longer exists. It returns nil when the test is missing, not
// running, or has no variants.
//
// Two concurrent first requests may both allocate; the store keeps the
// first binding written and both callers get that one back.
func (s *Service) AssignVariant(ctx context.Context, testID int64, visitorID string) (*store.Variant, error) {
	if visitorID == "" {
		return nil, nil
	}

	test, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	if test == nil || test.Status != store.StatusRunning || len(test.Variants) == 0 {
		return nil, nil
	}

	now := s.now()
	stale := ""
	existing, err := s.store.GetAssignment(ctx, testID, visitorID, now)
	switch {
	case err == nil:
		if v := test.Variant(existing.VariantID); v != nil {
			metrics.Assignments.WithLabelValues(string(test.TrafficAllocation), metrics.OutcomeSticky).Inc()
			return v, nil
		}
		// The variant was removed while the test was paused; draw again
		s.logger.Info("reassigning visitor from removed variant", "test_id", testID, "variant_id", existing.VariantID)
		stale = existing.VariantID
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("failed to look up assignment: %w", err)
	}

	arms, err := s.arms(ctx, test)
	if err != nil {
		return nil, err
	}
	picked, ok := allocation.New(test.TrafficAllocation, s.rand, s.sampler).Select(arms)
	if !ok {
		return nil, nil
	}

	binding := store.Assignment{
		TestID:    testID,
		VisitorID: visitorID,
		VariantID: picked.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.assignmentTTL),
	}
	var stored *store.Assignment
	if stale != "" {
		stored, err = s.store.ReplaceAssignment(ctx, binding, stale)
	} else {
		stored, err = s.store.SaveAssignment(ctx, binding)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	outcome := metrics.OutcomeNewAssignment
	if stored.VariantID != picked.ID {
		// Lost the race to a concurrent request for the same visitor
		outcome = metrics.OutcomeSticky
	}
	metrics.Assignments.WithLabelValues(string(test.TrafficAllocation), outcome).Inc()

	return test.Variant(stored.VariantID), nil
}

// AssignCurrentVisitor assigns the visitor reported by ids, falling back
// to the provider configured with WithIdentity.
func (s *Service) AssignCurrentVisitor(ctx context.Context, testID int64, ids identity.Provider) (*store.Variant, string, error) {
	if ids == nil {
		ids = s.identity
	}
	if ids == nil {
		return nil, "", errors.New("no identity provider configured")
	}

	visitorID := ids.GetOrCreateVisitorID()
	v, err := s.AssignVariant(ctx, testID, visitorID)
	return v, visitorID, err
}

func (s *Service) arms(ctx context.Context, test *store.Test) ([]allocation.Arm, error) {
	arms := make([]allocation.Arm, len(test.Variants))
	for i, v := range test.Variants {
		arms[i] = allocation.Arm{Variant: v}
	}
	if test.TrafficAllocation != store.AllocationBandit {
		return arms, nil
	}

	totals, err := s.store.SumRollupsByVariant(ctx, test.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bandit totals: %w", err)
	}
	for i := range arms {
		t := totals[arms[i].Variant.ID]
		arms[i].Views, arms[i].Conversions = t.Views, t.Conversions
	}
	return arms, nil
}

// RenderVariant applies a variant's changes to base. ok is false when
// the test or variant does not exist.
func (s *Service) RenderVariant(ctx context.Context, testID int64, variantID string, base form.Definition) (form.Definition, bool, error) {
	test, err := s.GetTest(ctx, testID)
	if err != nil || test == nil {
		return nil, false, err
	}
	v := test.Variant(variantID)
	if v == nil {
		return nil, false, nil
	}

	out, err := form.Apply(base, v.Changes)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
