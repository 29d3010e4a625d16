package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/gkobilansky/form-goat/internal/metrics"
	"github.com/gkobilansky/form-goat/internal/store"
)

// counterFor maps an event type to the rollup counter it increments.
// start and interact are logged only.
func counterFor(t store.EventType) (store.Counter, bool) {
	switch t {
	case store.EventView:
		return store.CounterViews, true
	case store.EventSubmit, store.EventConvert:
		return store.CounterConversions, true
	case store.EventBounce:
		return store.CounterBounces, true
	}
	return "", false
}

// maxTimeOnForm bounds a single time_on_form report, in seconds. Larger
// values are ignored so one bad client cannot skew or overflow the rollup.
const maxTimeOnForm = 24 * 60 * 60

type eventPayload struct {
	TimeOnForm *float64 `json:"time_on_form"`
	Field      string   `json:"field"`
}

// TrackEvent appends an event for a running test and bumps today's
// rollup. It returns false when the test is not running or the variant
// does not belong to it.
//
// Besides the mapped counter, submit/convert payloads carrying a numeric
// "time_on_form" (seconds, at most one day) add to time_on_form, and interact payloads
// naming a "field" count one field interaction.
func (s *Service) TrackEvent(ctx context.Context, testID int64, variantID, visitorID string, eventType store.EventType, payload json.RawMessage) (bool, error) {
	if !eventType.Valid() {
		return false, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	test, err := s.GetTest(ctx, testID)
	if err != nil {
		return false, err
	}
	if test == nil || test.Status != store.StatusRunning || test.Variant(variantID) == nil {
		return false, nil
	}

	now := s.now()
	event := &store.Event{
		TestID:    testID,
		VariantID: variantID,
		VisitorID: visitorID,
		EventType: eventType,
		EventData: payload,
		CreatedAt: now,
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return false, fmt.Errorf("failed to append event: %w", err)
	}
	metrics.Events.WithLabelValues(string(eventType)).Inc()

	date := store.DateKey(now)
	if counter, ok := counterFor(eventType); ok {
		if err := s.store.UpsertIncrement(ctx, testID, variantID, date, counter, 1); err != nil {
			return false, fmt.Errorf("failed to update rollup: %w", err)
		}
	}

	if len(payload) == 0 {
		return true, nil
	}
	var p eventPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		// Payloads are opaque; only well-formed objects feed the extra counters
		return true, nil
	}

	switch eventType {
	case store.EventSubmit, store.EventConvert:
		if p.TimeOnForm != nil && *p.TimeOnForm > 0 && *p.TimeOnForm <= maxTimeOnForm {
			secs := int64(math.Round(*p.TimeOnForm))
			if err := s.store.UpsertIncrement(ctx, testID, variantID, date, store.CounterTimeOnForm, secs); err != nil {
				return false, fmt.Errorf("failed to update rollup: %w", err)
			}
		}
	case store.EventInteract:
		if p.Field != "" {
			if err := s.store.UpsertIncrement(ctx, testID, variantID, date, store.CounterFieldInteractions, 1); err != nil {
				return false, fmt.Errorf("failed to update rollup: %w", err)
			}
		}
	}
	return true, nil
}
