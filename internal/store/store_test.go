package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gkobilansky/form-goat/internal/form"
	"github.com/gkobilansky/form-goat/internal/store"
	"github.com/gkobilansky/form-goat/internal/testutil"
)

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) { fn(t, testutil.SetupTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, store.NewMemoryStore()) })
}

func newTest(formID string) *store.Test {
	return &store.Test{
		FormID:            formID,
		Name:              "signup " + formID,
		TestType:          store.TypeAB,
		TrafficAllocation: store.AllocationWeighted,
		MinimumSample:     100,
		ConfidenceLevel:   0.95,
		AutoEndOnWinner:   true,
		Variants: []store.Variant{
			{ID: "control", Name: "Control", Weight: 1, IsControl: true},
			{ID: "short", Name: "Short", Weight: 3, Changes: form.Changes{
				form.Remove{Path: "fields.2"},
				form.Set{Path: "title", Value: "Quick signup"},
			}},
		},
	}
}

func mustCreate(t *testing.T, s store.Store, formID string) *store.Test {
	t.Helper()
	test, err := s.CreateTest(context.Background(), newTest(formID))
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}
	return test
}

func TestCreateAndGetTest(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		created := mustCreate(t, s, "form-1")

		if created.ID == 0 {
			t.Error("expected non-zero ID")
		}
		if created.Status != store.StatusDraft {
			t.Errorf("got Status %s, want draft", created.Status)
		}

		got, err := s.GetTest(ctx, created.ID)
		if err != nil {
			t.Fatalf("failed to get test: %v", err)
		}
		if got.FormID != "form-1" || got.MinimumSample != 100 || !got.AutoEndOnWinner {
			t.Errorf("unexpected test fields: %+v", got)
		}
		if got.TrafficAllocation != store.AllocationWeighted {
			t.Errorf("got allocation %s, want weighted", got.TrafficAllocation)
		}
		if len(got.Variants) != 2 {
			t.Fatalf("got %d variants, want 2", len(got.Variants))
		}
		if c := got.Control(); c == nil || c.ID != "control" {
			t.Errorf("expected control variant, got %+v", c)
		}
		short := got.Variant("short")
		if short == nil || short.Weight != 3 || len(short.Changes) != 2 {
			t.Fatalf("unexpected short variant: %+v", short)
		}
		if _, ok := short.Changes[0].(form.Remove); !ok {
			t.Errorf("expected first change to be a Remove, got %T", short.Changes[0])
		}
	})
}

func TestGetTest_NotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		_, err := s.GetTest(context.Background(), 999)
		if err != store.ErrNotFound {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestListTests_Filter(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := mustCreate(t, s, "form-1")
		mustCreate(t, s, "form-1")
		mustCreate(t, s, "form-2")

		if _, ok, err := s.Activate(ctx, a.ID, store.StatusDraft, time.Now()); err != nil || !ok {
			t.Fatalf("failed to activate: ok=%v err=%v", ok, err)
		}

		all, err := s.ListTests(ctx, store.TestFilter{})
		if err != nil {
			t.Fatalf("failed to list tests: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("got %d tests, want 3", len(all))
		}

		byForm, _ := s.ListTests(ctx, store.TestFilter{FormID: "form-1"})
		if len(byForm) != 2 {
			t.Errorf("got %d tests for form-1, want 2", len(byForm))
		}

		running, _ := s.ListTests(ctx, store.TestFilter{Status: store.StatusRunning})
		if len(running) != 1 || running[0].ID != a.ID {
			t.Errorf("expected only test %d running, got %d tests", a.ID, len(running))
		}
		if len(running) == 1 && len(running[0].Variants) != 2 {
			t.Errorf("expected listed tests to carry variants")
		}
	})
}

func TestActivate_PausesOtherRunningTest(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := mustCreate(t, s, "form-1")
		b := mustCreate(t, s, "form-1")
		other := mustCreate(t, s, "form-2")

		for _, id := range []int64{a.ID, other.ID} {
			if _, ok, err := s.Activate(ctx, id, store.StatusDraft, time.Now()); err != nil || !ok {
				t.Fatalf("failed to activate %d: ok=%v err=%v", id, ok, err)
			}
		}

		paused, ok, err := s.Activate(ctx, b.ID, store.StatusDraft, time.Now())
		if err != nil || !ok {
			t.Fatalf("failed to activate b: ok=%v err=%v", ok, err)
		}
		if len(paused) != 1 || paused[0] != a.ID {
			t.Errorf("expected test %d to be paused, got %v", a.ID, paused)
		}

		gotA, _ := s.GetTest(ctx, a.ID)
		gotB, _ := s.GetTest(ctx, b.ID)
		gotOther, _ := s.GetTest(ctx, other.ID)
		if gotA.Status != store.StatusPaused {
			t.Errorf("got A status %s, want paused", gotA.Status)
		}
		if gotB.Status != store.StatusRunning || gotB.StartDate == nil {
			t.Errorf("got B status %s start %v, want running with start date", gotB.Status, gotB.StartDate)
		}
		if gotOther.Status != store.StatusRunning {
			t.Errorf("test for another form should stay running, got %s", gotOther.Status)
		}
	})
}

func TestActivate_WrongStatus(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := mustCreate(t, s, "form-1")

		if _, ok, _ := s.Activate(ctx, a.ID, store.StatusPaused, time.Now()); ok {
			t.Error("expected activation from paused to fail for a draft test")
		}
		if _, ok, _ := s.Activate(ctx, 999, store.StatusDraft, time.Now()); ok {
			t.Error("expected activation of unknown test to fail")
		}
	})
}

func TestSetStatusAndComplete(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := mustCreate(t, s, "form-1")

		if ok, _ := s.SetStatus(ctx, a.ID, store.StatusRunning, store.StatusPaused); ok {
			t.Error("expected pause of a draft test to fail")
		}
		if ok, _ := s.Complete(ctx, a.ID, nil, time.Now()); ok {
			t.Error("expected completing a draft test to fail")
		}

		s.Activate(ctx, a.ID, store.StatusDraft, time.Now())
		if ok, err := s.SetStatus(ctx, a.ID, store.StatusRunning, store.StatusPaused); err != nil || !ok {
			t.Fatalf("failed to pause: ok=%v err=%v", ok, err)
		}

		winner := "short"
		if ok, err := s.Complete(ctx, a.ID, &winner, time.Now()); err != nil || !ok {
			t.Fatalf("failed to complete: ok=%v err=%v", ok, err)
		}

		got, _ := s.GetTest(ctx, a.ID)
		if got.Status != store.StatusCompleted {
			t.Errorf("got Status %s, want completed", got.Status)
		}
		if got.WinnerVariantID == nil || *got.WinnerVariantID != "short" {
			t.Errorf("expected winner 'short', got %v", got.WinnerVariantID)
		}
		if got.EndDate == nil {
			t.Error("expected end date to be set")
		}
	})
}

func TestUpdateTest(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := mustCreate(t, s, "form-1")

		a.Name = "renamed"
		a.Variants = append(a.Variants, store.Variant{ID: "long", Name: "Long", Weight: 1})
		if ok, err := s.UpdateTest(ctx, a); err != nil || !ok {
			t.Fatalf("failed to update: ok=%v err=%v", ok, err)
		}

		got, _ := s.GetTest(ctx, a.ID)
		if got.Name != "renamed" || len(got.Variants) != 3 {
			t.Errorf("update not applied: %+v", got)
		}

		s.Activate(ctx, a.ID, store.StatusDraft, time.Now())
		got.Name = "while running"
		if ok, _ := s.UpdateTest(ctx, got); ok {
			t.Error("expected update of a running test to fail")
		}
	})
}

func TestDeleteTest(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := mustCreate(t, s, "form-1")
		seed(t, s, a.ID)

		s.Activate(ctx, a.ID, store.StatusDraft, time.Now())
		if ok, err := s.DeleteTest(ctx, a.ID); err != nil || ok {
			t.Fatalf("expected delete of running test to be refused: ok=%v err=%v", ok, err)
		}
		assertRows(t, s, a.ID, 1, 1)

		s.SetStatus(ctx, a.ID, store.StatusRunning, store.StatusPaused)
		if ok, err := s.DeleteTest(ctx, a.ID); err != nil || !ok {
			t.Fatalf("failed to delete: ok=%v err=%v", ok, err)
		}
		if _, err := s.GetTest(ctx, a.ID); err != store.ErrNotFound {
			t.Errorf("expected deleted test to be gone, got %v", err)
		}
		assertRows(t, s, a.ID, 0, 0)
		if _, err := s.GetAssignment(ctx, a.ID, "v1", time.Now()); err != store.ErrNotFound {
			t.Errorf("expected assignment to be deleted, got %v", err)
		}
	})
}

func seed(t *testing.T, s store.Store, testID int64) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := s.AppendEvent(ctx, &store.Event{TestID: testID, VariantID: "control", VisitorID: "v1", EventType: store.EventView}); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if err := s.UpsertIncrement(ctx, testID, "control", store.DateKey(now), store.CounterViews, 1); err != nil {
		t.Fatalf("failed to increment: %v", err)
	}
	if _, err := s.SaveAssignment(ctx, store.Assignment{TestID: testID, VisitorID: "v1", VariantID: "control", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("failed to save assignment: %v", err)
	}
}

func assertRows(t *testing.T, s store.Store, testID int64, wantEvents, wantRollups int) {
	t.Helper()
	ctx := context.Background()
	events, err := s.GetEvents(ctx, testID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != wantEvents {
		t.Errorf("got %d events, want %d", len(events), wantEvents)
	}
	rollups, err := s.DailyResults(ctx, testID)
	if err != nil {
		t.Fatalf("failed to get rollups: %v", err)
	}
	if len(rollups) != wantRollups {
		t.Errorf("got %d rollup rows, want %d", len(rollups), wantRollups)
	}
}

func TestUpsertIncrement_Concurrent(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		const n = 200
		date := "2026-10-14"

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.UpsertIncrement(ctx, 1, "control", date, store.CounterConversions, 1)
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatalf("increment failed: %v", err)
			}
		}

		totals, err := s.SumRollups(ctx, 1, "control")
		if err != nil {
			t.Fatalf("failed to sum rollups: %v", err)
		}
		if totals.Conversions != n {
			t.Errorf("got %d conversions, want %d", totals.Conversions, n)
		}
		if totals.Views != 0 {
			t.Errorf("got %d views, want 0", totals.Views)
		}
	})
}

func TestSumRollups_AcrossDays(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for _, d := range []string{"2026-10-12", "2026-10-13", "2026-10-14"} {
			s.UpsertIncrement(ctx, 1, "control", d, store.CounterViews, 10)
			s.UpsertIncrement(ctx, 1, "control", d, store.CounterConversions, 2)
			s.UpsertIncrement(ctx, 1, "short", d, store.CounterViews, 5)
		}
		s.UpsertIncrement(ctx, 2, "control", "2026-10-14", store.CounterViews, 99)

		totals, _ := s.SumRollups(ctx, 1, "control")
		if totals.Views != 30 || totals.Conversions != 6 {
			t.Errorf("unexpected control totals: %+v", totals)
		}

		byVariant, err := s.SumRollupsByVariant(ctx, 1)
		if err != nil {
			t.Fatalf("failed to sum by variant: %v", err)
		}
		if len(byVariant) != 2 || byVariant["short"].Views != 15 {
			t.Errorf("unexpected per-variant totals: %+v", byVariant)
		}

		days, _ := s.DailyResults(ctx, 1)
		if len(days) != 6 || days[0].Date != "2026-10-12" {
			t.Errorf("unexpected daily rows: %+v", days)
		}
	})
}

func TestUpsertIncrement_UnknownCounter(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		err := s.UpsertIncrement(context.Background(), 1, "control", "2026-10-14", store.Counter("views; DROP TABLE tests"), 1)
		if err == nil {
			t.Error("expected error for unknown counter")
		}
	})
}

func TestSaveAssignment_FirstWriteWins(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		now := time.Now()

		first, err := s.SaveAssignment(ctx, store.Assignment{TestID: 1, VisitorID: "v1", VariantID: "control", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
		if err != nil {
			t.Fatalf("failed to save assignment: %v", err)
		}
		if first.VariantID != "control" {
			t.Errorf("got %s, want control", first.VariantID)
		}

		second, err := s.SaveAssignment(ctx, store.Assignment{TestID: 1, VisitorID: "v1", VariantID: "short", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
		if err != nil {
			t.Fatalf("failed to save assignment: %v", err)
		}
		if second.VariantID != "control" {
			t.Errorf("second write should keep control, got %s", second.VariantID)
		}

		got, err := s.GetAssignment(ctx, 1, "v1", now)
		if err != nil || got.VariantID != "control" {
			t.Errorf("expected stored control assignment, got %+v err=%v", got, err)
		}
	})
}

func TestSaveAssignment_ExpiredIsReplaced(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		then := time.Now().Add(-48 * time.Hour)
		now := time.Now()

		s.SaveAssignment(ctx, store.Assignment{TestID: 1, VisitorID: "v1", VariantID: "control", CreatedAt: then, ExpiresAt: then.Add(time.Hour)})

		if _, err := s.GetAssignment(ctx, 1, "v1", now); err != store.ErrNotFound {
			t.Errorf("expected expired assignment to be hidden, got %v", err)
		}

		replaced, err := s.SaveAssignment(ctx, store.Assignment{TestID: 1, VisitorID: "v1", VariantID: "short", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})
		if err != nil {
			t.Fatalf("failed to save assignment: %v", err)
		}
		if replaced.VariantID != "short" {
			t.Errorf("expected expired assignment to be replaced, got %s", replaced.VariantID)
		}
	})
}

func TestReplaceAssignment_OnlyStaleBinding(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		now := time.Now()

		s.SaveAssignment(ctx, store.Assignment{TestID: 1, VisitorID: "v1", VariantID: "control", CreatedAt: now, ExpiresAt: now.Add(time.Hour)})

		kept, err := s.ReplaceAssignment(ctx, store.Assignment{TestID: 1, VisitorID: "v1", VariantID: "short", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}, "gone")
		if err != nil {
			t.Fatalf("failed to replace assignment: %v", err)
		}
		if kept.VariantID != "control" {
			t.Errorf("binding to a live variant must be kept, got %s", kept.VariantID)
		}

		replaced, err := s.ReplaceAssignment(ctx, store.Assignment{TestID: 1, VisitorID: "v1", VariantID: "short", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}, "control")
		if err != nil {
			t.Fatalf("failed to replace assignment: %v", err)
		}
		if replaced.VariantID != "short" {
			t.Errorf("expected stale binding to be replaced, got %s", replaced.VariantID)
		}

		got, err := s.GetAssignment(ctx, 1, "v1", now)
		if err != nil || got.VariantID != "short" {
			t.Errorf("expected stored short assignment, got %+v err=%v", got, err)
		}
	})
}

func TestEvents(t *testing.T) {
	eachStore(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		payload := json.RawMessage(`{"field":"email"}`)

		e := &store.Event{TestID: 1, VariantID: "short", VisitorID: "v1", EventType: store.EventInteract, EventData: payload}
		if err := s.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("expected event ID to be set")
		}
		s.AppendEvent(ctx, &store.Event{TestID: 1, VariantID: "short", VisitorID: "v1", EventType: store.EventSubmit})

		events, err := s.GetEvents(ctx, 1)
		if err != nil {
			t.Fatalf("failed to get events: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("got %d events, want 2", len(events))
		}
		var interact *store.Event
		for _, ev := range events {
			if ev.EventType == store.EventInteract {
				interact = ev
			}
		}
		if interact == nil || string(interact.EventData) != string(payload) {
			t.Errorf("expected interact event with payload, got %+v", interact)
		}
	})
}
