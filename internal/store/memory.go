package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. It provides the same guarded
// transitions and atomic increments as SQLiteStore and is meant for
// tests and ephemeral demos.
type MemoryStore struct {
	mu          sync.Mutex
	nextTestID  int64
	nextEventID int64
	tests       map[int64]*Test
	events      []*Event
	rollups     map[rollupKey]*DailyResult
	assignments map[assignmentKey]Assignment
}

var _ Store = (*MemoryStore)(nil)

type rollupKey struct {
	testID    int64
	variantID string
	date      string
}

type assignmentKey struct {
	testID    int64
	visitorID string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tests:       make(map[int64]*Test),
		rollups:     make(map[rollupKey]*DailyResult),
		assignments: make(map[assignmentKey]Assignment),
	}
}

func (m *MemoryStore) Close() error { return nil }

func cloneTest(t *Test) *Test {
	c := *t
	c.Variants = make([]Variant, len(t.Variants))
	copy(c.Variants, t.Variants)
	if t.WinnerVariantID != nil {
		w := *t.WinnerVariantID
		c.WinnerVariantID = &w
	}
	return &c
}

func (m *MemoryStore) CreateTest(ctx context.Context, test *Test) (*Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextTestID++
	now := time.Unix(time.Now().Unix(), 0)

	created := cloneTest(test)
	created.ID = m.nextTestID
	created.Status = StatusDraft
	created.WinnerVariantID = nil
	created.StartDate = nil
	created.EndDate = nil
	created.CreatedAt = now
	created.UpdatedAt = now
	for i := range created.Variants {
		created.Variants[i].TestID = created.ID
		created.Variants[i].Position = i
	}

	m.tests[created.ID] = created
	return cloneTest(created), nil
}

func (m *MemoryStore) GetTest(ctx context.Context, id int64) (*Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTest(t), nil
}

func (m *MemoryStore) ListTests(ctx context.Context, filter TestFilter) ([]*Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tests []*Test
	for _, t := range m.tests {
		if filter.FormID != "" && t.FormID != filter.FormID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		tests = append(tests, cloneTest(t))
	}
	sort.Slice(tests, func(i, j int) bool { return tests[i].ID > tests[j].ID })
	return tests, nil
}

func (m *MemoryStore) UpdateTest(ctx context.Context, test *Test) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tests[test.ID]
	if !ok || stored.Status == StatusRunning {
		return false, nil
	}

	updated := cloneTest(test)
	updated.FormID = stored.FormID
	updated.Status = stored.Status
	updated.WinnerVariantID = stored.WinnerVariantID
	updated.StartDate = stored.StartDate
	updated.EndDate = stored.EndDate
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = time.Unix(time.Now().Unix(), 0)
	for i := range updated.Variants {
		updated.Variants[i].TestID = test.ID
		updated.Variants[i].Position = i
	}
	m.tests[test.ID] = updated
	return true, nil
}

func (m *MemoryStore) Activate(ctx context.Context, id int64, from TestStatus, now time.Time) ([]int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok || t.Status != from {
		return nil, false, nil
	}

	now = time.Unix(now.Unix(), 0)
	var paused []int64
	for _, other := range m.tests {
		if other.ID != id && other.FormID == t.FormID && other.Status == StatusRunning {
			other.Status = StatusPaused
			other.UpdatedAt = now
			paused = append(paused, other.ID)
		}
	}
	sort.Slice(paused, func(i, j int) bool { return paused[i] < paused[j] })

	if from == StatusDraft {
		t.StartDate = &now
	}
	t.Status = StatusRunning
	t.UpdatedAt = now
	return paused, true, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id int64, from, to TestStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.UpdatedAt = time.Unix(time.Now().Unix(), 0)
	return true, nil
}

func (m *MemoryStore) Complete(ctx context.Context, id int64, winnerVariantID *string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok || (t.Status != StatusRunning && t.Status != StatusPaused) {
		return false, nil
	}

	now = time.Unix(now.Unix(), 0)
	t.Status = StatusCompleted
	t.EndDate = &now
	t.UpdatedAt = now
	t.WinnerVariantID = nil
	if winnerVariantID != nil {
		w := *winnerVariantID
		t.WinnerVariantID = &w
	}
	return true, nil
}

func (m *MemoryStore) DeleteTest(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tests[id]
	if !ok || t.Status == StatusRunning {
		return false, nil
	}

	delete(m.tests, id)
	for k := range m.rollups {
		if k.testID == id {
			delete(m.rollups, k)
		}
	}
	for k := range m.assignments {
		if k.testID == id {
			delete(m.assignments, k)
		}
	}
	kept := m.events[:0]
	for _, e := range m.events {
		if e.TestID != id {
			kept = append(kept, e)
		}
	}
	m.events = kept
	return true, nil
}

func (m *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextEventID++
	event.ID = m.nextEventID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = time.Unix(event.CreatedAt.Unix(), 0)

	stored := *event
	stored.EventData = append(json.RawMessage(nil), event.EventData...)
	m.events = append(m.events, &stored)
	return nil
}

func (m *MemoryStore) UpsertIncrement(ctx context.Context, testID int64, variantID, date string, counter Counter, delta int64) error {
	if _, err := counterColumn(counter); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := rollupKey{testID: testID, variantID: variantID, date: date}
	row, ok := m.rollups[key]
	if !ok {
		row = &DailyResult{TestID: testID, VariantID: variantID, Date: date}
		m.rollups[key] = row
	}

	switch counter {
	case CounterViews:
		row.Views += delta
	case CounterConversions:
		row.Conversions += delta
	case CounterBounces:
		row.Bounces += delta
	case CounterTimeOnForm:
		row.TimeOnForm += delta
	case CounterFieldInteractions:
		row.FieldInteractions += delta
	default:
		return fmt.Errorf("unknown counter %q", counter)
	}
	return nil
}

func (m *MemoryStore) SumRollups(ctx context.Context, testID int64, variantID string) (Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var t Totals
	for k, row := range m.rollups {
		if k.testID == testID && k.variantID == variantID {
			t.add(*row)
		}
	}
	return t, nil
}

func (m *MemoryStore) SumRollupsByVariant(ctx context.Context, testID int64) (map[string]Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make(map[string]Totals)
	for k, row := range m.rollups {
		if k.testID != testID {
			continue
		}
		t := totals[k.variantID]
		t.add(*row)
		totals[k.variantID] = t
	}
	return totals, nil
}

func (m *MemoryStore) DailyResults(ctx context.Context, testID int64) ([]DailyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var results []DailyResult
	for k, row := range m.rollups {
		if k.testID == testID {
			results = append(results, *row)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Date != results[j].Date {
			return results[i].Date < results[j].Date
		}
		return results[i].VariantID < results[j].VariantID
	})
	return results, nil
}

func (m *MemoryStore) GetEvents(ctx context.Context, testID int64) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*Event
	for i := len(m.events) - 1; i >= 0; i-- {
		if e := m.events[i]; e.TestID == testID {
			c := *e
			events = append(events, &c)
		}
	}
	return events, nil
}

func (m *MemoryStore) GetAssignment(ctx context.Context, testID int64, visitorID string, now time.Time) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assignments[assignmentKey{testID: testID, visitorID: visitorID}]
	if !ok || !a.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) SaveAssignment(ctx context.Context, a Assignment) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assignmentKey{testID: a.TestID, visitorID: a.VisitorID}
	if existing, ok := m.assignments[key]; ok && existing.ExpiresAt.After(a.CreatedAt) {
		return &existing, nil
	}
	a.CreatedAt = time.Unix(a.CreatedAt.Unix(), 0)
	a.ExpiresAt = time.Unix(a.ExpiresAt.Unix(), 0)
	m.assignments[key] = a
	return &a, nil
}

func (m *MemoryStore) ReplaceAssignment(ctx context.Context, a Assignment, staleVariantID string) (*Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := assignmentKey{testID: a.TestID, visitorID: a.VisitorID}
	existing, ok := m.assignments[key]
	if !ok {
		return nil, ErrNotFound
	}
	if existing.VariantID != staleVariantID {
		return &existing, nil
	}
	a.CreatedAt = time.Unix(a.CreatedAt.Unix(), 0)
	a.ExpiresAt = time.Unix(a.ExpiresAt.Unix(), 0)
	m.assignments[key] = a
	return &a, nil
}
