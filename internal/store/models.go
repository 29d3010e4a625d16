package store

import (
	"encoding/json"
	"time"

	"github.com/gkobilansky/form-goat/internal/form"
)

type TestStatus string

const (
	StatusDraft     TestStatus = "draft"
	StatusRunning   TestStatus = "running"
	StatusPaused    TestStatus = "paused"
	StatusCompleted TestStatus = "completed"
)

// TestType is informational only; allocation and statistics ignore it.
type TestType string

const (
	TypeAB           TestType = "ab"
	TypeMultivariate TestType = "multivariate"
	TypeSplitURL     TestType = "split_url"
)

type Allocation string

const (
	AllocationEqual    Allocation = "equal"
	AllocationWeighted Allocation = "weighted"
	AllocationBandit   Allocation = "bandit"
)

type EventType string

const (
	EventView     EventType = "view"
	EventStart    EventType = "start"
	EventInteract EventType = "interact"
	EventSubmit   EventType = "submit"
	EventConvert  EventType = "convert"
	EventBounce   EventType = "bounce"
)

// Valid reports whether e is one of the known event types.
func (e EventType) Valid() bool {
	switch e {
	case EventView, EventStart, EventInteract, EventSubmit, EventConvert, EventBounce:
		return true
	}
	return false
}

// Counter names a DailyResult column.
type Counter string

const (
	CounterViews             Counter = "views"
	CounterConversions       Counter = "conversions"
	CounterBounces           Counter = "bounces"
	CounterTimeOnForm        Counter = "time_on_form"
	CounterFieldInteractions Counter = "field_interactions"
)

const DefaultConfidenceLevel = 0.95

type Test struct {
	ID                int64
	FormID            string
	Name              string
	Description       string
	Status            TestStatus
	TestType          TestType
	GoalType          string
	TrafficAllocation Allocation
	MinimumSample     int
	ConfidenceLevel   float64
	WinnerVariantID   *string
	StartDate         *time.Time
	EndDate           *time.Time
	AutoEndOnWinner   bool
	Variants          []Variant
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Control returns the control variant, or nil if the test has none.
func (t *Test) Control() *Variant {
	for i := range t.Variants {
		if t.Variants[i].IsControl {
			return &t.Variants[i]
		}
	}
	return nil
}

// Variant looks up a variant by ID.
func (t *Test) Variant(id string) *Variant {
	for i := range t.Variants {
		if t.Variants[i].ID == id {
			return &t.Variants[i]
		}
	}
	return nil
}

type Variant struct {
	ID        string
	TestID    int64
	Name      string
	Changes   form.Changes
	Weight    float64
	IsControl bool
	Position  int
}

type Event struct {
	ID        int64
	TestID    int64
	VariantID string
	VisitorID string
	EventType EventType
	EventData json.RawMessage
	CreatedAt time.Time
}

// DailyResult is the per-day rollup for one variant.
type DailyResult struct {
	TestID            int64
	VariantID         string
	Date              string // YYYY-MM-DD, UTC
	Views             int64
	Conversions       int64
	Bounces           int64
	TimeOnForm        int64
	FieldInteractions int64
}

// Totals is a DailyResult summed across all dates.
type Totals struct {
	Views             int64
	Conversions       int64
	Bounces           int64
	TimeOnForm        int64
	FieldInteractions int64
}

func (t *Totals) add(d DailyResult) {
	t.Views += d.Views
	t.Conversions += d.Conversions
	t.Bounces += d.Bounces
	t.TimeOnForm += d.TimeOnForm
	t.FieldInteractions += d.FieldInteractions
}

type Assignment struct {
	TestID    int64
	VisitorID string
	VariantID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// DateKey formats t as the rollup date key.
func DateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
