package store

import (
	"context"
	"time"
)

// TestFilter narrows ListTests. Zero values match everything.
type TestFilter struct {
	FormID string
	Status TestStatus
}

// TestRepository persists tests and their variants. Methods returning a
// bool report whether the guarded transition applied; false means the
// precondition did not hold and nothing was written.
type TestRepository interface {
	CreateTest(ctx context.Context, test *Test) (*Test, error)
	GetTest(ctx context.Context, id int64) (*Test, error)
	ListTests(ctx context.Context, filter TestFilter) ([]*Test, error)
	// UpdateTest rewrites test fields and replaces its variants unless the
	// stored test is running.
	UpdateTest(ctx context.Context, test *Test) (bool, error)
	// Activate moves a test from status `from` to running, pausing any other
	// running test for the same form in the same transaction. It returns
	// the IDs of the tests it paused.
	Activate(ctx context.Context, id int64, from TestStatus, now time.Time) ([]int64, bool, error)
	SetStatus(ctx context.Context, id int64, from, to TestStatus) (bool, error)
	// Complete marks a running or paused test completed.
	Complete(ctx context.Context, id int64, winnerVariantID *string, now time.Time) (bool, error)
	// DeleteTest removes a non-running test with its variants, rollups,
	// events and assignments.
	DeleteTest(ctx context.Context, id int64) (bool, error)
}

// EventStore is the append-only event log plus daily rollups.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	// UpsertIncrement atomically adds delta to one counter of the
	// (test, variant, date) rollup, creating the row if needed.
	UpsertIncrement(ctx context.Context, testID int64, variantID, date string, counter Counter, delta int64) error
	SumRollups(ctx context.Context, testID int64, variantID string) (Totals, error)
	SumRollupsByVariant(ctx context.Context, testID int64) (map[string]Totals, error)
	DailyResults(ctx context.Context, testID int64) ([]DailyResult, error)
	GetEvents(ctx context.Context, testID int64) ([]*Event, error)
}

// AssignmentStore keeps sticky visitor to variant bindings.
type AssignmentStore interface {
	// GetAssignment returns ErrNotFound when there is no unexpired binding.
	GetAssignment(ctx context.Context, testID int64, visitorID string, now time.Time) (*Assignment, error)
	// SaveAssignment writes a binding unless an unexpired one already
	// exists, and returns whichever binding is stored afterwards.
	SaveAssignment(ctx context.Context, a Assignment) (*Assignment, error)
	// ReplaceAssignment overwrites the binding only while it still points
	// at staleVariantID, and returns whichever binding is stored afterwards.
	ReplaceAssignment(ctx context.Context, a Assignment, staleVariantID string) (*Assignment, error)
}

// Store is everything the experiment service needs from persistence.
type Store interface {
	TestRepository
	EventStore
	AssignmentStore

	Close() error
}
