package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS tests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    form_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft',
    test_type TEXT NOT NULL DEFAULT 'ab',
    goal_type TEXT NOT NULL DEFAULT '',
    traffic_allocation TEXT NOT NULL DEFAULT 'equal',
    minimum_sample INTEGER NOT NULL DEFAULT 0,
    confidence_level REAL NOT NULL DEFAULT 0.95,
    winner_variant_id TEXT,
    start_date INTEGER,
    end_date INTEGER,
    auto_end_on_winner INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_tests_form_status ON tests(form_id, status);
CREATE INDEX IF NOT EXISTS idx_tests_status ON tests(status);

CREATE TABLE IF NOT EXISTS variants (
    test_id INTEGER NOT NULL,
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    changes TEXT NOT NULL DEFAULT '[]',
    weight REAL NOT NULL DEFAULT 1,
    is_control INTEGER NOT NULL DEFAULT 0,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (test_id, id)
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    test_id INTEGER NOT NULL,
    variant_id TEXT NOT NULL,
    visitor_id TEXT NOT NULL DEFAULT '',
    event_type TEXT NOT NULL,
    event_data TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_test ON events(test_id);
CREATE INDEX IF NOT EXISTS idx_events_test_event ON events(test_id, event_type);

CREATE TABLE IF NOT EXISTS daily_results (
    test_id INTEGER NOT NULL,
    variant_id TEXT NOT NULL,
    date TEXT NOT NULL,
    views INTEGER NOT NULL DEFAULT 0,
    conversions INTEGER NOT NULL DEFAULT 0,
    bounces INTEGER NOT NULL DEFAULT 0,
    time_on_form INTEGER NOT NULL DEFAULT 0,
    field_interactions INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (test_id, variant_id, date)
);

CREATE TABLE IF NOT EXISTS assignments (
    test_id INTEGER NOT NULL,
    visitor_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    expires_at INTEGER NOT NULL,
    PRIMARY KEY (test_id, visitor_id)
);
`

const testColumns = `id, form_id, name, description, status, test_type, goal_type, traffic_allocation,
	minimum_sample, confidence_level, winner_variant_id, start_date, end_date, auto_end_on_winner,
	created_at, updated_at`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers so SQLite never reports SQLITE_BUSY,
	// and keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateTest(ctx context.Context, test *Test) (*Test, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO tests (form_id, name, description, status, test_type, goal_type, traffic_allocation,
		 minimum_sample, confidence_level, auto_end_on_winner, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		test.FormID, test.Name, test.Description, string(StatusDraft), string(test.TestType), test.GoalType,
		string(test.TrafficAllocation), test.MinimumSample, test.ConfidenceLevel, test.AutoEndOnWinner, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert test: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	created := *test
	created.ID = id
	created.Status = StatusDraft
	created.WinnerVariantID = nil
	created.StartDate = nil
	created.EndDate = nil
	created.CreatedAt = time.Unix(now, 0)
	created.UpdatedAt = time.Unix(now, 0)
	created.Variants = make([]Variant, len(test.Variants))
	for i, v := range test.Variants {
		v.TestID = id
		v.Position = i
		created.Variants[i] = v
	}

	if err := insertVariants(ctx, tx, created.Variants); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit test: %w", err)
	}
	return &created, nil
}

func insertVariants(ctx context.Context, tx *sql.Tx, variants []Variant) error {
	for _, v := range variants {
		changesJSON, err := json.Marshal(v.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes for variant %s: %w", v.ID, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO variants (test_id, id, name, changes, weight, is_control, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			v.TestID, v.ID, v.Name, string(changesJSON), v.Weight, v.IsControl, v.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to insert variant %s: %w", v.ID, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTest(row rowScanner) (*Test, error) {
	var test Test
	var status, testType, allocation string
	var winner sql.NullString
	var startDate, endDate sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&test.ID, &test.FormID, &test.Name, &test.Description, &status, &testType, &test.GoalType,
		&allocation, &test.MinimumSample, &test.ConfidenceLevel, &winner, &startDate, &endDate,
		&test.AutoEndOnWinner, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	test.Status = TestStatus(status)
	test.TestType = TestType(testType)
	test.TrafficAllocation = Allocation(allocation)
	if winner.Valid {
		w := winner.String
		test.WinnerVariantID = &w
	}
	test.StartDate = nullableTime(startDate)
	test.EndDate = nullableTime(endDate)
	test.CreatedAt = time.Unix(createdAt, 0)
	test.UpdatedAt = time.Unix(updatedAt, 0)

	return &test, nil
}

func (s *SQLiteStore) GetTest(ctx context.Context, id int64) (*Test, error) {
	test, err := scanTest(s.db.QueryRowContext(ctx,
		`SELECT `+testColumns+` FROM tests WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	if test.Variants, err = s.getVariants(ctx, id); err != nil {
		return nil, err
	}
	return test, nil
}

func (s *SQLiteStore) getVariants(ctx context.Context, testID int64) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_id, id, name, changes, weight, is_control, position
		 FROM variants WHERE test_id = ? ORDER BY position`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get variants: %w", err)
	}
	defer rows.Close()

	var variants []Variant
	for rows.Next() {
		var v Variant
		var changesJSON string
		if err := rows.Scan(&v.TestID, &v.ID, &v.Name, &changesJSON, &v.Weight, &v.IsControl, &v.Position); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		if err := json.Unmarshal([]byte(changesJSON), &v.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes for variant %s: %w", v.ID, err)
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (s *SQLiteStore) ListTests(ctx context.Context, filter TestFilter) ([]*Test, error) {
	var where []string
	var args []any
	if filter.FormID != "" {
		where = append(where, "form_id = ?")
		args = append(args, filter.FormID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + testColumns + ` FROM tests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}

	var tests []*Test
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}
		tests = append(tests, test)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}

	// Variants are loaded after the cursor is closed: the pool holds a
	// single connection.
	for _, test := range tests {
		if test.Variants, err = s.getVariants(ctx, test.ID); err != nil {
			return nil, err
		}
	}
	return tests, nil
}

func (s *SQLiteStore) UpdateTest(ctx context.Context, test *Test) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE tests SET name = ?, description = ?, test_type = ?, goal_type = ?, traffic_allocation = ?,
		 minimum_sample = ?, confidence_level = ?, auto_end_on_winner = ?, updated_at = ?
		 WHERE id = ? AND status != ?`,
		test.Name, test.Description, string(test.TestType), test.GoalType, string(test.TrafficAllocation),
		test.MinimumSample, test.ConfidenceLevel, test.AutoEndOnWinner, time.Now().Unix(),
		test.ID, string(StatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update test: %w", err)
	}
	if ok, err := affected(result); err != nil || !ok {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM variants WHERE test_id = ?`, test.ID); err != nil {
		return false, fmt.Errorf("failed to delete variants: %w", err)
	}
	variants := make([]Variant, len(test.Variants))
	for i, v := range test.Variants {
		v.TestID = test.ID
		v.Position = i
		variants[i] = v
	}
	if err := insertVariants(ctx, tx, variants); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit test update: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) Activate(ctx context.Context, id int64, from TestStatus, now time.Time) ([]int64, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var formID, status string
	err = tx.QueryRowContext(ctx, `SELECT form_id, status FROM tests WHERE id = ?`, id).Scan(&formID, &status)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get test: %w", err)
	}
	if TestStatus(status) != from {
		return nil, false, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM tests WHERE form_id = ? AND status = ? AND id != ?`,
		formID, string(StatusRunning), id,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to find running tests: %w", err)
	}
	var paused []int64
	for rows.Next() {
		var other int64
		if err := rows.Scan(&other); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("failed to scan test id: %w", err)
		}
		paused = append(paused, other)
	}
	rows.Close()

	ts := now.Unix()
	if len(paused) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE tests SET status = ?, updated_at = ? WHERE form_id = ? AND status = ? AND id != ?`,
			string(StatusPaused), ts, formID, string(StatusRunning), id,
		)
		if err != nil {
			return nil, false, fmt.Errorf("failed to pause running tests: %w", err)
		}
	}

	query := `UPDATE tests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{string(StatusRunning), ts, id, string(from)}
	if from == StatusDraft {
		query = `UPDATE tests SET status = ?, updated_at = ?, start_date = ? WHERE id = ? AND status = ?`
		args = []any{string(StatusRunning), ts, ts, id, string(from)}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, false, fmt.Errorf("failed to activate test: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit activation: %w", err)
	}
	return paused, true, nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, from, to TestStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().Unix(), id, string(from),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update test status: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStore) Complete(ctx context.Context, id int64, winnerVariantID *string, now time.Time) (bool, error) {
	var winner sql.NullString
	if winnerVariantID != nil {
		winner = sql.NullString{String: *winnerVariantID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tests SET status = ?, winner_variant_id = ?, end_date = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusCompleted), winner, now.Unix(), now.Unix(),
		id, string(StatusRunning), string(StatusPaused),
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete test: %w", err)
	}
	return affected(result)
}

func (s *SQLiteStore) DeleteTest(ctx context.Context, id int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id = ? AND status != ?`, id, string(StatusRunning))
	if err != nil {
		return false, fmt.Errorf("failed to delete test: %w", err)
	}
	if ok, err := affected(result); err != nil || !ok {
		return false, err
	}

	for _, table := range []string{"variants", "daily_results", "events", "assignments"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE test_id = ?`, id); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return true, nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO events (test_id, variant_id, visitor_id, event_type, event_data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.TestID, event.VariantID, event.VisitorID, string(event.EventType),
		nullableString(event.EventData), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	if id, err := result.LastInsertId(); err == nil {
		event.ID = id
	}
	event.CreatedAt = time.Unix(createdAt.Unix(), 0)
	return nil
}

func counterColumn(c Counter) (string, error) {
	switch c {
	case CounterViews, CounterConversions, CounterBounces, CounterTimeOnForm, CounterFieldInteractions:
		return string(c), nil
	}
	return "", fmt.Errorf("unknown counter %q", c)
}

func (s *SQLiteStore) UpsertIncrement(ctx context.Context, testID int64, variantID, date string, counter Counter, delta int64) error {
	col, err := counterColumn(counter)
	if err != nil {
		return err
	}

	// The increment happens inside SQLite so concurrent callers never lose updates.
	query := fmt.Sprintf(
		`INSERT INTO daily_results (test_id, variant_id, date, %[1]s) VALUES (?, ?, ?, ?)
		 ON CONFLICT(test_id, variant_id, date) DO UPDATE SET %[1]s = %[1]s + excluded.%[1]s`, col)
	if _, err := s.db.ExecContext(ctx, query, testID, variantID, date, delta); err != nil {
		return fmt.Errorf("failed to increment %s: %w", col, err)
	}
	return nil
}

func (s *SQLiteStore) SumRollups(ctx context.Context, testID int64, variantID string) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(views), 0), COALESCE(SUM(conversions), 0), COALESCE(SUM(bounces), 0),
		        COALESCE(SUM(time_on_form), 0), COALESCE(SUM(field_interactions), 0)
		 FROM daily_results WHERE test_id = ? AND variant_id = ?`, testID, variantID,
	).Scan(&t.Views, &t.Conversions, &t.Bounces, &t.TimeOnForm, &t.FieldInteractions)
	if err != nil {
		return Totals{}, fmt.Errorf("failed to sum rollups: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) SumRollupsByVariant(ctx context.Context, testID int64) (map[string]Totals, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT variant_id, SUM(views), SUM(conversions), SUM(bounces), SUM(time_on_form), SUM(field_interactions)
		 FROM daily_results WHERE test_id = ? GROUP BY variant_id`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum rollups: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]Totals)
	for rows.Next() {
		var id string
		var t Totals
		if err := rows.Scan(&id, &t.Views, &t.Conversions, &t.Bounces, &t.TimeOnForm, &t.FieldInteractions); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		totals[id] = t
	}
	return totals, rows.Err()
}

func (s *SQLiteStore) DailyResults(ctx context.Context, testID int64) ([]DailyResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT test_id, variant_id, date, views, conversions, bounces, time_on_form, field_interactions
		 FROM daily_results WHERE test_id = ? ORDER BY date, variant_id`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily results: %w", err)
	}
	defer rows.Close()

	var results []DailyResult
	for rows.Next() {
		var d DailyResult
		if err := rows.Scan(&d.TestID, &d.VariantID, &d.Date, &d.Views, &d.Conversions, &d.Bounces,
			&d.TimeOnForm, &d.FieldInteractions); err != nil {
			return nil, fmt.Errorf("failed to scan daily result: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *SQLiteStore) GetEvents(ctx context.Context, testID int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, variant_id, visitor_id, event_type, event_data, created_at
		 FROM events WHERE test_id = ? ORDER BY created_at DESC, id DESC`,
		testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var eventType string
		var data sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TestID, &e.VariantID, &e.VisitorID, &eventType, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventType = EventType(eventType)
		if data.Valid {
			e.EventData = json.RawMessage(data.String)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}

	return events, rows.Err()
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, testID int64, visitorID string, now time.Time) (*Assignment, error) {
	a, err := getAssignment(ctx, s.db, testID, visitorID)
	if err != nil {
		return nil, err
	}
	if !a.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	return a, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getAssignment(ctx context.Context, q queryRower, testID int64, visitorID string) (*Assignment, error) {
	a := Assignment{TestID: testID, VisitorID: visitorID}
	var createdAt, expiresAt int64
	err := q.QueryRowContext(ctx,
		`SELECT variant_id, created_at, expires_at FROM assignments WHERE test_id = ? AND visitor_id = ?`,
		testID, visitorID,
	).Scan(&a.VariantID, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0)
	a.ExpiresAt = time.Unix(expiresAt, 0)
	return &a, nil
}

func (s *SQLiteStore) SaveAssignment(ctx context.Context, a Assignment) (*Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// First write wins; an existing binding is only replaced once expired.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO assignments (test_id, visitor_id, variant_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(test_id, visitor_id) DO UPDATE SET
		   variant_id = excluded.variant_id,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at
		 WHERE assignments.expires_at <= excluded.created_at`,
		a.TestID, a.VisitorID, a.VariantID, a.CreatedAt.Unix(), a.ExpiresAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to save assignment: %w", err)
	}

	stored, err := getAssignment(ctx, tx, a.TestID, a.VisitorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return stored, nil
}

func (s *SQLiteStore) ReplaceAssignment(ctx context.Context, a Assignment, staleVariantID string) (*Assignment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE assignments SET variant_id = ?, created_at = ?, expires_at = ?
		 WHERE test_id = ? AND visitor_id = ? AND variant_id = ?`,
		a.VariantID, a.CreatedAt.Unix(), a.ExpiresAt.Unix(), a.TestID, a.VisitorID, staleVariantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to replace assignment: %w", err)
	}

	stored, err := getAssignment(ctx, tx, a.TestID, a.VisitorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignment: %w", err)
	}
	return stored, nil
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
