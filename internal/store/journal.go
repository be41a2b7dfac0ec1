package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/roach88/remsync/internal/errors"
)

// Cycle is one journaled reconciliation cycle.
type Cycle struct {
	ID             string    `json:"id"`
	Seq            int64     `json:"seq"`
	JobID          string    `json:"jobId"`
	JobNumber      string    `json:"jobNumber"`
	Trigger        string    `json:"trigger"`
	Value          string    `json:"value"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	Validation     string    `json:"validation,omitempty"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	ReminderID     string    `json:"reminderId,omitempty"`
	ReminderNumber string    `json:"reminderNumber,omitempty"`
	DueDate        string    `json:"dueDate,omitempty"`
	Suppressed     bool      `json:"suppressed"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// Observation kinds.
const (
	ObservedJob       = "job_observed"
	ObservedField     = "field_changed"
	ObservedNavigated = "navigated"
	ObservedLeft      = "left"
)

// Observation is one event the engine received.
type Observation struct {
	Seq       int64     `json:"seq"`
	JobID     string    `json:"jobId"`
	Kind      string    `json:"kind"`
	JobNumber string    `json:"jobNumber,omitempty"`
	Value     string    `json:"value,omitempty"`
	At        time.Time `json:"at"`
}

const timeLayout = time.RFC3339Nano

// WriteCycle appends a cycle. Writing the same cycle ID twice is a no-op.
func (s *Store) WriteCycle(ctx context.Context, c Cycle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles
		(id, seq, job_id, job_number, trigger, value, action, outcome, validation,
		 error_code, error_message, reminder_id, reminder_number, due_date, suppressed,
		 started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		c.ID, c.Seq, c.JobID, c.JobNumber, c.Trigger, c.Value, c.Action, c.Outcome, c.Validation,
		c.ErrorCode, c.ErrorMessage, c.ReminderID, c.ReminderNumber, c.DueDate, c.Suppressed,
		c.StartedAt.UTC().Format(timeLayout), c.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return errors.Wrapf(err, "write cycle %s", c.ID)
	}
	return nil
}

// WriteObservation appends an observation. Seq must be unique.
func (s *Store) WriteObservation(ctx context.Context, o Observation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (seq, job_id, kind, job_number, value, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.Seq, o.JobID, o.Kind, o.JobNumber, o.Value, o.At.UTC().Format(timeLayout))
	if err != nil {
		return errors.Wrapf(err, "write observation %d", o.Seq)
	}
	return nil
}

// ReadCycles returns cycles for jobID, or for every job when jobID is
// empty, newest first. limit <= 0 means no limit.
// Returns an empty slice, not nil, when there are none.
func (s *Store) ReadCycles(ctx context.Context, jobID string, limit int) ([]Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, job_id, job_number, trigger, value, action, outcome, validation,
		       error_code, error_message, reminder_id, reminder_number, due_date, suppressed,
		       started_at, finished_at
		FROM cycles
		WHERE ? = '' OR job_id = ?
		ORDER BY seq DESC, id COLLATE BINARY ASC
		LIMIT ?
	`, jobID, jobID, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "query cycles")
	}
	defer rows.Close()

	cycles := []Cycle{}
	for rows.Next() {
		c, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		cycles = append(cycles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate cycles")
	}
	return cycles, nil
}

// ReadObservations returns observations for jobID (or all), oldest first.
func (s *Store) ReadObservations(ctx context.Context, jobID string, limit int) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, job_id, kind, job_number, value, at
		FROM observations
		WHERE ? = '' OR job_id = ?
		ORDER BY seq ASC
		LIMIT ?
	`, jobID, jobID, sqlLimit(limit))
	if err != nil {
		return nil, errors.Wrap(err, "query observations")
	}
	defer rows.Close()

	out := []Observation{}
	for rows.Next() {
		var o Observation
		var at string
		if err := rows.Scan(&o.Seq, &o.JobID, &o.Kind, &o.JobNumber, &o.Value, &at); err != nil {
			return nil, errors.Wrap(err, "scan observation")
		}
		if o.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, errors.Wrapf(err, "parse observation %d time", o.Seq)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate observations")
	}
	return out, nil
}

// CountCycles returns the number of cycles recorded for jobID, grouped
// by outcome.
func (s *Store) CountCycles(ctx context.Context, jobID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*) FROM cycles
		WHERE ? = '' OR job_id = ?
		GROUP BY outcome
	`, jobID, jobID)
	if err != nil {
		return nil, errors.Wrap(err, "count cycles")
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

func scanCycle(rows *sql.Rows) (Cycle, error) {
	var c Cycle
	var started, finished string
	err := rows.Scan(
		&c.ID, &c.Seq, &c.JobID, &c.JobNumber, &c.Trigger, &c.Value, &c.Action, &c.Outcome, &c.Validation,
		&c.ErrorCode, &c.ErrorMessage, &c.ReminderID, &c.ReminderNumber, &c.DueDate, &c.Suppressed,
		&started, &finished,
	)
	if err != nil {
		return Cycle{}, errors.Wrap(err, "scan cycle")
	}
	if c.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Cycle{}, errors.Wrapf(err, "parse cycle %s start", c.ID)
	}
	if c.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Cycle{}, errors.Wrapf(err, "parse cycle %s finish", c.ID)
	}
	return c, nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
