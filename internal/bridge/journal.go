package bridge

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Journal limits.
const (
	// DefaultJournalRetention is how many cycles are kept when no retention
	// is configured.
	DefaultJournalRetention = 1000

	// MaxRecentCycles bounds a Recent query.
	MaxRecentCycles = 500
)

// SQLiteJournal records cycle reports in the poll_cycles table.
//
// Thread Safety:
//   - All methods are safe for concurrent use; database/sql serialises
//     access to the single SQLite connection.
type SQLiteJournal struct {
	db        *sql.DB
	retention int
}

// NewSQLiteJournal creates a journal on an open, migrated database.
// retention is the number of newest rows kept; zero keeps
// DefaultJournalRetention and a negative value disables pruning.
func NewSQLiteJournal(db *sql.DB, retention int) *SQLiteJournal {
	if retention == 0 {
		retention = DefaultJournalRetention
	}
	return &SQLiteJournal{db: db, retention: retention}
}

// Record implements Journal. It inserts the report and prunes rows beyond
// the retention limit in one transaction.
func (j *SQLiteJournal) Record(ctx context.Context, report CycleReport) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	var errText sql.NullString
	if report.Error != "" {
		errText = sql.NullString{String: report.Error, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO poll_cycles
			(cycle_id, started_at, finished_at, outcome, topics, failed, consecutive, delay_ms, reauthed, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ID,
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(report.Outcome),
		report.Topics,
		report.Failed,
		report.ConsecutiveFailures,
		report.DelayMS,
		report.Reauthenticated,
		errText,
	)
	if err != nil {
		return fmt.Errorf("recording cycle %s: %w", report.ID, err)
	}

	if j.retention > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM poll_cycles WHERE seq <= (
				SELECT seq FROM poll_cycles ORDER BY seq DESC LIMIT 1 OFFSET ?
			)`, j.retention)
		if err != nil {
			return fmt.Errorf("pruning cycles: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cycle %s: %w", report.ID, err)
	}
	return nil
}

// Recent returns up to limit cycles, newest first. limit is clamped to
// [1, MaxRecentCycles].
func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]CycleReport, error) {
	limit = max(1, min(limit, MaxRecentCycles))

	rows, err := j.db.QueryContext(ctx,
		`SELECT cycle_id, started_at, finished_at, outcome, topics, failed, consecutive, delay_ms, reauthed, error
		 FROM poll_cycles ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cycles: %w", err)
	}
	defer rows.Close()

	reports := make([]CycleReport, 0, limit)
	for rows.Next() {
		var (
			r                 CycleReport
			started, finished string
			outcome           string
			errText           sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &outcome, &r.Topics, &r.Failed,
			&r.ConsecutiveFailures, &r.DelayMS, &r.Reauthenticated, &errText); err != nil {
			return nil, fmt.Errorf("scanning cycle: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("cycle %s: started_at: %w", r.ID, err)
		}
		if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, fmt.Errorf("cycle %s: finished_at: %w", r.ID, err)
		}
		r.Outcome = Outcome(outcome)
		r.Error = errText.String
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cycles: %w", err)
	}
	return reports, nil
}
