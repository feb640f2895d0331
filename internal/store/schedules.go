package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ScheduledRun is a recurring or one-shot protocol submission: when due,
// the scheduler turns it into a normal run.
type ScheduledRun struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ProtocolID string     `json:"protocol_id"`
	Question   string     `json:"question"`
	Workers    []string   `json:"workers,omitempty"`
	Rounds     int        `json:"rounds,omitempty"`
	Schedule   string     `json:"schedule"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `id, name, protocol_id, question, workers, rounds, schedule, status,
	next_run_at, last_run_at, last_status, last_error, created_at`

func scanScheduledRun(scanner interface {
	Scan(dest ...any) error
}) (*ScheduledRun, error) {
	sr := &ScheduledRun{}
	var workersJSON, lastStatus, lastError *string
	err := scanner.Scan(&sr.ID, &sr.Name, &sr.ProtocolID, &sr.Question, &workersJSON, &sr.Rounds,
		&sr.Schedule, &sr.Status, &sr.NextRunAt, &sr.LastRunAt, &lastStatus, &lastError, &sr.CreatedAt)
	if err != nil {
		return nil, err
	}
	if workersJSON != nil && *workersJSON != "" {
		if err := json.Unmarshal([]byte(*workersJSON), &sr.Workers); err != nil {
			return nil, fmt.Errorf("unmarshal workers: %w", err)
		}
	}
	if lastStatus != nil {
		sr.LastStatus = *lastStatus
	}
	if lastError != nil {
		sr.LastError = *lastError
	}
	return sr, nil
}

func (s *Store) SaveScheduledRun(sr *ScheduledRun) error {
	workersJSON, err := json.Marshal(sr.Workers)
	if err != nil {
		return fmt.Errorf("marshal workers: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO scheduled_runs (id, name, protocol_id, question, workers, rounds, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			protocol_id = excluded.protocol_id,
			question = excluded.question,
			workers = excluded.workers,
			rounds = excluded.rounds,
			schedule = excluded.schedule,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sr.ID, sr.Name, sr.ProtocolID, sr.Question, string(workersJSON), sr.Rounds, sr.Schedule, sr.Status, sr.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled run: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledRun(id string) (*ScheduledRun, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM scheduled_runs WHERE id = ?`, id)
	sr, err := scanScheduledRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled run: %w", err)
	}
	return sr, nil
}

func (s *Store) ListScheduledRuns() ([]ScheduledRun, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM scheduled_runs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled runs: %w", err)
	}
	defer rows.Close()

	var out []ScheduledRun
	for rows.Next() {
		sr, err := scanScheduledRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		out = append(out, *sr)
	}
	return out, rows.Err()
}

// GetDueScheduledRuns returns active schedules whose next run time has
// passed, soonest first.
func (s *Store) GetDueScheduledRuns(now time.Time) ([]ScheduledRun, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM scheduled_runs
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due scheduled runs: %w", err)
	}
	defer rows.Close()

	var out []ScheduledRun
	for rows.Next() {
		sr, err := scanScheduledRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled run: %w", err)
		}
		out = append(out, *sr)
	}
	return out, rows.Err()
}

// UpdateScheduledRunFired records one firing: outcome, error text and the
// next due time. A nil nextRunAt retires a one-shot schedule.
func (s *Store) UpdateScheduledRunFired(id string, lastStatus, lastError string, nextRunAt *time.Time) error {
	status := "active"
	if nextRunAt == nil {
		status = "done"
	}
	_, err := s.db.Exec(`
		UPDATE scheduled_runs
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?, status = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, status, id)
	return err
}

func (s *Store) DeleteScheduledRun(id string) error {
	_, err := s.db.Exec(`DELETE FROM scheduled_runs WHERE id = ?`, id)
	return err
}
