package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"conclave/internal/engine"
)

const runColumns = `id, protocol_id, question, roster, rounds, tools_enabled, status,
	phase_results, final_text, error, cost, started_at, completed_at`

// SaveRun upserts the full run record. The coordinator calls this on every
// status change, so the stored row always reflects the latest snapshot.
func (s *Store) SaveRun(r *engine.Run) error {
	rosterJSON, err := json.Marshal(r.Roster)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}
	resultsJSON, err := json.Marshal(r.PhaseResults)
	if err != nil {
		return fmt.Errorf("marshal phase results: %w", err)
	}
	costJSON, err := json.Marshal(r.Cost)
	if err != nil {
		return fmt.Errorf("marshal cost: %w", err)
	}

	var completedAt any
	if !r.CompletedAt.IsZero() {
		completedAt = r.CompletedAt
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (id, protocol_id, question, roster, rounds, tools_enabled, status,
			phase_results, final_text, error, cost, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			phase_results = excluded.phase_results,
			final_text = excluded.final_text,
			error = excluded.error,
			cost = excluded.cost,
			completed_at = excluded.completed_at`,
		r.ID, r.ProtocolID, r.Question, string(rosterJSON), r.Rounds, r.ToolsEnabled, string(r.Status),
		string(resultsJSON), r.FinalText, r.Error, string(costJSON), r.StartedAt, completedAt)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*engine.Run, error) {
	r := &engine.Run{}
	var status string
	var rosterJSON, resultsJSON, costJSON, finalText, errText *string
	var completedAt *time.Time
	err := scanner.Scan(&r.ID, &r.ProtocolID, &r.Question, &rosterJSON, &r.Rounds, &r.ToolsEnabled,
		&status, &resultsJSON, &finalText, &errText, &costJSON, &r.StartedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	r.Status = engine.Status(status)
	if completedAt != nil {
		r.CompletedAt = *completedAt
	}
	if finalText != nil {
		r.FinalText = *finalText
	}
	if errText != nil {
		r.Error = *errText
	}
	if rosterJSON != nil {
		if err := json.Unmarshal([]byte(*rosterJSON), &r.Roster); err != nil {
			return nil, fmt.Errorf("unmarshal roster: %w", err)
		}
	}
	if resultsJSON != nil && *resultsJSON != "" {
		if err := json.Unmarshal([]byte(*resultsJSON), &r.PhaseResults); err != nil {
			return nil, fmt.Errorf("unmarshal phase results: %w", err)
		}
	}
	if costJSON != nil && *costJSON != "" {
		if err := json.Unmarshal([]byte(*costJSON), &r.Cost); err != nil {
			return nil, fmt.Errorf("unmarshal cost: %w", err)
		}
	}
	return r, nil
}

func (s *Store) GetRun(id string) (*engine.Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(limit int) ([]engine.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []engine.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
