package store

import (
	"fmt"

	"conclave/internal/roster"
)

// SyncWorkers replaces the stored roster with the configured one. Called at
// startup so the API serves the same worker set the engine uses.
func (s *Store) SyncWorkers(ros roster.Roster) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin worker sync: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM workers`); err != nil {
		return fmt.Errorf("clear workers: %w", err)
	}
	for _, w := range ros {
		if _, err := tx.Exec(`
			INSERT INTO workers (key, name, role, tier) VALUES (?, ?, ?, ?)`,
			w.Key, w.Name, w.Role, w.Tier); err != nil {
			return fmt.Errorf("insert worker %s: %w", w.Key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListWorkers() (roster.Roster, error) {
	rows, err := s.db.Query(`SELECT key, name, role, tier FROM workers ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var ros roster.Roster
	for rows.Next() {
		var w roster.Worker
		var tier *string
		if err := rows.Scan(&w.Key, &w.Name, &w.Role, &tier); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if tier != nil {
			w.Tier = *tier
		}
		ros = append(ros, w)
	}
	return ros, rows.Err()
}
