package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/vizier/internal/stage"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
)

var _ tracker.Repository = (*Store)(nil)

// CreateProcess inserts a tracked process together with its seed transition.
func (s *Store) CreateProcess(ctx context.Context, p tracker.Process) error {
	if len(p.History) == 0 {
		return errors.New("process history is empty")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO tracked_processes (id, kind, current_stage, terminal, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)`,
		p.ID, string(p.Kind), string(p.CurrentStage), p.Terminal, p.CreatedAt); err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	for i, tr := range p.History {
		if err := insertTransition(ctx, tx, p.ID, i, tr); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// AppendTransition writes one history row and moves the current stage in a
// single transaction. The update is guarded by the expected sequence so a
// stale writer cannot skip or overwrite history.
func (s *Store) AppendTransition(ctx context.Context, processID string, seq int, tr tracker.Transition, terminal bool) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertTransition(ctx, tx, processID, seq, tr); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
UPDATE tracked_processes
SET current_stage = $2, terminal = $3, updated_at = $4
WHERE id = $1 AND terminal = FALSE`,
		processID, string(tr.Stage), terminal, tr.Timestamp)
	if err := expectOne(res, err); err != nil {
		return fmt.Errorf("update process %s: %w", processID, err)
	}
	return tx.Commit()
}

func insertTransition(ctx context.Context, tx *sql.Tx, processID string, seq int, tr tracker.Transition) error {
	payload, err := marshalJSON(tr.Payload)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO process_transitions (process_id, seq, stage, payload, occurred_at)
VALUES ($1,$2,$3,$4,$5)`,
		processID, seq, string(tr.Stage), payload, tr.Timestamp); err != nil {
		return fmt.Errorf("insert transition %d: %w", seq, err)
	}
	return nil
}

// LoadProcess reads a process and its full history. The bool reports whether it exists.
func (s *Store) LoadProcess(ctx context.Context, processID string) (tracker.Process, bool, error) {
	var (
		p    tracker.Process
		kind string
		stg  string
	)
	if !validID(processID) {
		return tracker.Process{}, false, nil
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, kind, current_stage, terminal, created_at
FROM tracked_processes
WHERE id = $1`, processID)
	if err := row.Scan(&p.ID, &kind, &stg, &p.Terminal, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tracker.Process{}, false, nil
		}
		return tracker.Process{}, false, err
	}
	p.Kind = stage.Kind(kind)
	p.CurrentStage = stage.Stage(stg)

	rows, err := s.DB.QueryContext(ctx, `
SELECT stage, payload, occurred_at
FROM process_transitions
WHERE process_id = $1
ORDER BY seq ASC`, processID)
	if err != nil {
		return tracker.Process{}, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tr      tracker.Transition
			st      string
			payload []byte
		)
		if err := rows.Scan(&st, &payload, &tr.Timestamp); err != nil {
			return tracker.Process{}, false, err
		}
		tr.Stage = stage.Stage(st)
		tr.Payload = map[string]interface{}{}
		if err := unmarshalJSON(payload, &tr.Payload); err != nil {
			return tracker.Process{}, false, err
		}
		if tr.Payload == nil {
			tr.Payload = map[string]interface{}{}
		}
		p.History = append(p.History, tr)
	}
	if err := rows.Err(); err != nil {
		return tracker.Process{}, false, err
	}
	return p, true, nil
}
