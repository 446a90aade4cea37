package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Draft statuses.
const (
	DraftStatusWriting   = "writing"
	DraftStatusCompleted = "completed"
	DraftStatusAccepted  = "accepted"
	DraftStatusRejected  = "rejected"
	DraftStatusFailed    = "failed"
)

// DraftRecord is one row of the drafts table.
type DraftRecord struct {
	ID        string    `json:"id"`
	QueryID   string    `json:"query_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	Feedback  *string   `json:"feedback,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateDraft inserts a draft in the writing state.
func (s *Store) CreateDraft(ctx context.Context, queryID, userID string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO drafts (query_id, user_id, content, status)
VALUES ($1,$2,'',$3)
RETURNING id::text`, queryID, userID, DraftStatusWriting).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert draft: %w", err)
	}
	return id, nil
}

// GetDraft returns the draft owned by userID.
func (s *Store) GetDraft(ctx context.Context, id, userID string) (DraftRecord, error) {
	var (
		d        DraftRecord
		feedback sql.NullString
	)
	if !validID(id) {
		return DraftRecord{}, ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, query_id::text, user_id, content, status, feedback, created_at, updated_at
FROM drafts
WHERE id = $1 AND user_id = $2`, id, userID)
	if err := row.Scan(&d.ID, &d.QueryID, &d.UserID, &d.Content, &d.Status, &feedback, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DraftRecord{}, ErrNotFound
		}
		return DraftRecord{}, err
	}
	if feedback.Valid {
		d.Feedback = &feedback.String
	}
	return d, nil
}

// SaveDraftContent stores generated content and marks the draft completed.
func (s *Store) SaveDraftContent(ctx context.Context, id, content string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE drafts SET content=$2, status=$3, updated_at=NOW() WHERE id=$1`, id, content, DraftStatusCompleted)
	return expectOne(res, err)
}

// SetDraftStatus moves a draft to status; feedback is kept only when non-nil.
func (s *Store) SetDraftStatus(ctx context.Context, id, status string, feedback *string) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE drafts
SET status=$2, feedback=COALESCE($3, feedback), updated_at=NOW()
WHERE id=$1`, id, status, feedback)
	return expectOne(res, err)
}
