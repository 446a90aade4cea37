package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/vizier/internal/sources"
)

// Query statuses.
const (
	QueryStatusPending    = "pending"
	QueryStatusRefining   = "refining"
	QueryStatusCollecting = "collecting"
	QueryStatusReview     = "review"
	QueryStatusWriting    = "writing"
	QueryStatusDraftReady = "draft_ready"
	QueryStatusCompleted  = "completed"
	QueryStatusFailed     = "failed"
)

// Routing is the provider decision made before collection.
type Routing struct {
	UseWeb     bool   `json:"use_web"`
	UseTwitter bool   `json:"use_twitter"`
	WebQuery   string `json:"web_query,omitempty"`
	// WebQueries are the web phrasings to search. Routing puts WebQuery first.
	WebQueries   []string `json:"web_queries,omitempty"`
	TwitterQuery string   `json:"twitter_query,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// QueryRecord is one row of the queries table.
type QueryRecord struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	QueryText      string           `json:"query_text"`
	RefinedQuery   *string          `json:"refined_query,omitempty"`
	Status         string           `json:"status"`
	WebSources     []sources.Source `json:"web_sources"`
	TwitterSources []sources.Source `json:"twitter_sources"`
	FinalSources   []sources.Source `json:"final_sources"`
	Routing        *Routing         `json:"routing,omitempty"`
	Error          *string          `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// CreateQuery inserts a pending query and returns its id.
func (s *Store) CreateQuery(ctx context.Context, userID, text string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO queries (user_id, query_text, status)
VALUES ($1,$2,$3)
RETURNING id::text`, userID, text, QueryStatusPending).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert query: %w", err)
	}
	return id, nil
}

// GetQuery returns the query owned by userID.
func (s *Store) GetQuery(ctx context.Context, id, userID string) (QueryRecord, error) {
	var (
		q                      QueryRecord
		refined, errText       sql.NullString
		web, twitter, final, r []byte
	)
	if !validID(id) {
		return QueryRecord{}, ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx, `
SELECT id::text, user_id, query_text, refined_query, status, web_sources, twitter_sources, final_sources, routing, error, created_at, updated_at
FROM queries
WHERE id = $1 AND user_id = $2`, id, userID)
	if err := row.Scan(&q.ID, &q.UserID, &q.QueryText, &refined, &q.Status, &web, &twitter, &final, &r, &errText, &q.CreatedAt, &q.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return QueryRecord{}, ErrNotFound
		}
		return QueryRecord{}, err
	}
	if refined.Valid {
		q.RefinedQuery = &refined.String
	}
	if errText.Valid {
		q.Error = &errText.String
	}
	if err := unmarshalJSON(web, &q.WebSources); err != nil {
		return QueryRecord{}, err
	}
	if err := unmarshalJSON(twitter, &q.TwitterSources); err != nil {
		return QueryRecord{}, err
	}
	if err := unmarshalJSON(final, &q.FinalSources); err != nil {
		return QueryRecord{}, err
	}
	if len(r) > 0 && string(r) != "null" {
		q.Routing = &Routing{}
		if err := unmarshalJSON(r, q.Routing); err != nil {
			return QueryRecord{}, err
		}
	}
	return q, nil
}

// SetQueryStatus moves a query to status and clears any previous error.
func (s *Store) SetQueryStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE queries SET status=$2, error=NULL, updated_at=NOW() WHERE id=$1`, id, status)
	return expectOne(res, err)
}

// FailQuery marks a query failed with the error text.
func (s *Store) FailQuery(ctx context.Context, id string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE queries SET status=$2, error=$3, updated_at=NOW() WHERE id=$1`, id, QueryStatusFailed, msg)
	return expectOne(res, err)
}

// UpdateRefinedQuery stores the refined text.
func (s *Store) UpdateRefinedQuery(ctx context.Context, id, refined string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE queries SET refined_query=$2, updated_at=NOW() WHERE id=$1`, id, refined)
	return expectOne(res, err)
}

// SaveRouting stores the routing decision.
func (s *Store) SaveRouting(ctx context.Context, id string, r Routing) error {
	b, err := marshalJSON(r)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE queries SET routing=$2, updated_at=NOW() WHERE id=$1`, id, b)
	return expectOne(res, err)
}

// SaveSources stores collected web and twitter sources and moves the query to review.
func (s *Store) SaveSources(ctx context.Context, id string, web, twitter []sources.Source) error {
	wb, err := marshalJSON(nonNil(web))
	if err != nil {
		return err
	}
	tb, err := marshalJSON(nonNil(twitter))
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
UPDATE queries
SET web_sources=$2, twitter_sources=$3, status=$4, error=NULL, updated_at=NOW()
WHERE id=$1`, id, wb, tb, QueryStatusReview)
	return expectOne(res, err)
}

// SaveFinalSources stores the user-approved sources.
func (s *Store) SaveFinalSources(ctx context.Context, id string, final []sources.Source) error {
	b, err := marshalJSON(nonNil(final))
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE queries SET final_sources=$2, updated_at=NOW() WHERE id=$1`, id, b)
	return expectOne(res, err)
}

func nonNil(in []sources.Source) []sources.Source {
	if in == nil {
		return []sources.Source{}
	}
	return in
}
