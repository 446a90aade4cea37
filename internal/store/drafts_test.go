package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestCreateAndGetDraft(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO drafts (query_id, user_id, content, status)`)).
		WithArgs("0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "user-1", DraftStatusWriting).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("5e2d9c71-8a4b-4f3e-b6d0-7c1a9e3f5b28"))

	id, err := st.CreateDraft(context.Background(), "0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "user-1")
	if err != nil || id != "5e2d9c71-8a4b-4f3e-b6d0-7c1a9e3f5b28" {
		t.Fatalf("CreateDraft: id=%s err=%v", id, err)
	}

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta(`FROM drafts`)).
		WithArgs("5e2d9c71-8a4b-4f3e-b6d0-7c1a9e3f5b28", "user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "query_id", "user_id", "content", "status", "feedback", "created_at", "updated_at"}).
			AddRow("5e2d9c71-8a4b-4f3e-b6d0-7c1a9e3f5b28", "0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "user-1", "# Draft", DraftStatusRejected, "needs sources", now, now))

	d, err := st.GetDraft(context.Background(), "5e2d9c71-8a4b-4f3e-b6d0-7c1a9e3f5b28", "user-1")
	if err != nil {
		t.Fatalf("GetDraft: %v", err)
	}
	if d.Feedback == nil || *d.Feedback != "needs sources" || d.Status != DraftStatusRejected {
		t.Fatalf("unexpected draft %+v", d)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSetDraftStatusWithFeedback(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	fb := "too long"
	mock.ExpectExec(regexp.QuoteMeta(`SET status=$2, feedback=COALESCE($3, feedback)`)).
		WithArgs("d-1", DraftStatusRejected, fb).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SetDraftStatus(context.Background(), "d-1", DraftStatusRejected, &fb); err != nil {
		t.Fatalf("SetDraftStatus: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
