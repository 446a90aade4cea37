package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/mohammad-safakhou/vizier/internal/sources"
)

func TestCreateQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO queries (user_id, query_text, status)`)).
		WithArgs("user-1", "state of wasm runtimes", QueryStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("q-1"))

	id, err := st.CreateQuery(context.Background(), "user-1", "state of wasm runtimes")
	if err != nil {
		t.Fatalf("CreateQuery: %v", err)
	}
	if id != "q-1" {
		t.Fatalf("unexpected id %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetQueryDecodesJSONColumns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	now := time.Now().UTC()
	cols := []string{"id", "user_id", "query_text", "refined_query", "status", "web_sources", "twitter_sources", "final_sources", "routing", "error", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM queries`)).
		WithArgs("0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "user-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "user-1", "wasm", "wasm runtimes 2024", QueryStatusReview,
			[]byte(`[{"url":"https://a.dev","title":"A","content":"","relevance_score":0.8,"source_type":"web"}]`),
			[]byte(`[]`), []byte(`[]`),
			[]byte(`{"use_web":true,"use_twitter":false,"web_query":"wasm"}`),
			nil, now, now,
		))

	q, err := st.GetQuery(context.Background(), "0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "user-1")
	if err != nil {
		t.Fatalf("GetQuery: %v", err)
	}
	if q.RefinedQuery == nil || *q.RefinedQuery != "wasm runtimes 2024" {
		t.Fatalf("refined query not decoded: %+v", q.RefinedQuery)
	}
	if len(q.WebSources) != 1 || q.WebSources[0].SourceType != sources.TypeWeb {
		t.Fatalf("web sources not decoded: %+v", q.WebSources)
	}
	if q.Routing == nil || !q.Routing.UseWeb || q.Routing.UseTwitter {
		t.Fatalf("routing not decoded: %+v", q.Routing)
	}
	if q.Error != nil {
		t.Fatalf("unexpected error text %v", *q.Error)
	}
}

func TestGetQueryNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectQuery(regexp.QuoteMeta(`FROM queries`)).
		WithArgs("0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "someone-else").
		WillReturnError(sql.ErrNoRows)

	if _, err := st.GetQuery(context.Background(), "0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35", "someone-else"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveSourcesMovesToReview(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	web := []sources.Source{{URL: "https://a.dev", Title: "A", SourceType: sources.TypeWeb}}
	mock.ExpectExec(regexp.QuoteMeta(`SET web_sources=$2, twitter_sources=$3, status=$4`)).
		WithArgs("q-1", sqlmock.AnyArg(), []byte(`[]`), QueryStatusReview).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.SaveSources(context.Background(), "q-1", web, nil); err != nil {
		t.Fatalf("SaveSources: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFailQueryRecordsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE queries SET status=$2, error=$3`)).
		WithArgs("q-1", QueryStatusFailed, "llm: status 502").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.FailQuery(context.Background(), "q-1", errors.New("llm: status 502")); err != nil {
		t.Fatalf("FailQuery: %v", err)
	}
}

func TestUpdateRefinedQueryMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE queries SET refined_query=$2`)).
		WithArgs("gone", "x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := st.UpdateRefinedQuery(context.Background(), "gone", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMalformedIDsNeverReachPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := &Store{DB: db}
	ctx := context.Background()
	for _, id := range []string{"abc", "", "42", "0B6A8F52-3C1E-4D7A-9F0E-2A4C6E8B1D35", "0b6a8f52-3c1e-4d7a-9f0e-2a4c6e8b1d35' OR 1=1"} {
		if _, err := st.GetQuery(ctx, id, "user-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetQuery(%q): expected ErrNotFound, got %v", id, err)
		}
		if _, err := st.GetDraft(ctx, id, "user-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetDraft(%q): expected ErrNotFound, got %v", id, err)
		}
		if _, ok, err := st.LoadProcess(ctx, id); ok || err != nil {
			t.Fatalf("LoadProcess(%q): expected not found, ok=%v err=%v", id, ok, err)
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
