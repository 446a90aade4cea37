package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vizier/internal/broadcast"
	"github.com/mohammad-safakhou/vizier/internal/llm"
	"github.com/mohammad-safakhou/vizier/internal/pipeline"
	"github.com/mohammad-safakhou/vizier/internal/runtime"
	"github.com/mohammad-safakhou/vizier/internal/sources"
	"github.com/mohammad-safakhou/vizier/internal/stage"
	"github.com/mohammad-safakhou/vizier/internal/store"
	"github.com/mohammad-safakhou/vizier/internal/tracker"
)

var testSecret = []byte("test-secret")

type fakeService struct {
	tr *tracker.Tracker

	mu      sync.Mutex
	queries map[string]store.QueryRecord
	drafts  map[string]store.DraftRecord

	refineErr  error
	collectErr error
	lastReview sources.Review
}

func (f *fakeService) query(userID, id string) (store.QueryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.queries[id]
	if !ok || q.UserID != userID {
		return store.QueryRecord{}, store.ErrNotFound
	}
	return q, nil
}

func (f *fakeService) draft(userID, id string) (store.DraftRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.drafts[id]
	if !ok || d.UserID != userID {
		return store.DraftRecord{}, store.ErrNotFound
	}
	return d, nil
}

func (f *fakeService) CreateQuery(ctx context.Context, userID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: query text is required", pipeline.ErrInvalid)
	}
	p, err := f.tr.Create(ctx, stage.KindQuery, "")
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.queries[p.ID] = store.QueryRecord{ID: p.ID, UserID: userID, QueryText: text, Status: store.QueryStatusPending}
	f.mu.Unlock()
	return p.ID, nil
}

func (f *fakeService) GetQuery(_ context.Context, userID, id string) (store.QueryRecord, error) {
	return f.query(userID, id)
}

func (f *fakeService) Refine(_ context.Context, userID, id string) (string, error) {
	q, err := f.query(userID, id)
	if err != nil {
		return "", err
	}
	if f.refineErr != nil {
		return "", f.refineErr
	}
	return "refined: " + q.QueryText, nil
}

func (f *fakeService) CollectSources(_ context.Context, userID, id string) error {
	if _, err := f.query(userID, id); err != nil {
		return err
	}
	return f.collectErr
}

func (f *fakeService) SubmitReview(_ context.Context, userID, id string, review sources.Review) ([]sources.Source, error) {
	if _, err := f.query(userID, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.lastReview = review
	f.mu.Unlock()
	if len(review.Included) == 0 {
		return nil, fmt.Errorf("%w: no sources left", pipeline.ErrInvalid)
	}
	out := make([]sources.Source, 0, len(review.Included))
	for _, u := range review.Included {
		out = append(out, sources.Source{URL: u, SourceType: sources.TypeWeb})
	}
	return out, nil
}

func (f *fakeService) QueryState(ctx context.Context, userID, id string) (tracker.State, error) {
	if _, err := f.query(userID, id); err != nil {
		return tracker.State{}, err
	}
	return f.tr.CurrentState(ctx, id)
}

func (f *fakeService) QueryHistory(ctx context.Context, userID, id string) ([]tracker.Transition, error) {
	if _, err := f.query(userID, id); err != nil {
		return nil, err
	}
	return f.tr.History(ctx, id)
}

func (f *fakeService) SubscribeQuery(ctx context.Context, userID, id string) (*broadcast.Subscription, error) {
	if _, err := f.query(userID, id); err != nil {
		return nil, err
	}
	return f.tr.Subscribe(ctx, id)
}

func (f *fakeService) GenerateDraft(ctx context.Context, userID, queryID string) (string, error) {
	if _, err := f.query(userID, queryID); err != nil {
		return "", err
	}
	p, err := f.tr.Create(ctx, stage.KindDraft, "")
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.drafts[p.ID] = store.DraftRecord{ID: p.ID, QueryID: queryID, UserID: userID, Status: store.DraftStatusWriting}
	f.mu.Unlock()
	return p.ID, nil
}

func (f *fakeService) GetDraft(_ context.Context, userID, id string) (store.DraftRecord, error) {
	return f.draft(userID, id)
}

func (f *fakeService) DraftState(ctx context.Context, userID, id string) (tracker.State, error) {
	if _, err := f.draft(userID, id); err != nil {
		return tracker.State{}, err
	}
	return f.tr.CurrentState(ctx, id)
}

func (f *fakeService) SubscribeDraft(ctx context.Context, userID, id string) (*broadcast.Subscription, error) {
	if _, err := f.draft(userID, id); err != nil {
		return nil, err
	}
	return f.tr.Subscribe(ctx, id)
}

func (f *fakeService) AcceptDraft(ctx context.Context, userID, id string) error {
	if _, err := f.draft(userID, id); err != nil {
		return err
	}
	_, err := f.tr.Advance(ctx, id, stage.DraftAccepted, nil)
	return err
}

func (f *fakeService) RejectDraft(ctx context.Context, userID, id, feedback string) error {
	if _, err := f.draft(userID, id); err != nil {
		return err
	}
	_, err := f.tr.Advance(ctx, id, stage.DraftRejected, map[string]interface{}{"feedback": feedback})
	return err
}

func newTestServer(t *testing.T, heartbeat time.Duration) (*Server, *fakeService) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	bc := broadcast.New(broadcast.Options{Logger: quiet})
	tr, err := tracker.New(tracker.Options{Broadcaster: bc, Logger: quiet})
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	svc := &fakeService{tr: tr, queries: map[string]store.QueryRecord{}, drafts: map[string]store.DraftRecord{}}
	s, err := New(Options{Service: svc, Secret: testSecret, Heartbeat: heartbeat, Logger: quiet})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, svc
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := runtime.SignJWT(user, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	return tok
}

func do(t *testing.T, s *Server, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, user))
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func createQuery(t *testing.T, s *Server, user string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/queries", `{"query":"solid state batteries"}`, user)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create query: %d %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	decode(t, rec, &out)
	if out["query_id"] == "" {
		t.Fatalf("missing query_id in %v", out)
	}
	return out["query_id"]
}

func TestAPIRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t, 0)
	rec := do(t, s, http.MethodGet, "/api/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
	var body HTTPError
	decode(t, rec, &body)
	if body.Error == "" {
		t.Fatalf("expected error message")
	}

	rec = do(t, s, http.MethodGet, "/api/me", "", "user-1")
	var me map[string]string
	decode(t, rec, &me)
	if rec.Code != http.StatusOK || me["user_id"] != "user-1" {
		t.Fatalf("unexpected /api/me: %d %v", rec.Code, me)
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, 0)
	rec := do(t, s, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	quiet := log.New(io.Discard, "", 0)
	down, err := New(Options{
		Service: &fakeService{},
		Secret:  testSecret,
		Logger:  quiet,
		Health:  func(context.Context) error { return errors.New("db down") },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec = do(t, down, http.MethodGet, "/healthz", "", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestCreateQueryStateAndHistory(t *testing.T) {
	s, _ := newTestServer(t, 0)
	id := createQuery(t, s, "user-1")

	rec := do(t, s, http.MethodGet, "/api/queries/"+id+"/state", "", "user-1")
	var st tracker.State
	decode(t, rec, &st)
	if rec.Code != http.StatusOK || st.CurrentStage != stage.QueryReceived || st.Terminal {
		t.Fatalf("unexpected state %d %+v", rec.Code, st)
	}

	rec = do(t, s, http.MethodGet, "/api/queries/"+id+"/history", "", "user-1")
	var hist struct {
		History []tracker.Transition `json:"history"`
	}
	decode(t, rec, &hist)
	if len(hist.History) != 1 || hist.History[0].Stage != stage.QueryReceived {
		t.Fatalf("unexpected history %+v", hist)
	}

	rec = do(t, s, http.MethodGet, "/api/queries/"+id+"/sources", "", "user-1")
	var srcs map[string][]sources.Source
	decode(t, rec, &srcs)
	if srcs["web_sources"] == nil || srcs["final_sources"] == nil {
		t.Fatalf("source lists should be empty arrays, got %s", rec.Body.String())
	}
}

func TestCreateQueryValidation(t *testing.T) {
	s, _ := newTestServer(t, 0)
	if rec := do(t, s, http.MethodPost, "/api/queries", `{"query":"   "}`, "user-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, "/api/queries", `{"query":`, "user-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body got %d", rec.Code)
	}
}

func TestQueryOwnership(t *testing.T) {
	s, _ := newTestServer(t, 0)
	id := createQuery(t, s, "user-1")
	for _, path := range []string{"/api/queries/" + id, "/api/queries/" + id + "/state", "/api/queries/" + id + "/stream"} {
		if rec := do(t, s, http.MethodGet, path, "", "user-2"); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404 got %d", path, rec.Code)
		}
	}
}

func TestRefineAndCollectErrors(t *testing.T) {
	s, svc := newTestServer(t, 0)
	id := createQuery(t, s, "user-1")

	rec := do(t, s, http.MethodPost, "/api/queries/"+id+"/refine", "", "user-1")
	var out map[string]string
	decode(t, rec, &out)
	if rec.Code != http.StatusOK || out["refined_query"] != "refined: solid state batteries" {
		t.Fatalf("refine: %d %v", rec.Code, out)
	}

	svc.refineErr = fmt.Errorf("%w: refine: connection reset", pipeline.ErrUpstream)
	if rec := do(t, s, http.MethodPost, "/api/queries/"+id+"/refine", "", "user-1"); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rec.Code)
	}

	if rec := do(t, s, http.MethodPost, "/api/queries/"+id+"/sources/collect", "", "user-1"); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
	svc.collectErr = fmt.Errorf("%w: %s", pipeline.ErrInProgress, id)
	if rec := do(t, s, http.MethodPost, "/api/queries/"+id+"/sources/collect", "", "user-1"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	svc.collectErr = &stage.TransitionError{Kind: stage.KindQuery, From: stage.QueryReceived, To: stage.RoutingStarted}
	if rec := do(t, s, http.MethodPost, "/api/queries/"+id+"/sources/collect", "", "user-1"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for illegal transition got %d", rec.Code)
	}
}

func TestReviewSources(t *testing.T) {
	s, svc := newTestServer(t, 0)
	id := createQuery(t, s, "user-1")

	body := `{"included":["https://a.example","https://b.example"],"excluded":["https://c.example"],"reranked_urls":["https://b.example"]}`
	rec := do(t, s, http.MethodPost, "/api/queries/"+id+"/sources/review", body, "user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("review: %d %s", rec.Code, rec.Body.String())
	}
	var out struct {
		FinalSources []sources.Source `json:"final_sources"`
	}
	decode(t, rec, &out)
	if len(out.FinalSources) != 2 {
		t.Fatalf("unexpected final sources %+v", out.FinalSources)
	}
	if len(svc.lastReview.Excluded) != 1 || svc.lastReview.RerankedURLs[0] != "https://b.example" {
		t.Fatalf("review not forwarded: %+v", svc.lastReview)
	}

	if rec := do(t, s, http.MethodPost, "/api/queries/"+id+"/sources/review", `{"included":[]}`, "user-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestDraftAcceptIsTerminal(t *testing.T) {
	s, svc := newTestServer(t, 0)
	qid := createQuery(t, s, "user-1")

	if rec := do(t, s, http.MethodPost, "/api/drafts/generate", `{}`, "user-1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without query_id got %d", rec.Code)
	}
	rec := do(t, s, http.MethodPost, "/api/drafts/generate", `{"query_id":"`+qid+`"}`, "user-1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate: %d %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	decode(t, rec, &out)
	did := out["draft_id"]

	// Accepting while still writing skips a stage.
	if rec := do(t, s, http.MethodPost, "/api/drafts/"+did+"/accept", "", "user-1"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 while writing got %d", rec.Code)
	}
	if _, err := svc.tr.Advance(context.Background(), did, stage.DraftCompleted, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if rec := do(t, s, http.MethodPost, "/api/drafts/"+did+"/accept", "", "user-1"); rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, s, http.MethodPost, "/api/drafts/"+did+"/reject", `{"feedback":"too late"}`, "user-1"); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 after terminal got %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/drafts/"+did+"/state", "", "user-1")
	var st tracker.State
	decode(t, rec, &st)
	if st.CurrentStage != stage.DraftAccepted || !st.Terminal {
		t.Fatalf("unexpected draft state %+v", st)
	}
	if rec := do(t, s, http.MethodGet, "/api/drafts/"+did, "", "user-2"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for other user got %d", rec.Code)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: q-1", stage.ErrUnknownProcess), http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: draft d-1", stage.ErrAlreadyTerminal), http.StatusConflict},
		{&stage.TransitionError{Kind: stage.KindDraft, From: stage.DraftWriting, To: stage.DraftAccepted}, http.StatusConflict},
		{pipeline.ErrInProgress, http.StatusConflict},
		{fmt.Errorf("%w: empty", pipeline.ErrInvalid), http.StatusBadRequest},
		{fmt.Errorf("%w: route: timeout", pipeline.ErrUpstream), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
		{echo.NewHTTPError(http.StatusTeapot, "tea"), http.StatusTeapot},
	}
	for _, tc := range cases {
		he, ok := httpError(tc.err).(*echo.HTTPError)
		if !ok || he.Code != tc.code {
			t.Fatalf("%v: expected %d got %v", tc.err, tc.code, he)
		}
	}
	if httpError(nil) != nil {
		t.Fatalf("nil error should map to nil")
	}
}

func openStream(t *testing.T, ts *httptest.Server, path, user string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, user))
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return resp
}

// nextEvent reads lines until a data line and decodes it.
func nextEvent(t *testing.T, r *bufio.Reader) (broadcast.Event, bool) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return broadcast.Event{}, false
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev broadcast.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		return ev, true
	}
}

func TestStreamReplaysAndClosesOnTerminal(t *testing.T) {
	s, svc := newTestServer(t, time.Minute)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	qid := createQuery(t, s, "user-1")
	rec := do(t, s, http.MethodPost, "/api/drafts/generate", `{"query_id":"`+qid+`"}`, "user-1")
	var out map[string]string
	decode(t, rec, &out)
	did := out["draft_id"]

	resp := openStream(t, ts, "/api/drafts/"+did+"/stream", "user-1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get(echo.HeaderContentType) != "text/event-stream" {
		t.Fatalf("unexpected stream response %d %s", resp.StatusCode, resp.Header.Get(echo.HeaderContentType))
	}
	r := bufio.NewReader(resp.Body)

	first, ok := nextEvent(t, r)
	if !ok || first.Stage != stage.DraftWriting {
		t.Fatalf("expected replay of writing, got %+v", first)
	}

	ctx := context.Background()
	if _, err := svc.tr.Advance(ctx, did, stage.DraftCompleted, map[string]interface{}{"length": 42}); err != nil {
		t.Fatalf("advance completed: %v", err)
	}
	if _, err := svc.tr.Advance(ctx, did, stage.DraftAccepted, nil); err != nil {
		t.Fatalf("advance accepted: %v", err)
	}

	var got []stage.Stage
	for {
		ev, ok := nextEvent(t, r)
		if !ok {
			break
		}
		got = append(got, ev.Stage)
	}
	if len(got) != 2 || got[0] != stage.DraftCompleted || got[1] != stage.DraftAccepted {
		t.Fatalf("unexpected streamed stages %v", got)
	}

	// A late subscriber to a terminal draft gets one event and a closed stream.
	late := openStream(t, ts, "/api/drafts/"+did+"/stream", "user-1")
	defer late.Body.Close()
	lr := bufio.NewReader(late.Body)
	ev, ok := nextEvent(t, lr)
	if !ok || ev.Stage != stage.DraftAccepted {
		t.Fatalf("expected terminal replay, got %+v", ev)
	}
	if _, ok := nextEvent(t, lr); ok {
		t.Fatalf("expected stream to end after terminal replay")
	}
}

func TestStreamHeartbeat(t *testing.T) {
	s, _ := newTestServer(t, 20*time.Millisecond)
	ts := httptest.NewServer(s.Echo())
	defer ts.Close()

	qid := createQuery(t, s, "user-1")
	resp := openStream(t, ts, "/api/queries/"+qid+"/stream", "user-1")
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)

	deadline := time.After(2 * time.Second)
	lines := make(chan string, 16)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- line
		}
	}()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream ended before a heartbeat")
			}
			if strings.HasPrefix(line, ": keepalive") {
				return
			}
		case <-deadline:
			t.Fatalf("no heartbeat within deadline")
		}
	}
}

func TestStreamUnknownProcess(t *testing.T) {
	s, _ := newTestServer(t, 0)
	if rec := do(t, s, http.MethodGet, "/api/drafts/missing/stream", "", "user-1"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestMigrateRequiresDSN(t *testing.T) {
	if err := Migrate("file://migrations", "", "up", 0); err == nil {
		t.Fatalf("expected error without dsn")
	}
}

type noLLM struct{}

func (noLLM) Complete(context.Context, llm.Request) (string, error) {
	return "", errors.New("unexpected completion")
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	quiet := log.New(io.Discard, "", 0)
	st := &store.Store{DB: db}
	bc := broadcast.New(broadcast.Options{Logger: quiet})
	tr, err := tracker.New(tracker.Options{Repository: st, Broadcaster: bc, Logger: quiet})
	if err != nil {
		t.Fatalf("tracker.New: %v", err)
	}
	p, err := pipeline.New(pipeline.Options{Store: st, Tracker: tr, LLM: noLLM{}, Logger: quiet})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	defer p.Close()
	s, err := New(Options{Service: p, Secret: testSecret, Logger: quiet})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	cases := []struct{ method, path string }{
		{http.MethodGet, "/api/queries/not-a-uuid"},
		{http.MethodGet, "/api/queries/not-a-uuid/state"},
		{http.MethodGet, "/api/queries/not-a-uuid/history"},
		{http.MethodGet, "/api/queries/not-a-uuid/stream"},
		{http.MethodPost, "/api/queries/not-a-uuid/refine"},
		{http.MethodPost, "/api/queries/not-a-uuid/sources/collect"},
		{http.MethodGet, "/api/drafts/123"},
		{http.MethodGet, "/api/drafts/123/state"},
		{http.MethodPost, "/api/drafts/123/accept"},
	}
	for _, tc := range cases {
		rec := do(t, s, tc.method, tc.path, "", "user-1")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404 got %d %s", tc.method, tc.path, rec.Code, rec.Body.String())
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
