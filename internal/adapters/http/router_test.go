package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

type fakeChecker struct {
	submitted *domain.Session
	submitErr error
	checked   chan string
}

func (f *fakeChecker) Submit(_ context.Context, filename string, data io.Reader) (*domain.Session, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	_, _ = io.ReadAll(data)
	if f.submitted == nil {
		f.submitted = &domain.Session{ID: "s1", Filename: filename, Status: domain.SessionUploaded}
	}
	return f.submitted, nil
}

func (f *fakeChecker) CheckByID(_ context.Context, sessionID string) error {
	if f.checked != nil {
		f.checked <- sessionID
	}
	return nil
}

type fakeSessions struct {
	sessions map[string]*domain.Session
}

func (f *fakeSessions) GetByID(_ context.Context, id string) (*domain.Session, error) {
	session, ok := f.sessions[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", io.EOF)
	}
	return session, nil
}

type fakeRetriever struct {
	contextText string
	fragments   []map[string]any
	err         error
}

func (f *fakeRetriever) GetContext(_ context.Context, _ *domain.KeyFacts, _ int) (string, []map[string]any, error) {
	return f.contextText, f.fragments, f.err
}

type fakeReport struct {
	payload []byte
}

func (f *fakeReport) WriteReport(_ *domain.Session) ([]byte, error) {
	return f.payload, nil
}

func newTestRouter(checker *fakeChecker, sessions *fakeSessions, retriever *fakeRetriever, report *fakeReport) *Router {
	if checker == nil {
		checker = &fakeChecker{}
	}
	if sessions == nil {
		sessions = &fakeSessions{sessions: map[string]*domain.Session{}}
	}
	if retriever == nil {
		retriever = &fakeRetriever{}
	}
	if report == nil {
		report = &fakeReport{payload: []byte("xlsx")}
	}
	return NewRouter(checker, sessions, retriever, report, RouterOptions{})
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func TestUploadSubmissionAcceptsAndSchedulesCheck(t *testing.T) {
	checker := &fakeChecker{checked: make(chan string, 1)}
	handler := newTestRouter(checker, nil, nil, nil).Handler()

	body, contentType := multipartBody(t, "file", "vloga.pdf", "%PDF-1.7 test")
	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var session domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if session.Filename != "vloga.pdf" {
		t.Fatalf("filename = %q", session.Filename)
	}

	select {
	case id := <-checker.checked:
		if id != session.ID {
			t.Fatalf("checked id = %q, want %q", id, session.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pipeline was not scheduled")
	}
}

func TestUploadSubmissionRequiresFileField(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/submissions", bytes.NewBufferString("not multipart"))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetSessionMapsNotFound(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestReportRequiresReadySession(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*domain.Session{
		"s1": {ID: "s1", Status: domain.SessionProcessing},
	}}
	handler := newTestRouter(nil, sessions, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/report", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestReportDownloadSetsWorkbookHeaders(t *testing.T) {
	sessions := &fakeSessions{sessions: map[string]*domain.Session{
		"s1": {ID: "s1", Status: domain.SessionReady},
	}}
	handler := newTestRouter(nil, sessions, nil, &fakeReport{payload: []byte("workbook")}).Handler()

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/report", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("content type = %q", contentType)
	}
	if rec.Body.String() != "workbook" {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestRetrieveContextReturnsFragments(t *testing.T) {
	retriever := &fakeRetriever{
		contextText: "Relevantna pravila in citati:\n1. fragment",
		fragments:   []map[string]any{{"id": "frag-1", "text": "fragment"}},
	}
	handler := newTestRouter(nil, nil, retriever, nil).Handler()

	payload := `{"key_facts":{"fields":{"vrsta_gradnje":"novogradnja"}},"top_k":5}`
	req := httptest.NewRequest(http.MethodPost, "/v1/retrieval/context", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	var resp retrieveContextResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Fragments) != 1 || resp.Fragments[0]["id"] != "frag-1" {
		t.Fatalf("fragments = %v", resp.Fragments)
	}
}

func TestRetrieveContextMapsNotConfigured(t *testing.T) {
	retriever := &fakeRetriever{
		err: domain.WrapError(domain.ErrNotConfigured, "embed", io.EOF),
	}
	handler := newTestRouter(nil, nil, retriever, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/retrieval/context", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

type fakeQueue struct {
	published []domain.Fragment
}

func (f *fakeQueue) PublishVectorizeFragment(_ context.Context, fragment domain.Fragment) error {
	f.published = append(f.published, fragment)
	return nil
}

func (f *fakeQueue) SubscribeVectorizeFragment(_ context.Context, _ func(context.Context, domain.Fragment) error) error {
	return nil
}

func TestEnqueueFragmentsPublishesNonEmptyOnes(t *testing.T) {
	queue := &fakeQueue{}
	router := NewRouter(&fakeChecker{}, &fakeSessions{sessions: map[string]*domain.Session{}}, &fakeRetriever{}, &fakeReport{}, RouterOptions{
		Queue: queue,
	})
	handler := router.Handler()

	payload := `{"fragments":[
		{"id":"frag-1","text":"Dopustna je novogradnja.","source":"OPN MOL"},
		{"id":"frag-2","text":"   "}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge/fragments", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if len(queue.published) != 1 || queue.published[0].ID != "frag-1" {
		t.Fatalf("published = %+v", queue.published)
	}
}

func TestEnqueueFragmentsWithoutQueueIsUnavailable(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/knowledge/fragments", bytes.NewBufferString(`{"fragments":[{"id":"x","text":"y"}]}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	router := NewRouter(&fakeChecker{}, &fakeSessions{sessions: map[string]*domain.Session{}}, &fakeRetriever{}, &fakeReport{}, RouterOptions{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})
	handler := router.Handler()

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want %d", first.Code, http.StatusOK)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatalf("missing Retry-After header")
	}
}

func TestRequestIDHeaderIsEchoed(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("request id header = %q, want req-42", got)
	}
}
