package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

type fakeSessionStore struct {
	sessions map[string]*domain.Session
	statuses []domain.SessionStatus
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *fakeSessionStore) Create(_ context.Context, session *domain.Session) error {
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *fakeSessionStore) GetByID(_ context.Context, id string) (*domain.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *fakeSessionStore) UpdateStatus(_ context.Context, id string, status domain.SessionStatus, errMessage string) error {
	if session, ok := s.sessions[id]; ok {
		session.Status = status
		session.Error = errMessage
	}
	s.statuses = append(s.statuses, status)
	return nil
}

func (s *fakeSessionStore) SaveResults(_ context.Context, id string, facts *domain.KeyFacts, assessments []domain.Assessment, contextText string) error {
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.KeyFacts = facts
	session.Assessments = assessments
	session.Context = contextText
	return nil
}

type fakeStorage struct{ saved map[string][]byte }

func (s *fakeStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if s.saved == nil {
		s.saved = make(map[string][]byte)
	}
	s.saved[key] = raw
	return nil
}

func (s *fakeStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.saved[key]
	if !ok {
		return nil, fmt.Errorf("missing key %s", key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type fakeTextExtractor struct {
	text string
	err  error
}

func (e *fakeTextExtractor) Extract(_ context.Context, _ *domain.Session) (string, error) {
	return e.text, e.err
}

type fakeFactExtractor struct{ facts *domain.KeyFacts }

func (e *fakeFactExtractor) ExtractKeyFacts(_ context.Context, _ string) (*domain.KeyFacts, error) {
	return e.facts, nil
}

type fakeRetriever struct {
	context string
	rows    []map[string]any
	err     error
}

func (r *fakeRetriever) GetContext(_ context.Context, _ *domain.KeyFacts, _ int) (string, []map[string]any, error) {
	return r.context, r.rows, r.err
}

type fakeAssessor struct {
	contexts []string
	fail     map[string]error
}

func (a *fakeAssessor) AssessRequirement(_ context.Context, req domain.Requirement, _ *domain.KeyFacts, contextText string) (domain.Assessment, error) {
	a.contexts = append(a.contexts, contextText)
	if err, ok := a.fail[req.ID]; ok {
		return domain.Assessment{}, err
	}
	return domain.Assessment{
		RequirementID: req.ID,
		Topic:         req.Topic,
		Status:        domain.AssessmentCompliant,
		Reasoning:     "ustreza",
	}, nil
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := LoadCatalog([]byte(`
requirements:
  - id: always
    topic: vedno
    text: velja vedno
  - id: build
    topic: novogradnja
    text: pogoji za novogradnje
    keywords: [novogradnja]
`))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return catalog
}

func TestSubmitStoresFileAndSession(t *testing.T) {
	store := newFakeSessionStore()
	storage := &fakeStorage{}
	uc := NewCheckSubmissionUseCase(store, storage, nil, nil, testCatalog(t), nil, nil, nil, 5)

	session, err := uc.Submit(context.Background(), "projekt dokumentacija.pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if session.Status != domain.SessionUploaded {
		t.Fatalf("expected uploaded status, got %s", session.Status)
	}
	if len(storage.saved) != 1 {
		t.Fatalf("expected one stored file")
	}
	if strings.Contains(session.StoragePath, " ") {
		t.Fatalf("storage key must be sanitized: %q", session.StoragePath)
	}
	if _, err := store.GetByID(context.Background(), session.ID); err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
}

func TestCheckByIDHappyPath(t *testing.T) {
	store := newFakeSessionStore()
	storage := &fakeStorage{}
	assessor := &fakeAssessor{}
	uc := NewCheckSubmissionUseCase(
		store, storage,
		&fakeTextExtractor{text: "vsebina projekta"},
		&fakeFactExtractor{facts: &domain.KeyFacts{Fields: map[string]string{"vrsta_gradnje": "novogradnja"}}},
		testCatalog(t),
		&fakeRetriever{context: "Relevantna pravila in citati:\n1. vir: OPN — pravilo"},
		assessor, nil, 5,
	)

	session, err := uc.Submit(context.Background(), "p.pdf", strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := uc.CheckByID(context.Background(), session.ID); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	stored, _ := store.GetByID(context.Background(), session.ID)
	if stored.Status != domain.SessionReady {
		t.Fatalf("expected ready status, got %s", stored.Status)
	}
	if len(stored.Assessments) != 2 {
		t.Fatalf("expected 2 assessments (always + novogradnja), got %d", len(stored.Assessments))
	}
	if stored.Context == "" {
		t.Fatalf("context must be persisted with results")
	}
}

func TestCheckByIDContinuesWithEmptyContext(t *testing.T) {
	store := newFakeSessionStore()
	assessor := &fakeAssessor{}
	uc := NewCheckSubmissionUseCase(
		store, &fakeStorage{},
		&fakeTextExtractor{text: "vsebina"},
		&fakeFactExtractor{facts: &domain.KeyFacts{}},
		testCatalog(t),
		&fakeRetriever{},
		assessor, nil, 5,
	)

	session, _ := uc.Submit(context.Background(), "p.pdf", strings.NewReader("x"))
	if err := uc.CheckByID(context.Background(), session.ID); err != nil {
		t.Fatalf("empty retrieval context must not fail the check: %v", err)
	}
	for _, seen := range assessor.contexts {
		if seen != noContextNote {
			t.Fatalf("assessor must receive the no-context note, got %q", seen)
		}
	}
}

func TestCheckByIDAssessorFailureDegradesToNoData(t *testing.T) {
	store := newFakeSessionStore()
	assessor := &fakeAssessor{fail: map[string]error{"always": fmt.Errorf("llm timeout")}}
	uc := NewCheckSubmissionUseCase(
		store, &fakeStorage{},
		&fakeTextExtractor{text: "vsebina"},
		&fakeFactExtractor{facts: &domain.KeyFacts{}},
		testCatalog(t),
		&fakeRetriever{context: "kontekst"},
		assessor, nil, 5,
	)

	session, _ := uc.Submit(context.Background(), "p.pdf", strings.NewReader("x"))
	if err := uc.CheckByID(context.Background(), session.ID); err != nil {
		t.Fatalf("single assessment failure must not fail the check: %v", err)
	}
	stored, _ := store.GetByID(context.Background(), session.ID)
	if stored.Assessments[0].Status != domain.AssessmentNoData {
		t.Fatalf("failed assessment must degrade to no-data, got %s", stored.Assessments[0].Status)
	}
}

func TestCheckByIDEmptyTextFailsSession(t *testing.T) {
	store := newFakeSessionStore()
	uc := NewCheckSubmissionUseCase(
		store, &fakeStorage{},
		&fakeTextExtractor{text: "   "},
		&fakeFactExtractor{facts: &domain.KeyFacts{}},
		testCatalog(t),
		&fakeRetriever{},
		&fakeAssessor{}, nil, 5,
	)

	session, _ := uc.Submit(context.Background(), "p.pdf", strings.NewReader("x"))
	if err := uc.CheckByID(context.Background(), session.ID); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	stored, _ := store.GetByID(context.Background(), session.ID)
	if stored.Status != domain.SessionFailed {
		t.Fatalf("expected failed status, got %s", stored.Status)
	}
}
