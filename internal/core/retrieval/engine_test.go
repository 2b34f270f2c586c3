package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

type emptyStore struct{}

type fakeStore struct {
	vectorRows  []map[string]any
	keywordRows []map[string]any
	vectorErr   error
	keywordErr  error
	embeddings  map[string][]float32

	vectorCalls  int
	keywordCalls int
}

func (s *fakeStore) SearchByVector(_ context.Context, _ []float32, _ int) ([]map[string]any, error) {
	s.vectorCalls++
	return s.vectorRows, s.vectorErr
}

func (s *fakeStore) SearchByKeyword(_ context.Context, _ string, _ int) ([]map[string]any, error) {
	s.keywordCalls++
	return s.keywordRows, s.keywordErr
}

func (s *fakeStore) EmbeddingsForIDs(_ context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if vec, ok := s.embeddings[id]; ok {
			out[id] = vec
		}
	}
	return out, nil
}

func testFacts() *domain.KeyFacts {
	return &domain.KeyFacts{
		Fields:   map[string]string{"vrsta_gradnje": "novogradnja"},
		LandUses: []string{"SSe"},
	}
}

func TestGetContextDegradesWithoutAnyBackend(t *testing.T) {
	engine := NewEngine(NewCachingEmbedder(&fakeProvider{response: []float64{1}}, 8), emptyStore{}, nil, Config{})

	text, rows, err := engine.GetContext(context.Background(), testFacts(), 5)
	if err != nil {
		t.Fatalf("expected graceful empty result, got error: %v", err)
	}
	if text != "" || rows != nil {
		t.Fatalf("expected empty context and rows, got %q / %v", text, rows)
	}
}

func TestGetContextVectorOnlyWithoutEmbedderFailsLoudly(t *testing.T) {
	store := &fakeStore{vectorRows: []map[string]any{{"id": "a", "vsebina": "x"}}}
	// Store exposes keyword search too in the next case; here restrict to
	// the vector capability by wrapping.
	engine := NewEngine(NewCachingEmbedder(nil, 8), vectorOnly{store}, nil, Config{})

	_, _, err := engine.GetContext(context.Background(), testFacts(), 5)
	if !domain.IsKind(err, domain.ErrNotConfigured) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

type vectorOnly struct{ inner *fakeStore }

func (v vectorOnly) SearchByVector(ctx context.Context, embedding []float32, limit int) ([]map[string]any, error) {
	return v.inner.SearchByVector(ctx, embedding, limit)
}

func TestGetContextHybridFlow(t *testing.T) {
	store := &fakeStore{
		vectorRows: []map[string]any{
			{"id": "a", "vsebina": "Odmik od parcelne meje najmanj 4 m.", "vir": "OPN", "similarity": 0.9},
			{"id": "b", "vsebina": "Naklon strehe med 35 in 45 stopinj.", "vir": "OPN", "similarity": 0.4},
		},
		keywordRows: []map[string]any{
			{"id": "a", "vsebina": "Odmik od parcelne meje najmanj 4 m.", "vir": "OPN", "rank": 0.7},
			{"id": "c", "vsebina": "Faktor zazidanosti največ 0,4.", "vir": "OPN", "rank": 0.9},
		},
	}
	engine := NewEngine(NewCachingEmbedder(&fakeProvider{response: []float64{1, 0}}, 8), store, nil, Config{})

	text, rows, err := engine.GetContext(context.Background(), testFacts(), 3)
	if err != nil {
		t.Fatalf("get context failed: %v", err)
	}
	if store.vectorCalls != 1 || store.keywordCalls != 1 {
		t.Fatalf("each backend must be called once, got %d/%d", store.vectorCalls, store.keywordCalls)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 deduplicated rows, got %d", len(rows))
	}
	if !strings.Contains(text, "Relevantna pravila in citati:") {
		t.Fatalf("context header missing:\n%s", text)
	}
	for _, row := range rows {
		if _, ok := row["id"]; !ok {
			t.Fatalf("rows must be plain serializable records, got %v", row)
		}
	}
}

func TestGetContextForTextUsesFreeTextQuery(t *testing.T) {
	store := &fakeStore{
		keywordRows: []map[string]any{
			{"id": "a", "vsebina": "Naklon strehe med 35 in 45 stopinj.", "vir": "OPN", "rank": 0.8},
		},
	}
	engine := NewEngine(NewCachingEmbedder(nil, 8), keywordOnly{store}, nil, Config{})

	text, rows, err := engine.GetContextForText(context.Background(), "kakšen naklon strehe je dopusten", 5)
	if err != nil {
		t.Fatalf("get context for text failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !strings.Contains(text, "Naklon strehe") {
		t.Fatalf("context missing fragment text:\n%s", text)
	}
}

type keywordOnly struct{ inner *fakeStore }

func (k keywordOnly) SearchByKeyword(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	return k.inner.SearchByKeyword(ctx, query, limit)
}

func TestGetContextSurvivesBackendFailure(t *testing.T) {
	store := &fakeStore{
		vectorErr: fmt.Errorf("pgvector unavailable"),
		keywordRows: []map[string]any{
			{"id": "k1", "vsebina": "Dovoljena etažnost P+1+M.", "rank": 0.8},
			{"id": "k2", "vsebina": "Odmik od meje 4 m.", "rank": 0.2},
		},
	}
	engine := NewEngine(NewCachingEmbedder(&fakeProvider{response: []float64{1}}, 8), store, nil, Config{})

	text, rows, err := engine.GetContext(context.Background(), testFacts(), 2)
	if err != nil {
		t.Fatalf("one failing backend must not abort retrieval: %v", err)
	}
	if len(rows) != 2 || text == "" {
		t.Fatalf("expected keyword-only results, got %d rows", len(rows))
	}
}

func TestGetContextEmptyBackendsIsNotAnError(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(NewCachingEmbedder(&fakeProvider{response: []float64{1}}, 8), store, nil, Config{})

	text, rows, err := engine.GetContext(context.Background(), testFacts(), 5)
	if err != nil {
		t.Fatalf("empty result set is a valid state: %v", err)
	}
	if text != "" || rows != nil {
		t.Fatalf("expected empty context, got %q", text)
	}
}

func TestGetContextRejectsNegativeTopK(t *testing.T) {
	engine := NewEngine(NewCachingEmbedder(&fakeProvider{response: []float64{1}}, 8), &fakeStore{}, nil, Config{})
	if _, _, err := engine.GetContext(context.Background(), testFacts(), -1); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}
