package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

func TestEmbedContentReturnsRawEmbeddingShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":embedContent") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		_, _ = w.Write([]byte(`{"embedding":{"values":[0.1,0.2,0.3]}}`))
	}))
	defer server.Close()

	client := New(server.URL, "test-key", "gen", "embed", Options{})
	raw, err := client.EmbedContent(context.Background(), "poizvedba", "RETRIEVAL_QUERY")
	if err != nil {
		t.Fatalf("EmbedContent() error = %v", err)
	}
	shape, ok := raw.(map[string]any)
	if !ok {
		t.Fatalf("expected raw map shape, got %T", raw)
	}
	if _, ok := shape["values"]; !ok {
		t.Fatalf("expected values key in embedding shape: %v", shape)
	}
}

func TestEmbedContentWithoutKeyIsConfigurationError(t *testing.T) {
	client := New("http://localhost:1", "", "gen", "embed", Options{})
	if _, err := client.EmbedContent(context.Background(), "x", "RETRIEVAL_QUERY"); !domain.IsKind(err, domain.ErrNotConfigured) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestExtractKeyFactsParsesResponse(t *testing.T) {
	var capturedPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		contents := payload["contents"].([]any)
		parts := contents[0].(map[string]any)["parts"].([]any)
		capturedPrompt, _ = parts[0].(map[string]any)["text"].(string)

		body := `{"candidates":[{"content":{"parts":[{"text":"{\"details\":{\"eup\":[\"LI-08 SSe*\"],\"namenska_raba\":[\"SSe\"]},\"key_data\":{\"vrsta_gradnje\":\"novogradnja\"}}"}]}}]}`
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	extractor := NewExtractor(New(server.URL, "key", "gen", "embed", Options{}))
	facts, err := extractor.ExtractKeyFacts(context.Background(), "besedilo projekta")
	if err != nil {
		t.Fatalf("ExtractKeyFacts() error = %v", err)
	}
	if !strings.Contains(capturedPrompt, "besedilo projekta") {
		t.Fatalf("prompt must include the submission text")
	}
	if facts.Fields["vrsta_gradnje"] != "novogradnja" {
		t.Fatalf("unexpected fields: %v", facts.Fields)
	}
	if len(facts.ZoneUnits) != 1 || facts.ZoneUnits[0] != "LI-08 SSe*" {
		t.Fatalf("unexpected zone units: %v", facts.ZoneUnits)
	}
}

func TestAssessRequirementMapsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body := `{"candidates":[{"content":{"parts":[{"text":"{\"status\":\"neskladno\",\"obrazlozitev\":\"FZ presežen\",\"citati\":[\"1\"]}"}]}}]}`
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	assessor := NewAssessor(New(server.URL, "key", "gen", "embed", Options{}))
	assessment, err := assessor.AssessRequirement(context.Background(),
		domain.Requirement{ID: "fz", Topic: "Faktor zazidanosti"}, nil, "kontekst")
	if err != nil {
		t.Fatalf("AssessRequirement() error = %v", err)
	}
	if assessment.Status != domain.AssessmentNonCompliant {
		t.Fatalf("expected neskladno, got %s", assessment.Status)
	}
	if assessment.RequirementID != "fz" || len(assessment.Citations) != 1 {
		t.Fatalf("unexpected assessment: %+v", assessment)
	}
}

func TestAssessRequirementUnknownStatusDegradesToNoData(t *testing.T) {
	if parseAssessmentStatus("  SKLADNO ") != domain.AssessmentCompliant {
		t.Fatalf("status parsing must be case and whitespace insensitive")
	}
	if parseAssessmentStatus("nekaj tretjega") != domain.AssessmentNoData {
		t.Fatalf("unknown status must map to no-data")
	}
}

func TestGenerateIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	extractor := NewExtractor(New(server.URL, "key", "gen", "embed", Options{}))
	_, err := extractor.ExtractKeyFacts(context.Background(), "x")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}
