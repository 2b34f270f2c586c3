package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/infrastructure/resilience"
)

// Client talks to a Gemini-style generative language API: text generation
// for fact extraction and assessment, embedContent for vectors. Embedding
// calls are additionally throttled because the provider meters them much
// tighter than generation.
type Client struct {
	baseURL    string
	apiKey     string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor
	limiter    *rate.Limiter
}

type Options struct {
	Timeout            time.Duration
	EmbedRatePerSecond float64
	EmbedBurst         int
	Executor           *resilience.Executor
}

func New(baseURL, apiKey, genModel, embedModel string, options Options) *Client {
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	ratePerSecond := options.EmbedRatePerSecond
	if ratePerSecond <= 0 {
		ratePerSecond = 5
	}
	burst := options.EmbedBurst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		genModel:   genModel,
		embedModel: embedModel,
		httpClient: &http.Client{Timeout: timeout},
		executor:   options.Executor,
		limiter:    rate.NewLimiter(rate.Limit(ratePerSecond), burst),
	}
}

// EmbedContent implements ports.EmbeddingProvider. The decoded response
// body is returned as-is; shape normalization belongs to the retrieval
// core, which already tolerates every documented provider variant.
func (c *Client) EmbedContent(ctx context.Context, text, taskType string) (any, error) {
	if c.apiKey == "" {
		return nil, domain.WrapError(domain.ErrNotConfigured, "embed content",
			fmt.Errorf("gemini api key is not set"))
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed rate limit: %w", err)
	}

	request := map[string]any{
		"content":  map[string]any{"parts": []map[string]any{{"text": text}}},
		"taskType": taskType,
	}
	var response map[string]any
	path := fmt.Sprintf("/v1beta/models/%s:embedContent", c.embedModel)
	if err := c.postJSON(ctx, path, request, &response, "embed"); err != nil {
		return nil, err
	}
	embedding, ok := response["embedding"]
	if !ok {
		return nil, fmt.Errorf("embed response has no embedding field")
	}
	return embedding, nil
}

type Extractor struct {
	client *Client
}

func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

// ExtractKeyFacts asks the model for the structured key facts of one
// submission: labeled fields plus zone-unit and land-use code lists.
func (e *Extractor) ExtractKeyFacts(ctx context.Context, text string) (*domain.KeyFacts, error) {
	respText, err := e.client.generateText(ctx, buildKeyFactsPrompt(text))
	if err != nil {
		return nil, err
	}

	var result struct {
		KeyData map[string]string `json:"key_data"`
		Details struct {
			EUP          []string `json:"eup"`
			NamenskaRaba []string `json:"namenska_raba"`
		} `json:"details"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return nil, fmt.Errorf("parse key facts json: %w", err)
	}
	if result.KeyData == nil {
		result.KeyData = map[string]string{}
	}
	return &domain.KeyFacts{
		Fields:    result.KeyData,
		ZoneUnits: result.Details.EUP,
		LandUses:  result.Details.NamenskaRaba,
	}, nil
}

type Assessor struct {
	client *Client
}

func NewAssessor(client *Client) *Assessor {
	return &Assessor{client: client}
}

// AssessRequirement judges one catalog requirement against the extracted
// facts and the retrieved citation context.
func (a *Assessor) AssessRequirement(ctx context.Context, req domain.Requirement, facts *domain.KeyFacts, contextText string) (domain.Assessment, error) {
	respText, err := a.client.generateText(ctx, buildAssessmentPrompt(req, facts, contextText))
	if err != nil {
		return domain.Assessment{}, err
	}

	var result struct {
		Status    string   `json:"status"`
		Reasoning string   `json:"obrazlozitev"`
		Citations []string `json:"citati"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(respText)), &result); err != nil {
		return domain.Assessment{}, fmt.Errorf("parse assessment json: %w", err)
	}

	return domain.Assessment{
		RequirementID: req.ID,
		Topic:         req.Topic,
		Status:        parseAssessmentStatus(result.Status),
		Reasoning:     result.Reasoning,
		Citations:     result.Citations,
	}, nil
}

func parseAssessmentStatus(raw string) domain.AssessmentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "skladno":
		return domain.AssessmentCompliant
	case "neskladno":
		return domain.AssessmentNonCompliant
	default:
		return domain.AssessmentNoData
	}
}

func (c *Client) generateText(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": prompt}}},
		},
		"generationConfig": map[string]any{
			"responseMimeType": "application/json",
		},
	}

	var response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", c.genModel)
	if err := c.postJSON(ctx, path, request, &response, "generate"); err != nil {
		return "", err
	}
	if len(response.Candidates) == 0 || len(response.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini generate returned no candidates")
	}
	return strings.TrimSpace(response.Candidates[0].Content.Parts[0].Text), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
