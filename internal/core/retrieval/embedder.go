package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/core/ports"
)

const (
	queryTaskType     = "RETRIEVAL_QUERY"
	documentTaskType  = "RETRIEVAL_DOCUMENT"
	defaultCacheLimit = 1024
)

// CachingEmbedder wraps an embedding provider with response-shape
// normalization and a bounded content-addressed cache. The cache is keyed
// by a cryptographic hash of the trimmed text so retried and repeated
// queries reuse an earlier vector without risking false hits.
type CachingEmbedder struct {
	provider ports.EmbeddingProvider
	limit    int

	mu    sync.Mutex
	cache map[string][]float32
	order []string
}

func NewCachingEmbedder(provider ports.EmbeddingProvider, cacheLimit int) *CachingEmbedder {
	if cacheLimit <= 0 {
		cacheLimit = defaultCacheLimit
	}
	return &CachingEmbedder{
		provider: provider,
		limit:    cacheLimit,
		cache:    make(map[string][]float32, 64),
	}
}

func (e *CachingEmbedder) configured() bool {
	return e != nil && e.provider != nil
}

// Embed resolves text into a flat vector, consulting the cache first.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "embed query", errEmptyQuery)
	}
	if !e.configured() {
		return nil, domain.WrapError(domain.ErrNotConfigured, "embed query", errNoProvider)
	}

	key := cacheKey(trimmed)
	if vector, ok := e.lookup(key); ok {
		return vector, nil
	}

	raw, err := e.provider.EmbedContent(ctx, trimmed, queryTaskType)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	vector, err := NormalizeEmbedding(raw)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	e.store(key, vector)
	return vector, nil
}

var (
	errEmptyQuery = fmt.Errorf("query text is empty")
	errNoProvider = fmt.Errorf("no embedding provider")
)

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (e *CachingEmbedder) lookup(key string) ([]float32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vector, ok := e.cache[key]
	return vector, ok
}

func (e *CachingEmbedder) store(key string, vector []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.cache[key]; exists {
		return
	}
	for len(e.order) >= e.limit {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.cache, oldest)
	}
	e.cache[key] = vector
	e.order = append(e.order, key)
}

// NormalizeEmbedding flattens the provider's response shape into a plain
// vector. Accepted shapes: a flat list of numbers, a singly nested
// list-of-lists, or a map carrying a "values" or "embedding" key. Anything
// else is a hard error rather than a silent zero vector.
func NormalizeEmbedding(raw any) ([]float32, error) {
	switch v := raw.(type) {
	case []float32:
		if len(v) == 0 {
			return nil, errEmptyEmbedding
		}
		return v, nil
	case []float64:
		if len(v) == 0 {
			return nil, errEmptyEmbedding
		}
		out := make([]float32, len(v))
		for i, f := range v {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		if len(v) == 0 {
			return nil, errEmptyEmbedding
		}
		if _, nested := v[0].([]any); nested {
			return NormalizeEmbedding(v[0])
		}
		out := make([]float32, 0, len(v))
		for _, item := range v {
			f, ok := numericValue(item)
			if !ok {
				return nil, fmt.Errorf("embedding element %T is not numeric", item)
			}
			out = append(out, float32(f))
		}
		return out, nil
	case [][]float32:
		if len(v) == 0 {
			return nil, errEmptyEmbedding
		}
		return NormalizeEmbedding(v[0])
	case [][]float64:
		if len(v) == 0 {
			return nil, errEmptyEmbedding
		}
		return NormalizeEmbedding(v[0])
	case map[string]any:
		if values, ok := v["values"]; ok {
			return NormalizeEmbedding(values)
		}
		if values, ok := v["embedding"]; ok {
			return NormalizeEmbedding(values)
		}
		return nil, fmt.Errorf("embedding map has neither values nor embedding key")
	default:
		return nil, fmt.Errorf("unsupported embedding shape %T", raw)
	}
}

var errEmptyEmbedding = fmt.Errorf("embedding is empty")

func numericValue(item any) (float64, bool) {
	switch n := item.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
