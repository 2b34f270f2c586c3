package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/core/ports"
)

const (
	// DefaultFusionWeight favors the vector signal; keyword search over
	// legal text tends to over-reward boilerplate phrase matches.
	DefaultFusionWeight = 0.6
	DefaultTopK         = 12
	// candidateFactor oversizes each backend fetch so the re-ranker has
	// enough candidates to diversify among.
	candidateFactor = 4
)

type Config struct {
	TopK         int
	FusionWeight float64
	MMRLambda    float64
}

func (c Config) normalize() Config {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.FusionWeight <= 0 {
		c.FusionWeight = DefaultFusionWeight
	}
	if c.MMRLambda <= 0 {
		c.MMRLambda = DefaultMMRLambda
	}
	return c
}

// Engine is the hybrid retrieval pipeline: compose, embed, search both
// backends, normalize, fuse, MMR-rerank, render.
//
// The knowledge store collaborator is accepted as an opaque value and
// probed once at construction for its optional capabilities; either search
// path may be absent and the engine degrades to whatever responds.
type Engine struct {
	embedder *CachingEmbedder
	vector   ports.VectorSearcher
	keyword  ports.KeywordSearcher
	lookup   ports.EmbeddingLookup
	logger   *slog.Logger
	cfg      Config
}

func NewEngine(embedder *CachingEmbedder, store any, logger *slog.Logger, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &Engine{
		embedder: embedder,
		logger:   logger,
		cfg:      cfg.normalize(),
	}
	if vector, ok := store.(ports.VectorSearcher); ok {
		engine.vector = vector
	}
	if keyword, ok := store.(ports.KeywordSearcher); ok {
		engine.keyword = keyword
	}
	if lookup, ok := store.(ports.EmbeddingLookup); ok {
		engine.lookup = lookup
	}
	if engine.vector == nil && engine.keyword == nil {
		logger.Warn("knowledge store exposes no search capability, retrieval will return empty context")
	}
	return engine
}

// GetContext runs one retrieval request. An empty context with no error is
// a legitimate result ("no matching rule passages"), not a failure; the
// engine only errors on caller bugs and on a vector-only setup with no way
// to embed.
func (e *Engine) GetContext(ctx context.Context, facts *domain.KeyFacts, topK int) (string, []map[string]any, error) {
	if topK < 0 {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "get context",
			fmt.Errorf("top_k %d is negative", topK))
	}
	if topK == 0 {
		topK = e.cfg.TopK
	}
	if e.vector == nil && e.keyword == nil {
		return "", nil, nil
	}

	// A vector-only setup with no embedder is a misconfiguration, not a
	// "no matches" condition, and must fail loudly and distinguishably.
	if e.vector != nil && !e.embedder.configured() && e.keyword == nil {
		return "", nil, domain.WrapError(domain.ErrNotConfigured, "get context", errNoProvider)
	}

	return e.run(ctx, ComposeQuery(facts), topK)
}

// GetContextForText is the free-text entry point: the query is a document
// excerpt or a user question instead of structured key facts.
func (e *Engine) GetContextForText(ctx context.Context, text string, topK int) (string, []map[string]any, error) {
	if topK < 0 {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, "get context",
			fmt.Errorf("top_k %d is negative", topK))
	}
	if topK == 0 {
		topK = e.cfg.TopK
	}
	if e.vector == nil && e.keyword == nil {
		return "", nil, nil
	}
	if e.vector != nil && !e.embedder.configured() && e.keyword == nil {
		return "", nil, domain.WrapError(domain.ErrNotConfigured, "get context", errNoProvider)
	}
	return e.run(ctx, ComposeFromText(text), topK)
}

func (e *Engine) run(ctx context.Context, queryText string, topK int) (string, []map[string]any, error) {
	fetchLimit := topK * candidateFactor

	vectorRows := e.vectorSearch(ctx, queryText, fetchLimit)
	keywordRows := e.keywordSearch(ctx, queryText, fetchLimit)
	if len(vectorRows) == 0 && len(keywordRows) == 0 {
		return "", nil, nil
	}

	fused, err := fuseCandidates(vectorRows, keywordRows, e.cfg.FusionWeight)
	if err != nil {
		return "", nil, err
	}
	e.attachEmbeddings(ctx, fused)

	ranked, err := rerankMMR(fused, topK, e.cfg.MMRLambda)
	if err != nil {
		return "", nil, err
	}

	records := make([]map[string]any, 0, len(ranked))
	for _, row := range ranked {
		records = append(records, row.AsMap())
	}
	return RenderContext(ranked), records, nil
}

// vectorSearch embeds the query and runs nearest-neighbour search. Every
// failure is local: logged and treated as zero results from this backend.
func (e *Engine) vectorSearch(ctx context.Context, queryText string, limit int) []domain.Fragment {
	if e.vector == nil {
		return nil
	}
	embedding, err := e.embedder.Embed(ctx, queryText)
	if err != nil {
		e.logger.Warn("vector query embedding failed", "error", err)
		return nil
	}
	raws, err := e.vector.SearchByVector(ctx, embedding, limit)
	if err != nil {
		e.logger.Warn("vector search failed", "error", err)
		return nil
	}
	return normalizeRows(raws)
}

func (e *Engine) keywordSearch(ctx context.Context, queryText string, limit int) []domain.Fragment {
	if e.keyword == nil {
		return nil
	}
	raws, err := e.keyword.SearchByKeyword(ctx, queryText, limit)
	if err != nil {
		e.logger.Warn("keyword search failed", "error", err)
		return nil
	}
	return normalizeRows(raws)
}

func normalizeRows(raws []map[string]any) []domain.Fragment {
	out := make([]domain.Fragment, 0, len(raws))
	for _, raw := range raws {
		out = append(out, normalizeRow(raw))
	}
	return out
}

// attachEmbeddings backfills document-side embeddings for MMR when the
// store can resolve them; best effort, lexical fallback covers the rest.
func (e *Engine) attachEmbeddings(ctx context.Context, rows []domain.Fragment) {
	if e.lookup == nil {
		return
	}
	missing := make([]string, 0, len(rows))
	for _, row := range rows {
		if len(row.Embedding) == 0 {
			missing = append(missing, row.ID)
		}
	}
	if len(missing) == 0 {
		return
	}
	found, err := e.lookup.EmbeddingsForIDs(ctx, missing)
	if err != nil {
		e.logger.Warn("embedding lookup failed", "error", err, "ids", len(missing))
		return
	}
	for i := range rows {
		if len(rows[i].Embedding) == 0 {
			if vec, ok := found[rows[i].ID]; ok {
				rows[i].Embedding = vec
			}
		}
	}
}
