package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/core/ports"
	"github.com/opn-tools/permit-assistant/internal/core/retrieval"
)

// VectorizeKnowledgeUseCase embeds incoming knowledge fragments and
// upserts them into the store. Long fragments are split into chunks so a
// single oversized article does not dominate nearest-neighbour results;
// each chunk inherits the fragment's citation metadata.
type VectorizeKnowledgeUseCase struct {
	embedder ports.EmbeddingProvider
	chunker  ports.Chunker
	writer   ports.KnowledgeWriter
	logger   *slog.Logger
}

func NewVectorizeKnowledgeUseCase(
	embedder ports.EmbeddingProvider,
	chunker ports.Chunker,
	writer ports.KnowledgeWriter,
	logger *slog.Logger,
) *VectorizeKnowledgeUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorizeKnowledgeUseCase{
		embedder: embedder,
		chunker:  chunker,
		writer:   writer,
		logger:   logger,
	}
}

func (uc *VectorizeKnowledgeUseCase) Vectorize(ctx context.Context, fragment domain.Fragment) error {
	text := strings.TrimSpace(fragment.Text)
	if text == "" {
		return domain.WrapError(domain.ErrInvalidInput, "vectorize fragment",
			fmt.Errorf("fragment %s has no text", fragment.ID))
	}
	if uc.embedder == nil {
		return domain.WrapError(domain.ErrNotConfigured, "vectorize fragment",
			fmt.Errorf("no embedding provider"))
	}

	chunks := uc.chunker.Split(text)
	for i, chunk := range chunks {
		raw, err := uc.embedder.EmbedContent(ctx, chunk, "RETRIEVAL_DOCUMENT")
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		vector, err := retrieval.NormalizeEmbedding(raw)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}

		piece := fragment
		piece.Text = chunk
		if len(chunks) > 1 {
			piece.ID = fmt.Sprintf("%s:%d", fragment.ID, i)
		}
		if err := uc.writer.UpsertFragment(ctx, piece, vector); err != nil {
			return fmt.Errorf("upsert chunk %d: %w", i, err)
		}
	}

	uc.logger.Info("fragment vectorized", "fragment_id", fragment.ID, "chunks", len(chunks))
	return nil
}
