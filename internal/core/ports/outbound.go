package ports

import (
	"context"
	"io"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

// EmbeddingProvider turns text into an embedding vector. The return value
// is the provider's raw decoded response shape (flat list, nested list, or
// a map carrying a "values"/"embedding" key); the retrieval core is
// responsible for normalizing it.
type EmbeddingProvider interface {
	EmbedContent(ctx context.Context, text, taskType string) (any, error)
}

// VectorSearcher is the optional nearest-neighbour capability of a
// knowledge store. Rows are untyped maps; field names vary per source and
// are discovered defensively by the retrieval core.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, embedding []float32, limit int) ([]map[string]any, error)
}

// KeywordSearcher is the optional full-text capability of a knowledge store.
type KeywordSearcher interface {
	SearchByKeyword(ctx context.Context, query string, limit int) ([]map[string]any, error)
}

// EmbeddingLookup resolves stored document-side embeddings for MMR
// diversity comparison. Optional; absence degrades diversity to lexical.
type EmbeddingLookup interface {
	EmbeddingsForIDs(ctx context.Context, ids []string) (map[string][]float32, error)
}

// KnowledgeWriter upserts vectorized fragments (worker side).
type KnowledgeWriter interface {
	UpsertFragment(ctx context.Context, fragment domain.Fragment, embedding []float32) error
}

// FactExtractor pulls structured key facts out of submission text.
type FactExtractor interface {
	ExtractKeyFacts(ctx context.Context, text string) (*domain.KeyFacts, error)
}

// ComplianceAssessor judges one requirement against the submission facts
// and the retrieved regulatory context.
type ComplianceAssessor interface {
	AssessRequirement(ctx context.Context, req domain.Requirement, facts *domain.KeyFacts, context string) (domain.Assessment, error)
}

// SessionStore persists compliance-check sessions.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, errMessage string) error
	SaveResults(ctx context.Context, id string, facts *domain.KeyFacts, assessments []domain.Assessment, contextText string) error
}

// ObjectStorage stores uploaded submission files.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor extracts plain text from a stored submission.
type TextExtractor interface {
	Extract(ctx context.Context, session *domain.Session) (string, error)
}

// Chunker splits long fragment text before vectorization.
type Chunker interface {
	Split(text string) []string
}

// MessageQueue publishes/consumes knowledge vectorization jobs.
type MessageQueue interface {
	PublishVectorizeFragment(ctx context.Context, fragment domain.Fragment) error
	SubscribeVectorizeFragment(ctx context.Context, handler func(context.Context, domain.Fragment) error) error
}

// ReportWriter renders a finished session into a downloadable workbook.
type ReportWriter interface {
	WriteReport(session *domain.Session) ([]byte, error)
}
