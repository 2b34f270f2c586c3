package ports

import (
	"context"
	"io"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

// ContextProvider is the retrieval engine's public surface: the citation
// context block plus the selected fragments as plain records.
type ContextProvider interface {
	GetContext(ctx context.Context, facts *domain.KeyFacts, topK int) (string, []map[string]any, error)
}

// SubmissionChecker accepts an uploaded submission and runs the
// compliance-check pipeline.
type SubmissionChecker interface {
	Submit(ctx context.Context, filename string, data io.Reader) (*domain.Session, error)
	CheckByID(ctx context.Context, sessionID string) error
}

// SessionReader exposes persisted sessions and their reports.
type SessionReader interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
}
