package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
	"github.com/opn-tools/permit-assistant/internal/core/ports"
)

// noContextNote is what the assessor sees when retrieval produced nothing.
// An empty context is a degraded-but-valid state, never a failed check.
const noContextNote = "Ni neposredno ustreznih določb v bazi znanja."

type CheckSubmissionUseCase struct {
	sessions  ports.SessionStore
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	facts     ports.FactExtractor
	catalog   *Catalog
	retriever ports.ContextProvider
	assessor  ports.ComplianceAssessor
	logger    *slog.Logger
	topK      int
}

func NewCheckSubmissionUseCase(
	sessions ports.SessionStore,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	facts ports.FactExtractor,
	catalog *Catalog,
	retriever ports.ContextProvider,
	assessor ports.ComplianceAssessor,
	logger *slog.Logger,
	topK int,
) *CheckSubmissionUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 12
	}
	return &CheckSubmissionUseCase{
		sessions:  sessions,
		storage:   storage,
		extractor: extractor,
		facts:     facts,
		catalog:   catalog,
		retriever: retriever,
		assessor:  assessor,
		logger:    logger,
		topK:      topK,
	}
}

// Submit stores the uploaded submission and creates its session record.
func (uc *CheckSubmissionUseCase) Submit(ctx context.Context, filename string, data io.Reader) (*domain.Session, error) {
	id := uuid.NewString()
	storageKey := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageKey, data); err != nil {
		return nil, fmt.Errorf("save submission: %w", err)
	}

	session := &domain.Session{
		ID:          id,
		Filename:    filename,
		StoragePath: storageKey,
		Status:      domain.SessionUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// CheckByID runs the compliance pipeline over a stored submission:
// extract text, extract key facts, assemble applicable requirements,
// retrieve regulatory context, assess each requirement, persist results.
func (uc *CheckSubmissionUseCase) CheckByID(ctx context.Context, sessionID string) error {
	if err := uc.sessions.UpdateStatus(ctx, sessionID, domain.SessionProcessing, ""); err != nil {
		return fmt.Errorf("set status=processing: %w", err)
	}

	if err := uc.runPipeline(ctx, sessionID); err != nil {
		if failErr := uc.sessions.UpdateStatus(ctx, sessionID, domain.SessionFailed, err.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", err, failErr)
		}
		return err
	}
	return nil
}

func (uc *CheckSubmissionUseCase) runPipeline(ctx context.Context, sessionID string) error {
	session, err := uc.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	text, err := uc.extractor.Extract(ctx, session)
	if err != nil {
		return fmt.Errorf("extract submission text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "extract submission text",
			fmt.Errorf("submission %s contains no extractable text", session.Filename))
	}

	facts, err := uc.facts.ExtractKeyFacts(ctx, text)
	if err != nil {
		return fmt.Errorf("extract key facts: %w", err)
	}

	requirements := uc.catalog.Assemble(facts)
	contextText := uc.retrieveContext(ctx, facts)

	assessments := make([]domain.Assessment, 0, len(requirements))
	for _, req := range requirements {
		assessment, err := uc.assessor.AssessRequirement(ctx, req, facts, contextText)
		if err != nil {
			uc.logger.Warn("requirement assessment failed",
				"session_id", sessionID, "requirement_id", req.ID, "error", err)
			assessment = domain.Assessment{
				RequirementID: req.ID,
				Topic:         req.Topic,
				Status:        domain.AssessmentNoData,
				Reasoning:     "Ocena ni bila mogoča: " + err.Error(),
			}
		}
		assessments = append(assessments, assessment)
	}

	if err := uc.sessions.SaveResults(ctx, sessionID, facts, assessments, contextText); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	if err := uc.sessions.UpdateStatus(ctx, sessionID, domain.SessionReady, ""); err != nil {
		return fmt.Errorf("set status=ready: %w", err)
	}
	return nil
}

// retrieveContext degrades to the no-context note on everything except a
// caller bug: the check continues with reduced grounding rather than
// aborting the whole workflow.
func (uc *CheckSubmissionUseCase) retrieveContext(ctx context.Context, facts *domain.KeyFacts) string {
	contextText, rows, err := uc.retriever.GetContext(ctx, facts, uc.topK)
	if err != nil {
		uc.logger.Warn("context retrieval degraded", "error", err)
		return noContextNote
	}
	if contextText == "" {
		uc.logger.Info("no matching rule passages found")
		return noContextNote
	}
	uc.logger.Info("retrieved regulatory context", "rows", len(rows))
	return contextText
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "submission.pdf"
	}
	return base
}
