package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	key_facts JSONB,
	assessments JSONB,
	context_text TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO sessions (
	id, filename, storage_path, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		session.ID, session.Filename, session.StoragePath, string(session.Status),
		session.Error, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, storage_path, status, error_message, key_facts, assessments, context_text, created_at, updated_at
FROM sessions
WHERE id = $1
`, id)

	var session domain.Session
	var status string
	var factsRaw, assessmentsRaw []byte

	err := row.Scan(
		&session.ID, &session.Filename, &session.StoragePath, &status, &session.Error,
		&factsRaw, &assessmentsRaw, &session.Context, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if len(factsRaw) > 0 {
		if err := json.Unmarshal(factsRaw, &session.KeyFacts); err != nil {
			return nil, fmt.Errorf("unmarshal key facts: %w", err)
		}
	}
	if len(assessmentsRaw) > 0 {
		if err := json.Unmarshal(assessmentsRaw, &session.Assessments); err != nil {
			return nil, fmt.Errorf("unmarshal assessments: %w", err)
		}
	}
	session.Status = domain.SessionStatus(status)
	return &session, nil
}

func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE sessions
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrSessionNotFound, "update session status", fmt.Errorf("id %s", id))
	}
	return nil
}

func (r *SessionRepository) SaveResults(ctx context.Context, id string, facts *domain.KeyFacts, assessments []domain.Assessment, contextText string) error {
	factsJSON, err := json.Marshal(facts)
	if err != nil {
		return fmt.Errorf("marshal key facts: %w", err)
	}
	assessmentsJSON, err := json.Marshal(assessments)
	if err != nil {
		return fmt.Errorf("marshal assessments: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
UPDATE sessions
SET key_facts = $2, assessments = $3, context_text = $4, updated_at = $5
WHERE id = $1
`, id, factsJSON, assessmentsJSON, contextText, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save session results: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrSessionNotFound, "save session results", fmt.Errorf("id %s", id))
	}
	return nil
}
