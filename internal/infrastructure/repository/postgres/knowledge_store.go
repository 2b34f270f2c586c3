package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/opn-tools/permit-assistant/internal/core/domain"
)

// KnowledgeStore serves the vectorized rule knowledge base. It implements
// the retrieval engine's optional capabilities: nearest-neighbour search
// over pgvector, full-text search over a generated tsvector column, and
// embedding lookup for MMR diversity.
type KnowledgeStore struct {
	db *sql.DB
}

func NewKnowledgeStore(db *sql.DB) *KnowledgeStore {
	return &KnowledgeStore{db: db}
}

const embeddingDims = 768

func (s *KnowledgeStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082802)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS vektorizirano_znanje (
	id TEXT PRIMARY KEY,
	vir TEXT NOT NULL DEFAULT '',
	clen TEXT NOT NULL DEFAULT '',
	odstavek TEXT NOT NULL DEFAULT '',
	stran TEXT NOT NULL DEFAULT '',
	eup TEXT NOT NULL DEFAULT '',
	namenska_raba TEXT NOT NULL DEFAULT '',
	leto TEXT NOT NULL DEFAULT '',
	vsebina TEXT NOT NULL,
	vektor vector(%d),
	tsv TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', coalesce(vsebina, ''))) STORED
);

CREATE INDEX IF NOT EXISTS idx_znanje_tsv ON vektorizirano_znanje USING GIN (tsv);
`, embeddingDims)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SearchByVector runs nearest-neighbour search, reporting similarity as
// 1/(1+distance) so larger is better.
func (s *KnowledgeStore) SearchByVector(ctx context.Context, embedding []float32, limit int) ([]map[string]any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	literal := vectorLiteral(embedding)

	rows, err := s.db.QueryContext(ctx, `
SELECT id, vir, clen, odstavek, stran, eup, namenska_raba, leto, vsebina,
       1.0 / (1.0 + (vektor <-> $1::vector)) AS similarity
FROM vektorizirano_znanje
WHERE vektor IS NOT NULL
ORDER BY vektor <-> $1::vector
LIMIT $2
`, literal, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return scanKnowledgeRows(rows, "similarity")
}

// SearchByKeyword runs full-text search over the fragment contents.
func (s *KnowledgeStore) SearchByKeyword(ctx context.Context, query string, limit int) ([]map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, vir, clen, odstavek, stran, eup, namenska_raba, leto, vsebina,
       ts_rank(tsv, plainto_tsquery('simple', $1)) AS rank
FROM vektorizirano_znanje
WHERE tsv @@ plainto_tsquery('simple', $1)
ORDER BY rank DESC
LIMIT $2
`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	return scanKnowledgeRows(rows, "rank")
}

// EmbeddingsForIDs resolves stored embeddings for the given fragment ids.
func (s *KnowledgeStore) EmbeddingsForIDs(ctx context.Context, ids []string) (map[string][]float32, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
SELECT id, vektor::text
FROM vektorizirano_znanje
WHERE vektor IS NOT NULL AND id IN (%s)
`, strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("embedding lookup: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32, len(ids))
	for rows.Next() {
		var id, literal string
		if err := rows.Scan(&id, &literal); err != nil {
			return nil, fmt.Errorf("scan embedding row: %w", err)
		}
		vector, err := parseVectorLiteral(literal)
		if err != nil {
			return nil, fmt.Errorf("parse embedding for %s: %w", id, err)
		}
		out[id] = vector
	}
	return out, rows.Err()
}

// UpsertFragment stores or refreshes one vectorized fragment.
func (s *KnowledgeStore) UpsertFragment(ctx context.Context, fragment domain.Fragment, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO vektorizirano_znanje (id, vir, clen, odstavek, stran, eup, namenska_raba, leto, vsebina, vektor)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::vector)
ON CONFLICT (id) DO UPDATE SET
	vir = EXCLUDED.vir,
	clen = EXCLUDED.clen,
	odstavek = EXCLUDED.odstavek,
	stran = EXCLUDED.stran,
	eup = EXCLUDED.eup,
	namenska_raba = EXCLUDED.namenska_raba,
	leto = EXCLUDED.leto,
	vsebina = EXCLUDED.vsebina,
	vektor = EXCLUDED.vektor
`,
		fragment.ID, fragment.Source, fragment.Article, fragment.Paragraph, fragment.Page,
		fragment.ZoneUnit, fragment.LandUse, fragment.Year, fragment.Text, vectorLiteral(embedding),
	)
	if err != nil {
		return fmt.Errorf("upsert fragment: %w", err)
	}
	return nil
}

func scanKnowledgeRows(rows *sql.Rows, scoreKey string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, 16)
	for rows.Next() {
		var id, vir, clen, odstavek, stran, eup, raba, leto, vsebina string
		var score float64
		if err := rows.Scan(&id, &vir, &clen, &odstavek, &stran, &eup, &raba, &leto, &vsebina, &score); err != nil {
			return nil, fmt.Errorf("scan knowledge row: %w", err)
		}
		out = append(out, map[string]any{
			"id":            id,
			"vir":           vir,
			"clen":          clen,
			"odstavek":      odstavek,
			"stran":         stran,
			"eup":           eup,
			"namenska_raba": raba,
			"leto":          leto,
			"vsebina":       vsebina,
			scoreKey:        score,
		})
	}
	return out, rows.Err()
}

// vectorLiteral renders the pgvector text format, e.g. [0.1,0.2].
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, value := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(value), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func parseVectorLiteral(literal string) ([]float32, error) {
	trimmed := strings.TrimSpace(literal)
	trimmed = strings.TrimPrefix(trimmed, "[")
	trimmed = strings.TrimSuffix(trimmed, "]")
	if trimmed == "" {
		return nil, nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]float32, 0, len(parts))
	for _, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("vector element %q: %w", part, err)
		}
		out = append(out, float32(value))
	}
	return out, nil
}
