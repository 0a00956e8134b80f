package relational

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

// DiagnosticsRepository stores retrieval diagnostics in postgres. It is
// the only writer in this service and never touches source tables.
type DiagnosticsRepository struct {
	db *sql.DB
}

func NewDiagnosticsRepository(db *sql.DB) *DiagnosticsRepository {
	return &DiagnosticsRepository{db: db}
}

func (r *DiagnosticsRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker replicas.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS retrieval_diagnostics (
	id TEXT PRIMARY KEY,
	request_id TEXT,
	kind TEXT NOT NULL,
	source TEXT,
	source_type TEXT,
	entity_key TEXT,
	chunk_id TEXT,
	detail TEXT,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_retrieval_diagnostics_kind ON retrieval_diagnostics(kind);
CREATE INDEX IF NOT EXISTS idx_retrieval_diagnostics_occurred_at ON retrieval_diagnostics(occurred_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveDiagnostic is idempotent on the event id so redelivered messages are
// harmless.
func (r *DiagnosticsRepository) SaveDiagnostic(ctx context.Context, ev domain.DiagnosticEvent) error {
	if ev.ID == "" || ev.Kind == "" {
		return domain.WrapError(domain.ErrInvalidInput, "save diagnostic", fmt.Errorf("id and kind are required"))
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO retrieval_diagnostics (
	id, request_id, kind, source, source_type, entity_key, chunk_id, detail, occurred_at, recorded_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING
`,
		ev.ID, ev.RequestID, ev.Kind, string(ev.Source), ev.SourceType, ev.Key, ev.ChunkID, ev.Detail,
		occurred, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert diagnostic: %w", err)
	}
	return nil
}

// CountByKind summarises diagnostics recorded since the given time.
func (r *DiagnosticsRepository) CountByKind(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT kind, COUNT(*)
FROM retrieval_diagnostics
WHERE occurred_at >= $1
GROUP BY kind
`, since)
	if err != nil {
		return nil, fmt.Errorf("count diagnostics: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan diagnostic count: %w", err)
		}
		out[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostic counts: %w", err)
	}
	return out, nil
}
