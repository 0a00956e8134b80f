package relational

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

const defaultLookupLimit = 50

type StructuredStore struct {
	db       *sql.DB
	dialect  Dialect
	executor *resilience.Executor
	logger   *slog.Logger
}

type StoreOption func(*StructuredStore)

func WithExecutor(executor *resilience.Executor) StoreOption {
	return func(s *StructuredStore) { s.executor = executor }
}

func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *StructuredStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewStructuredStore(db *sql.DB, dialect Dialect, opts ...StoreOption) *StructuredStore {
	s := &StructuredStore{db: db, dialect: dialect, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StructuredStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.WrapError(domain.ErrBackendUnavailable, "structured store ping", err)
	}
	return nil
}

// Lookup selects rows of spec's table matching any identifier or the text
// query, restricted by the equality filters.
func (s *StructuredStore) Lookup(ctx context.Context, spec domain.SourceSpec, q domain.StructuredQuery) ([]domain.StructuredRow, error) {
	query, args := buildLookup(s.dialect, spec, q)
	var out []domain.StructuredRow
	run := func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = scanRows(rows, spec)
		return err
	}

	var err error
	if s.executor != nil {
		err = s.executor.Execute(ctx, "relational.lookup", run, classifyStoreError)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, mapStoreError(spec, err)
	}
	s.logger.Debug("structured_lookup", "source_type", spec.Name, "rows", len(out))
	return out, nil
}

func buildLookup(d Dialect, spec domain.SourceSpec, q domain.StructuredQuery) (string, []any) {
	cols := spec.Columns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}

	var (
		args  []any
		match []string
		where []string
	)
	next := func(v any) string {
		args = append(args, v)
		return d.Placeholder(len(args))
	}

	if len(q.Identifiers) > 0 {
		ph := make([]string, len(q.Identifiers))
		for i, id := range q.Identifiers {
			ph[i] = next(id)
		}
		match = append(match, fmt.Sprintf("%s IN (%s)", quoteIdent(spec.KeyField), strings.Join(ph, ", ")))
	}
	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := containsPattern(text)
		for _, col := range spec.TextColumns {
			match = append(match, fmt.Sprintf(`%s %s %s ESCAPE '\'`, quoteIdent(col), d.CaseInsensitiveLike, next(pattern)))
		}
	}
	if len(match) > 0 {
		where = append(where, "("+strings.Join(match, " OR ")+")")
	}

	fields := make([]string, 0, len(q.Filters))
	for f := range q.Filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		where = append(where, fmt.Sprintf("CAST(%s AS TEXT) = %s", quoteIdent(f), next(q.Filters[f])))
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLookupLimit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(quoted, ", "), quoteIdent(spec.Table))
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" LIMIT ")
	b.WriteString(next(limit))
	return b.String(), args
}

func scanRows(rows *sql.Rows, spec domain.SourceSpec) ([]domain.StructuredRow, error) {
	cols := spec.Columns()
	var out []domain.StructuredRow
	for rows.Next() {
		dest := make([]any, len(cols))
		for i, c := range cols {
			if spec.IsNumber(c) {
				dest[i] = new(sql.NullFloat64)
			} else {
				dest[i] = new(sql.NullString)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", spec.Table, err)
		}

		row := domain.StructuredRow{
			SourceType: spec.Name,
			Fields:     make(map[string]domain.FieldValue, len(cols)-1),
		}
		if key := dest[0].(*sql.NullString); key.Valid {
			row.Key = spec.NormalizeKey(key.String)
		}
		for i, c := range cols[1:] {
			switch v := dest[i+1].(type) {
			case *sql.NullFloat64:
				if v.Valid {
					row.Fields[c] = domain.NumberValue(v.Float64)
				} else {
					row.Fields[c] = domain.MissingValue()
				}
			case *sql.NullString:
				if s := strings.TrimSpace(v.String); v.Valid && s != "" {
					row.Fields[c] = domain.TextValue(s)
				} else {
					row.Fields[c] = domain.MissingValue()
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", spec.Table, err)
	}
	return out, nil
}
