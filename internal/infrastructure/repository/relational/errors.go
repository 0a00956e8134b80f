package relational

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

const pgUndefinedTable = "42P01"

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUndefinedTable
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}

// classifyStoreError decides what counts against the breaker. A missing
// table is a configuration problem, not an outage.
func classifyStoreError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if isUndefinedTable(err) {
		return resilience.ErrorClassification{}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

func mapStoreError(spec domain.SourceSpec, err error) error {
	op := "lookup " + spec.Table
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case domain.KindOf(err) != nil:
		return fmt.Errorf("%s: %w", op, err)
	case isUndefinedTable(err):
		return domain.WrapError(domain.ErrTableNotFound, op, err)
	default:
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	}
}
