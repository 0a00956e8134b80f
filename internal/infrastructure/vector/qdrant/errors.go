package qdrant

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

// mapGRPCError translates gRPC failures into domain error kinds. Deadline
// and cancellation statuses are rewrapped around the context errors so
// callers can tell a timeout from an outage.
func mapGRPCError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, domain.ErrBackendUnavailable) {
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return domain.WrapError(domain.ErrCollectionNotFound, op, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %v", op, context.DeadlineExceeded, err)
	case codes.Canceled:
		return fmt.Errorf("%s: %w: %v", op, context.Canceled, err)
	case codes.InvalidArgument:
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	default:
		return domain.WrapError(domain.ErrBackendUnavailable, op, err)
	}
}

// classifyQdrantError keeps missing collections and bad requests out of
// the breaker's failure count.
func classifyQdrantError(err error) resilience.ErrorClassification {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.Canceled, codes.DeadlineExceeded:
		return resilience.ErrorClassification{}
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}
