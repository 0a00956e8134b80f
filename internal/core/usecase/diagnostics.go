package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/core/ports"
)

// DiagnosticsRecorder persists diagnostic events delivered to the worker.
type DiagnosticsRecorder struct {
	store  ports.DiagnosticsStore
	logger *slog.Logger
	now    func() time.Time
}

func NewDiagnosticsRecorder(store ports.DiagnosticsStore, logger *slog.Logger) *DiagnosticsRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticsRecorder{store: store, logger: logger, now: time.Now}
}

func (r *DiagnosticsRecorder) Record(ctx context.Context, ev domain.DiagnosticEvent) error {
	if strings.TrimSpace(ev.Kind) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record diagnostic", fmt.Errorf("event %q has no kind", ev.ID))
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.now().UTC()
	}
	if err := r.store.SaveDiagnostic(ctx, ev); err != nil {
		return fmt.Errorf("save diagnostic %s: %w", ev.ID, err)
	}
	r.logger.Debug("diagnostic_recorded", "event_id", ev.ID, "kind", ev.Kind, "request_id", ev.RequestID)
	return nil
}
