package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

type diagnosticsStoreFake struct {
	saved []domain.DiagnosticEvent
	err   error
}

func (f *diagnosticsStoreFake) SaveDiagnostic(_ context.Context, ev domain.DiagnosticEvent) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, ev)
	return nil
}

func TestDiagnosticsRecorderFillsMissingIdentity(t *testing.T) {
	store := &diagnosticsStoreFake{}
	r := NewDiagnosticsRecorder(store, discardLogger())
	fixed := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if err := r.Record(context.Background(), domain.DiagnosticEvent{Kind: string(domain.DiagFieldConflict)}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].ID == "" || !store.saved[0].OccurredAt.Equal(fixed) {
		t.Fatalf("unexpected saved event %+v", store.saved)
	}
}

func TestDiagnosticsRecorderRejectsKindless(t *testing.T) {
	store := &diagnosticsStoreFake{}
	err := NewDiagnosticsRecorder(store, discardLogger()).Record(context.Background(), domain.DiagnosticEvent{ID: "e-1"})
	if !domain.IsKind(err, domain.ErrInvalidInput) || len(store.saved) != 0 {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDiagnosticsRecorderWrapsStoreErrors(t *testing.T) {
	cause := errors.New("db down")
	err := NewDiagnosticsRecorder(&diagnosticsStoreFake{err: cause}, discardLogger()).
		Record(context.Background(), domain.DiagnosticEvent{ID: "e-1", Kind: "field_conflict"})
	if !errors.Is(err, cause) {
		t.Fatalf("expected store error, got %v", err)
	}
}
