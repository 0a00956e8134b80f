package relational

import (
	"context"
	"testing"
	"time"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func TestOpenDoesNotDialUnreachablePostgres(t *testing.T) {
	db, dialect, err := Open(DriverPostgres, "postgres://u:p@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if dialect != PostgresDialect {
		t.Fatalf("expected postgres dialect")
	}

	store := NewStructuredStore(db, dialect)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := store.Ping(ctx); !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable from Ping, got %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, _, err := Open("oracle", "x"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestSQLiteDSNIsReadOnly(t *testing.T) {
	got := sqliteDSN("./data/x.db?cache=shared")
	want := "file:./data/x.db?cache=shared&mode=ro&_pragma=busy_timeout(5000)&_pragma=query_only(1)"
	if got != want {
		t.Fatalf("sqliteDSN() = %q, want %q", got, want)
	}
}
