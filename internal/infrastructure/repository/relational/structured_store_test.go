package relational

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
)

func feeSpec(t *testing.T) domain.SourceSpec {
	t.Helper()
	spec, ok := domain.DefaultCatalog().Lookup("fee_schedule_entry")
	if !ok {
		t.Fatalf("fee_schedule_entry missing from default catalog")
	}
	return spec
}

func newStoreWithMock(t *testing.T, dialect Dialect) (*StructuredStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewStructuredStore(db, dialect), mock, func() { _ = db.Close() }
}

var feeColumns = []string{"fee_code", "description", "amount", "specialist_fee", "anaesthetist_fee", "requirements", "section"}

func TestBuildLookupPostgresUnionsIdentifiersAndText(t *testing.T) {
	query, args := buildLookup(PostgresDialect, feeSpec(t), domain.StructuredQuery{
		Identifiers: []string{"A135", "C124"},
		Text:        "50%_off",
		Filters:     map[string]string{"section": "GP"},
		Limit:       5,
	})

	want := `SELECT "fee_code", "description", "amount", "specialist_fee", "anaesthetist_fee", "requirements", "section" ` +
		`FROM "ohip_fee_schedule" ` +
		`WHERE ("fee_code" IN ($1, $2) OR "description" ILIKE $3 ESCAPE '\' OR "requirements" ILIKE $4 ESCAPE '\') ` +
		`AND CAST("section" AS TEXT) = $5 LIMIT $6`
	if query != want {
		t.Fatalf("unexpected query:\n got: %s\nwant: %s", query, want)
	}
	wantArgs := []any{"A135", "C124", `%50\%\_off%`, `%50\%\_off%`, "GP", 5}
	if !reflect.DeepEqual(args, wantArgs) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestBuildLookupSQLiteFilterOnly(t *testing.T) {
	query, args := buildLookup(SQLiteDialect, feeSpec(t), domain.StructuredQuery{
		Filters: map[string]string{"specialty": "00", "section": "GP"},
	})
	want := `SELECT "fee_code", "description", "amount", "specialist_fee", "anaesthetist_fee", "requirements", "section" ` +
		`FROM "ohip_fee_schedule" WHERE CAST("section" AS TEXT) = ? AND CAST("specialty" AS TEXT) = ? LIMIT ?`
	if query != want {
		t.Fatalf("unexpected query:\n got: %s\nwant: %s", query, want)
	}
	if !reflect.DeepEqual(args, []any{"GP", "00", defaultLookupLimit}) {
		t.Fatalf("unexpected args %v", args)
	}
}

func TestLookupScansRowsWithExplicitMissingValues(t *testing.T) {
	store, mock, done := newStoreWithMock(t, PostgresDialect)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "ohip_fee_schedule" WHERE ("fee_code" IN ($1))`)).
		WithArgs("C124", defaultLookupLimit).
		WillReturnRows(sqlmock.NewRows(feeColumns).
			AddRow("c124", "Hospital discharge", 31.35, nil, nil, "", "GP"))

	rows, err := store.Lookup(context.Background(), feeSpec(t), domain.StructuredQuery{Identifiers: []string{"C124"}})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Key != "C124" || row.SourceType != "fee_schedule_entry" {
		t.Fatalf("unexpected identity %s/%s", row.SourceType, row.Key)
	}
	if amount, ok := row.Fields["amount"].Number(); !ok || amount != 31.35 {
		t.Fatalf("unexpected amount %+v", row.Fields["amount"])
	}
	if !row.Fields["specialist_fee"].Missing || !row.Fields["requirements"].Missing {
		t.Fatalf("null and blank columns must be marked missing: %+v", row.Fields)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLookupMapsUndefinedTable(t *testing.T) {
	store, mock, done := newStoreWithMock(t, PostgresDialect)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "ohip_fee_schedule"`)).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "ohip_fee_schedule" does not exist`})

	_, err := store.Lookup(context.Background(), feeSpec(t), domain.StructuredQuery{Text: "visit"})
	if !domain.IsKind(err, domain.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestLookupMapsSQLiteMissingTable(t *testing.T) {
	store, mock, done := newStoreWithMock(t, SQLiteDialect)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "ohip_fee_schedule"`)).
		WillReturnError(errors.New("SQL logic error: no such table: ohip_fee_schedule (1)"))

	_, err := store.Lookup(context.Background(), feeSpec(t), domain.StructuredQuery{Text: "visit"})
	if !domain.IsKind(err, domain.ErrTableNotFound) {
		t.Fatalf("expected ErrTableNotFound, got %v", err)
	}
}

func TestLookupMapsConnectionFailure(t *testing.T) {
	store, mock, done := newStoreWithMock(t, PostgresDialect)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "ohip_fee_schedule"`)).
		WillReturnError(errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))

	_, err := store.Lookup(context.Background(), feeSpec(t), domain.StructuredQuery{Text: "visit"})
	if !domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestLookupKeepsDeadlineDistinct(t *testing.T) {
	store, mock, done := newStoreWithMock(t, PostgresDialect)
	defer done()

	mock.ExpectQuery(regexp.QuoteMeta(`FROM "ohip_fee_schedule"`)).
		WillReturnError(context.DeadlineExceeded)

	_, err := store.Lookup(context.Background(), feeSpec(t), domain.StructuredQuery{Text: "visit"})
	if !errors.Is(err, context.DeadlineExceeded) || domain.IsKind(err, domain.ErrBackendUnavailable) {
		t.Fatalf("expected bare deadline error, got %v", err)
	}
}

func TestClassifyStoreErrorIgnoresMissingTable(t *testing.T) {
	if c := classifyStoreError(&pgconn.PgError{Code: "42P01"}); c.RecordFailure {
		t.Fatalf("missing table must not count against the breaker")
	}
	if c := classifyStoreError(errors.New("connection reset")); !c.RecordFailure || c.Retryable {
		t.Fatalf("unexpected classification %+v", c)
	}
}
