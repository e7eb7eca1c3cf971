package migrate

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
)

var files = fstest.MapFS{
	"0001_a.up.sql":   {Data: []byte("create table a (x text);")},
	"0001_a.down.sql": {Data: []byte("drop table a;")},
	"0002_b.up.sql":   {Data: []byte("create table b (x text);\ninsert into b values ('a;b');\n")},
	"0002_b.down.sql": {Data: []byte("drop table b;")},
	"README.md":       {Data: []byte("not a migration")},
}

func q(s string) string { return regexp.QuoteMeta(s) }

func expectLock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(q("select pg_advisory_lock($1)")).WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("create table if not exists schema_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
}

func expectUnlock(mock sqlmock.Sqlmock) {
	mock.ExpectExec(q("select pg_advisory_unlock($1)")).WithArgs(sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectLock(mock)
	mock.ExpectQuery(q("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(q("create table b (x text);")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("insert into b values ('a;b');")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("insert into schema_migrations(name, applied_at)")).
		WithArgs("0002_b.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	applied, err := NewManager(db, files).Up(context.Background())
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if len(applied) != 1 || applied[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected applied list %v", applied)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectLock(mock)
	mock.ExpectQuery(q("select name from schema_migrations")).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(q("create table a (x text);")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()
	expectUnlock(mock)

	if _, err := NewManager(db, files).Up(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownRevertsLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectLock(mock)
	mock.ExpectQuery(q("select name from schema_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql").AddRow("0002_b.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(q("drop table b;")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(q("delete from schema_migrations where name = $1")).
		WithArgs("0002_b.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	expectUnlock(mock)

	last, err := NewManager(db, files).Down(context.Background())
	if err != nil {
		t.Fatalf("down: %v", err)
	}
	if last != "0002_b.up.sql" {
		t.Fatalf("reverted %q", last)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDownWithNothingApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	expectLock(mock)
	mock.ExpectQuery(q("select name from schema_migrations")).WillReturnRows(sqlmock.NewRows([]string{"name"}))
	expectUnlock(mock)

	_, err = NewManager(db, files).Down(context.Background())
	if !errors.Is(err, ErrNothingApplied) {
		t.Fatalf("expected ErrNothingApplied, got %v", err)
	}
}

func TestPendingListsUnapplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(q("create table if not exists custom_migrations")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q("select name from custom_migrations")).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))

	pending, err := NewManager(db, files, WithMigrationsTable("custom_migrations")).Pending(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0] != "0002_b.up.sql" {
		t.Fatalf("unexpected pending %v", pending)
	}
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("a;\nb 'x;y';\n  ")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "\nb 'x;y';" {
		t.Fatalf("unexpected second statement %q", got[1])
	}
}
