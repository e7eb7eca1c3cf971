// Package pg implements network.Store on PostgreSQL through the pgx database/sql
// driver. Every write touches one row; updates compare the stored version.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tiernet.org/internal/network"
)

const pgErrUniqueViolation = "23505"

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations of this store.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

type Store struct {
	db *sql.DB
}

var _ network.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ready pings the database.
func (s *Store) Ready(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Accounts() network.AccountStore           { return accounts{s.db} }
func (s *Store) Profiles() network.ProfileStore           { return profiles{s.db} }
func (s *Store) Tiers() network.TierStore                 { return tiers{s.db} }
func (s *Store) Trackers() network.TrackerStore           { return trackers{s.db} }
func (s *Store) Wallets() network.WalletStore             { return wallets{s.db} }
func (s *Store) Entries() network.EntryStore              { return entries{s.db} }
func (s *Store) Subscriptions() network.SubscriptionStore { return subscriptions{s.db} }
func (s *Store) Notifications() network.NotificationStore { return notifications{s.db} }
func (s *Store) Cooldowns() network.CooldownStore         { return cooldowns{s.db} }

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// classify maps driver errors onto the store sentinels.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return network.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return network.ErrDuplicate
	}
	return err
}

// conflictOrMissing decides why a versioned update matched no row.
func conflictOrMissing(ctx context.Context, db *sql.DB, table, keyCol, key string) error {
	var one int
	err := db.QueryRowContext(ctx, fmt.Sprintf(`select 1 from %s where %s = $1`, table, keyCol), key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return network.ErrNotFound
	}
	if err != nil {
		return err
	}
	return network.ErrVersionConflict
}

func deleteRow(ctx context.Context, db *sql.DB, table, keyCol, key string) error {
	res, err := db.ExecContext(ctx, fmt.Sprintf(`delete from %s where %s = $1`, table, keyCol), key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return network.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// createdAt lets the database stamp records created without a preset time.
func createdAt(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(b), nil
}

func decodeList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode list: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// where accumulates filter clauses and their positional arguments.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	for _, a := range args {
		w.args = append(w.args, a)
		clause = strings.Replace(clause, "?", fmt.Sprintf("$%d", len(w.args)), 1)
	}
	w.clauses = append(w.clauses, clause)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " where " + strings.Join(w.clauses, " and ")
}

func (w *where) limit(n int) string {
	if n <= 0 {
		return ""
	}
	w.args = append(w.args, n)
	return fmt.Sprintf(" limit $%d", len(w.args))
}
