package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"tiernet.org/internal/network"
)

const entryCols = `id, pair_id, owner_id, ref_id, type, status, reason, amount, tier_id, created_at, updated_at, version`

type entries struct{ db *sql.DB }

func scanEntry(row scanner) (network.Entry, error) {
	var (
		e    network.Entry
		tier sql.NullString
	)
	if err := row.Scan(&e.ID, &e.PairID, &e.OwnerID, &e.RefID, &e.Type, &e.Status, &e.Reason, &e.Amount, &tier,
		&e.CreatedAt, &e.UpdatedAt, &e.Version); err != nil {
		return network.Entry{}, err
	}
	e.TierID = tier.String
	return e, nil
}

// Create relies on the partial unique index over pending entries to reject a second
// pending entry with the same owner, counterpart, side and reason.
func (s entries) Create(ctx context.Context, e network.Entry) (network.Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into entries (id, pair_id, owner_id, ref_id, type, status, reason, amount, tier_id, created_at, updated_at, version)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, coalesce($10, now()), now(), 1)
		returning created_at, updated_at, version
	`, e.ID, e.PairID, e.OwnerID, e.RefID, string(e.Type), string(e.Status), string(e.Reason), e.Amount,
		nullIfEmpty(e.TierID), createdAt(e.CreatedAt))
	if err := row.Scan(&e.CreatedAt, &e.UpdatedAt, &e.Version); err != nil {
		return network.Entry{}, classify(err)
	}
	e.Applied = nil
	return e, nil
}

func (s entries) Get(ctx context.Context, id string) (network.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `select `+entryCols+` from entries where id = $1`, id))
	return e, classify(err)
}

// Update moves the status only; every other column is fixed at creation.
func (s entries) Update(ctx context.Context, e network.Entry) (network.Entry, error) {
	out, err := scanEntry(s.db.QueryRowContext(ctx, `
		update entries
		set status = $3, version = version + 1, updated_at = now()
		where id = $1 and version = $2
		returning `+entryCols, e.ID, e.Version, string(e.Status)))
	if errors.Is(err, sql.ErrNoRows) {
		return network.Entry{}, conflictOrMissing(ctx, s.db, "entries", "id", e.ID)
	}
	return out, classify(err)
}

func (s entries) Pair(ctx context.Context, pairID string) ([]network.Entry, error) {
	return s.query(ctx, `select `+entryCols+` from entries where pair_id = $1 order by created_at, id`, pairID)
}

func (s entries) FindPending(ctx context.Context, k network.PendingKey) (network.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `
		select `+entryCols+` from entries
		where owner_id = $1 and ref_id = $2 and type = $3 and reason = $4 and status = 'pending'
	`, k.OwnerID, k.RefID, string(k.Type), string(k.Reason)))
	return e, classify(err)
}

func (s entries) List(ctx context.Context, f network.EntryFilter) ([]network.Entry, error) {
	w := filterEntries(f)
	q := `select ` + entryCols + ` from entries` + w.String() + ` order by created_at, id`
	q += w.limit(f.Limit)
	return s.query(ctx, q, w.args...)
}

func (s entries) Count(ctx context.Context, f network.EntryFilter) (int, error) {
	w := filterEntries(f)
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from entries`+w.String(), w.args...).Scan(&n)
	return n, err
}

func filterEntries(f network.EntryFilter) *where {
	w := &where{}
	if f.OwnerID != "" {
		w.add("owner_id = ?", f.OwnerID)
	}
	if f.Status != "" {
		w.add("status = ?", string(f.Status))
	}
	if len(f.Reasons) > 0 {
		marks := make([]string, len(f.Reasons))
		args := make([]any, len(f.Reasons))
		for i, r := range f.Reasons {
			marks[i] = "?"
			args[i] = string(r)
		}
		w.add("reason in ("+strings.Join(marks, ", ")+")", args...)
	}
	if !f.CreatedBefore.IsZero() {
		w.add("created_at < ?", f.CreatedBefore.UTC())
	}
	return w
}

func (s entries) query(ctx context.Context, q string, args ...any) ([]network.Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
