package pg

import (
	"context"
	"database/sql"
	"time"

	"tiernet.org/internal/network"
)

// --- tiers ---

const tierCols = `id, rank, name, members_number, admin_count, member_amount, upgrade_amount, next_upgrade, updated_at`

type tiers struct{ db *sql.DB }

func scanTier(row scanner) (network.Tier, error) {
	var t network.Tier
	err := row.Scan(&t.ID, &t.Rank, &t.Name, &t.MembersNumber, &t.AdminCount, &t.MemberAmount, &t.UpgradeAmount,
		&t.NextUpgrade, &t.UpdatedAt)
	return t, err
}

func (s tiers) List(ctx context.Context) ([]network.Tier, error) {
	rows, err := s.db.QueryContext(ctx, `select `+tierCols+` from tiers order by rank`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Tier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s tiers) Get(ctx context.Context, id string) (network.Tier, error) {
	t, err := scanTier(s.db.QueryRowContext(ctx, `select `+tierCols+` from tiers where id = $1`, id))
	return t, classify(err)
}

// Upsert reports ErrDuplicate when another tier already holds the rank.
func (s tiers) Upsert(ctx context.Context, t network.Tier) (network.Tier, error) {
	out, err := scanTier(s.db.QueryRowContext(ctx, `
		insert into tiers (id, rank, name, members_number, admin_count, member_amount, upgrade_amount, next_upgrade, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
		on conflict (id) do update
		set rank = excluded.rank, name = excluded.name, members_number = excluded.members_number,
		    admin_count = excluded.admin_count, member_amount = excluded.member_amount,
		    upgrade_amount = excluded.upgrade_amount, next_upgrade = excluded.next_upgrade, updated_at = now()
		returning `+tierCols,
		t.ID, t.Rank, t.Name, t.MembersNumber, t.AdminCount, t.MemberAmount, t.UpgradeAmount, t.NextUpgrade))
	return out, classify(err)
}

// --- notifications ---

type notifications struct{ db *sql.DB }

func (s notifications) Create(ctx context.Context, n network.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, account_id, kind, message, read, created_at)
		values ($1, $2, $3, $4, $5, coalesce($6, now()))
		on conflict (id) do nothing
	`, n.ID, n.AccountID, n.Kind, n.Message, n.Read, createdAt(n.CreatedAt))
	return err
}

func (s notifications) List(ctx context.Context, accountID string, limit int) ([]network.Notification, error) {
	w := where{}
	w.add("account_id = ?", accountID)
	q := `select id, account_id, kind, message, read, created_at from notifications` + w.String() +
		` order by created_at desc, id desc` + w.limit(limit)
	rows, err := s.db.QueryContext(ctx, q, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Notification
	for rows.Next() {
		var n network.Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Kind, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s notifications) MarkRead(ctx context.Context, accountID, id string) error {
	res, err := s.db.ExecContext(ctx, `update notifications set read = true where account_id = $1 and id = $2`, accountID, id)
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

func (s notifications) DeleteByAccount(ctx context.Context, accountID string) error {
	_, err := s.db.ExecContext(ctx, `delete from notifications where account_id = $1`, accountID)
	return err
}

// --- cooldowns ---

type cooldowns struct{ db *sql.DB }

func (s cooldowns) Put(ctx context.Context, c network.Cooldown) error {
	_, err := s.db.ExecContext(ctx, `
		insert into cooldowns (candidate_id, expires_at) values ($1, $2)
		on conflict (candidate_id) do update set expires_at = excluded.expires_at
	`, c.CandidateID, c.ExpiresAt.UTC())
	return err
}

func (s cooldowns) Active(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select candidate_id from cooldowns where expires_at > $1 order by candidate_id`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s cooldowns) Prune(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from cooldowns where expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
