package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"tiernet.org/internal/network"
)

const trackerCols = `t.account_id, t.count, t.paid_count, t.state, t.upline_paid, t.upgrade_date, t.advance, t.created_at, t.updated_at, t.deleted_at, t.version, t.applied`

type trackers struct{ db *sql.DB }

// scanTracker scans the tracker columns after any leading columns in prefix.
func scanTracker(row scanner, prefix ...any) (network.Tracker, error) {
	var (
		t                network.Tracker
		upgrade, deleted sql.NullTime
		advance, applied []byte
	)
	dest := append(prefix, &t.AccountID, &t.Count, &t.PaidCount, &t.State, &t.UplinePaid, &upgrade, &advance,
		&t.CreatedAt, &t.UpdatedAt, &deleted, &t.Version, &applied)
	if err := row.Scan(dest...); err != nil {
		return network.Tracker{}, err
	}
	t.UpgradeDate = timePtr(upgrade)
	t.DeletedAt = timePtr(deleted)
	if len(advance) > 0 {
		var adv network.Advance
		if err := json.Unmarshal(advance, &adv); err != nil {
			return network.Tracker{}, err
		}
		t.Advance = &adv
	}
	var err error
	if t.Applied, err = decodeList(applied); err != nil {
		return network.Tracker{}, err
	}
	return t, nil
}

func encodeAdvance(a *network.Advance) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s trackers) Create(ctx context.Context, t network.Tracker) (network.Tracker, error) {
	advance, err := encodeAdvance(t.Advance)
	if err != nil {
		return network.Tracker{}, err
	}
	applied, err := encodeList(t.Applied)
	if err != nil {
		return network.Tracker{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into trackers (account_id, count, paid_count, state, upline_paid, upgrade_date, advance,
		                      created_at, updated_at, deleted_at, version, applied)
		values ($1, $2, $3, $4, $5, $6, $7, coalesce($8, now()), now(), $9, 1, $10)
		returning created_at, updated_at, version
	`, t.AccountID, t.Count, t.PaidCount, string(t.State), t.UplinePaid, nullTime(t.UpgradeDate), advance,
		createdAt(t.CreatedAt), nullTime(t.DeletedAt), applied)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt, &t.Version); err != nil {
		return network.Tracker{}, classify(err)
	}
	return t, nil
}

func (s trackers) Get(ctx context.Context, accountID string) (network.Tracker, error) {
	t, err := scanTracker(s.db.QueryRowContext(ctx, `select `+trackerCols+` from trackers t where t.account_id = $1`, accountID))
	return t, classify(err)
}

func (s trackers) Update(ctx context.Context, t network.Tracker) (network.Tracker, error) {
	advance, err := encodeAdvance(t.Advance)
	if err != nil {
		return network.Tracker{}, err
	}
	applied, err := encodeList(t.Applied)
	if err != nil {
		return network.Tracker{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update trackers
		set count = $3, paid_count = $4, state = $5, upline_paid = $6, upgrade_date = $7, advance = $8,
		    deleted_at = $9, applied = $10, version = version + 1, updated_at = now()
		where account_id = $1 and version = $2
		returning created_at, updated_at, version
	`, t.AccountID, t.Version, t.Count, t.PaidCount, string(t.State), t.UplinePaid, nullTime(t.UpgradeDate), advance,
		nullTime(t.DeletedAt), applied)
	if err := row.Scan(&t.CreatedAt, &t.UpdatedAt, &t.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return network.Tracker{}, conflictOrMissing(ctx, s.db, "trackers", "account_id", t.AccountID)
		}
		return network.Tracker{}, classify(err)
	}
	return t, nil
}

func (s trackers) Delete(ctx context.Context, accountID string) error {
	return deleteRow(ctx, s.db, "trackers", "account_id", accountID)
}

func (s trackers) UpgradeDue(ctx context.Context, before time.Time) ([]network.Tracker, error) {
	return s.list(ctx, `t.deleted_at is null and t.upgrade_date < $1`, before.UTC())
}

func (s trackers) Stalled(ctx context.Context, paidCount int) ([]network.Tracker, error) {
	return s.list(ctx, `t.deleted_at is null and t.state = 'unachieved' and not t.upline_paid and t.paid_count = $1`, paidCount)
}

func (s trackers) Unsettled(ctx context.Context) ([]network.Tracker, error) {
	return s.list(ctx, `t.advance is not null`)
}

func (s trackers) list(ctx context.Context, cond string, args ...any) ([]network.Tracker, error) {
	rows, err := s.db.QueryContext(ctx, `select `+trackerCols+` from trackers t where `+cond+` order by t.created_at, t.account_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- wallets ---

const walletCols = `account_id, balance, bank_name, account_name, account_number, created_at, updated_at, version, applied`

type wallets struct{ db *sql.DB }

func scanWallet(row scanner) (network.Wallet, error) {
	var (
		w       network.Wallet
		applied []byte
	)
	if err := row.Scan(&w.AccountID, &w.Balance, &w.Payout.BankName, &w.Payout.AccountName, &w.Payout.AccountNumber,
		&w.CreatedAt, &w.UpdatedAt, &w.Version, &applied); err != nil {
		return network.Wallet{}, err
	}
	var err error
	if w.Applied, err = decodeList(applied); err != nil {
		return network.Wallet{}, err
	}
	return w, nil
}

func (s wallets) Create(ctx context.Context, w network.Wallet) (network.Wallet, error) {
	applied, err := encodeList(w.Applied)
	if err != nil {
		return network.Wallet{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into wallets (account_id, balance, bank_name, account_name, account_number, created_at, updated_at, version, applied)
		values ($1, $2, $3, $4, $5, coalesce($6, now()), now(), 1, $7)
		returning created_at, updated_at, version
	`, w.AccountID, w.Balance, w.Payout.BankName, w.Payout.AccountName, w.Payout.AccountNumber, createdAt(w.CreatedAt), applied)
	if err := row.Scan(&w.CreatedAt, &w.UpdatedAt, &w.Version); err != nil {
		return network.Wallet{}, classify(err)
	}
	return w, nil
}

func (s wallets) Get(ctx context.Context, accountID string) (network.Wallet, error) {
	w, err := scanWallet(s.db.QueryRowContext(ctx, `select `+walletCols+` from wallets where account_id = $1`, accountID))
	return w, classify(err)
}

func (s wallets) Update(ctx context.Context, w network.Wallet) (network.Wallet, error) {
	applied, err := encodeList(w.Applied)
	if err != nil {
		return network.Wallet{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update wallets
		set balance = $3, bank_name = $4, account_name = $5, account_number = $6, applied = $7,
		    version = version + 1, updated_at = now()
		where account_id = $1 and version = $2
		returning created_at, updated_at, version
	`, w.AccountID, w.Version, w.Balance, w.Payout.BankName, w.Payout.AccountName, w.Payout.AccountNumber, applied)
	if err := row.Scan(&w.CreatedAt, &w.UpdatedAt, &w.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return network.Wallet{}, conflictOrMissing(ctx, s.db, "wallets", "account_id", w.AccountID)
		}
		return network.Wallet{}, classify(err)
	}
	return w, nil
}

func (s wallets) Delete(ctx context.Context, accountID string) error {
	return deleteRow(ctx, s.db, "wallets", "account_id", accountID)
}

// --- subscriptions ---

const subscriptionCols = `account_id, active, paid, amount, subscription_date, renewals, created_at, updated_at, deleted_at, version, applied`

type subscriptions struct{ db *sql.DB }

func scanSubscription(row scanner) (network.Subscription, error) {
	var (
		sub           network.Subscription
		date, deleted sql.NullTime
		applied       []byte
	)
	if err := row.Scan(&sub.AccountID, &sub.Active, &sub.Paid, &sub.Amount, &date, &sub.Renewals,
		&sub.CreatedAt, &sub.UpdatedAt, &deleted, &sub.Version, &applied); err != nil {
		return network.Subscription{}, err
	}
	sub.Date = timePtr(date)
	sub.DeletedAt = timePtr(deleted)
	var err error
	if sub.Applied, err = decodeList(applied); err != nil {
		return network.Subscription{}, err
	}
	return sub, nil
}

func (s subscriptions) Create(ctx context.Context, sub network.Subscription) (network.Subscription, error) {
	applied, err := encodeList(sub.Applied)
	if err != nil {
		return network.Subscription{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into subscriptions (account_id, active, paid, amount, subscription_date, renewals,
		                           created_at, updated_at, deleted_at, version, applied)
		values ($1, $2, $3, $4, $5, $6, coalesce($7, now()), now(), $8, 1, $9)
		returning created_at, updated_at, version
	`, sub.AccountID, sub.Active, sub.Paid, sub.Amount, nullTime(sub.Date), sub.Renewals,
		createdAt(sub.CreatedAt), nullTime(sub.DeletedAt), applied)
	if err := row.Scan(&sub.CreatedAt, &sub.UpdatedAt, &sub.Version); err != nil {
		return network.Subscription{}, classify(err)
	}
	return sub, nil
}

func (s subscriptions) Get(ctx context.Context, accountID string) (network.Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, `select `+subscriptionCols+` from subscriptions where account_id = $1`, accountID))
	return sub, classify(err)
}

func (s subscriptions) Update(ctx context.Context, sub network.Subscription) (network.Subscription, error) {
	applied, err := encodeList(sub.Applied)
	if err != nil {
		return network.Subscription{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update subscriptions
		set active = $3, paid = $4, amount = $5, subscription_date = $6, renewals = $7, deleted_at = $8,
		    applied = $9, version = version + 1, updated_at = now()
		where account_id = $1 and version = $2
		returning created_at, updated_at, version
	`, sub.AccountID, sub.Version, sub.Active, sub.Paid, sub.Amount, nullTime(sub.Date), sub.Renewals,
		nullTime(sub.DeletedAt), applied)
	if err := row.Scan(&sub.CreatedAt, &sub.UpdatedAt, &sub.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return network.Subscription{}, conflictOrMissing(ctx, s.db, "subscriptions", "account_id", sub.AccountID)
		}
		return network.Subscription{}, classify(err)
	}
	return sub, nil
}

func (s subscriptions) Delete(ctx context.Context, accountID string) error {
	return deleteRow(ctx, s.db, "subscriptions", "account_id", accountID)
}

func (s subscriptions) Paying(ctx context.Context) ([]network.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+subscriptionCols+` from subscriptions
		where active and paid and deleted_at is null
		order by account_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
