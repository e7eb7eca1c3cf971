package pg

import (
	"context"
	"database/sql"
	"errors"

	"tiernet.org/internal/network"
)

const accountCols = `a.id, a.email, a.role, a.tier_id, a.created_at, a.updated_at, a.deleted_at, a.version, a.applied`

type accounts struct{ db *sql.DB }

func scanAccount(row scanner) (network.Account, error) {
	var (
		a       network.Account
		tier    sql.NullString
		deleted sql.NullTime
		applied []byte
	)
	if err := row.Scan(&a.ID, &a.Email, &a.Role, &tier, &a.CreatedAt, &a.UpdatedAt, &deleted, &a.Version, &applied); err != nil {
		return network.Account{}, err
	}
	a.TierID = tier.String
	a.DeletedAt = timePtr(deleted)
	list, err := decodeList(applied)
	if err != nil {
		return network.Account{}, err
	}
	a.Applied = list
	return a, nil
}

func (s accounts) Create(ctx context.Context, a network.Account) (network.Account, error) {
	applied, err := encodeList(a.Applied)
	if err != nil {
		return network.Account{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into accounts (id, email, role, tier_id, created_at, updated_at, deleted_at, version, applied)
		values ($1, $2, $3, $4, coalesce($5, now()), now(), $6, 1, $7)
		returning created_at, updated_at, version
	`, a.ID, a.Email, string(a.Role), nullIfEmpty(a.TierID), createdAt(a.CreatedAt), nullTime(a.DeletedAt), applied)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt, &a.Version); err != nil {
		return network.Account{}, classify(err)
	}
	return a, nil
}

func (s accounts) Get(ctx context.Context, id string) (network.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `select `+accountCols+` from accounts a where a.id = $1`, id))
	return a, classify(err)
}

func (s accounts) Update(ctx context.Context, a network.Account) (network.Account, error) {
	applied, err := encodeList(a.Applied)
	if err != nil {
		return network.Account{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update accounts
		set email = $3, role = $4, tier_id = $5, deleted_at = $6, applied = $7,
		    version = version + 1, updated_at = now()
		where id = $1 and version = $2
		returning created_at, updated_at, version
	`, a.ID, a.Version, a.Email, string(a.Role), nullIfEmpty(a.TierID), nullTime(a.DeletedAt), applied)
	if err := row.Scan(&a.CreatedAt, &a.UpdatedAt, &a.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return network.Account{}, conflictOrMissing(ctx, s.db, "accounts", "id", a.ID)
		}
		return network.Account{}, classify(err)
	}
	return a, nil
}

func (s accounts) Delete(ctx context.Context, id string) error {
	return deleteRow(ctx, s.db, "accounts", "id", id)
}

func (s accounts) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `select count(*) from accounts`).Scan(&n)
	return n, err
}

func (s accounts) List(ctx context.Context, f network.AccountFilter) ([]network.Account, error) {
	var w where
	if f.Role != "" {
		w.add("a.role = ?", string(f.Role))
	}
	if f.LiveOnly {
		w.add("a.deleted_at is null")
	}
	if !f.CreatedBefore.IsZero() {
		w.add("a.created_at < ?", f.CreatedBefore.UTC())
	}
	rows, err := s.db.QueryContext(ctx, `select `+accountCols+` from accounts a`+w.String()+` order by a.created_at, a.id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s accounts) Candidates(ctx context.Context, f network.CandidateFilter) ([]network.Candidate, error) {
	w := where{}
	w.add("a.deleted_at is null")
	w.add("t.deleted_at is null")
	if f.Role != "" {
		w.add("a.role = ?", string(f.Role))
	}
	if !f.AnyTier {
		w.add("coalesce(a.tier_id, '') = ?", f.TierID)
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+accountCols+`, `+trackerCols+`
		from accounts a
		join trackers t on t.account_id = a.id`+w.String()+`
		order by a.created_at, a.id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Candidate
	for rows.Next() {
		var (
			a       network.Account
			tier    sql.NullString
			deleted sql.NullTime
			applied []byte
		)
		t, err := scanTracker(rows, &a.ID, &a.Email, &a.Role, &tier, &a.CreatedAt, &a.UpdatedAt, &deleted, &a.Version, &applied)
		if err != nil {
			return nil, err
		}
		a.TierID = tier.String
		a.DeletedAt = timePtr(deleted)
		if a.Applied, err = decodeList(applied); err != nil {
			return nil, err
		}
		out = append(out, network.Candidate{Account: a, Tracker: t})
	}
	return out, rows.Err()
}

// --- profiles ---

const profileCols = `account_id, first_name, last_name, handle, parent_id, parents, placing, created_at, updated_at, deleted_at, version, applied`

type profiles struct{ db *sql.DB }

func scanProfile(row scanner) (network.Profile, error) {
	var (
		p                network.Profile
		parent           sql.NullString
		deleted          sql.NullTime
		parents, applied []byte
	)
	if err := row.Scan(&p.AccountID, &p.FirstName, &p.LastName, &p.Handle, &parent, &parents, &p.Placing,
		&p.CreatedAt, &p.UpdatedAt, &deleted, &p.Version, &applied); err != nil {
		return network.Profile{}, err
	}
	p.ParentID = parent.String
	p.DeletedAt = timePtr(deleted)
	var err error
	if p.Parents, err = decodeList(parents); err != nil {
		return network.Profile{}, err
	}
	if p.Applied, err = decodeList(applied); err != nil {
		return network.Profile{}, err
	}
	return p, nil
}

func (s profiles) Create(ctx context.Context, p network.Profile) (network.Profile, error) {
	parents, err := encodeList(p.Parents)
	if err != nil {
		return network.Profile{}, err
	}
	applied, err := encodeList(p.Applied)
	if err != nil {
		return network.Profile{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		insert into profiles (account_id, first_name, last_name, handle, parent_id, parents, placing,
		                      created_at, updated_at, deleted_at, version, applied)
		values ($1, $2, $3, $4, $5, $6, $7, coalesce($8, now()), now(), $9, 1, $10)
		returning created_at, updated_at, version
	`, p.AccountID, p.FirstName, p.LastName, p.Handle, nullIfEmpty(p.ParentID), parents, p.Placing,
		createdAt(p.CreatedAt), nullTime(p.DeletedAt), applied)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt, &p.Version); err != nil {
		return network.Profile{}, classify(err)
	}
	return p, nil
}

func (s profiles) Get(ctx context.Context, accountID string) (network.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, `select `+profileCols+` from profiles where account_id = $1`, accountID))
	return p, classify(err)
}

func (s profiles) Update(ctx context.Context, p network.Profile) (network.Profile, error) {
	parents, err := encodeList(p.Parents)
	if err != nil {
		return network.Profile{}, err
	}
	applied, err := encodeList(p.Applied)
	if err != nil {
		return network.Profile{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		update profiles
		set first_name = $3, last_name = $4, handle = $5, parent_id = $6, parents = $7, placing = $8,
		    deleted_at = $9, applied = $10, version = version + 1, updated_at = now()
		where account_id = $1 and version = $2
		returning created_at, updated_at, version
	`, p.AccountID, p.Version, p.FirstName, p.LastName, p.Handle, nullIfEmpty(p.ParentID), parents, p.Placing,
		nullTime(p.DeletedAt), applied)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt, &p.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return network.Profile{}, conflictOrMissing(ctx, s.db, "profiles", "account_id", p.AccountID)
		}
		return network.Profile{}, classify(err)
	}
	return p, nil
}

func (s profiles) Delete(ctx context.Context, accountID string) error {
	return deleteRow(ctx, s.db, "profiles", "account_id", accountID)
}

func (s profiles) Children(ctx context.Context, accountID string) ([]network.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+profileCols+` from profiles
		where parent_id = $1 and deleted_at is null
		order by created_at, account_id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []network.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
