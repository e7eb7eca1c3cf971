package pg

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiernet.org/internal/network"
)

var ts = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(db), mock
}

func q(s string) string { return regexp.QuoteMeta(s) }

var accountColumns = []string{"id", "email", "role", "tier_id", "created_at", "updated_at", "deleted_at", "version", "applied"}

func TestAccountCreateStampsFromDatabase(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("insert into accounts")).
		WithArgs("a1", "a@example.org", "admin", nil, nil, nil, `[]`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at", "version"}).AddRow(ts, ts, 1))

	a, err := s.Accounts().Create(context.Background(), network.Account{ID: "a1", Email: "a@example.org", Role: network.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, ts, a.CreatedAt)
	assert.EqualValues(t, 1, a.Version)
}

func TestAccountGet(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("from accounts a where a.id = $1")).WithArgs("a1").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("a1", "a@example.org", "member", "tier-2", ts, ts, ts, 4, []byte(`["run/step"]`)))
	mock.ExpectQuery(q("from accounts a where a.id = $1")).WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(accountColumns))

	a, err := s.Accounts().Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, network.RoleMember, a.Role)
	assert.Equal(t, "tier-2", a.TierID)
	require.NotNil(t, a.DeletedAt)
	assert.False(t, a.Live())
	assert.Equal(t, []string{"run/step"}, a.Applied)

	_, err = s.Accounts().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, network.ErrNotFound)
}

func TestAccountUpdateDistinguishesConflictFromMissing(t *testing.T) {
	s, mock := newMock(t)
	empty := sqlmock.NewRows([]string{"created_at", "updated_at", "version"})

	mock.ExpectQuery(q("update accounts")).WillReturnRows(empty)
	mock.ExpectQuery(q("select 1 from accounts where id = $1")).WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))
	_, err := s.Accounts().Update(context.Background(), network.Account{ID: "a1", Role: network.RoleMember, Revision: network.Revision{Version: 3}})
	assert.ErrorIs(t, err, network.ErrVersionConflict)

	mock.ExpectQuery(q("update accounts")).WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at", "version"}))
	mock.ExpectQuery(q("select 1 from accounts where id = $1")).WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"one"}))
	_, err = s.Accounts().Update(context.Background(), network.Account{ID: "gone", Role: network.RoleMember, Revision: network.Revision{Version: 1}})
	assert.ErrorIs(t, err, network.ErrNotFound)
}

func TestAccountUpdateAdvancesVersion(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("update accounts")).
		WithArgs("a1", int64(2), "a@example.org", "member", "tier-1", nil, `["x/y"]`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at", "version"}).AddRow(ts, ts.Add(time.Minute), 3))

	a, err := s.Accounts().Update(context.Background(), network.Account{
		ID: "a1", Email: "a@example.org", Role: network.RoleMember, TierID: "tier-1",
		Revision: network.Revision{Version: 2, Applied: []string{"x/y"}},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, a.Version)
}

func TestProfileHandleConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("insert into profiles")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "profiles_handle_key"})

	_, err := s.Profiles().Create(context.Background(), network.Profile{AccountID: "a1", Handle: "taken"})
	assert.ErrorIs(t, err, network.ErrDuplicate)
}

func TestProfileChildren(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"account_id", "first_name", "last_name", "handle", "parent_id", "parents", "placing",
		"created_at", "updated_at", "deleted_at", "version", "applied"}
	mock.ExpectQuery(q("where parent_id = $1 and deleted_at is null")).WithArgs("up").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("k1", "K", "One", "k1", "up", []byte(`["root","up"]`), "", ts, ts, nil, 2, []byte(`[]`)).
			AddRow("k2", "K", "Two", "k2", "up", []byte(`["up"]`), "run-1", ts, ts, nil, 1, []byte(`[]`)))

	kids, err := s.Profiles().Children(context.Background(), "up")
	require.NoError(t, err)
	require.Len(t, kids, 2)
	assert.Equal(t, []string{"root", "up"}, kids[0].Parents)
	assert.Nil(t, kids[0].Applied)
	assert.Equal(t, "run-1", kids[1].Placing)
}

func TestCandidatesJoinTrackers(t *testing.T) {
	s, mock := newMock(t)
	cols := append(append([]string{}, accountColumns...),
		"t_account_id", "count", "paid_count", "state", "upline_paid", "upgrade_date", "advance",
		"t_created_at", "t_updated_at", "t_deleted_at", "t_version", "t_applied")
	mock.ExpectQuery(q("join trackers t on t.account_id = a.id")).WithArgs("member", "tier-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"m1", "m@example.org", "member", "tier-1", ts, ts, nil, 5, []byte(`[]`),
			"m1", 1, 0, "unachieved", true, nil, nil, ts, ts, nil, 7, []byte(`["p/upline-tracker"]`)))

	got, err := s.Accounts().Candidates(context.Background(), network.CandidateFilter{TierID: "tier-1", Role: network.RoleMember})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Account.ID)
	assert.EqualValues(t, 5, got[0].Account.Version)
	assert.Equal(t, 1, got[0].Tracker.Count)
	assert.Equal(t, network.StateUnachieved, got[0].Tracker.State)
	assert.EqualValues(t, 7, got[0].Tracker.Version)
	assert.Equal(t, []string{"p/upline-tracker"}, got[0].Tracker.Applied)
}

func TestTrackerAdvanceRoundTrip(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"account_id", "count", "paid_count", "state", "upline_paid", "upgrade_date", "advance",
		"created_at", "updated_at", "deleted_at", "version", "applied"}
	mock.ExpectQuery(q("where t.advance is not null")).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("m1", 2, 2, "achieved", true, ts, []byte(`{"from":"tier-1","to":"tier-2"}`), ts, ts, nil, 3, nil))
	mock.ExpectQuery(q("update trackers")).
		WithArgs("m1", int64(3), 2, 2, "achieved", true, ts, nil, nil, `[]`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at", "version"}).AddRow(ts, ts, 4))

	list, err := s.Trackers().Unsettled(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Advance)
	assert.Equal(t, network.Advance{From: "tier-1", To: "tier-2"}, *list[0].Advance)

	tr := list[0]
	tr.Advance = nil
	updated, err := s.Trackers().Update(context.Background(), tr)
	require.NoError(t, err)
	assert.EqualValues(t, 4, updated.Version)
}

func TestEntryCreatePendingDuplicate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("insert into entries")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "entries_one_pending_idx"})

	_, err := s.Entries().Create(context.Background(), network.Entry{
		ID: "e1", PairID: "p1", OwnerID: "a", RefID: "b", Type: network.EntryDebit,
		Status: network.StatusPending, Reason: network.ReasonMemberPayment, Amount: 1000,
	})
	assert.ErrorIs(t, err, network.ErrDuplicate)
}

func TestEntryListFilters(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id", "pair_id", "owner_id", "ref_id", "type", "status", "reason", "amount", "tier_id",
		"created_at", "updated_at", "version"}
	mock.ExpectQuery(q("where owner_id = $1 and status = $2 and reason in ($3, $4) and created_at < $5 order by created_at, id limit $6")).
		WithArgs("a", "pending", "member payment", "subscription", ts, 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "p1", "a", "b", "debit", "pending", "member payment", 1000, nil, ts, ts, 1))

	list, err := s.Entries().List(context.Background(), network.EntryFilter{
		OwnerID:       "a",
		Status:        network.StatusPending,
		Reasons:       []network.Reason{network.ReasonMemberPayment, network.ReasonSubscription},
		CreatedBefore: ts,
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, network.EntryDebit, list[0].Type)
	assert.Empty(t, list[0].TierID)
}

func TestEntryUpdateMovesStatusOnly(t *testing.T) {
	s, mock := newMock(t)
	cols := []string{"id", "pair_id", "owner_id", "ref_id", "type", "status", "reason", "amount", "tier_id",
		"created_at", "updated_at", "version"}
	mock.ExpectQuery(q("set status = $3, version = version + 1")).
		WithArgs("e1", int64(1), "success").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "p1", "a", "b", "credit", "success", "member payment", 1000, "tier-1", ts, ts, 2))

	e, err := s.Entries().Update(context.Background(), network.Entry{ID: "e1", Status: network.StatusSuccess, Amount: 1, Revision: network.Revision{Version: 1}})
	require.NoError(t, err)
	assert.EqualValues(t, 1000, e.Amount)
	assert.Equal(t, network.StatusSuccess, e.Status)
	assert.EqualValues(t, 2, e.Version)
}

func TestTierUpsertRankClash(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("insert into tiers")).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "tiers_rank_key"})

	_, err := s.Tiers().Upsert(context.Background(), network.Tier{ID: "x", Rank: 1, Name: "X", MembersNumber: 2, AdminCount: 4})
	assert.ErrorIs(t, err, network.ErrDuplicate)
}

func TestNotificationsMarkReadMissing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(q("update notifications set read = true")).WithArgs("a", "n1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Notifications().MarkRead(context.Background(), "a", "n1")
	assert.ErrorIs(t, err, network.ErrNotFound)
}

func TestNotificationsListNewestFirst(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(q("where account_id = $1 order by created_at desc, id desc limit $2")).WithArgs("a", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "kind", "message", "read", "created_at"}).
			AddRow("n2", "a", network.KindPaymentApproved, "ok", false, ts.Add(time.Second)).
			AddRow("n1", "a", network.KindWelcome, "hi", true, ts))

	list, err := s.Notifications().List(context.Background(), "a", 5)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n2", list[0].ID)
	assert.True(t, list[1].Read)
}

func TestCooldownPrune(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(q("delete from cooldowns where expires_at <= $1")).WithArgs(ts).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.Cooldowns().Prune(context.Background(), ts)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeleteMissingRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(q("delete from wallets where account_id = $1")).WithArgs("w").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Wallets().Delete(context.Background(), "w")
	assert.ErrorIs(t, err, network.ErrNotFound)
}

func TestClassifyPassesOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	assert.Same(t, boom, classify(boom))
	assert.NoError(t, classify(nil))
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := fs.Glob(Migrations(), "*.sql")
	require.NoError(t, err)
	assert.Contains(t, names, "0001_network.up.sql")
	assert.Contains(t, names, "0001_network.down.sql")
}
