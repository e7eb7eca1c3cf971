package network

import (
	"context"
	"errors"
	"slices"
)

// maxApplied bounds the markers kept on a record. Markers only need to outlive the
// saga that wrote them, which ends once its ledger pair leaves pending.
const maxApplied = 32

var errUnchanged = errors.New("unchanged")

type revisioned[T any] interface {
	*T
	revision() *Revision
}

func hasMarker(r *Revision, key string) bool {
	return slices.Contains(r.Applied, key)
}

func mark(r *Revision, key string) {
	r.Applied = append(r.Applied, key)
	if n := len(r.Applied); n > maxApplied {
		r.Applied = slices.Clone(r.Applied[n-maxApplied:])
	}
}

// step names the marker of one saga step on one record.
func step(run, name string) string {
	return run + "/" + name
}

// mutate reads a record, applies fn and writes it back with compare-and-swap,
// re-reading on version conflicts. With a non-empty key the step runs at most once:
// a record already carrying the key is returned untouched. fn returns errUnchanged,
// before modifying anything, to skip the write.
func mutate[T any, P revisioned[T]](
	ctx context.Context,
	attempts int,
	key string,
	load func(context.Context) (T, error),
	save func(context.Context, T) (T, error),
	fn func(P) error,
) (T, error) {
	var zero T
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		cur, err := load(ctx)
		if err != nil {
			return zero, err
		}
		p := P(&cur)
		if key != "" && hasMarker(p.revision(), key) {
			return cur, nil
		}
		if err := fn(p); err != nil {
			if errors.Is(err, errUnchanged) {
				return cur, nil
			}
			return zero, err
		}
		if key != "" {
			mark(p.revision(), key)
		}
		saved, err := save(ctx, cur)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return zero, err
		}
		return saved, nil
	}
	return zero, ErrContention
}

func (s *Service) updateAccount(ctx context.Context, id, key string, fn func(*Account) error) (Account, error) {
	st := s.store.Accounts()
	load := func(ctx context.Context) (Account, error) { return st.Get(ctx, id) }
	a, err := mutate(ctx, s.attempts, key, load, st.Update, fn)
	return a, storeErr(err, ErrAccountNotFound)
}

func (s *Service) updateProfile(ctx context.Context, id, key string, fn func(*Profile) error) (Profile, error) {
	st := s.store.Profiles()
	load := func(ctx context.Context) (Profile, error) { return st.Get(ctx, id) }
	p, err := mutate(ctx, s.attempts, key, load, st.Update, fn)
	return p, storeErr(err, ErrAccountNotFound)
}

func (s *Service) updateTracker(ctx context.Context, id, key string, fn func(*Tracker) error) (Tracker, error) {
	st := s.store.Trackers()
	load := func(ctx context.Context) (Tracker, error) { return st.Get(ctx, id) }
	t, err := mutate(ctx, s.attempts, key, load, st.Update, fn)
	return t, storeErr(err, ErrAccountNotFound)
}

func (s *Service) updateWallet(ctx context.Context, id, key string, fn func(*Wallet) error) (Wallet, error) {
	st := s.store.Wallets()
	load := func(ctx context.Context) (Wallet, error) { return st.Get(ctx, id) }
	w, err := mutate(ctx, s.attempts, key, load, st.Update, fn)
	return w, storeErr(err, ErrAccountNotFound)
}

func (s *Service) updateSubscription(ctx context.Context, id, key string, fn func(*Subscription) error) (Subscription, error) {
	st := s.store.Subscriptions()
	load := func(ctx context.Context) (Subscription, error) { return st.Get(ctx, id) }
	sub, err := mutate(ctx, s.attempts, key, load, st.Update, fn)
	return sub, storeErr(err, ErrAccountNotFound)
}

// flip moves a pending entry to status. Reaching the same status again is a no-op;
// an entry already settled the other way reports ErrEntryFailed or ErrAlreadyApproved.
func (s *Service) flip(ctx context.Context, id string, status EntryStatus) (Entry, error) {
	st := s.store.Entries()
	load := func(ctx context.Context) (Entry, error) { return st.Get(ctx, id) }
	e, err := mutate(ctx, s.attempts, "", load, st.Update, func(e *Entry) error {
		switch {
		case e.Status == status:
			return errUnchanged
		case e.Status == StatusFailure:
			return ErrEntryFailed
		case e.Status == StatusSuccess:
			return ErrAlreadyApproved
		}
		e.Status = status
		return nil
	})
	return e, storeErr(err, ErrEntryNotFound)
}
