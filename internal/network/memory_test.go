package network

import (
	"context"
	"testing"
)

func TestInMemoryUpdateComparesVersion(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	w, err := s.Wallets().Create(ctx, Wallet{AccountID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if w.Version != 1 {
		t.Fatalf("expected version 1, got %d", w.Version)
	}

	stale := w
	w.Balance = 10
	w, err = s.Wallets().Update(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	if w.Version != 2 {
		t.Fatalf("expected version 2, got %d", w.Version)
	}

	stale.Balance = 99
	if _, err := s.Wallets().Update(ctx, stale); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	got, _ := s.Wallets().Get(ctx, "a")
	if got.Balance != 10 {
		t.Fatalf("stale write landed: %d", got.Balance)
	}
}

func TestInMemoryPendingEntriesAreUnique(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	e := Entry{ID: "e1", PairID: "p1", OwnerID: "a", RefID: "b", Type: EntryDebit, Status: StatusPending, Reason: ReasonAllocatedPayment}
	if _, err := s.Entries().Create(ctx, e); err != nil {
		t.Fatal(err)
	}
	dup := e
	dup.ID, dup.PairID = "e2", "p2"
	if _, err := s.Entries().Create(ctx, dup); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	found, err := s.Entries().FindPending(ctx, PendingKey{OwnerID: "a", RefID: "b", Type: EntryDebit, Reason: ReasonAllocatedPayment})
	if err != nil || found.ID != "e1" {
		t.Fatalf("find pending: %v %v", found.ID, err)
	}

	found.Status = StatusFailure
	found.Amount = 1 << 20
	settled, err := s.Entries().Update(ctx, found)
	if err != nil {
		t.Fatal(err)
	}
	if settled.Amount != 0 {
		t.Fatalf("only the status may change, amount became %d", settled.Amount)
	}
	if _, err := s.Entries().Create(ctx, dup); err != nil {
		t.Fatalf("settled entries free the key: %v", err)
	}
}

func TestInMemoryHandlesAreUnique(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Profiles().Create(ctx, Profile{AccountID: "a", Handle: "neo"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Profiles().Create(ctx, Profile{AccountID: "b", Handle: "neo"}); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := s.Profiles().Delete(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Profiles().Create(ctx, Profile{AccountID: "b", Handle: "neo"}); err != nil {
		t.Fatalf("handle should be free after delete: %v", err)
	}
}

func TestInMemoryReturnsCopies(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	if _, err := s.Profiles().Create(ctx, Profile{AccountID: "a", Handle: "a", Parents: []string{"x"}}); err != nil {
		t.Fatal(err)
	}
	p, _ := s.Profiles().Get(ctx, "a")
	p.Parents[0] = "mutated"
	again, _ := s.Profiles().Get(ctx, "a")
	if again.Parents[0] != "x" {
		t.Fatalf("store shares slices with callers: %v", again.Parents)
	}
}
