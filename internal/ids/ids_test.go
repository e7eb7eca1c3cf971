package ids

import (
	"testing"
	"time"
)

func TestNewIsSortable(t *testing.T) {
	prev := New()
	for i := 0; i < 1000; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)
	got, err := Time(id)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(at) {
		t.Fatalf("expected %s, got %s", at, got)
	}
	if _, err := Time("not-an-id"); err == nil {
		t.Fatal("expected error for malformed id")
	}
}
