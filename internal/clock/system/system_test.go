package system

import (
	"testing"
	"time"
)

// Cache TTL math compares clock readings across goroutines, so the adapter
// must hand out UTC timestamps that never run backwards.
func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("Now() location = %v, want UTC", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("Now() = %v, want within [%v, %v]", got, before, after)
	}
}

func TestNowNeverDecreases(t *testing.T) {
	t.Parallel()

	clk := New()
	prev := clk.Now()
	for i := 0; i < 100; i++ {
		cur := clk.Now()
		if cur.Before(prev) {
			t.Fatalf("Now() went backwards: %v then %v", prev, cur)
		}
		prev = cur
	}
}
