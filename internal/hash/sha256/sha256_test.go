package sha256

import "testing"

// Cache keys are derived from this hasher, so the digest for a given
// canonical string must never change across versions.
func TestHashIsStableHex(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("https://example.com/|r=5;b=2097152"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if len(got) != 64 {
		t.Fatalf("Hash() length = %d, want 64 hex chars", len(got))
	}
	again, err := h.Hash([]byte("https://example.com/|r=5;b=2097152"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("Hash() not deterministic: %s vs %s", got, again)
	}

	other, err := h.Hash([]byte("https://example.com/|r=6;b=2097152"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	if other == got {
		t.Fatal("different inputs must not collide on the same digest")
	}
}
