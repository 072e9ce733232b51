package shortid

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	for _, n := range []int{1, DefaultLength, 32} {
		id, err := New(n)
		if err != nil {
			t.Fatalf("New(%d): %v", n, err)
		}
		if len(id) != n {
			t.Errorf("expected length %d, got %d", n, len(id))
		}
		for _, r := range id {
			if !strings.ContainsRune(Alphabet, r) {
				t.Errorf("unexpected character %q in %q", r, id)
			}
		}
	}
}

func TestNew_InvalidLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := New(n); err == nil {
			t.Errorf("expected error for length %d", n)
		}
	}
}

func TestMust_Varies(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		seen[Must()] = true
	}
	// 62^6 identifiers; 50 draws colliding down to a handful would mean a broken source.
	if len(seen) < 45 {
		t.Errorf("expected mostly distinct identifiers, got %d of 50", len(seen))
	}
}
