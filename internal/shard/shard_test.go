package shard

import (
	"fmt"
	"testing"
)

func TestOf_SingleShard(t *testing.T) {
	for _, n := range []int{1, 0, -1} {
		for _, key := range []string{"u1", "u2", ""} {
			if got := Of(key, n); got != 0 {
				t.Errorf("Of(%q, %d) = %d, want 0", key, n, got)
			}
		}
	}
}

func TestOf_Deterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("user#%d", i)
		if Of(key, 16) != Of(key, 16) {
			t.Errorf("Of(%q, 16) is not stable", key)
		}
	}
}

func TestOf_Range(t *testing.T) {
	for _, n := range []int{2, 4, 16, 64} {
		for i := 0; i < 200; i++ {
			got := Of(fmt.Sprintf("key-%d", i), n)
			if got < 0 || got >= n {
				t.Errorf("Of(key-%d, %d) = %d, out of range", i, n, got)
			}
		}
	}
}

func TestOf_Distribution(t *testing.T) {
	const n = 4
	counts := make([]int, n)
	for i := 0; i < 1000; i++ {
		counts[Of(fmt.Sprintf("link-%d", i), n)]++
	}
	for shard, c := range counts {
		if c == 0 {
			t.Errorf("shard %d received no keys", shard)
		}
	}
}
