package statesync

import "testing"

func TestShardsCount(t *testing.T) {
	for depth, want := range map[int]int{0: 1, 1: 16, 2: 256} {
		got := Shards(depth)
		if len(got) != want {
			t.Fatalf("Shards(%d) returned %d prefixes, want %d", depth, len(got), want)
		}
	}
}

func TestShardsAreDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for _, p := range Shards(2) {
		key := string(p)
		if seen[key] {
			t.Fatalf("duplicate shard prefix %v", p)
		}
		seen[key] = true
	}
}

func TestHasPrefix(t *testing.T) {
	key := []byte{0xab, 0xcd}
	if !HasPrefix(key, []byte{0x0a, 0x0b}) {
		t.Fatalf("expected key %x to match prefix [a b]", key)
	}
	if HasPrefix(key, []byte{0x0a, 0x0c}) {
		t.Fatalf("expected key %x not to match prefix [a c]", key)
	}
	if HasPrefix(key, []byte{0x0a, 0x0b, 0x0c, 0x0d, 0x00}) {
		t.Fatalf("prefix longer than key's nibbles should never match")
	}
}
