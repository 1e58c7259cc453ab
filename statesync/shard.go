package statesync

// Shards returns every nibble prefix of the given depth, the client's
// `16^k` division of the key space: depth 1 yields 16 prefixes, depth 2
// yields 256, and so on.
func Shards(depth int) [][]byte {
	if depth <= 0 {
		return [][]byte{{}}
	}
	prefixes := [][]byte{{}}
	for d := 0; d < depth; d++ {
		next := make([][]byte, 0, len(prefixes)*16)
		for _, p := range prefixes {
			for nibble := byte(0); nibble < 16; nibble++ {
				np := make([]byte, len(p)+1)
				copy(np, p)
				np[len(p)] = nibble
				next = append(next, np)
			}
		}
		prefixes = next
	}
	return prefixes
}

// nibbles returns key's nibble sequence, most significant nibble first.
func nibbles(key []byte) []byte {
	out := make([]byte, 0, len(key)*2)
	for _, b := range key {
		out = append(out, b>>4, b&0x0f)
	}
	return out
}

// HasPrefix reports whether key's nibble sequence starts with prefix.
func HasPrefix(key []byte, prefix []byte) bool {
	n := nibbles(key)
	if len(prefix) > len(n) {
		return false
	}
	for i, p := range prefix {
		if n[i] != p {
			return false
		}
	}
	return true
}
