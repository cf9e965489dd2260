package domain

import "strings"

// NormalizeRef canonicalizes an on-chain transaction reference for matching.
// Chain clients and indexer feeds disagree on the 0x prefix and on hex case,
// so every comparison in the system goes through this one function.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		ref = ref[2:]
	}
	return strings.ToLower(ref)
}

// RefsEqual reports whether two refs denote the same on-chain transaction.
// Equality is exact after normalization; empty refs never match anything.
func RefsEqual(a, b string) bool {
	na := NormalizeRef(a)
	if na == "" {
		return false
	}
	return na == NormalizeRef(b)
}
