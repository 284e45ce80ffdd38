// Package merkle computes deterministic roots over ordered ledger leaves so a
// closed cycle checkpoint can be independently re-verified.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
)

// Root hashes each leaf with sha256, then repeatedly combines adjacent pairs
// until one digest remains. An odd node at the end of a level is paired with
// itself; historical checkpoint roots depend on this exact policy. An empty
// leaf set yields the empty string, distinguishable from any real root.
func Root(leaves [][]byte) string {
	if len(leaves) == 0 {
		return ""
	}

	level := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		level = append(level, HashLeaf(leaf))
	}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		level = next
	}

	return hex.EncodeToString(level[0])
}

// RootOfStrings is a convenience for callers holding canonical string leaves.
func RootOfStrings(leaves []string) string {
	raw := make([][]byte, 0, len(leaves))
	for _, leaf := range leaves {
		raw = append(raw, []byte(leaf))
	}
	return Root(raw)
}

// HashLeaf returns the sha256 digest of a single canonical leaf.
func HashLeaf(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

func hashPair(left, right []byte) []byte {
	h := sha256.New()
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}
