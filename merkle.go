package farmproof

import (
	"crypto/sha256"
	"encoding/hex"
)

// BuildRoot folds an ordered sequence of hex leaf digests into a single
// root digest, or "" for an empty sequence. Layers are halved until one
// element remains:
//
//   - a lone trailing element is self-paired, H(x+x)
//   - pairs are sorted lexicographically before concatenation, so the
//     combine step is independent of left/right position
//   - a single-leaf input is returned unchanged, never re-hashed
//
// Discarding sibling order at combine time means the tree supports full
// recomputation and equality comparison only; it cannot produce classical
// positional inclusion proofs. Callers must not assume Merkle-proof
// compatibility.
func BuildRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	layer := append([]string(nil), leaves...)
	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			if i+1 == len(layer) {
				next = append(next, hashHex(layer[i]+layer[i]))
				continue
			}
			a, b := layer[i], layer[i+1]
			if b < a {
				a, b = b, a
			}
			next = append(next, hashHex(a+b))
		}
		layer = next
	}
	return layer[0]
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
