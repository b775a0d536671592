package keyring

import (
	"crypto/sha256"
	"encoding/base64"
)

// PidLen is the byte length of a pair id before base64 encoding
// (§3 "Pair id (pid): a short identifier deterministically derived
// from a pair's public halves").
const PidLen = 9

// DerivePid deterministically derives a pair id from the two public
// halves of an established or introductory pair, independent of which
// side computes it: the halves are sorted before hashing so both
// correspondents land on the same pid.
func DerivePid(pubA, pubB [32]byte) string {
	var first, second [32]byte
	if lessBytes(pubA[:], pubB[:]) {
		first, second = pubA, pubB
	} else {
		first, second = pubB, pubA
	}
	h := sha256.New()
	h.Write(first[:])
	h.Write(second[:])
	sum := h.Sum(nil)
	return base64.RawURLEncoding.EncodeToString(sum[:PidLen])
}

func lessBytes(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
