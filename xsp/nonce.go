package xsp

// NonceSize is the width of an XSP nonce in bytes.
const NonceSize = 24

// CalculateNonce treats n0 as a big-endian 192-bit counter and returns
// n0 + counter. It is used both to derive a version's effective base
// nonce from an object's original n0 (when updating a base object) and
// to derive a segment's nonce from a version's base nonce and segment
// index (§4.D).
func CalculateNonce(n0 [NonceSize]byte, counter uint64) [NonceSize]byte {
	out := n0

	var carry uint64
	for j := 0; j < 8; j++ {
		b := byte(counter >> uint(8*j))
		pos := NonceSize - 1 - j
		sum := uint64(out[pos]) + uint64(b) + carry
		out[pos] = byte(sum)
		carry = sum >> 8
	}
	for pos := NonceSize - 9; pos >= 0 && carry > 0; pos-- {
		sum := uint64(out[pos]) + carry
		out[pos] = byte(sum)
		carry = sum >> 8
	}
	return out
}
