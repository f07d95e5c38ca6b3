package cryptoadapter

import "crypto/subtle"

// ConstantTimeEqual performs a length-independent comparison of two byte
// slices. Used everywhere a secret (challenge code hash, backup code hash,
// refresh token hash) is checked against a stored value, so a mismatch
// cannot be distinguished from a match by timing.
func ConstantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		// Still run a comparison of equal, non-secret-dependent length so a
		// length mismatch doesn't short-circuit faster than a full compare.
		subtle.ConstantTimeCompare(a, a)
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// ConstantTimeEqualString is the string convenience wrapper around
// ConstantTimeEqual.
func ConstantTimeEqualString(a, b string) bool {
	return ConstantTimeEqual([]byte(a), []byte(b))
}
