package credential

// weakPolynomialHash computes h_0=0; h_i = 31*h_{i-1} + byte_i over the
// given identity string. Deliberately not a cryptographic hash: the
// deterministic() policy needs a reproducible identity-to-index mapping so
// callers can assert predictability in tests. Not a security primitive.
func weakPolynomialHash(identity string) uint64 {
	var h uint64
	for i := 0; i < len(identity); i++ {
		h = 31*h + uint64(identity[i])
	}
	return h
}
