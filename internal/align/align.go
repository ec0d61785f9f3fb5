// Package align provides the block and byte arithmetic shared by the window
// pool, the protocol handlers and the backends.
package align

// Up rounds v up to the next multiple of a. The alignment must be a power of
// two.
func Up(v, a uint32) uint32 {
	return (v + a - 1) &^ (a - 1)
}

// Down rounds v down to a multiple of a. The alignment must be a power of
// two.
func Down(v, a uint32) uint32 {
	return v &^ (a - 1)
}

// DivCeil divides n by d, rounding up. The divisor need not be a power of
// two.
func DivCeil(n, d uint32) uint32 {
	return (n + d - 1) / d
}

// Log2 returns the floor of the base-2 logarithm of v. Log2(0) is 0.
func Log2(v uint32) uint32 {
	var shift uint32

	for v > 1 {
		v >>= 1
		shift++
	}

	return shift
}

// IsPowerOf2 reports whether v is a non-zero power of two.
func IsPowerOf2(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// Blocks converts a byte count to a block count, rounding up.
func Blocks(bytes, shift uint32) uint32 {
	return Up(bytes, 1<<shift) >> shift
}
