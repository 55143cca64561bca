package host

// isPowerOfTwo returns whether n is a power of 2 (n > 0).
func isPowerOfTwo(n uint64) bool {
	return n > 0 && n&(n-1) == 0
}

// alignUp rounds size up to a multiple of alignment, which must be a power of 2.
// It returns 0 if the rounded size would overflow.
func alignUp(size, alignment uint64) uint64 {
	mask := alignment - 1
	if size > ^uint64(0)-mask {
		return 0
	}
	return (size + mask) &^ mask
}
