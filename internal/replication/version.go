package replication

// Behind returns how many versions last is behind current, using unsigned
// modular arithmetic.
func Behind(current, last uint32) uint32 {
	return current - last
}

// IsNewer reports whether a is ahead of b by less than half the counter
// range.
func IsNewer(a, b uint32) bool {
	d := a - b
	return d != 0 && d < 1<<31
}
