package domain

import "github.com/holiman/uint256"

// SaturatingSub returns max(a-b, 0) as a new value.
func SaturatingSub(a, b *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return z.Clear()
	}
	return z
}

// SaturatingAdd returns a+b clamped to the largest representable amount.
func SaturatingAdd(a, b *uint256.Int) *uint256.Int {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return z.SetAllOne()
	}
	return z
}
