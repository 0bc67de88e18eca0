package cmt

import "math/bits"

// CritBitLevel returns the tree level at which the root-to-leaf paths of
// leaves a and b diverge. At that level each leaf's sibling is the other
// leaf's ancestor.
//
// Both indices are shifted so their depth significant bits occupy the top of
// a 32 bit word; the leading zero count of the xor is then the length of the
// common path from the root.
//
// NOTE: a must not equal b.
func CritBitLevel(a, b uint32, depth int) int {
	padding := 32 - depth
	commonPathLen := bits.LeadingZeros32((a ^ b) << padding)
	return depth - 1 - commonPathLen
}
