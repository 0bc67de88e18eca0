package cmt

import "encoding/binary"

const (
	// RollHeaderBytes covers the sequence number (a 16 byte slot), the active
	// index and the buffer size.
	RollHeaderBytes = 32

	headerSequenceOff   = 0
	headerActiveOff     = 16
	headerBufferSizeOff = 24

	// recordTrailerBytes is the u32 index and its u32 padding that close both
	// change log and rightmost path records.
	recordTrailerBytes = 8
)

// ChangeLogRecordBytes returns the width of one change log record.
//
//	root[32] | path[depth][32] | index u32 | pad u32
func ChangeLogRecordBytes(depth int) int {
	return NodeBytes + depth*NodeBytes + recordTrailerBytes
}

// PathRecordBytes returns the width of the rightmost path record.
//
//	proof[depth][32] | leaf[32] | index u32 | pad u32
func PathRecordBytes(depth int) int {
	return depth*NodeBytes + NodeBytes + recordTrailerBytes
}

// RollBytes returns the size of the whole block for a roll of the given
// depth and change log capacity.
func RollBytes(depth, bufferSize int) int {
	return RollHeaderBytes + bufferSize*ChangeLogRecordBytes(depth) + PathRecordBytes(depth)
}

// ChangeLogOffset returns the byte offset of change log slot i.
func ChangeLogOffset(depth int, i uint64) int {
	return RollHeaderBytes + int(i)*ChangeLogRecordBytes(depth)
}

// RightmostOffset returns the byte offset of the rightmost path record.
func RightmostOffset(depth, bufferSize int) int {
	return RollHeaderBytes + bufferSize*ChangeLogRecordBytes(depth)
}

// CheckDimensions reports whether depth and bufferSize describe a valid roll.
func CheckDimensions(depth, bufferSize int) error {
	if depth < 1 || depth > MaxDepth {
		return ErrDepthInvalid
	}
	if bufferSize < 1 || bufferSize&(bufferSize-1) != 0 {
		return ErrBufferSizeInvalid
	}
	return nil
}

func readNode(src []byte) Node {
	var n Node
	copy(n[:], src[:NodeBytes])
	return n
}

func writeNode(dst []byte, n Node) { copy(dst[:NodeBytes], n[:]) }

func readU32LE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func readU64LE(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func writeU32LE(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func writeU64LE(dst []byte, v uint64) { binary.LittleEndian.PutUint64(dst, v) }
