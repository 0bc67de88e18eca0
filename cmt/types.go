package cmt

import "errors"

// NodeBytes is the fixed width of every leaf, interior node and root.
const NodeBytes = 32

// MaxDepth is the deepest tree supported. The frontier index is stored in 32
// bits and must be able to hold 2^D.
const MaxDepth = 30

// Node is a fixed width hash value. Equality is byte equality.
type Node [NodeBytes]byte

// Empty is the all zero node. It marks the absence of a leaf and is never the
// output of the node hash.
var Empty Node

var (
	ErrTreeFull               = errors.New("cmt: tree full")
	ErrCannotAppendEmptyNode  = errors.New("cmt: cannot append empty node")
	ErrTreeAlreadyInitialized = errors.New("cmt: tree already initialized")
	ErrLeafIndexOutOfBounds   = errors.New("cmt: leaf index out of bounds")
	ErrLeafAlreadyUpdated     = errors.New("cmt: leaf already updated")
	ErrInvalidProof           = errors.New("cmt: invalid proof")

	ErrRootMismatch      = errors.New("cmt: root does not match the rightmost leaf and proof")
	ErrDepthInvalid      = errors.New("cmt: depth out of range")
	ErrBufferSizeInvalid = errors.New("cmt: buffer size must be a non zero power of two")
	ErrRollDataBadSize   = errors.New("cmt: roll data size does not match depth and buffer size")
	ErrRollHeaderInvalid = errors.New("cmt: roll header invalid")
	ErrNodeBadSize       = errors.New("cmt: node must be 32 bytes")
	ErrChangeLogInvalid  = errors.New("cmt: change log path does not reproduce its root")
)
