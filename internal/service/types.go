package service

import (
	"time"

	"github.com/forestrie/go-merkleroll/cmt"
)

// Result describes the outcome of a successful mutation.
type Result struct {
	TreeID string
	Root   cmt.Node
	// Index is the leaf actually written.
	Index          uint32
	SequenceNumber uint64
	LeafCount      uint32
}

type Head struct {
	TreeID         string
	Root           cmt.Node
	SequenceNumber uint64
	LeafCount      uint32
	Depth          int
	MaxBufferSize  int
	ActiveIndex    uint64
	BufferSize     uint64
	RollBytes      int
	Created        time.Time
}

type LeafProof struct {
	Root           cmt.Node
	Leaf           cmt.Node
	Proof          []cmt.Node
	Index          uint32
	SequenceNumber uint64
}

func headOf(t *tree) Head {
	return Head{
		TreeID:         t.id,
		Root:           t.roll.Root(),
		SequenceNumber: t.roll.SequenceNumber(),
		LeafCount:      t.roll.RightmostProof().Index,
		Depth:          t.roll.Depth(),
		MaxBufferSize:  t.roll.MaxBufferSize(),
		ActiveIndex:    t.roll.ActiveIndex(),
		BufferSize:     t.roll.BufferSize(),
		RollBytes:      len(t.roll.Bytes()),
		Created:        t.created,
	}
}
