// Package mirror keeps the full leaf set of a concurrent Merkle roll off to the
// side, so that proofs can be produced for any leaf.
//
// The roll itself only retains roots and recent change logs. Whoever submits
// updates needs the siblings for the leaf it wants to change, and those come
// from a complete copy of the tree like this one.
package mirror

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/forestrie/go-merkleroll/cmt"
)

var (
	ErrIndexOutOfRange    = errors.New("mirror: index out of range")
	ErrDepthInvalid       = errors.New("mirror: depth out of range")
	ErrRootMismatch       = errors.New("mirror: replayed change log produced a different root")
	ErrSnapshotBadVersion = errors.New("mirror: snapshot version not supported")
)

const snapshotVersion = 1

// Tree is a dense binary Merkle tree of fixed depth. Nodes are held per level
// up to the highest leaf written; everything to the right is an empty
// subtree.
type Tree struct {
	depth  int
	levels [][]cmt.Node
}

// New returns an empty tree of the given depth.
func New(depth int) (*Tree, error) {
	if depth < 1 || depth > cmt.MaxDepth {
		return nil, ErrDepthInvalid
	}
	return &Tree{depth: depth, levels: make([][]cmt.Node, depth+1)}, nil
}

// Clone returns an independent copy of t.
func (t *Tree) Clone() *Tree {
	c := &Tree{depth: t.depth, levels: make([][]cmt.Node, len(t.levels))}
	for i, level := range t.levels {
		c.levels[i] = append([]cmt.Node(nil), level...)
	}
	return c
}

// Depth returns the tree depth.
func (t *Tree) Depth() int { return t.depth }

// Len returns one past the highest leaf index written.
func (t *Tree) Len() uint32 { return uint32(len(t.levels[0])) }

func (t *Tree) node(level int, i uint64) cmt.Node {
	if i < uint64(len(t.levels[level])) {
		return t.levels[level][i]
	}
	return cmt.EmptyNode(level)
}

// Leaf returns the leaf at index, Empty when it was never written.
func (t *Tree) Leaf(index uint32) cmt.Node {
	return t.node(0, uint64(index))
}

// Leaves returns a copy of the written leaf range.
func (t *Tree) Leaves() []cmt.Node {
	out := make([]cmt.Node, len(t.levels[0]))
	copy(out, t.levels[0])
	return out
}

// Root returns the tree root.
func (t *Tree) Root() cmt.Node {
	return t.node(t.depth, 0)
}

// Set writes leaf at index and rehashes its ancestors.
func (t *Tree) Set(index uint32, leaf cmt.Node) error {
	if uint64(index) >= uint64(1)<<t.depth {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	i := uint64(index)
	node := leaf
	for level := 0; level <= t.depth; level++ {
		for uint64(len(t.levels[level])) <= i {
			t.levels[level] = append(t.levels[level], cmt.EmptyNode(level))
		}
		t.levels[level][i] = node
		if level == t.depth {
			break
		}
		if i&1 == 0 {
			node = cmt.HashNodes(node, t.node(level, i+1))
		} else {
			node = cmt.HashNodes(t.node(level, i-1), node)
		}
		i >>= 1
	}
	return nil
}

// Proof returns the siblings of the leaf at index from the leaf level up.
func (t *Tree) Proof(index uint32) ([]cmt.Node, error) {
	if uint64(index) >= uint64(1)<<t.depth {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	proof := make([]cmt.Node, t.depth)
	i := uint64(index)
	for level := 0; level < t.depth; level++ {
		proof[level] = t.node(level, i^1)
		i >>= 1
	}
	return proof, nil
}

// ApplyChangeLog replays a change recorded by a roll and checks the mirror
// arrives at the same root.
func (t *Tree) ApplyChangeLog(cl cmt.ChangeLog) error {
	if err := t.Set(cl.Index, cl.Leaf()); err != nil {
		return err
	}
	if root := t.Root(); root != cl.Root {
		return fmt.Errorf("%w: index %d, got %x, want %x", ErrRootMismatch, cl.Index, root, cl.Root)
	}
	return nil
}

type snapshot struct {
	Version uint8    `cbor:"1,keyasint"`
	Depth   uint8    `cbor:"2,keyasint"`
	Leaves  [][]byte `cbor:"3,keyasint"`
}

// MarshalBinary encodes the leaf set as CBOR. Interior nodes are rebuilt on
// decode.
func (t *Tree) MarshalBinary() ([]byte, error) {
	s := snapshot{
		Version: snapshotVersion,
		Depth:   uint8(t.depth),
		Leaves:  make([][]byte, len(t.levels[0])),
	}
	for i := range t.levels[0] {
		s.Leaves[i] = t.levels[0][i][:]
	}
	return cbor.Marshal(s)
}

// UnmarshalBinary replaces the tree with a snapshot produced by
// MarshalBinary.
func (t *Tree) UnmarshalBinary(data []byte) error {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.Version != snapshotVersion {
		return ErrSnapshotBadVersion
	}
	fresh, err := New(int(s.Depth))
	if err != nil {
		return err
	}
	for i, b := range s.Leaves {
		leaf, err := cmt.NodeFromBytes(b)
		if err != nil {
			return err
		}
		if err := fresh.Set(uint32(i), leaf); err != nil {
			return err
		}
	}
	*t = *fresh
	return nil
}
