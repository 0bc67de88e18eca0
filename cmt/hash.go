package cmt

import (
	"hash"

	"golang.org/x/crypto/sha3"
)

// emptyNodes[i] is the root of an empty subtree of height i.
var emptyNodes = func() [MaxDepth + 1]Node {
	var nodes [MaxDepth + 1]Node
	h := NewHasher()
	for i := 1; i <= MaxDepth; i++ {
		nodes[i] = h.Hash(nodes[i-1], nodes[i-1])
	}
	return nodes
}()

// HashNodes computes the parent of left and right:
//
//	keccak256( left[32] || right[32] )
func HashNodes(left, right Node) Node {
	return NewHasher().Hash(left, right)
}

// EmptyNode returns the root of a subtree of the given height containing only
// empty leaves. EmptyNode(0) is Empty.
func EmptyNode(level int) Node {
	return emptyNodes[level]
}

// Recompute returns the root reached by hashing leaf up through proof. Bit i
// of index selects whether the running node is the left (0) or right (1)
// child at level i.
func Recompute(leaf Node, proof []Node, index uint32) Node {
	return NewHasher().Recompute(leaf, proof, index)
}

// Hasher reuses a single keccak state for every node it hashes. It is not
// safe for concurrent use.
type Hasher struct {
	h   hash.Hash
	buf [2 * NodeBytes]byte
}

func NewHasher() *Hasher {
	return &Hasher{h: sha3.NewLegacyKeccak256()}
}

// Hash is HashNodes on the reused state.
func (h *Hasher) Hash(left, right Node) Node {
	copy(h.buf[:NodeBytes], left[:])
	copy(h.buf[NodeBytes:], right[:])
	h.h.Reset()
	_, _ = h.h.Write(h.buf[:])

	var out Node
	h.h.Sum(out[:0])
	return out
}

// Recompute is the package level Recompute on the reused state.
func (h *Hasher) Recompute(leaf Node, proof []Node, index uint32) Node {
	node := leaf
	for i, sibling := range proof {
		if (index>>i)&1 == 0 {
			node = h.Hash(node, sibling)
		} else {
			node = h.Hash(sibling, node)
		}
	}
	return node
}

// recomputePath is Recompute, additionally recording the node at every level
// into path. path[0] is the leaf.
func (h *Hasher) recomputePath(leaf Node, proof []Node, index uint32, path []Node) Node {
	node := leaf
	for i, sibling := range proof {
		path[i] = node
		if (index>>i)&1 == 0 {
			node = h.Hash(node, sibling)
		} else {
			node = h.Hash(sibling, node)
		}
	}
	return node
}

// NodeFromBytes copies a 32 byte slice into a Node.
func NodeFromBytes(b []byte) (Node, error) {
	var n Node
	if len(b) != NodeBytes {
		return n, ErrNodeBadSize
	}
	copy(n[:], b)
	return n, nil
}

// fillInProof copies proof into dst, padding any missing upper levels with
// the empty subtree hash for that level.
func fillInProof(dst []Node, proof []Node) error {
	if len(proof) > len(dst) {
		return ErrInvalidProof
	}
	copy(dst, proof)
	for i := len(proof); i < len(dst); i++ {
		dst[i] = EmptyNode(i)
	}
	return nil
}
