package cmt

import (
	"fmt"
	"math"
	"math/bits"
)

// MerkleRoll tracks the root of a fixed depth tree together with the last
// MaxBufferSize changes made to it. All state is held in a single flat block,
// see the package documentation for its layout.
type MerkleRoll struct {
	depth      int
	bufferSize uint64
	mask       uint64
	data       []byte
	hasher     *Hasher
}

// NewMerkleRoll allocates a zero filled block for a roll of the given
// dimensions. The roll must be initialized before use.
func NewMerkleRoll(depth, bufferSize int) (*MerkleRoll, error) {
	if err := CheckDimensions(depth, bufferSize); err != nil {
		return nil, err
	}
	return newRoll(depth, bufferSize, make([]byte, RollBytes(depth, bufferSize))), nil
}

// OpenMerkleRoll adopts a previously persisted block. The roll reads and
// writes data in place.
func OpenMerkleRoll(data []byte, depth, bufferSize int) (*MerkleRoll, error) {
	if err := CheckDimensions(depth, bufferSize); err != nil {
		return nil, err
	}
	if len(data) != RollBytes(depth, bufferSize) {
		return nil, ErrRollDataBadSize
	}
	r := newRoll(depth, bufferSize, data)
	if r.ActiveIndex() >= r.bufferSize || r.BufferSize() > r.bufferSize {
		return nil, fmt.Errorf(
			"%w: active index %d, buffer size %d, capacity %d",
			ErrRollHeaderInvalid, r.ActiveIndex(), r.BufferSize(), r.bufferSize)
	}
	if uint64(r.rightmostIndex()) > r.Capacity() {
		return nil, fmt.Errorf(
			"%w: rightmost index %d exceeds capacity %d",
			ErrRollHeaderInvalid, r.rightmostIndex(), r.Capacity())
	}
	return r, nil
}

func newRoll(depth, bufferSize int, data []byte) *MerkleRoll {
	return &MerkleRoll{
		depth:      depth,
		bufferSize: uint64(bufferSize),
		mask:       uint64(bufferSize) - 1,
		data:       data,
		hasher:     NewHasher(),
	}
}

// Depth returns D.
func (r *MerkleRoll) Depth() int { return r.depth }

// MaxBufferSize returns B, the number of change logs retained.
func (r *MerkleRoll) MaxBufferSize() int { return int(r.bufferSize) }

// Capacity returns 2^D.
func (r *MerkleRoll) Capacity() uint64 { return uint64(1) << r.depth }

// Bytes returns the live block. Writes to it are writes to the roll.
func (r *MerkleRoll) Bytes() []byte { return r.data }

// Clone returns a roll backed by an independent copy of the block.
func (r *MerkleRoll) Clone() *MerkleRoll {
	data := make([]byte, len(r.data))
	copy(data, r.data)
	return newRoll(r.depth, int(r.bufferSize), data)
}

// SequenceNumber returns the count of successful mutations.
func (r *MerkleRoll) SequenceNumber() uint64 {
	return readU64LE(r.data[headerSequenceOff:])
}

func (r *MerkleRoll) setSequenceNumber(v uint64) {
	writeU64LE(r.data[headerSequenceOff:], v)
	writeU64LE(r.data[headerSequenceOff+8:], 0)
}

// incrementSequenceNumber saturates rather than wrapping.
func (r *MerkleRoll) incrementSequenceNumber() {
	if seq := r.SequenceNumber(); seq < math.MaxUint64 {
		r.setSequenceNumber(seq + 1)
	}
}

// ActiveIndex returns the ring buffer slot of the most recent change log.
func (r *MerkleRoll) ActiveIndex() uint64 {
	return readU64LE(r.data[headerActiveOff:])
}

// BufferSize returns the number of valid change log slots.
func (r *MerkleRoll) BufferSize() uint64 {
	return readU64LE(r.data[headerBufferSizeOff:])
}

func (r *MerkleRoll) setActiveIndex(v uint64) { writeU64LE(r.data[headerActiveOff:], v) }
func (r *MerkleRoll) setBufferSize(v uint64)  { writeU64LE(r.data[headerBufferSizeOff:], v) }

func (r *MerkleRoll) incrementActiveIndex() {
	r.setActiveIndex((r.ActiveIndex() + 1) & r.mask)
	if size := r.BufferSize(); size < r.bufferSize {
		r.setBufferSize(size + 1)
	}
}

// Root returns the current root.
func (r *MerkleRoll) Root() Node {
	return r.changeLogRoot(r.ActiveIndex())
}

// ChangeLog returns a copy of the most recent change log.
func (r *MerkleRoll) ChangeLog() ChangeLog {
	return r.readChangeLog(r.ActiveIndex())
}

// ChangeLogs returns copies of every retained change log, newest first.
func (r *MerkleRoll) ChangeLogs() []ChangeLog {
	n := r.BufferSize()
	logs := make([]ChangeLog, 0, n)
	active := r.ActiveIndex()
	for i := uint64(0); i < n; i++ {
		logs = append(logs, r.readChangeLog((active-i)&r.mask))
	}
	return logs
}

// RightmostProof returns a copy of the rightmost path record.
func (r *MerkleRoll) RightmostProof() Path {
	p := Path{
		Proof: make([]Node, r.depth),
		Leaf:  r.rightmostLeaf(),
		Index: r.rightmostIndex(),
	}
	r.readRightmostProof(p.Proof)
	return p
}

// Initialize resets the block to the canonical empty tree and returns its
// root.
func (r *MerkleRoll) Initialize() (Node, error) {
	clear(r.data)

	var empties [MaxDepth]Node
	for i := 0; i < r.depth; i++ {
		empties[i] = EmptyNode(i)
	}
	root := EmptyNode(r.depth)

	r.writeRightmostProof(empties[:r.depth])
	r.writeChangeLog(0, root, empties[:r.depth], 0)
	r.setSequenceNumber(0)
	r.setActiveIndex(0)
	r.setBufferSize(1)
	return root, nil
}

// InitializeWithRoot adopts an already populated tree whose highest leaf is
// rightmostLeaf at index, with proof its siblings. The block is only written
// if the three reproduce root.
func (r *MerkleRoll) InitializeWithRoot(root, rightmostLeaf Node, proof []Node, index uint32) (Node, error) {
	if len(proof) != r.depth {
		return Node{}, fmt.Errorf("%w: proof has %d nodes, depth is %d", ErrInvalidProof, len(proof), r.depth)
	}
	if uint64(index) >= r.Capacity() {
		return Node{}, ErrLeafIndexOutOfBounds
	}

	var path [MaxDepth]Node
	if got := r.hasher.recomputePath(rightmostLeaf, proof, index, path[:r.depth]); got != root {
		return Node{}, fmt.Errorf("%w: got %x, want %x", ErrRootMismatch, got, root)
	}

	clear(r.data)
	r.writeChangeLog(0, root, path[:r.depth], index)
	r.writeRightmostProof(proof)
	r.setRightmostLeaf(rightmostLeaf)
	r.setRightmostIndex(index + 1)
	r.setSequenceNumber(1)
	r.setActiveIndex(0)
	r.setBufferSize(1)
	return root, nil
}

// initializeTree handles the first append into an empty tree. The current
// rightmost proof must still describe the canonical empty tree.
func (r *MerkleRoll) initializeTree(leaf Node) (Node, error) {
	var proof [MaxDepth]Node
	r.readRightmostProof(proof[:r.depth])
	if r.hasher.Recompute(Empty, proof[:r.depth], 0) != EmptyNode(r.depth) {
		return Node{}, ErrTreeAlreadyInitialized
	}
	return r.updateAndApplyProof(Empty, leaf, &proof, 0, r.ActiveIndex(), false, false)
}

// Append adds leaf at the next free position and returns the new root.
func (r *MerkleRoll) Append(leaf Node) (Node, error) {
	if leaf == Empty {
		return Node{}, ErrCannotAppendEmptyNode
	}
	rightmost := r.rightmostIndex()
	if uint64(rightmost) >= r.Capacity() {
		return Node{}, ErrTreeFull
	}
	if rightmost == 0 {
		return r.initializeTree(leaf)
	}

	var proof [MaxDepth]Node
	var changeList [MaxDepth]Node
	r.readRightmostProof(proof[:r.depth])

	// Below the intersection the new leaf's siblings are empty subtrees and,
	// in parallel, the previous rightmost leaf is hashed up to meet it.
	intersection := bits.TrailingZeros32(rightmost)
	node := leaf
	intersectionNode := r.rightmostLeaf()
	for i := 0; i < intersection; i++ {
		changeList[i] = node
		node = r.hasher.Hash(node, EmptyNode(i))
		if ((rightmost-1)>>i)&1 == 1 {
			intersectionNode = r.hasher.Hash(proof[i], intersectionNode)
		} else {
			intersectionNode = r.hasher.Hash(intersectionNode, proof[i])
		}
		proof[i] = EmptyNode(i)
	}

	changeList[intersection] = node
	node = r.hasher.Hash(intersectionNode, node)
	proof[intersection] = intersectionNode

	for i := intersection + 1; i < r.depth; i++ {
		changeList[i] = node
		if (rightmost>>i)&1 == 1 {
			node = r.hasher.Hash(proof[i], node)
		} else {
			node = r.hasher.Hash(node, proof[i])
		}
	}

	r.incrementActiveIndex()
	r.writeChangeLog(r.ActiveIndex(), node, changeList[:r.depth], rightmost)
	r.writeRightmostProof(proof[:r.depth])
	r.setRightmostIndex(rightmost + 1)
	r.setRightmostLeaf(leaf)
	r.incrementSequenceNumber()
	return node, nil
}

// FillEmptyOrAppend writes leaf at index, which the caller believes is empty
// under currentRoot. If another change filled the slot in the meantime the
// leaf is appended instead.
func (r *MerkleRoll) FillEmptyOrAppend(currentRoot, leaf Node, proof []Node, index uint32) (Node, error) {
	if uint64(index) >= r.Capacity() {
		return Node{}, ErrLeafIndexOutOfBounds
	}
	var full [MaxDepth]Node
	if err := fillInProof(full[:r.depth], proof); err != nil {
		return Node{}, err
	}
	return r.findAndUpdateLeaf(currentRoot, Empty, leaf, &full, index, true)
}

// SetLeaf replaces previousLeaf at index with newLeaf. proof must be valid
// for currentRoot, which may be any root still retained in the change log
// buffer. A conflicting change to the same index fails with
// ErrLeafAlreadyUpdated.
func (r *MerkleRoll) SetLeaf(currentRoot, previousLeaf, newLeaf Node, proof []Node, index uint32) (Node, error) {
	if index > r.rightmostIndex() || uint64(index) >= r.Capacity() {
		return Node{}, ErrLeafIndexOutOfBounds
	}
	var full [MaxDepth]Node
	if err := fillInProof(full[:r.depth], proof); err != nil {
		return Node{}, err
	}
	return r.findAndUpdateLeaf(currentRoot, previousLeaf, newLeaf, &full, index, false)
}

// findAndUpdateLeaf locates currentRoot in the change log buffer, newest
// first, and fast forwards the proof from there. If the root is not retained
// the proof is replayed across the entire buffer.
func (r *MerkleRoll) findAndUpdateLeaf(
	currentRoot, leaf, newLeaf Node, proof *[MaxDepth]Node, index uint32, appendOnConflict bool,
) (Node, error) {
	active := r.ActiveIndex()
	size := r.BufferSize()
	for i := uint64(0); i < size; i++ {
		j := (active - i) & r.mask
		if r.changeLogRoot(j) != currentRoot {
			continue
		}
		return r.updateAndApplyProof(leaf, newLeaf, proof, index, j, appendOnConflict, false)
	}
	return r.updateAndApplyProof(leaf, newLeaf, proof, index, (active-size)&r.mask, appendOnConflict, true)
}

// updateAndApplyProof patches proof, which is valid for the root at change
// log slot j, forward through every later change until it is valid for the
// current root, then applies the update.
//
// With useFullBuffer set the walk starts after j and makes one full pass of
// the retained change logs, ending at the active slot.
func (r *MerkleRoll) updateAndApplyProof(
	leaf, newLeaf Node, proof *[MaxDepth]Node, index uint32, j uint64,
	appendOnConflict, useFullBuffer bool,
) (Node, error) {
	updatedLeaf := leaf
	active := r.ActiveIndex()
	for {
		if !useFullBuffer && j == active {
			break
		}
		j = (j + 1) & r.mask
		changed := r.changeLogIndex(j)
		if changed != index {
			level := CritBitLevel(index, changed, r.depth)
			proof[level] = r.changeLogPathNode(j, level)
		} else {
			updatedLeaf = r.changeLogPathNode(j, 0)
		}
		if useFullBuffer && j == active {
			break
		}
	}

	validRoot := r.hasher.Recompute(updatedLeaf, proof[:r.depth], index) == r.Root()
	if updatedLeaf != leaf || index > r.rightmostIndex() {
		if !useFullBuffer && validRoot && leaf == Empty && appendOnConflict {
			return r.Append(newLeaf)
		}
		return Node{}, ErrLeafAlreadyUpdated
	}
	if !validRoot {
		return Node{}, ErrInvalidProof
	}

	r.incrementActiveIndex()
	r.incrementSequenceNumber()
	return r.applyChanges(newLeaf, proof[:r.depth], index), nil
}

// applyChanges records the change of leaf index to start, using a proof
// valid for the current root, and keeps the rightmost path valid.
func (r *MerkleRoll) applyChanges(start Node, proof []Node, index uint32) Node {
	var path [MaxDepth]Node
	root := r.hasher.recomputePath(start, proof, index, path[:r.depth])
	r.writeChangeLog(r.ActiveIndex(), root, path[:r.depth], index)

	rightmost := r.rightmostIndex()
	switch {
	case index == rightmost:
		// An append arriving through the update path.
		r.writeRightmostProof(proof)
		r.setRightmostIndex(index + 1)
		r.setRightmostLeaf(start)
	case index+1 == rightmost:
		r.setRightmostLeaf(start)
	case index < rightmost:
		level := CritBitLevel(index, rightmost-1, r.depth)
		r.setRightmostProofNode(level, path[level])
	}
	return root
}
