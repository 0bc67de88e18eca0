package cmt

// ChangeLog is an independent copy of one recorded mutation.
type ChangeLog struct {
	Root Node
	// Path holds the node at every level from the leaf (Path[0]) upwards, as
	// it was immediately after the change.
	Path  []Node
	Index uint32
}

// Leaf returns the leaf value written by the change.
func (cl ChangeLog) Leaf() Node {
	if len(cl.Path) == 0 {
		return Empty
	}
	return cl.Path[0]
}

// Verify checks that hashing the recorded leaf up through proof reproduces
// both the recorded path and the recorded root. Siblings are not part of a
// change log, so the caller supplies them.
func (cl ChangeLog) Verify(proof []Node) error {
	if len(proof) != len(cl.Path) {
		return ErrInvalidProof
	}
	path := make([]Node, len(cl.Path))
	root := NewHasher().recomputePath(cl.Leaf(), proof, cl.Index, path)
	if root != cl.Root {
		return ErrChangeLogInvalid
	}
	for i := range path {
		if path[i] != cl.Path[i] {
			return ErrChangeLogInvalid
		}
	}
	return nil
}

// changeLogRecord returns the bytes of change log slot i.
func (r *MerkleRoll) changeLogRecord(i uint64) []byte {
	off := ChangeLogOffset(r.depth, i)
	return r.data[off : off+ChangeLogRecordBytes(r.depth)]
}

func (r *MerkleRoll) changeLogRoot(i uint64) Node {
	return readNode(r.changeLogRecord(i))
}

func (r *MerkleRoll) changeLogIndex(i uint64) uint32 {
	rec := r.changeLogRecord(i)
	return readU32LE(rec[NodeBytes+r.depth*NodeBytes:])
}

// changeLogPathNode returns path[level] of change log slot i.
func (r *MerkleRoll) changeLogPathNode(i uint64, level int) Node {
	rec := r.changeLogRecord(i)
	return readNode(rec[NodeBytes+level*NodeBytes:])
}

func (r *MerkleRoll) writeChangeLog(i uint64, root Node, path []Node, index uint32) {
	rec := r.changeLogRecord(i)
	writeNode(rec, root)
	off := NodeBytes
	for level := 0; level < r.depth; level++ {
		writeNode(rec[off:], path[level])
		off += NodeBytes
	}
	writeU32LE(rec[off:], index)
	writeU32LE(rec[off+4:], 0)
}

// readChangeLog copies change log slot i out of the block.
func (r *MerkleRoll) readChangeLog(i uint64) ChangeLog {
	cl := ChangeLog{
		Root:  r.changeLogRoot(i),
		Path:  make([]Node, r.depth),
		Index: r.changeLogIndex(i),
	}
	for level := 0; level < r.depth; level++ {
		cl.Path[level] = r.changeLogPathNode(i, level)
	}
	return cl
}
