package cmt

// Path is an independent copy of the rightmost path record.
type Path struct {
	// Proof is the sibling at every level for the rightmost leaf.
	Proof []Node
	Leaf  Node
	// Index is one past the highest leaf index ever written, which is also
	// the position of the next append.
	Index uint32
}

func (r *MerkleRoll) rightmostRecord() []byte {
	off := RightmostOffset(r.depth, int(r.bufferSize))
	return r.data[off : off+PathRecordBytes(r.depth)]
}

func (r *MerkleRoll) rightmostProofNode(level int) Node {
	return readNode(r.rightmostRecord()[level*NodeBytes:])
}

func (r *MerkleRoll) setRightmostProofNode(level int, n Node) {
	writeNode(r.rightmostRecord()[level*NodeBytes:], n)
}

func (r *MerkleRoll) readRightmostProof(dst []Node) {
	rec := r.rightmostRecord()
	for level := 0; level < r.depth; level++ {
		dst[level] = readNode(rec[level*NodeBytes:])
	}
}

func (r *MerkleRoll) writeRightmostProof(proof []Node) {
	rec := r.rightmostRecord()
	for level := 0; level < r.depth; level++ {
		writeNode(rec[level*NodeBytes:], proof[level])
	}
}

func (r *MerkleRoll) rightmostLeaf() Node {
	return readNode(r.rightmostRecord()[r.depth*NodeBytes:])
}

func (r *MerkleRoll) setRightmostLeaf(n Node) {
	writeNode(r.rightmostRecord()[r.depth*NodeBytes:], n)
}

func (r *MerkleRoll) rightmostIndex() uint32 {
	return readU32LE(r.rightmostRecord()[r.depth*NodeBytes+NodeBytes:])
}

func (r *MerkleRoll) setRightmostIndex(index uint32) {
	rec := r.rightmostRecord()
	off := r.depth*NodeBytes + NodeBytes
	writeU32LE(rec[off:], index)
	writeU32LE(rec[off+4:], 0)
}
