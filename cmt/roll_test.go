package cmt_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-merkleroll/cmt"
	"github.com/forestrie/go-merkleroll/mirror"
)

func testLeaf(i int) cmt.Node {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(i))
	return cmt.Node(sha256.Sum256(b[:]))
}

func newTestRoll(t *testing.T, depth, bufferSize int) (*cmt.MerkleRoll, *mirror.Tree) {
	t.Helper()
	r, err := cmt.NewMerkleRoll(depth, bufferSize)
	require.NoError(t, err)
	_, err = r.Initialize()
	require.NoError(t, err)
	m, err := mirror.New(depth)
	require.NoError(t, err)
	return r, m
}

// appendLeaves appends n leaves numbered from first and mirrors them.
func appendLeaves(t *testing.T, r *cmt.MerkleRoll, m *mirror.Tree, first, n int) {
	t.Helper()
	for i := first; i < first+n; i++ {
		root, err := r.Append(testLeaf(i))
		require.NoError(t, err)
		require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
		require.Equal(t, m.Root(), root)
	}
}

// setLeaf updates index with a proof fresh from the mirror.
func setLeaf(t *testing.T, r *cmt.MerkleRoll, m *mirror.Tree, index uint32, leaf cmt.Node) {
	t.Helper()
	proof, err := m.Proof(index)
	require.NoError(t, err)
	root, err := r.SetLeaf(m.Root(), m.Leaf(index), leaf, proof, index)
	require.NoError(t, err)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
	require.Equal(t, m.Root(), root)
}

func TestInitializeMatchesEmptyTreeOfAnyDepth(t *testing.T) {
	for _, depth := range []int{1, 3, 14, cmt.MaxDepth} {
		r, err := cmt.NewMerkleRoll(depth, 8)
		require.NoError(t, err)
		root, err := r.Initialize()
		require.NoError(t, err)

		m, err := mirror.New(depth)
		require.NoError(t, err)

		assert.Equal(t, m.Root(), root)
		assert.Equal(t, cmt.EmptyNode(depth), r.Root())
		assert.Equal(t, uint64(1), r.BufferSize())
		assert.Equal(t, uint64(0), r.SequenceNumber())
		assert.Equal(t, uint32(0), r.RightmostProof().Index)
	}
}

func TestAppendTwoLeavesDepthThree(t *testing.T) {
	r, _ := newTestRoll(t, 3, 8)
	a, b := testLeaf(1), testLeaf(2)

	_, err := r.Append(a)
	require.NoError(t, err)
	root, err := r.Append(b)
	require.NoError(t, err)

	e := cmt.Empty
	ab := cmt.HashNodes(a, b)
	ee := cmt.HashNodes(e, e)
	want := cmt.HashNodes(cmt.HashNodes(ab, ee), cmt.HashNodes(ee, ee))

	assert.Equal(t, want, root)
	assert.Equal(t, want, r.Root())
	assert.Equal(t, uint32(2), r.RightmostProof().Index)
	assert.Equal(t, b, r.RightmostProof().Leaf)
	assert.Equal(t, uint64(2), r.SequenceNumber())
}

func TestAppendMonotonicAndMatchesMirror(t *testing.T) {
	r, m := newTestRoll(t, 5, 8)
	seen := map[cmt.Node]bool{r.Root(): true}
	for i := 0; i < 32; i++ {
		root, err := r.Append(testLeaf(i))
		require.NoError(t, err)
		require.Equal(t, uint32(i+1), r.RightmostProof().Index)
		require.False(t, seen[root], "root repeated at append %d", i)
		seen[root] = true

		cl := r.ChangeLog()
		require.Equal(t, uint32(i), cl.Index)
		require.NoError(t, m.ApplyChangeLog(cl))
		require.Equal(t, m.Root(), root)

		proof, err := m.Proof(cl.Index)
		require.NoError(t, err)
		require.NoError(t, cl.Verify(proof))

		// the rightmost proof must always prove the rightmost leaf
		rp := r.RightmostProof()
		require.Equal(t, root, cmt.Recompute(rp.Leaf, rp.Proof, rp.Index-1))
	}
}

func TestAppendErrors(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)

	_, err := r.Append(cmt.Empty)
	require.ErrorIs(t, err, cmt.ErrCannotAppendEmptyNode)

	appendLeaves(t, r, m, 0, 8)

	before := bytes.Clone(r.Bytes())
	_, err = r.Append(testLeaf(9))
	require.ErrorIs(t, err, cmt.ErrTreeFull)
	require.Equal(t, before, r.Bytes())
}

func TestAppendOnUninitializedBlock(t *testing.T) {
	r, err := cmt.NewMerkleRoll(3, 8)
	require.NoError(t, err)
	_, err = r.Append(testLeaf(1))
	require.ErrorIs(t, err, cmt.ErrTreeAlreadyInitialized)
}

func TestSetLeafFastForwardsStaleProof(t *testing.T) {
	r, m := newTestRoll(t, 4, 8)
	appendLeaves(t, r, m, 0, 8)

	staleRoot := m.Root()
	staleProof, err := m.Proof(1)
	require.NoError(t, err)

	// seven intervening changes, none touching index 1
	for i, index := range []uint32{0, 2, 5, 7, 3} {
		setLeaf(t, r, m, index, testLeaf(100+i))
	}
	appendLeaves(t, r, m, 8, 2)

	root, err := r.SetLeaf(staleRoot, testLeaf(1), testLeaf(200), staleProof, 1)
	require.NoError(t, err)
	require.NoError(t, m.Set(1, testLeaf(200)))
	assert.Equal(t, m.Root(), root)
	assert.Equal(t, uint32(10), r.RightmostProof().Index)

	// the frontier stays provable after updates behind it
	appendLeaves(t, r, m, 10, 3)
}

func TestSetLeafConflictOnSameIndex(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)
	appendLeaves(t, r, m, 0, 4)

	staleRoot := m.Root()
	proof, err := m.Proof(2)
	require.NoError(t, err)

	_, err = r.SetLeaf(staleRoot, testLeaf(2), testLeaf(20), proof, 2)
	require.NoError(t, err)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))

	before := bytes.Clone(r.Bytes())
	_, err = r.SetLeaf(staleRoot, testLeaf(2), testLeaf(21), proof, 2)
	require.ErrorIs(t, err, cmt.ErrLeafAlreadyUpdated)
	require.Equal(t, before, r.Bytes())
	assert.Equal(t, m.Root(), r.Root())
}

func TestSetLeafOutOfBounds(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)
	appendLeaves(t, r, m, 0, 2)

	proof, err := m.Proof(3)
	require.NoError(t, err)
	_, err = r.SetLeaf(m.Root(), cmt.Empty, testLeaf(3), proof, 3)
	require.ErrorIs(t, err, cmt.ErrLeafIndexOutOfBounds)

	_, err = r.SetLeaf(m.Root(), cmt.Empty, testLeaf(3), proof, 8)
	require.ErrorIs(t, err, cmt.ErrLeafIndexOutOfBounds)
}

func TestSetLeafRejectsWrongPreviousLeaf(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)
	appendLeaves(t, r, m, 0, 4)

	proof, err := m.Proof(1)
	require.NoError(t, err)
	_, err = r.SetLeaf(m.Root(), testLeaf(99), testLeaf(5), proof, 1)
	require.ErrorIs(t, err, cmt.ErrInvalidProof)
}

func TestSetLeafAtFrontierExtendsRightmostPath(t *testing.T) {
	r, m := newTestRoll(t, 4, 8)
	appendLeaves(t, r, m, 0, 3)

	setLeaf(t, r, m, 3, testLeaf(3))
	assert.Equal(t, uint32(4), r.RightmostProof().Index)
	assert.Equal(t, testLeaf(3), r.RightmostProof().Leaf)

	appendLeaves(t, r, m, 4, 3)
}

func TestSetRightmostLeafThenAppend(t *testing.T) {
	r, m := newTestRoll(t, 4, 8)
	appendLeaves(t, r, m, 0, 5)

	setLeaf(t, r, m, 4, testLeaf(40))
	assert.Equal(t, testLeaf(40), r.RightmostProof().Leaf)

	appendLeaves(t, r, m, 5, 4)
}

func TestFillEmptyOrAppend(t *testing.T) {
	r, m := newTestRoll(t, 4, 8)
	appendLeaves(t, r, m, 0, 2)

	staleRoot := m.Root()
	proof, err := m.Proof(2)
	require.NoError(t, err)

	// first proposer fills the empty slot
	root, err := r.FillEmptyOrAppend(staleRoot, testLeaf(2), proof, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(2), r.ChangeLog().Index)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
	require.Equal(t, m.Root(), root)

	// the second, racing for the same slot, lands at the frontier instead
	root, err = r.FillEmptyOrAppend(staleRoot, testLeaf(3), proof, 2)
	require.NoError(t, err)
	require.Equal(t, uint32(3), r.ChangeLog().Index)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
	require.Equal(t, m.Root(), root)
	assert.Equal(t, uint32(4), r.RightmostProof().Index)

	// SetLeaf in the same race fails rather than appending
	_, err = r.SetLeaf(staleRoot, cmt.Empty, testLeaf(4), proof, 2)
	require.ErrorIs(t, err, cmt.ErrLeafAlreadyUpdated)
}

func TestFillEmptyOrAppendBehindFrontier(t *testing.T) {
	r, m := newTestRoll(t, 4, 8)
	appendLeaves(t, r, m, 0, 4)

	// an explicit hole: set leaf 1 back to empty
	proof, err := m.Proof(1)
	require.NoError(t, err)
	_, err = r.SetLeaf(m.Root(), testLeaf(1), cmt.Empty, proof, 1)
	require.NoError(t, err)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))

	proof, err = m.Proof(1)
	require.NoError(t, err)
	root, err := r.FillEmptyOrAppend(m.Root(), testLeaf(11), proof, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), r.ChangeLog().Index)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
	assert.Equal(t, m.Root(), root)

	appendLeaves(t, r, m, 4, 2)
}

func TestFillEmptyOrAppendBeyondFrontierAppends(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)
	appendLeaves(t, r, m, 0, 2)

	proof, err := m.Proof(5)
	require.NoError(t, err)
	root, err := r.FillEmptyOrAppend(m.Root(), testLeaf(50), proof, 5)
	require.NoError(t, err)
	require.Equal(t, uint32(2), r.ChangeLog().Index)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
	assert.Equal(t, m.Root(), root)
	assert.Equal(t, testLeaf(50), m.Leaf(2))
	assert.Equal(t, cmt.Empty, m.Leaf(5))
	assert.Equal(t, uint32(3), r.RightmostProof().Index)

	// the same slot through SetLeaf is out of bounds and changes nothing
	before := bytes.Clone(r.Bytes())
	proof, err = m.Proof(5)
	require.NoError(t, err)
	_, err = r.SetLeaf(m.Root(), cmt.Empty, testLeaf(51), proof, 5)
	require.ErrorIs(t, err, cmt.ErrLeafIndexOutOfBounds)
	assert.Equal(t, before, r.Bytes())
}

func TestProofAgedOutOfBuffer(t *testing.T) {
	r, m := newTestRoll(t, 4, 8)
	appendLeaves(t, r, m, 0, 8)

	staleRoot := m.Root()
	proof, err := m.Proof(0)
	require.NoError(t, err)

	// the only change touching the right half is pushed out of the window by
	// eight further changes to leaf 1
	appendLeaves(t, r, m, 8, 1)
	for i := 0; i < 8; i++ {
		setLeaf(t, r, m, 1, testLeaf(300+i))
	}

	before := bytes.Clone(r.Bytes())
	_, err = r.SetLeaf(staleRoot, testLeaf(0), testLeaf(400), proof, 0)
	require.ErrorIs(t, err, cmt.ErrInvalidProof)
	require.Equal(t, before, r.Bytes())
}

// TestReplayAcceptsAgedOutRootWhenLaterChangesCoverIt pins a permissive edge
// of the replay search: a root that left the window is still accepted when
// the retained changes happen to patch every level the lost ones touched.
func TestReplayAcceptsAgedOutRootWhenLaterChangesCoverIt(t *testing.T) {
	r, m := newTestRoll(t, 5, 8)
	appendLeaves(t, r, m, 0, 4)

	staleRoot := m.Root()
	proof, err := m.Proof(0)
	require.NoError(t, err)

	// nine appends; 4 ages out but 5, 6 and 7 rewrite the same level
	appendLeaves(t, r, m, 4, 9)

	root, err := r.SetLeaf(staleRoot, testLeaf(0), testLeaf(500), proof, 0)
	require.NoError(t, err)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
	assert.Equal(t, m.Root(), root)
}

func TestReplayDoesNotDegradeToAppend(t *testing.T) {
	r, m := newTestRoll(t, 4, 2)
	appendLeaves(t, r, m, 0, 2)

	staleRoot := m.Root()
	proof, err := m.Proof(2)
	require.NoError(t, err)

	// leaf 2 is filled, then its root is pushed out of the two slot window
	appendLeaves(t, r, m, 2, 2)

	_, err = r.FillEmptyOrAppend(staleRoot, testLeaf(50), proof, 2)
	require.ErrorIs(t, err, cmt.ErrLeafAlreadyUpdated)
}

func TestTruncatedProof(t *testing.T) {
	r, m := newTestRoll(t, 6, 8)
	appendLeaves(t, r, m, 0, 4)

	// everything above level 2 is an empty subtree while only 4 leaves exist
	proof, err := m.Proof(1)
	require.NoError(t, err)
	root, err := r.SetLeaf(m.Root(), testLeaf(1), testLeaf(10), proof[:2], 1)
	require.NoError(t, err)
	require.NoError(t, m.ApplyChangeLog(r.ChangeLog()))
	assert.Equal(t, m.Root(), root)

	_, err = r.SetLeaf(m.Root(), testLeaf(10), testLeaf(11), make([]cmt.Node, 7), 1)
	require.ErrorIs(t, err, cmt.ErrInvalidProof)
}

func TestInitializeWithRoot(t *testing.T) {
	m, err := mirror.New(4)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.Set(uint32(i), testLeaf(i)))
	}
	proof, err := m.Proof(4)
	require.NoError(t, err)

	r, err := cmt.NewMerkleRoll(4, 8)
	require.NoError(t, err)

	before := bytes.Clone(r.Bytes())
	_, err = r.InitializeWithRoot(testLeaf(77), testLeaf(4), proof, 4)
	require.ErrorIs(t, err, cmt.ErrRootMismatch)
	require.Equal(t, before, r.Bytes())

	root, err := r.InitializeWithRoot(m.Root(), testLeaf(4), proof, 4)
	require.NoError(t, err)
	assert.Equal(t, m.Root(), root)
	assert.Equal(t, uint32(5), r.RightmostProof().Index)
	assert.Equal(t, uint64(1), r.SequenceNumber())

	appendLeaves(t, r, m, 5, 3)
	setLeaf(t, r, m, 2, testLeaf(22))
}

func TestRingBufferBookkeeping(t *testing.T) {
	r, m := newTestRoll(t, 5, 4)
	for i := 0; i < 10; i++ {
		appendLeaves(t, r, m, i, 1)
		assert.Equal(t, uint64(i+1)&3, r.ActiveIndex())
		assert.LessOrEqual(t, r.BufferSize(), uint64(4))
	}
	assert.Equal(t, uint64(4), r.BufferSize())
	assert.Equal(t, uint64(10), r.SequenceNumber())

	logs := r.ChangeLogs()
	require.Len(t, logs, 4)
	for i, cl := range logs {
		assert.Equal(t, uint32(9-i), cl.Index)
	}
	assert.Equal(t, r.Root(), logs[0].Root)
}

func TestChangeLogIsACopy(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)
	appendLeaves(t, r, m, 0, 1)

	cl := r.ChangeLog()
	cl.Path[0] = testLeaf(42)
	cl.Root = testLeaf(43)
	assert.Equal(t, testLeaf(0), r.ChangeLog().Leaf())
	assert.Equal(t, m.Root(), r.Root())
}

func TestOpenMerkleRollResumes(t *testing.T) {
	r, m := newTestRoll(t, 4, 8)
	appendLeaves(t, r, m, 0, 6)

	persisted := bytes.Clone(r.Bytes())
	r2, err := cmt.OpenMerkleRoll(persisted, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, r.Root(), r2.Root())

	appendLeaves(t, r2, m, 6, 3)
	setLeaf(t, r2, m, 0, testLeaf(60))

	_, err = cmt.OpenMerkleRoll(persisted[1:], 4, 8)
	require.ErrorIs(t, err, cmt.ErrRollDataBadSize)

	bad := bytes.Clone(persisted)
	bad[16] = 9 // active index beyond the buffer
	_, err = cmt.OpenMerkleRoll(bad, 4, 8)
	require.ErrorIs(t, err, cmt.ErrRollHeaderInvalid)
}

func TestSequenceNumberSaturates(t *testing.T) {
	r, m := newTestRoll(t, 3, 4)
	appendLeaves(t, r, m, 0, 1)

	data := bytes.Clone(r.Bytes())
	binary.LittleEndian.PutUint64(data[0:8], math.MaxUint64)
	r2, err := cmt.OpenMerkleRoll(data, 3, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), r2.SequenceNumber())

	appendLeaves(t, r2, m, 1, 2)
	assert.Equal(t, uint64(math.MaxUint64), r2.SequenceNumber())
	assert.Equal(t, m.Root(), r2.Root())
}

func TestCloneIsIndependent(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)
	appendLeaves(t, r, m, 0, 2)

	c := r.Clone()
	_, err := c.Append(testLeaf(5))
	require.NoError(t, err)
	assert.Equal(t, m.Root(), r.Root())
	assert.NotEqual(t, r.Root(), c.Root())
}

func TestUpdatesOnFullTreeKeepRightmostPath(t *testing.T) {
	r, m := newTestRoll(t, 3, 8)
	appendLeaves(t, r, m, 0, 8)

	setLeaf(t, r, m, 2, testLeaf(20))
	setLeaf(t, r, m, 7, testLeaf(70))

	rp := r.RightmostProof()
	assert.Equal(t, uint32(8), rp.Index)
	assert.Equal(t, testLeaf(70), rp.Leaf)
	assert.Equal(t, r.Root(), cmt.Recompute(rp.Leaf, rp.Proof, rp.Index-1))
}
