package rolltesting

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-merkleroll/cmt"
	"github.com/forestrie/go-merkleroll/mirror"
)

// LeafGenerator produces non empty leaves from a seeded source.
type LeafGenerator struct {
	rng *rand.Rand
}

func NewLeafGenerator(seed int64) *LeafGenerator {
	return &LeafGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *LeafGenerator) Next() cmt.Node {
	for {
		var n cmt.Node
		_, _ = g.rng.Read(n[:])
		if n != cmt.Empty {
			return n
		}
	}
}

// Pair is a roll together with the mirror tracking its leaves.
type Pair struct {
	T      *testing.T
	Roll   *cmt.MerkleRoll
	Mirror *mirror.Tree
}

func NewPair(t *testing.T, depth, bufferSize int) *Pair {
	r, err := cmt.NewMerkleRoll(depth, bufferSize)
	require.NoError(t, err)
	_, err = r.Initialize()
	require.NoError(t, err)
	m, err := mirror.New(depth)
	require.NoError(t, err)
	return &Pair{T: t, Roll: r, Mirror: m}
}

// Append adds leaf to both and checks they agree.
func (p *Pair) Append(leaf cmt.Node) cmt.Node {
	p.T.Helper()
	root, err := p.Roll.Append(leaf)
	require.NoError(p.T, err)
	require.NoError(p.T, p.Mirror.ApplyChangeLog(p.Roll.ChangeLog()))
	require.Equal(p.T, p.Mirror.Root(), root)
	return root
}

// Set replaces the leaf at index using a proof taken from the mirror.
func (p *Pair) Set(index uint32, leaf cmt.Node) cmt.Node {
	p.T.Helper()
	proof, err := p.Mirror.Proof(index)
	require.NoError(p.T, err)
	root, err := p.Roll.SetLeaf(p.Mirror.Root(), p.Mirror.Leaf(index), leaf, proof, index)
	require.NoError(p.T, err)
	require.NoError(p.T, p.Mirror.ApplyChangeLog(p.Roll.ChangeLog()))
	require.Equal(p.T, p.Mirror.Root(), root)
	return root
}
