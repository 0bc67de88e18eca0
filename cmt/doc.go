package cmt

/*

# Concurrent Merkle roll primitives (fixed depth, in-place writes)

This package maintains the root of a binary Merkle tree of fixed depth D over
up to 2^D leaves, and accepts leaf updates whose proofs were computed against a
root that is no longer current.

It follows the same "functional primitives" style as the rest of the module:

- small, composable functions
- explicit byte layouts
- index arithmetic in place of pointers
- a burden of knowledge on the caller for hot paths

## State

The whole aggregate is one preallocated, zero-filled block of RollBytes(D, B)
bytes. Nothing in the block refers to anything outside it, so a caller can
persist it and later hand the same bytes back to OpenMerkleRoll.

	header      sequence[16] | activeIndex u64 | bufferSize u64
	changeLogs  B x ( root[32] | path[D][32] | index u32 | pad u32 )
	rightmost   proof[D][32] | leaf[32] | index u32 | pad u32

All integers are little endian. The change logs form a ring buffer with B a
power of two, so slot arithmetic is a mask rather than a modulus.

## Change logs

Each successful mutation records the root it produced and the node values on
the path from the touched leaf to the root. path[0] is the leaf itself and
path[i] is its ancestor at level i. A proof for any other leaf, computed
against an older root, is brought forward by replacing exactly one of its
siblings per intervening change: the one at the level where the two leaves'
paths diverge (see CritBitLevel). That sibling is the intervening change's
path node at the same level.

## Rightmost path

The frontier record keeps the proof for the highest leaf ever written, its
value, and the next append position. Appends only ever need it, never the
full leaf set.

## Concurrency

A MerkleRoll is not safe for concurrent use. The "concurrency" it tolerates
is that of independent proposers working from stale roots; their mutations
must still be applied one at a time by a single owner.

*/
