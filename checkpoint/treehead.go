// Package checkpoint signs and verifies heads of a concurrent Merkle roll.
//
// A signed head commits to the tree root at a specific sequence number. The
// root is removed from the published message after signing, so a verifier
// must recover it from the tree (or a mirror of it) before the signature can
// be checked.
package checkpoint

import (
	"errors"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-merkleroll/cmt"
)

var (
	ErrRootDetached = errors.New("checkpoint: head has no root, recover it from the tree before verifying")
	ErrHeadMismatch = errors.New("checkpoint: head does not describe the supplied tree")
)

// TreeHead defines the details we include in a signed commitment to a roll.
type TreeHead struct {
	// SequenceNumber counts the mutations applied to the tree. It is the
	// coordinate a verifier uses to locate the root in the change log stream.
	SequenceNumber uint64 `cbor:"1,keyasint"`
	Root           []byte `cbor:"2,keyasint"`
	// Timestamp is the unix time (milliseconds) read at the time the root was
	// signed. Including it allows for the same root to be re-signed.
	Timestamp int64 `cbor:"3,keyasint"`

	// LeafCount is one past the highest leaf ever written.
	LeafCount     uint32 `cbor:"4,keyasint"`
	Depth         uint8  `cbor:"5,keyasint"`
	MaxBufferSize uint32 `cbor:"6,keyasint"`
}

// HeadFromRoll captures the current head of r.
func HeadFromRoll(r *cmt.MerkleRoll, timestamp int64) TreeHead {
	root := r.Root()
	return TreeHead{
		SequenceNumber: r.SequenceNumber(),
		Root:           root[:],
		Timestamp:      timestamp,
		LeafCount:      r.RightmostProof().Index,
		Depth:          uint8(r.Depth()),
		MaxBufferSize:  uint32(r.MaxBufferSize()),
	}
}

// Matches reports whether the head describes r as it is now. The root is not
// compared, callers attach it with WithRoot.
func (h TreeHead) Matches(r *cmt.MerkleRoll) error {
	if h.SequenceNumber != r.SequenceNumber() ||
		h.LeafCount != r.RightmostProof().Index ||
		int(h.Depth) != r.Depth() ||
		int(h.MaxBufferSize) != r.MaxBufferSize() {
		return ErrHeadMismatch
	}
	return nil
}

// WithRoot returns a copy of h carrying root.
func (h TreeHead) WithRoot(root cmt.Node) TreeHead {
	h.Root = append([]byte(nil), root[:]...)
	return h
}

func NewCodec() (dtcbor.CBORCodec, error) {
	codec, err := dtcbor.NewCBORCodec(
		dtcbor.NewDeterministicEncOpts(),
		dtcbor.NewDeterministicDecOpts(), // unsigned int decodes to uint64
	)
	if err != nil {
		return dtcbor.CBORCodec{}, err
	}
	return codec, nil
}
