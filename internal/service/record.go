package service

import (
	"errors"
	"time"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"

	"github.com/forestrie/go-merkleroll/checkpoint"
	"github.com/forestrie/go-merkleroll/cmt"
	"github.com/forestrie/go-merkleroll/mirror"
)

const recordVersion = 1

var ErrTreeRecordInvalid = errors.New("service: stored tree record is not usable")

// treeRecord is the stored form of a tree. The roll block is kept verbatim
// and the mirror as its leaf snapshot.
type treeRecord struct {
	Version       uint8  `cbor:"1,keyasint"`
	Depth         uint8  `cbor:"2,keyasint"`
	MaxBufferSize uint32 `cbor:"3,keyasint"`
	Roll          []byte `cbor:"4,keyasint"`
	Mirror        []byte `cbor:"5,keyasint"`
	// Created is unix milliseconds.
	Created int64 `cbor:"6,keyasint"`
}

func encodeTree(codec dtcbor.CBORCodec, t *tree) ([]byte, error) {
	snapshot, err := t.mirror.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return codec.MarshalCBOR(treeRecord{
		Version:       recordVersion,
		Depth:         uint8(t.roll.Depth()),
		MaxBufferSize: uint32(t.roll.MaxBufferSize()),
		Roll:          t.roll.Bytes(),
		Mirror:        snapshot,
		Created:       t.created.UnixMilli(),
	})
}

func decodeTree(codec dtcbor.CBORCodec, id string, data []byte) (*tree, error) {
	var rec treeRecord
	if err := codec.UnmarshalInto(data, &rec); err != nil {
		return nil, err
	}
	if rec.Version != recordVersion {
		return nil, ErrTreeRecordInvalid
	}

	roll, err := cmt.OpenMerkleRoll(rec.Roll, int(rec.Depth), int(rec.MaxBufferSize))
	if err != nil {
		return nil, err
	}
	var m mirror.Tree
	if err := m.UnmarshalBinary(rec.Mirror); err != nil {
		return nil, err
	}
	if m.Depth() != roll.Depth() || m.Root() != roll.Root() {
		return nil, ErrTreeRecordInvalid
	}
	return &tree{
		id:      id,
		roll:    roll,
		mirror:  &m,
		created: time.UnixMilli(rec.Created),
	}, nil
}

// DecodeHead reads the head of a stored tree record without adopting it.
func DecodeHead(id string, data []byte) (Head, error) {
	codec, err := checkpoint.NewCodec()
	if err != nil {
		return Head{}, err
	}
	t, err := decodeTree(codec, id, data)
	if err != nil {
		return Head{}, err
	}
	return headOf(t), nil
}
