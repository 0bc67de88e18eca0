package api

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/forestrie/go-merkleroll/checkpoint"
	"github.com/forestrie/go-merkleroll/cmt"
	"github.com/forestrie/go-merkleroll/internal/service"
)

var errNodeEncoding = errors.New("node must be 64 hex characters")

func encodeNode(n cmt.Node) string {
	return hex.EncodeToString(n[:])
}

func encodeNodes(nodes []cmt.Node) []string {
	out := make([]string, len(nodes))
	for i := range nodes {
		out[i] = encodeNode(nodes[i])
	}
	return out
}

func decodeNode(s string) (cmt.Node, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return cmt.Node{}, fmt.Errorf("%w: %v", errNodeEncoding, err)
	}
	n, err := cmt.NodeFromBytes(b)
	if err != nil {
		return cmt.Node{}, errNodeEncoding
	}
	return n, nil
}

func decodeNodes(ss []string) ([]cmt.Node, error) {
	out := make([]cmt.Node, len(ss))
	for i, s := range ss {
		n, err := decodeNode(s)
		if err != nil {
			return nil, fmt.Errorf("proof[%d]: %w", i, err)
		}
		out[i] = n
	}
	return out, nil
}

type createRequest struct {
	Depth      int      `json:"depth"`
	BufferSize int      `json:"buffer_size"`
	Leaves     []string `json:"leaves"`
}

type appendRequest struct {
	Leaf string `json:"leaf" binding:"required"`
}

type setLeafRequest struct {
	Root         string   `json:"root" binding:"required"`
	PreviousLeaf string   `json:"previous_leaf" binding:"required"`
	NewLeaf      string   `json:"new_leaf" binding:"required"`
	Proof        []string `json:"proof"`
}

type fillRequest struct {
	Root  string   `json:"root" binding:"required"`
	Leaf  string   `json:"leaf" binding:"required"`
	Proof []string `json:"proof"`
	Index *uint32  `json:"index" binding:"required"`
}

type headResponse struct {
	ID             string    `json:"id"`
	Root           string    `json:"root"`
	SequenceNumber uint64    `json:"sequence_number"`
	LeafCount      uint32    `json:"leaf_count"`
	Depth          int       `json:"depth"`
	MaxBufferSize  int       `json:"max_buffer_size"`
	BufferSize     uint64    `json:"buffer_size"`
	ActiveIndex    uint64    `json:"active_index"`
	Bytes          int       `json:"bytes"`
	Created        time.Time `json:"created"`
}

func toHeadResponse(h service.Head) headResponse {
	return headResponse{
		ID:             h.TreeID,
		Root:           encodeNode(h.Root),
		SequenceNumber: h.SequenceNumber,
		LeafCount:      h.LeafCount,
		Depth:          h.Depth,
		MaxBufferSize:  h.MaxBufferSize,
		BufferSize:     h.BufferSize,
		ActiveIndex:    h.ActiveIndex,
		Bytes:          h.RollBytes,
		Created:        h.Created,
	}
}

type resultResponse struct {
	ID             string `json:"id"`
	Root           string `json:"root"`
	Index          uint32 `json:"index"`
	SequenceNumber uint64 `json:"sequence_number"`
	LeafCount      uint32 `json:"leaf_count"`
}

func toResultResponse(r service.Result) resultResponse {
	return resultResponse{
		ID:             r.TreeID,
		Root:           encodeNode(r.Root),
		Index:          r.Index,
		SequenceNumber: r.SequenceNumber,
		LeafCount:      r.LeafCount,
	}
}

type proofResponse struct {
	Root           string   `json:"root"`
	Leaf           string   `json:"leaf"`
	Proof          []string `json:"proof"`
	Index          uint32   `json:"index"`
	SequenceNumber uint64   `json:"sequence_number"`
}

type changeLogResponse struct {
	Root  string   `json:"root"`
	Path  []string `json:"path"`
	Index uint32   `json:"index"`
}

type checkpointResponse struct {
	// Checkpoint is the COSE Sign1 message, base64 encoded by encoding/json.
	Checkpoint     []byte `json:"checkpoint"`
	Root           string `json:"root"`
	SequenceNumber uint64 `json:"sequence_number"`
	LeafCount      uint32 `json:"leaf_count"`
	Timestamp      int64  `json:"timestamp"`
}

func toCheckpointResponse(msg []byte, h checkpoint.TreeHead) checkpointResponse {
	return checkpointResponse{
		Checkpoint:     msg,
		Root:           hex.EncodeToString(h.Root),
		SequenceNumber: h.SequenceNumber,
		LeafCount:      h.LeafCount,
		Timestamp:      h.Timestamp,
	}
}
