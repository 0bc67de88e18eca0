// Package service owns a set of named rolls and serializes every mutation
// made to them.
//
// Each mutation runs against a copy of the tree's block. The copy and the
// matching mirror are written to the store, and only once the store accepts
// them does the copy replace the live tree. A failed write leaves the tree as
// it was.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	dtcbor "github.com/datatrails/go-datatrails-common/cbor"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"

	"github.com/forestrie/go-merkleroll/checkpoint"
	"github.com/forestrie/go-merkleroll/cmt"
	"github.com/forestrie/go-merkleroll/internal/metrics"
	"github.com/forestrie/go-merkleroll/mirror"
	"github.com/forestrie/go-merkleroll/rollstore"
)

var (
	ErrTreeNotFound   = errors.New("service: tree not found")
	ErrNoSigner       = errors.New("service: no checkpoint signer configured")
	ErrMirrorDiverged = errors.New("service: mirror diverged from roll")
)

type tree struct {
	id      string
	roll    *cmt.MerkleRoll
	mirror  *mirror.Tree
	version string
	created time.Time
}

type Config struct {
	Issuer string
}

type Service struct {
	cfg        Config
	log        logger.Logger
	store      rollstore.Store
	codec      dtcbor.CBORCodec
	signer     checkpoint.Signer
	coseSigner checkpoint.IdentifiableCoseSigner

	mu    sync.Mutex
	trees map[string]*tree

	now func() time.Time
}

// New returns a service over store. coseSigner may be nil, in which case
// Checkpoint fails with ErrNoSigner.
func New(
	cfg Config, log logger.Logger, store rollstore.Store, coseSigner checkpoint.IdentifiableCoseSigner,
) (*Service, error) {
	codec, err := checkpoint.NewCodec()
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:        cfg,
		log:        log,
		store:      store,
		codec:      codec,
		signer:     checkpoint.NewSigner(cfg.Issuer, codec),
		coseSigner: coseSigner,
		trees:      map[string]*tree{},
		now:        time.Now,
	}, nil
}

// Load reads every tree held by the store.
func (s *Service) Load(ctx context.Context) error {
	ids, err := s.store.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		obj, err := s.store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
		t, err := decodeTree(s.codec, id, obj.Data)
		if err != nil {
			return fmt.Errorf("load %s: %w", id, err)
		}
		t.version = obj.Version
		delta := int64(t.roll.RightmostProof().Index)
		if old, ok := s.trees[id]; ok {
			delta -= int64(old.roll.RightmostProof().Index)
		}
		s.trees[id] = t
		metrics.AddLeaves(delta)
		s.log.Debugf("loaded tree %s seq %d", id, t.roll.SequenceNumber())
	}
	metrics.SetTrees(len(s.trees))
	s.log.Infof("loaded %d trees", len(ids))
	return nil
}

// IDs returns the ids of the trees held.
func (s *Service) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.trees))
	for id := range s.trees {
		ids = append(ids, id)
	}
	return ids
}

// Create makes a new empty tree.
func (s *Service) Create(ctx context.Context, depth, bufferSize int) (Head, error) {
	roll, err := cmt.NewMerkleRoll(depth, bufferSize)
	if err != nil {
		return Head{}, err
	}
	if _, err = roll.Initialize(); err != nil {
		return Head{}, err
	}
	m, err := mirror.New(depth)
	if err != nil {
		return Head{}, err
	}
	return s.add(ctx, roll, m)
}

// Import makes a tree already holding leaves, adopting it through its root
// and rightmost proof rather than one append per leaf.
func (s *Service) Import(ctx context.Context, depth, bufferSize int, leaves []cmt.Node) (Head, error) {
	if len(leaves) == 0 {
		return s.Create(ctx, depth, bufferSize)
	}
	m, err := mirror.New(depth)
	if err != nil {
		return Head{}, err
	}
	if uint64(len(leaves)) > uint64(1)<<depth {
		return Head{}, cmt.ErrTreeFull
	}
	for i, leaf := range leaves {
		if err := m.Set(uint32(i), leaf); err != nil {
			return Head{}, err
		}
	}

	last := uint32(len(leaves) - 1)
	proof, err := m.Proof(last)
	if err != nil {
		return Head{}, err
	}
	roll, err := cmt.NewMerkleRoll(depth, bufferSize)
	if err != nil {
		return Head{}, err
	}
	if _, err = roll.InitializeWithRoot(m.Root(), leaves[last], proof, last); err != nil {
		return Head{}, err
	}
	return s.add(ctx, roll, m)
}

func (s *Service) add(ctx context.Context, roll *cmt.MerkleRoll, m *mirror.Tree) (Head, error) {
	t := &tree{
		id:      uuid.NewString(),
		roll:    roll,
		mirror:  m,
		created: s.now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.persist(ctx, t, "")
	if err != nil {
		metrics.RecordMutation("create", errorKind(err))
		return Head{}, err
	}
	t.version = version
	s.trees[t.id] = t

	metrics.RecordMutation("create", "ok")
	metrics.SetTrees(len(s.trees))
	metrics.AddLeaves(int64(roll.RightmostProof().Index))
	s.log.Infof("created tree %s depth %d buffer %d", t.id, roll.Depth(), roll.MaxBufferSize())
	return headOf(t), nil
}

func (s *Service) persist(ctx context.Context, t *tree, version string) (string, error) {
	data, err := encodeTree(s.codec, t)
	if err != nil {
		return "", err
	}
	start := time.Now()
	defer func() { metrics.ObservePersist(time.Since(start)) }()
	return s.store.Put(ctx, t.id, data, version)
}

// Append adds leaf at the frontier of tree id.
func (s *Service) Append(ctx context.Context, id string, leaf cmt.Node) (Result, error) {
	return s.mutate(ctx, "append", id, func(r *cmt.MerkleRoll) (cmt.Node, error) {
		return r.Append(leaf)
	})
}

type SetLeafRequest struct {
	Root         cmt.Node
	PreviousLeaf cmt.Node
	NewLeaf      cmt.Node
	Proof        []cmt.Node
	Index        uint32
}

func (s *Service) SetLeaf(ctx context.Context, id string, req SetLeafRequest) (Result, error) {
	return s.mutate(ctx, "set_leaf", id, func(r *cmt.MerkleRoll) (cmt.Node, error) {
		return r.SetLeaf(req.Root, req.PreviousLeaf, req.NewLeaf, req.Proof, req.Index)
	})
}

type FillRequest struct {
	Root  cmt.Node
	Leaf  cmt.Node
	Proof []cmt.Node
	Index uint32
}

// FillEmptyOrAppend fills an empty slot. The result index says where the leaf
// landed, which is the frontier when the slot was taken first.
func (s *Service) FillEmptyOrAppend(ctx context.Context, id string, req FillRequest) (Result, error) {
	return s.mutate(ctx, "fill_empty_or_append", id, func(r *cmt.MerkleRoll) (cmt.Node, error) {
		return r.FillEmptyOrAppend(req.Root, req.Leaf, req.Proof, req.Index)
	})
}

func (s *Service) mutate(
	ctx context.Context, op, id string, fn func(r *cmt.MerkleRoll) (cmt.Node, error),
) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[id]
	if !ok {
		metrics.RecordMutation(op, errorKind(ErrTreeNotFound))
		return Result{}, ErrTreeNotFound
	}

	next := t.roll.Clone()
	root, err := fn(next)
	if err != nil {
		metrics.RecordMutation(op, errorKind(err))
		s.log.Debugf("%s on %s rejected: %v", op, id, err)
		return Result{}, err
	}

	cl := next.ChangeLog()
	nextMirror := t.mirror.Clone()
	if err := nextMirror.ApplyChangeLog(cl); err != nil {
		metrics.RecordMutation(op, errorKind(err))
		return Result{}, fmt.Errorf("%w: %v", ErrMirrorDiverged, err)
	}

	staged := *t
	staged.roll = next
	staged.mirror = nextMirror
	version, err := s.persist(ctx, &staged, t.version)
	if err != nil {
		metrics.RecordMutation(op, errorKind(err))
		s.log.Infof("%s on %s not persisted: %v", op, id, err)
		return Result{}, err
	}
	grown := int64(next.RightmostProof().Index) - int64(t.roll.RightmostProof().Index)
	t.roll = next
	t.mirror = nextMirror
	t.version = version

	metrics.RecordMutation(op, "ok")
	metrics.AddLeaves(grown)
	return Result{
		TreeID:         id,
		Root:           root,
		Index:          cl.Index,
		SequenceNumber: next.SequenceNumber(),
		LeafCount:      next.RightmostProof().Index,
	}, nil
}

func (s *Service) get(id string) (*tree, error) {
	t, ok := s.trees[id]
	if !ok {
		return nil, ErrTreeNotFound
	}
	return t, nil
}

func (s *Service) Head(_ context.Context, id string) (Head, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return Head{}, err
	}
	return headOf(t), nil
}

// Proof returns the current value and siblings for the leaf at index.
func (s *Service) Proof(_ context.Context, id string, index uint32) (LeafProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return LeafProof{}, err
	}
	if uint64(index) >= t.roll.Capacity() {
		return LeafProof{}, cmt.ErrLeafIndexOutOfBounds
	}
	proof, err := t.mirror.Proof(index)
	if err != nil {
		return LeafProof{}, err
	}
	return LeafProof{
		Root:           t.roll.Root(),
		Leaf:           t.mirror.Leaf(index),
		Proof:          proof,
		Index:          index,
		SequenceNumber: t.roll.SequenceNumber(),
	}, nil
}

// ChangeLog returns the retained history of tree id, newest first.
func (s *Service) ChangeLog(_ context.Context, id string) ([]cmt.ChangeLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return t.roll.ChangeLogs(), nil
}

// Checkpoint signs the current head of tree id. The returned message does
// not carry the root, the returned head does.
func (s *Service) Checkpoint(_ context.Context, id string) ([]byte, checkpoint.TreeHead, error) {
	if s.coseSigner == nil {
		return nil, checkpoint.TreeHead{}, ErrNoSigner
	}
	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return nil, checkpoint.TreeHead{}, err
	}
	head := checkpoint.HeadFromRoll(t.roll, s.now().UnixMilli())
	s.mu.Unlock()

	msg, err := s.signer.Sign1(s.coseSigner, id, head, nil)
	if err != nil {
		return nil, checkpoint.TreeHead{}, err
	}
	s.log.Debugf("signed %s seq %d", id, head.SequenceNumber)
	return msg, head, nil
}

// Codec returns the codec checkpoints are encoded with.
func (s *Service) Codec() dtcbor.CBORCodec { return s.codec }

func errorKind(err error) string {
	switch {
	case errors.Is(err, cmt.ErrTreeFull):
		return "tree_full"
	case errors.Is(err, cmt.ErrCannotAppendEmptyNode):
		return "empty_node"
	case errors.Is(err, cmt.ErrTreeAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, cmt.ErrLeafIndexOutOfBounds):
		return "out_of_bounds"
	case errors.Is(err, cmt.ErrLeafAlreadyUpdated):
		return "already_updated"
	case errors.Is(err, cmt.ErrInvalidProof):
		return "invalid_proof"
	case errors.Is(err, rollstore.ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrTreeNotFound):
		return "not_found"
	case errors.Is(err, ErrMirrorDiverged):
		return "mirror_diverged"
	}
	return "error"
}
