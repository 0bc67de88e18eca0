package rollstore

import (
	"context"
	"encoding/binary"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const leveldbPrefix = "roll/"

// LevelDBStore keeps objects in a leveldb database. Each value is prefixed
// with its 8 byte big endian write count, which is the version.
type LevelDBStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

func OpenLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return NewLevelDBStore(db), nil
}

func NewLevelDBStore(db *leveldb.DB) *LevelDBStore {
	return &LevelDBStore{db: db}
}

func leveldbKey(id string) []byte {
	return []byte(leveldbPrefix + id)
}

func (s *LevelDBStore) read(id string) (Object, uint64, error) {
	value, err := s.db.Get(leveldbKey(id), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return Object{}, 0, ErrNotFound
		}
		return Object{}, 0, err
	}
	if len(value) < 8 {
		return Object{}, 0, errors.New("rollstore: leveldb value too short")
	}
	n := binary.BigEndian.Uint64(value)
	return Object{Data: value[8:], Version: strconv.FormatUint(n, 10)}, n, nil
}

func (s *LevelDBStore) Get(_ context.Context, id string) (Object, error) {
	obj, _, err := s.read(id)
	return obj, err
}

func (s *LevelDBStore) Put(_ context.Context, id string, data []byte, version string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, n, err := s.read(id)
	switch {
	case errors.Is(err, ErrNotFound):
		if version != "" {
			return "", ErrVersionConflict
		}
	case err != nil:
		return "", err
	case current.Version != version:
		return "", ErrVersionConflict
	}

	value := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(value, n+1)
	copy(value[8:], data)
	if err := s.db.Put(leveldbKey(id), value, &opt.WriteOptions{Sync: true}); err != nil {
		return "", err
	}
	return strconv.FormatUint(n+1, 10), nil
}

func (s *LevelDBStore) List(_ context.Context) ([]string, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(leveldbPrefix)), nil)
	defer it.Release()
	var ids []string
	for it.Next() {
		ids = append(ids, string(it.Key()[len(leveldbPrefix):]))
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
