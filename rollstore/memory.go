package rollstore

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps objects in process. It is used for tests and for
// ephemeral servers.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string]Object{}}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[id]
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{Data: append([]byte(nil), obj.Data...), Version: obj.Version}, nil
}

func (s *MemoryStore) Put(_ context.Context, id string, data []byte, version string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objects[id].Version != version {
		return "", ErrVersionConflict
	}
	next := nextVersion(version)
	s.objects[id] = Object{Data: append([]byte(nil), data...), Version: next}
	return next, nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.objects))
	for id := range s.objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
