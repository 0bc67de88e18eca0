package rollstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forestrie/go-merkleroll/rolltesting"
)

// testStoreContract checks the behaviour every Store must share.
func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	id := uuid.NewString()

	_, err := s.Get(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Put(ctx, id, []byte("a"), "bogus")
	require.ErrorIs(t, err, ErrVersionConflict)

	v1, err := s.Put(ctx, id, []byte("a"), "")
	require.NoError(t, err)
	require.NotEmpty(t, v1)

	_, err = s.Put(ctx, id, []byte("b"), "")
	require.ErrorIs(t, err, ErrVersionConflict, "create must fail once the object exists")

	obj, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), obj.Data)
	assert.Equal(t, v1, obj.Version)

	v2, err := s.Put(ctx, id, []byte("b"), v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = s.Put(ctx, id, []byte("c"), v1)
	require.ErrorIs(t, err, ErrVersionConflict, "stale version must not overwrite")

	obj, err = s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), obj.Data)
	assert.Equal(t, v2, obj.Version)

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, id)
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	data := []byte{1, 2, 3}
	_, err := s.Put(ctx, "x", data, "")
	require.NoError(t, err)
	data[0] = 9

	obj, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, obj.Data)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "rolls"))
	require.NoError(t, err)
	testStoreContract(t, s)
}

func TestFileStoreSharedDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)

	v, err := a.Put(ctx, "tree", []byte("one"), "")
	require.NoError(t, err)
	_, err = b.Put(ctx, "tree", []byte("two"), v)
	require.NoError(t, err)

	// a's version is stale now, even though a never saw the write
	_, err = a.Put(ctx, "tree", []byte("three"), v)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestLevelDBStore(t *testing.T) {
	s, err := OpenLevelDBStore(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	defer s.Close()
	testStoreContract(t, s)
}

func TestPostgresStore(t *testing.T) {
	url := rolltesting.PostgresURL(t)
	s, err := OpenPostgresStore(context.Background(), url)
	require.NoError(t, err)
	defer s.Close()
	testStoreContract(t, s)
}

func TestAzblobStore(t *testing.T) {
	tc := rolltesting.NewAzuriteTestContext(t, rolltesting.TestConfig{TestLabelPrefix: "rollstore"})
	tc.DeleteBlobsByPrefix(azblobPrefix)
	testStoreContract(t, NewAzblobStore(tc.GetLog(), tc.GetStorer()))
}

func TestCheckID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"c0ffee", false},
		{uuid.NewString(), false},
		{"", true},
		{"a/b", true},
		{`a\b`, true},
		{"..", true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.id), func(t *testing.T) {
			err := checkID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIDInvalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestWrapStorageErrorPassesThrough(t *testing.T) {
	assert.NoError(t, WrapStorageError(nil))
	other := errors.New("boom")
	assert.Equal(t, other, WrapStorageError(other))
	assert.False(t, IsNotFound(other))
	assert.True(t, IsNotFound(fmt.Errorf("x: %w", ErrNotFound)))
}
