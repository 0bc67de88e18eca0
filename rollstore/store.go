// Package rollstore persists roll blocks.
//
// A store holds opaque objects addressed by id. Every write is guarded by the
// version returned from the previous read or write of the same object, so that
// two writers racing on one tree can never both succeed.
package rollstore

import (
	"context"
	"errors"
	"strconv"
)

var (
	ErrNotFound        = errors.New("rollstore: object not found")
	ErrVersionConflict = errors.New("rollstore: object version does not match")
	ErrIDInvalid       = errors.New("rollstore: object id is empty or contains a path separator")
)

// Object is a stored value together with the version guarding its next
// write.
type Object struct {
	Data    []byte
	Version string
}

type Store interface {
	Get(ctx context.Context, id string) (Object, error)
	// Put writes data if version matches the stored version. The empty
	// version means the object must not exist yet. The new version is
	// returned.
	Put(ctx context.Context, id string, data []byte, version string) (string, error)
	// List returns the ids of every stored object.
	List(ctx context.Context) ([]string, error)
}

// Closer is implemented by stores holding an open handle.
type Closer interface {
	Close() error
}

// nextVersion is the versioning scheme of the stores that count writes.
func nextVersion(version string) string {
	if version == "" {
		return "1"
	}
	n, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return "1"
	}
	return strconv.FormatUint(n+1, 10)
}

func checkID(id string) error {
	if id == "" {
		return ErrIDInvalid
	}
	for i := 0; i < len(id); i++ {
		if id[i] == '/' || id[i] == '\\' || id[i] == 0 {
			return ErrIDInvalid
		}
	}
	if id == "." || id == ".." {
		return ErrIDInvalid
	}
	return nil
}
