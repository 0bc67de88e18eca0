package rollstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
)

const (
	azblobBlobNotFound      = "BlobNotFound"
	azblobConditionNotMet   = "ConditionNotMet"
	azblobBlobAlreadyExists = "BlobAlreadyExists"

	azblobPrefix = "v1/merkleroll/"
)

type blobStorer interface {
	Put(ctx context.Context, identity string, source io.ReadSeekCloser, opts ...azblob.Option) (*azblob.WriteResponse, error)
	Reader(ctx context.Context, identity string, opts ...azblob.Option) (*azblob.ReaderResponse, error)
	List(ctx context.Context, opts ...azblob.Option) (*azblob.ListerResponse, error)
}

// AzblobStore keeps each object in its own blob. Versions are blob ETags.
type AzblobStore struct {
	log    logger.Logger
	storer blobStorer
}

func NewAzblobStore(log logger.Logger, storer blobStorer) *AzblobStore {
	return &AzblobStore{log: log, storer: storer}
}

func AzblobPath(id string) string {
	return azblobPrefix + id + fileExt
}

func (s *AzblobStore) Get(ctx context.Context, id string) (Object, error) {
	rr, err := s.storer.Reader(ctx, AzblobPath(id))
	if err != nil {
		return Object{}, WrapStorageError(err)
	}
	defer rr.Reader.Close()

	data, err := io.ReadAll(rr.Reader)
	if err != nil {
		return Object{}, err
	}
	obj := Object{Data: data}
	if rr.ETag != nil {
		obj.Version = *rr.ETag
	}
	return obj, nil
}

func (s *AzblobStore) Put(ctx context.Context, id string, data []byte, version string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}

	// The etag guards against racy updates. Without one the write must be a
	// create, and 'fail if the blob exists' is spelled as requiring that no
	// blob matches *any* etag.
	var opts []azblob.Option
	if version != "" {
		opts = append(opts, azblob.WithEtagMatch(version))
	} else {
		opts = append(opts, azblob.WithEtagNoneMatch("*"))
	}

	wr, err := s.storer.Put(ctx, AzblobPath(id), azblob.NewBytesReaderCloser(data), opts...)
	if err != nil {
		err = WrapStorageError(err)
		// an etag match against a missing blob is a lost race too
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrVersionConflict, id)
		}
		return "", err
	}
	if wr == nil || wr.ETag == nil {
		return "", fmt.Errorf("rollstore: no etag returned writing %s", id)
	}
	s.log.Debugf("put %s etag %s", id, *wr.ETag)
	return *wr.ETag, nil
}

func (s *AzblobStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	var marker azblob.ListMarker
	for {
		r, err := s.storer.List(ctx, azblob.WithListPrefix(azblobPrefix), azblob.WithListMarker(marker))
		if err != nil {
			return nil, err
		}
		for i := range r.Items {
			if r.Items[i].Name == nil {
				continue
			}
			name := strings.TrimPrefix(*r.Items[i].Name, azblobPrefix)
			if !strings.HasSuffix(name, fileExt) {
				continue
			}
			ids = append(ids, strings.TrimSuffix(name, fileExt))
		}
		if len(r.Items) == 0 || r.Marker == nil {
			break
		}
		marker = r.Marker
	}
	sort.Strings(ids)
	return ids, nil
}

func AsStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

// WrapStorageError translates the azure sdk errors the store cares about to
// ErrNotFound and ErrVersionConflict. Any other err, including nil, is
// returned as is.
func WrapStorageError(err error) error {
	if err == nil {
		return nil
	}
	serr, ok := AsStorageError(err)
	if !ok {
		return err
	}
	switch serr.ErrorCode {
	case azblobBlobNotFound:
		return fmt.Errorf("%s: %w", err.Error(), ErrNotFound)
	case azblobConditionNotMet, azblobBlobAlreadyExists:
		return fmt.Errorf("%s: %w", err.Error(), ErrVersionConflict)
	}
	return err
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	serr, ok := AsStorageError(err)
	return ok && serr.ErrorCode == azblobBlobNotFound
}
