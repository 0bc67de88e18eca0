package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"

	"github.com/forestrie/go-merkleroll/internal/config"
	"github.com/forestrie/go-merkleroll/rollstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore returns the store configured by sc and whatever must be closed
// when the process is done with it.
func openStore(ctx context.Context, log logger.Logger, sc config.StoreConfig) (rollstore.Store, io.Closer, error) {
	switch sc.Kind {
	case config.StoreMemory:
		return rollstore.NewMemoryStore(), nopCloser{}, nil

	case config.StoreFile:
		s, err := rollstore.NewFileStore(sc.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	case config.StoreLevelDB:
		s, err := rollstore.OpenLevelDBStore(filepath.Join(sc.Dir, "merkleroll.ldb"))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.StorePostgres:
		s, err := rollstore.OpenPostgresStore(ctx, sc.URL)
		if err != nil {
			return nil, nil, err
		}
		if err = s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
		return s, s, nil

	case config.StoreAzblob:
		storer, err := azblob.NewDev(azblob.NewDevConfigFromEnv(), sc.Container)
		if err != nil {
			return nil, nil, fmt.Errorf("connect blob store: %w", err)
		}
		// an existing container is not an error
		_, _ = storer.GetServiceClient().CreateContainer(ctx, sc.Container, nil)
		return rollstore.NewAzblobStore(log, storer), nopCloser{}, nil
	}
	return nil, nil, fmt.Errorf("%w: %q", config.ErrStoreKind, sc.Kind)
}
