package rolltesting

import (
	"context"
	"os"
	"testing"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/stretchr/testify/require"
)

const (
	// AzuriteEnv names the variable that enables tests against the blob
	// store emulator.
	AzuriteEnv = "AZURITE_BLOB_ENDPOINT"
	// PostgresEnv names the variable holding a connection url for postgres
	// backed tests.
	PostgresEnv = "DATABASE_URL"
)

type TestContext struct {
	Log    logger.Logger
	Storer *azblob.Storer
	T      *testing.T
}

type TestConfig struct {
	// Seed fixes the generated leaves so runs are repeatable.
	Seed            int64
	TestLabelPrefix string
	Container       string // can be "" defaults to TestLabelPrefix
}

// NewTestContext returns a context with logging only. Use
// NewAzuriteTestContext for tests that need the blob store.
func NewTestContext(t *testing.T, cfg TestConfig) TestContext {
	logger.New("TEST")
	return TestContext{
		T:   t,
		Log: logger.Sugar.WithServiceName(cfg.TestLabelPrefix),
	}
}

// NewAzuriteTestContext connects to the blob store emulator, skipping the
// test when it is not configured.
func NewAzuriteTestContext(t *testing.T, cfg TestConfig) TestContext {
	if os.Getenv(AzuriteEnv) == "" {
		t.Skipf("%s not set", AzuriteEnv)
	}
	c := NewTestContext(t, cfg)

	container := cfg.Container
	if container == "" {
		container = cfg.TestLabelPrefix
	}

	var err error
	c.Storer, err = azblob.NewDev(azblob.NewDevConfigFromEnv(), container)
	if err != nil {
		t.Fatalf("failed to connect to blob store emulator: %v", err)
	}
	client := c.Storer.GetServiceClient()
	// Note: we expect a 'already exists' error here and  ignore it.
	_, _ = client.CreateContainer(context.Background(), container, nil)

	return c
}

// PostgresURL returns the configured connection url, skipping the test when
// there is none.
func PostgresURL(t *testing.T) string {
	url := os.Getenv(PostgresEnv)
	if url == "" {
		t.Skipf("%s not set", PostgresEnv)
	}
	return url
}

func (c *TestContext) GetLog() logger.Logger { return c.Log }

func (c *TestContext) GetStorer() *azblob.Storer {
	return c.Storer
}

func (c *TestContext) DeleteBlobsByPrefix(blobPrefixPath string) {
	var err error
	var r *azblob.ListerResponse
	var blobs []string

	var marker azblob.ListMarker
	for {
		r, err = c.Storer.List(
			context.Background(),
			azblob.WithListPrefix(blobPrefixPath), azblob.WithListMarker(marker))

		require.NoError(c.T, err)

		for _, i := range r.Items {
			blobs = append(blobs, *i.Name)
		}
		if len(r.Items) == 0 || r.Marker == nil {
			break
		}
		marker = r.Marker
	}
	for _, blobPath := range blobs {
		err = c.Storer.Delete(context.Background(), blobPath)
		require.NoError(c.T, err)
	}
}
