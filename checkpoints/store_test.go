package checkpoints_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"shardline.dev/shardline/checkpoints"
)

func TestFileStore_SaveAndLoadLatest(t *testing.T) {
	store, err := checkpoints.NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, ok, err := store.LoadLatest()
	require.NoError(t, err)
	assert.False(t, ok, "empty store has no checkpoint")

	_, err = store.Save(1, []byte("first"))
	require.NoError(t, err)
	uri, err := store.Save(2, []byte("second"))
	require.NoError(t, err)
	assert.NotEmpty(t, uri)

	data, ok, err := store.LoadLatest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), data)
}

func TestS3Store_SaveAndLoadLatest(t *testing.T) {
	store := checkpoints.NewS3Store(checkpoints.NewMemoryS3Service(), "job-bucket", "jobs/orders")

	_, ok, err := store.LoadLatest()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Save(1, []byte("first"))
	require.NoError(t, err)
	uri, err := store.Save(2, []byte("second"))
	require.NoError(t, err)
	assert.Contains(t, uri, "s3://job-bucket/jobs/orders/")

	data, ok, err := store.LoadLatest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("second"), data)
}
