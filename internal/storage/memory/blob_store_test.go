package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "snapshots/page.html", "text/html", payload)
	require.NoError(t, err)
	require.Equal(t, "memory://snapshots/page.html", uri)

	payload[0] = 'C'
	stored, ok := store.Object("snapshots/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))

	_, err = store.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
