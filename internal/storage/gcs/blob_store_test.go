package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{Bucket: " "})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "regdocs", Prefix: "/archive/"})
	require.NoError(t, err)
	require.Equal(t, "archive/attachments/x.pdf", store.ObjectName("/attachments/x.pdf"))

	bare, err := New(client, Config{Bucket: "regdocs"})
	require.NoError(t, err)
	require.Equal(t, "attachments/x.pdf", bare.ObjectName("attachments/x.pdf"))

	_, err = store.PutObject(context.Background(), "", "", nil)
	require.Error(t, err)
}
