package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.Error(t, err)

	store, err := New(client, Config{Bucket: "docs", Prefix: "/editais/"})
	require.NoError(t, err)
	assert.Equal(t, "editais/documents/fgv/e1.pdf", store.ObjectName("/documents/fgv/e1.pdf"))

	bare, err := New(client, Config{Bucket: "docs"})
	require.NoError(t, err)
	assert.Equal(t, "documents/fgv/e1.pdf", bare.ObjectName("documents/fgv/e1.pdf"))

	_, err = store.PutObject(context.Background(), " ", "application/pdf", nil)
	require.Error(t, err)
}
