package memory

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

func TestMemoryBackend(t *testing.T) {
	backend := New()
	ctx := context.Background()

	info, err := backend.Put(ctx, strings.NewReader("hello memory"))
	require.NoError(t, err)
	assert.Equal(t, int64(12), info.Size)
	assert.Equal(t, info.Handle, info.Checksum)

	rc, err := backend.Get(ctx, info.Handle)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "hello memory", string(data))

	stat, err := backend.Stat(ctx, info.Handle)
	require.NoError(t, err)
	assert.Equal(t, info, stat)

	// identical content is stored once
	again, err := backend.Put(ctx, strings.NewReader("hello memory"))
	require.NoError(t, err)
	assert.Equal(t, info.Handle, again.Handle)
	assert.Equal(t, 1, backend.Len())

	_, err = backend.Get(ctx, "missing")
	assert.ErrorIs(t, err, simpledoc.ErrBlobNotFound)
	var serr *simpledoc.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "memory", serr.Backend)

	_, err = backend.Stat(ctx, "missing")
	assert.ErrorIs(t, err, simpledoc.ErrBlobNotFound)
}
