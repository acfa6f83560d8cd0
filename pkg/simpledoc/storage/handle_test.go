package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest(t *testing.T) {
	d := NewDigest(strings.NewReader("hello"))
	data, err := io.ReadAll(d)
	require.NoError(t, err)

	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), d.Size())
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", d.Handle())
	assert.True(t, ValidHandle(d.Handle()))
}

func TestValidHandle(t *testing.T) {
	assert.False(t, ValidHandle(""))
	assert.False(t, ValidHandle("../../etc/passwd"))
	assert.False(t, ValidHandle(strings.Repeat("A", HandleLength)))
	assert.False(t, ValidHandle(strings.Repeat("a", HandleLength-1)))
	assert.True(t, ValidHandle(strings.Repeat("a", HandleLength)))
}
