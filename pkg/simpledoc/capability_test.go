package simpledoc_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

func TestCapabilitySet(t *testing.T) {
	rw := simpledoc.NewCapabilitySet(simpledoc.CapabilityRead, simpledoc.CapabilityWrite)

	assert.True(t, rw.Has(simpledoc.CapabilityRead))
	assert.False(t, rw.Has(simpledoc.CapabilityDelete))
	assert.False(t, rw.Has(simpledoc.Capability("unknown")))
	assert.True(t, simpledoc.FullCapabilities.Contains(rw))
	assert.False(t, rw.Contains(simpledoc.FullCapabilities))
	assert.Equal(t, simpledoc.NewCapabilitySet(simpledoc.CapabilityRead), rw.Without(simpledoc.NewCapabilitySet(simpledoc.CapabilityWrite)))
	assert.True(t, rw.Without(rw).IsEmpty())
	assert.Equal(t, "read,write", rw.String())
	assert.Len(t, simpledoc.FullCapabilities.List(), 5)
}

func TestParseCapabilities(t *testing.T) {
	caps, err := simpledoc.ParseCapabilities([]string{" READ", "download", "read"})
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "download"}, caps.Strings())

	_, err = simpledoc.ParseCapabilities([]string{"read", "admin"})
	assert.ErrorIs(t, err, simpledoc.ErrInvalidRequest)
}

func TestCapabilitySetJSON(t *testing.T) {
	caps := simpledoc.NewCapabilitySet(simpledoc.CapabilityManagePermissions, simpledoc.CapabilityRead)
	raw, err := json.Marshal(caps)
	require.NoError(t, err)
	assert.JSONEq(t, `["read","manage_permissions"]`, string(raw))

	var decoded simpledoc.CapabilitySet
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, caps, decoded)

	assert.Error(t, json.Unmarshal([]byte(`["fly"]`), &decoded))
}
