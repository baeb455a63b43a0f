package identity

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInternalSequenceID_Deterministic(t *testing.T) {
	pairs := []struct {
		destination string
		key         string
	}{
		{"http://peer.example.com/rm", "orders"},
		{"http://peer.example.com/rm", ""},
		{"", "orders"},
		{"jms:queue/in", "key with spaces"},
	}

	for _, p := range pairs {
		first, err := InternalSequenceID(p.destination, p.key)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			again, err := InternalSequenceID(p.destination, p.key)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}

		assert.True(t, strings.HasPrefix(first, URNPrefix))
		_, err = uuid.Parse(strings.TrimPrefix(first, URNPrefix))
		assert.NoError(t, err)
	}
}

func TestInternalSequenceID_DistinctKeys(t *testing.T) {
	dest := "http://peer.example.com/rm"

	seen := map[string]string{}
	for _, key := range []string{"", "a", "b", "orders", "orders2"} {
		id, err := InternalSequenceID(dest, key)
		require.NoError(t, err)
		if prev, ok := seen[id]; ok {
			t.Fatalf("keys %q and %q derived the same identity", prev, key)
		}
		seen[id] = key
	}
}

func TestInternalSequenceID_NoSeparatorCollision(t *testing.T) {
	a, err := InternalSequenceID("a:b", "")
	require.NoError(t, err)
	b, err := InternalSequenceID("a", "b")
	require.NoError(t, err)
	c, err := InternalSequenceID("", "a")
	require.NoError(t, err)
	d, err := InternalSequenceID("a", "")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, c, d)
}

func TestInternalSequenceID_Empty(t *testing.T) {
	_, err := InternalSequenceID("", "")
	assert.ErrorIs(t, err, ErrEmptyAddress)
}

func TestNewProtocolID(t *testing.T) {
	a := NewProtocolID()
	b := NewProtocolID()

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, URNPrefix))
	assert.True(t, strings.HasPrefix(NewMessageID(), URNPrefix))
}
