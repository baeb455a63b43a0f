package badger

import (
	"context"
	"testing"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
	"github.com/coregx/wsrm/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Backend {
		s, err := New(Config{InMemory: true})
		require.NoError(t, err)
		return s
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := New(Config{Dir: dir, SyncWrites: true})
	require.NoError(t, err)
	require.NoError(t, s.Apply(ctx, &storage.Batch{
		PutProperties: []model.SequenceProperty{model.NewProperty("seq-1", model.PropStatus, "ESTABLISHED")},
	}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	s, err = New(Config{Dir: dir})
	require.NoError(t, err)
	defer s.Close()

	p, err := s.GetProperty(ctx, "seq-1", model.PropStatus)
	require.NoError(t, err)
	assert.Equal(t, "ESTABLISHED", p.Value)
}
