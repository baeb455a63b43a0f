package memory

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
	storagetest.Run(t, func(_ *testing.T) storage.Backend {
		return New()
	})
}

func TestStore_PayloadIsCopied(t *testing.T) {
	s := New()
	ctx := context.Background()

	payload := []byte("hello")
	rec := model.SendRecord{ID: "seq/APP/1", SequenceID: "seq", Payload: payload}
	require.NoError(t, s.Apply(ctx, &storage.Batch{PutRecords: []model.SendRecord{rec}}))

	payload[0] = 'j'

	got, err := s.GetSendRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got.Payload))
}

func TestStore_Closed(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())

	_, err := s.GetProperty(context.Background(), "s", "n")
	assert.ErrorIs(t, err, storage.ErrClosed)

	err = s.Apply(context.Background(), &storage.Batch{})
	assert.ErrorIs(t, err, storage.ErrClosed)
}

func TestStore_Len(t *testing.T) {
	s := New()
	require.NoError(t, s.Apply(context.Background(), &storage.Batch{
		PutProperties: []model.SequenceProperty{model.NewProperty("s", "a", "1"), model.NewProperty("s", "b", "2")},
		PutRecords:    []model.SendRecord{{ID: "s/APP/1", SequenceID: "s"}},
	}))

	props, records := s.Len()
	assert.Equal(t, 2, props)
	assert.Equal(t, 1, records)
}
