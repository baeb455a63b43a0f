// Package storagetest is a conformance suite every storage.Backend must pass.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh, empty backend for one subtest.
type Factory func(t *testing.T) storage.Backend

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// Run executes the conformance suite.
func Run(t *testing.T, newBackend Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, m *storage.Manager)
	}{
		{"PutRetrieveCommit", testPutRetrieveCommit},
		{"RollbackHasNoEffect", testRollbackHasNoEffect},
		{"UpsertKeepsOnePerKey", testUpsertKeepsOnePerKey},
		{"ReadYourWrites", testReadYourWrites},
		{"TypedQueries", testTypedQueries},
		{"DeleteSequence", testDeleteSequence},
		{"ReadOnlyRejectsWrites", testReadOnlyRejectsWrites},
		{"SendRecords", testSendRecords},
		{"DueRecordsOrderedAndLimited", testDueRecordsOrderedAndLimited},
		{"SameSequenceSerializes", testSameSequenceSerializes},
		{"DisjointSequencesDoNotBlock", testDisjointSequencesDoNotBlock},
		{"NestedTransactionReuse", testNestedTransactionReuse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := storage.NewManager(newBackend(t))
			t.Cleanup(func() { _ = m.Close() })
			tt.fn(t, m)
		})
	}
}

func begin(t *testing.T, m *storage.Manager, lock ...string) *storage.Tx {
	t.Helper()
	tx, err := m.Begin(context.Background(), storage.TxOptions{Lock: lock})
	require.NoError(t, err)
	return tx
}

func testPutRetrieveCommit(t *testing.T, m *storage.Manager) {
	tx := begin(t, m, "seq-1")
	require.NoError(t, tx.Put(model.SequenceProperty{
		SequenceID:         "seq-1",
		Name:               model.PropStatus,
		Value:              "ESTABLISHED",
		InternalSequenceID: "int-1",
	}))
	require.NoError(t, tx.Commit())

	tx = begin(t, m)
	defer tx.Rollback()

	p, err := tx.Retrieve("seq-1", model.PropStatus)
	require.NoError(t, err)
	assert.Equal(t, "ESTABLISHED", p.Value)
	assert.Equal(t, "int-1", p.InternalSequenceID)

	_, err = tx.Retrieve("seq-1", "MISSING")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	v, err := tx.Value("seq-1", "MISSING")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func testRollbackHasNoEffect(t *testing.T, m *storage.Manager) {
	tx := begin(t, m, "seq-1")
	require.NoError(t, tx.Put(model.NewProperty("seq-1", model.PropStatus, "INITIAL")))
	require.NoError(t, tx.PutSendRecord(model.NewApplicationRecord("seq-1", "d", "m", 1, nil, false, base)))
	tx.Rollback()

	assert.ErrorIs(t, tx.Put(model.NewProperty("seq-1", "X", "y")), storage.ErrTxDone)
	tx.Rollback() // idempotent

	check := begin(t, m)
	defer check.Rollback()

	_, err := check.Retrieve("seq-1", model.PropStatus)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	records, err := check.FindSendRecords(storage.SendRecordFilter{SequenceID: "seq-1"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func testUpsertKeepsOnePerKey(t *testing.T, m *storage.Manager) {
	for _, v := range []string{"a", "b", "c"} {
		tx := begin(t, m, "seq-1")
		require.NoError(t, tx.Put(model.NewProperty("seq-1", model.PropStatus, v)))
		require.NoError(t, tx.Commit())
	}

	tx := begin(t, m)
	defer tx.Rollback()

	props, err := tx.FindBySequence("seq-1")
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "c", props[0].Value)
}

func testReadYourWrites(t *testing.T, m *storage.Manager) {
	seed := begin(t, m, "seq-1")
	require.NoError(t, seed.Put(model.NewProperty("seq-1", "A", "1")))
	require.NoError(t, seed.Put(model.NewProperty("seq-1", "B", "2")))
	require.NoError(t, seed.Commit())

	tx := begin(t, m, "seq-1")
	require.NoError(t, tx.Put(model.NewProperty("seq-1", "A", "changed")))
	require.NoError(t, tx.Delete("seq-1", "B"))
	require.NoError(t, tx.Put(model.NewProperty("seq-1", "C", "3")))

	props, err := tx.FindBySequence("seq-1")
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "A", props[0].Name)
	assert.Equal(t, "changed", props[0].Value)
	assert.Equal(t, "C", props[1].Name)

	// not visible outside before commit
	other := begin(t, m)
	v, err := other.Value("seq-1", "A")
	require.NoError(t, err)
	assert.Equal(t, "1", v)
	other.Rollback()

	require.NoError(t, tx.Commit())

	after := begin(t, m)
	defer after.Rollback()
	v, err = after.Value("seq-1", "A")
	require.NoError(t, err)
	assert.Equal(t, "changed", v)
	_, err = after.Retrieve("seq-1", "B")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testTypedQueries(t *testing.T, m *storage.Manager) {
	tx := begin(t, m, "s1", "s2", "s3")
	require.NoError(t, tx.PutAll([]model.SequenceProperty{
		model.NewProperty("s1", model.PropDestination, "http://a"),
		model.NewProperty("s1", model.PropStatus, "ESTABLISHED"),
		model.NewProperty("s2", model.PropDestination, "http://b"),
		model.NewProperty("s2", model.PropStatus, "TERMINATED"),
		{SequenceID: "s3", Name: model.PropInternalSequenceID, Value: "s1", InternalSequenceID: "s1"},
		model.NewProperty("s3", model.PendingMessageName(1), "x"),
		model.NewProperty("s3", model.PendingMessageName(2), "y"),
	}))
	require.NoError(t, tx.Commit())

	q := begin(t, m)
	defer q.Rollback()

	dests, err := q.FindAllWithName(model.PropDestination)
	require.NoError(t, err)
	require.Len(t, dests, 2)
	assert.Equal(t, "s1", dests[0].SequenceID)
	assert.Equal(t, "s2", dests[1].SequenceID)

	established, err := q.Find(storage.PropertyFilter{Name: model.PropStatus, Value: "ESTABLISHED"})
	require.NoError(t, err)
	require.Len(t, established, 1)
	assert.Equal(t, "s1", established[0].SequenceID)

	byInternal, err := q.Find(storage.PropertyFilter{InternalSequenceID: "s1"})
	require.NoError(t, err)
	require.Len(t, byInternal, 1)
	assert.Equal(t, "s3", byInternal[0].SequenceID)

	pending, err := q.Find(storage.PropertyFilter{SequenceID: "s3", NamePrefix: "PENDING_MESSAGE:"})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	none, err := q.FindAllWithName("NOTHING")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testDeleteSequence(t *testing.T, m *storage.Manager) {
	tx := begin(t, m, "s1", "s10")
	require.NoError(t, tx.PutAll([]model.SequenceProperty{
		model.NewProperty("s1", "A", "1"),
		model.NewProperty("s1", "B", "2"),
		model.NewProperty("s10", "A", "keep"),
	}))
	require.NoError(t, tx.Commit())

	tx = begin(t, m, "s1")
	require.NoError(t, tx.Put(model.NewProperty("s1", "C", "uncommitted")))
	require.NoError(t, tx.DeleteSequence("s1"))
	require.NoError(t, tx.Commit())

	q := begin(t, m)
	defer q.Rollback()

	props, err := q.FindBySequence("s1")
	require.NoError(t, err)
	assert.Empty(t, props)

	kept, err := q.FindBySequence("s10")
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func testReadOnlyRejectsWrites(t *testing.T, m *storage.Manager) {
	tx, err := m.Begin(context.Background(), storage.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	defer tx.Rollback()

	assert.True(t, tx.ReadOnly())
	assert.ErrorIs(t, tx.Put(model.NewProperty("s", "n", "v")), storage.ErrReadOnly)
	assert.ErrorIs(t, tx.Delete("s", "n"), storage.ErrReadOnly)
	assert.ErrorIs(t, tx.PutSendRecord(model.NewApplicationRecord("s", "d", "m", 1, nil, false, base)), storage.ErrReadOnly)
	assert.NoError(t, tx.Commit())
}

func testSendRecords(t *testing.T, m *storage.Manager) {
	rec := model.NewApplicationRecord("seq-1", "http://peer", "msg-1", 1, []byte("payload"), true, base)
	rec.MarkSent(base, 6*time.Second)

	tx := begin(t, m, "seq-1")
	require.NoError(t, tx.PutSendRecord(rec))
	require.NoError(t, tx.PutSendRecord(model.NewApplicationRecord("seq-10", "http://peer", "msg-2", 1, nil, false, base)))
	require.NoError(t, tx.Commit())

	q := begin(t, m)
	got, err := q.GetSendRecord(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, []byte("payload"), got.Payload)
	assert.Equal(t, model.SendStatusAwaitingAck, got.Status)
	assert.True(t, got.NextRetransmitAt.Equal(base.Add(6*time.Second)))
	assert.True(t, got.LastMessage)

	own, err := q.FindSendRecords(storage.SendRecordFilter{SequenceID: "seq-1"})
	require.NoError(t, err)
	require.Len(t, own, 1, "prefix scans must not leak into sequences sharing a prefix")
	q.Rollback()

	tx = begin(t, m, "seq-1")
	require.NoError(t, tx.DeleteSendRecord(rec.ID))
	require.NoError(t, tx.Commit())

	q = begin(t, m)
	defer q.Rollback()
	_, err = q.GetSendRecord(rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDueRecordsOrderedAndLimited(t *testing.T, m *storage.Manager) {
	tx := begin(t, m, "seq-1")
	for i := int64(1); i <= 5; i++ {
		r := model.NewApplicationRecord("seq-1", "d", "m", i, nil, false, base)
		r.MarkSent(base, time.Duration(6-i)*time.Second) // later numbers due earlier
		require.NoError(t, tx.PutSendRecord(r))
	}
	failed := model.NewApplicationRecord("seq-1", "d", "m", 6, nil, false, base)
	failed.MarkFailed("gone")
	require.NoError(t, tx.PutSendRecord(failed))
	held := model.NewApplicationRecord("seq-1", "d", "m", 7, nil, false, base)
	held.Hold()
	require.NoError(t, tx.PutSendRecord(held))
	require.NoError(t, tx.Commit())

	q := begin(t, m)
	defer q.Rollback()

	due, err := q.FindSendRecords(storage.SendRecordFilter{DueBefore: base.Add(3 * time.Second)})
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, int64(5), due[0].MessageNumber)
	assert.Equal(t, int64(4), due[1].MessageNumber)
	assert.Equal(t, int64(3), due[2].MessageNumber)

	limited, err := q.FindSendRecords(storage.SendRecordFilter{DueBefore: base.Add(time.Hour), Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	all, err := q.FindSendRecords(storage.SendRecordFilter{DueBefore: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, all, 5, "held and failed records are never due")

	pending, err := q.FindSendRecords(storage.SendRecordFilter{SequenceID: "seq-1", Status: model.SendStatusPendingFirstSend})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].IsHeld())

	failedOnly, err := q.FindSendRecords(storage.SendRecordFilter{Status: model.SendStatusFailed})
	require.NoError(t, err)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, int64(6), failedOnly[0].MessageNumber)
}

func testSameSequenceSerializes(t *testing.T, m *storage.Manager) {
	// the counter is the value's length
	seed := begin(t, m, "seq-1")
	require.NoError(t, seed.Put(model.NewProperty("seq-1", "COUNTER", "0")))
	require.NoError(t, seed.Commit())

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := m.Begin(context.Background(), storage.TxOptions{Lock: []string{"seq-1"}})
			if !assert.NoError(t, err) {
				return
			}
			defer tx.Rollback()

			v, err := tx.Value("seq-1", "COUNTER")
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, tx.Put(model.NewProperty("seq-1", "COUNTER", v+"x")))
			assert.NoError(t, tx.Commit())
		}()
	}
	wg.Wait()

	q := begin(t, m)
	defer q.Rollback()
	v, err := q.Value("seq-1", "COUNTER")
	require.NoError(t, err)
	assert.Len(t, v, workers+1, "every increment must observe the previous commit")
}

func testDisjointSequencesDoNotBlock(t *testing.T, m *storage.Manager) {
	held := begin(t, m, "seq-a")
	defer held.Rollback()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	other, err := m.Begin(ctx, storage.TxOptions{Lock: []string{"seq-b"}})
	require.NoError(t, err, "a disjoint lock must be granted while seq-a is held")
	other.Rollback()

	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err = m.Begin(short, storage.TxOptions{Lock: []string{"seq-b", "seq-a"}})
	assert.Error(t, err, "overlapping lock must wait for the holder")

	// the failed attempt must not leave seq-b locked
	again, err := m.Begin(ctx, storage.TxOptions{Lock: []string{"seq-b"}})
	require.NoError(t, err)
	again.Rollback()
}

func testNestedTransactionReuse(t *testing.T, m *storage.Manager) {
	ctx := context.Background()

	err := m.InTx(ctx, storage.TxOptions{Lock: []string{"seq-1"}}, func(ctx context.Context, outer *storage.Tx) error {
		require.NoError(t, outer.Put(model.NewProperty("seq-1", "A", "1")))

		// a nested call covered by the outer locks reuses the outer transaction
		return m.InTx(ctx, storage.TxOptions{Lock: []string{"seq-1"}, ReadOnly: true}, func(_ context.Context, inner *storage.Tx) error {
			assert.Same(t, outer, inner)
			v, err := inner.Value("seq-1", "A")
			assert.NoError(t, err)
			assert.Equal(t, "1", v)
			return nil
		})
	})
	require.NoError(t, err)

	q := begin(t, m)
	defer q.Rollback()
	v, err := q.Value("seq-1", "A")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, inTx := storage.TxFromContext(ctx)
	assert.False(t, inTx)
}
