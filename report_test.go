package wsrm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
)

func TestReport_Aggregate(t *testing.T) {
	h := newHarness(t, immediateAcks)
	ctx := context.Background()

	_, err := h.engine.Send(ctx, peerURL, "done", nil, wsrm.SendOptions{LastMessage: true})
	require.NoError(t, err)
	_, err = h.engine.Send(ctx, peerURL, "open", nil, wsrm.SendOptions{})
	require.NoError(t, err)
	_, err = h.engine.Send(ctx, peerURL, "open", nil, wsrm.SendOptions{})
	require.NoError(t, err)

	h.peer.FailNext(1, nil)
	_, err = h.engine.Send(ctx, peerURL, "pending", nil, wsrm.SendOptions{})
	require.NoError(t, err)

	in := createInbound(t, h, "")
	_, err = h.engine.Receive(ctx, app(in, 1, "m"))
	require.NoError(t, err)

	report, err := h.engine.AggregateReport(ctx)
	require.NoError(t, err)
	require.Len(t, report.Outgoing, 3)
	require.Len(t, report.Incoming, 1)

	assert.Equal(t, map[model.ReportStatus]int{
		model.ReportTerminated:  1,
		model.ReportEstablished: 2,
		model.ReportInitial:     1,
	}, report.CountByStatus())

	byKey := map[string]model.SequenceSummary{}
	for _, s := range report.Outgoing {
		byKey[s.InternalSequenceID] = s
	}
	open, err := h.engine.OutgoingSequenceReport(ctx, peerURL, "open")
	require.NoError(t, err)
	assert.Equal(t, int64(2), byKey[open.InternalSequenceID].CompletedCount)

	assert.Equal(t, in, report.Incoming[0].SequenceID)
	assert.Equal(t, int64(1), report.Incoming[0].CompletedCount)

	ids := report.OutgoingInternalIDs()
	assert.Len(t, ids, 3, "the sequence still being created has no protocol identifier")
	assert.Equal(t, open.InternalSequenceID, ids[open.SequenceID])
}

func TestReport_SequenceReportRouting(t *testing.T) {
	h := newHarness(t, immediateAcks)
	ctx := context.Background()

	internalID, err := h.engine.CreateSequence(ctx, peerURL, "k", wsrm.CreateOptions{SecurityToken: "token-1"})
	require.NoError(t, err)
	protocolID, err := h.engine.SequenceID(ctx, peerURL, "k")
	require.NoError(t, err)
	in := createInbound(t, h, "")

	tests := []struct {
		name          string
		id            string
		wantDirection model.Direction
		wantSecure    bool
	}{
		{name: "internal identity", id: internalID, wantDirection: model.DirectionOut, wantSecure: true},
		{name: "protocol identifier", id: protocolID, wantDirection: model.DirectionOut, wantSecure: true},
		{name: "inbound", id: in, wantDirection: model.DirectionIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := h.engine.SequenceReport(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, model.ReportEstablished, r.Status)
			assert.Equal(t, tt.wantDirection, r.Direction)
			assert.Equal(t, tt.wantSecure, r.Secure)
		})
	}

	_, err = h.engine.SequenceReport(ctx, "urn:uuid:nope")
	assert.True(t, wsrm.IsNoData(err))

	_, err = h.engine.SequenceReport(ctx, "")
	assert.True(t, wsrm.IsConfiguration(err))
}

func TestReport_OutgoingUnknown(t *testing.T) {
	h := newHarness(t, nil)

	r, err := h.engine.OutgoingSequenceReport(context.Background(), peerURL, "never")
	require.NoError(t, err)
	assert.Equal(t, model.ReportUnknown, r.Status)
	assert.NotNil(t, r.CompletedMessages)
	assert.Empty(t, r.CompletedMessages)
}

func TestReport_IncomingReports(t *testing.T) {
	h := newHarness(t, immediateAcks)
	ctx := context.Background()

	reports, err := h.engine.IncomingSequenceReports(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	a := createInbound(t, h, "")
	b := createInbound(t, h, "")
	_, err = h.engine.Receive(ctx, &model.Message{Type: model.MessageTerminateSequence, SequenceID: b})
	require.NoError(t, err)

	reports, err = h.engine.IncomingSequenceReports(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	status := map[string]model.ReportStatus{}
	for _, r := range reports {
		status[r.SequenceID] = r.Status
	}
	assert.Equal(t, map[string]model.ReportStatus{
		a: model.ReportEstablished,
		b: model.ReportTerminated,
	}, status)

	_, err = h.engine.IncomingSequenceReport(ctx, "urn:uuid:nope")
	assert.True(t, wsrm.IsNoData(err))
}

func TestReport_LastSendErrorNoneRecorded(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.engine.Send(ctx, peerURL, "k", []byte("m"), wsrm.SendOptions{})
	require.NoError(t, err)

	lastErr, err := h.engine.LastSendError(ctx, peerURL, "k")
	require.NoError(t, err)
	assert.Nil(t, lastErr)
}
