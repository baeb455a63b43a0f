package wsrm_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/wsrm"
	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/policy"
)

type waitResult struct {
	report *model.SequenceReport
	err    error
}

func waitAsync(h *harness, ctx context.Context, key string, maxWait time.Duration) <-chan waitResult {
	out := make(chan waitResult, 1)
	go func() {
		r, err := h.engine.WaitUntilSequenceCompleted(ctx, peerURL, key, maxWait)
		out <- waitResult{report: r, err: err}
	}()
	return out
}

func receive(t *testing.T, ch <-chan waitResult) waitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not return")
		return waitResult{}
	}
}

func slowPoll(p *policy.Policy) {
	p.WaitPollInterval = time.Hour
}

func TestWait_TimesOut(t *testing.T) {
	h := newHarness(t, slowPoll)
	ctx := context.Background()
	h.peer.WithholdAcks(true)

	_, err := h.engine.Send(ctx, peerURL, "k", nil, wsrm.SendOptions{LastMessage: true})
	require.NoError(t, err)

	done := waitAsync(h, ctx, "k", 5*time.Second)
	h.clock.BlockUntil(2)
	h.clock.Advance(5 * time.Second)

	r := receive(t, done)
	require.Error(t, r.err)
	assert.True(t, wsrm.IsWaitTimeout(r.err))
	require.NotNil(t, r.report)
	assert.Equal(t, model.ReportEstablished, r.report.Status)
}

func TestWait_WakesOnCompletion(t *testing.T) {
	h := newHarness(t, func(p *policy.Policy) {
		p.SpecVersion = model.SpecVersion11
		p.WaitPollInterval = time.Hour
	})
	ctx := context.Background()
	h.peer.WithholdAcks(true)

	_, err := h.engine.Send(ctx, peerURL, "k", []byte("a"), wsrm.SendOptions{})
	require.NoError(t, err)
	_, err = h.engine.Send(ctx, peerURL, "k", []byte("b"), wsrm.SendOptions{LastMessage: true})
	require.NoError(t, err)

	done := waitAsync(h, ctx, "k", time.Minute)
	h.clock.BlockUntil(2)

	h.peer.WithholdAcks(false)
	require.NoError(t, h.engine.SendAckRequest(ctx, peerURL, "k"))

	r := receive(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, model.ReportTerminated, r.report.Status)
	assert.Equal(t, []int64{1, 2}, r.report.CompletedMessages)
	assert.Equal(t,
		[]model.MessageType{model.MessageCreateSequence, model.MessageApplication, model.MessageApplication,
			model.MessageAckRequested, model.MessageTerminateSequence},
		types(h.peer.Sent()))
}

func TestWait_ContextCancelled(t *testing.T) {
	h := newHarness(t, slowPoll)
	ctx, cancel := context.WithCancel(context.Background())
	h.peer.WithholdAcks(true)

	_, err := h.engine.Send(ctx, peerURL, "k", nil, wsrm.SendOptions{})
	require.NoError(t, err)

	done := waitAsync(h, ctx, "k", time.Minute)
	h.clock.BlockUntil(2)
	cancel()

	r := receive(t, done)
	assert.True(t, errors.Is(r.err, context.Canceled))
	require.NotNil(t, r.report)
	assert.Equal(t, model.ReportEstablished, r.report.Status)
}

func TestWait_FinalSequenceReturnsImmediately(t *testing.T) {
	h := newHarness(t, func(p *policy.Policy) {
		p.WaitPollInterval = time.Hour
		p.InactivityTimeout = 10 * time.Second
	})
	ctx := context.Background()
	h.peer.WithholdAcks(true)

	_, err := h.engine.Send(ctx, peerURL, "k", nil, wsrm.SendOptions{})
	require.NoError(t, err)

	h.clock.Advance(11 * time.Second)
	expired, err := h.engine.Scheduler().ProcessTimeouts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, expired)

	r, err := h.engine.WaitUntilSequenceCompleted(ctx, peerURL, "k", time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.ReportTimedOut, r.Status)
}

func TestWait_PeerTerminatesOfferedSequence(t *testing.T) {
	h := newHarness(t, slowPoll)
	ctx := context.Background()

	_, err := h.engine.CreateSequence(ctx, peerURL, "k", wsrm.CreateOptions{Offer: true})
	require.NoError(t, err)
	incoming, err := h.engine.IncomingSequenceReports(ctx)
	require.NoError(t, err)
	require.Len(t, incoming, 1, "the peer accepted the offer")

	for i := 0; i < 2; i++ {
		_, err := h.engine.Send(ctx, peerURL, "k", []byte("m"), wsrm.SendOptions{})
		require.NoError(t, err)
	}
	id, err := h.engine.SequenceID(ctx, peerURL, "k")
	require.NoError(t, err)

	done := waitAsync(h, ctx, "k", time.Minute)
	h.clock.BlockUntil(2)

	_, err = h.engine.Receive(ctx, &model.Message{Type: model.MessageTerminateSequence, SequenceID: id})
	require.NoError(t, err)

	r := receive(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, model.ReportTerminated, r.report.Status)
	assert.Equal(t, []int64{1, 2}, r.report.CompletedMessages)
	assert.Equal(t, model.DirectionOut, r.report.Direction)
	assert.Equal(t, id, r.report.SequenceID)
}
