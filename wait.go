package wsrm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coregx/wsrm/model"
)

// watchers lets waiters block until something happens to a sequence.
// A wake closes the current channel; the next watch gets a fresh one.
type watchers struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

func newWatchers() *watchers {
	return &watchers{chans: make(map[string]chan struct{})}
}

func (w *watchers) watch(id string) <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch, ok := w.chans[id]
	if !ok {
		ch = make(chan struct{})
		w.chans[id] = ch
	}
	return ch
}

func (w *watchers) wake(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ch, ok := w.chans[id]; ok {
		close(ch)
		delete(w.chans, id)
	}
}

// WaitUntilSequenceCompleted blocks until the outbound sequence addressed by
// (destination, key) is TERMINATED or TIMED_OUT, and returns its final report.
//
// The wait wakes on every change the engine makes to the sequence and also re-reads the
// store every WaitPollInterval, so changes committed by another process are noticed.
// maxWait is mandatory; when it elapses the last report is returned with a WAIT_TIMEOUT
// error. An unknown sequence returns ErrNoData immediately.
func (e *Engine) WaitUntilSequenceCompleted(ctx context.Context, destination, key string, maxWait time.Duration) (*model.SequenceReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if maxWait <= 0 {
		return nil, NewError(ErrCodeConfiguration, fmt.Sprintf("maxWait must be > 0, got %v", maxWait))
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return nil, err
	}

	deadline := e.clock.After(maxWait)
	for {
		// Subscribe before reading so a change between the read and the select is not lost.
		changed := e.watchers.watch(internalID)

		report, err := e.outgoingReport(ctx, internalID)
		if err != nil {
			return nil, err
		}
		if report.Status == model.ReportUnknown {
			return report, ErrNoData
		}
		if report.Status.IsFinal() {
			return report, nil
		}

		select {
		case <-changed:
		case <-e.clock.After(e.policy.WaitPollInterval):
		case <-deadline:
			return report, NewError(ErrCodeWaitTimeout,
				fmt.Sprintf("sequence %s not completed within %v (status=%s)", internalID, maxWait, report.Status))
		case <-ctx.Done():
			return report, ctx.Err()
		}
	}
}
