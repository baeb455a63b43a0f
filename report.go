package wsrm

import (
	"context"
	"time"

	"github.com/coregx/wsrm/model"
	"github.com/coregx/wsrm/storage"
)

// OutgoingSequenceReport returns the status of the outbound sequence addressed by
// (destination, key). A sequence that does not exist is reported as UNKNOWN.
func (e *Engine) OutgoingSequenceReport(ctx context.Context, destination, key string) (*model.SequenceReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return nil, err
	}
	return e.outgoingReport(ctx, internalID)
}

func (e *Engine) outgoingReport(ctx context.Context, internalID string) (*model.SequenceReport, error) {
	var report *model.SequenceReport
	err := e.readTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		r, ok, err := e.outboundReport(tx, internalID)
		if err != nil {
			return err
		}
		if !ok {
			r = &model.SequenceReport{
				Status:             model.ReportUnknown,
				Direction:          model.DirectionOut,
				InternalSequenceID: internalID,
				CompletedMessages:  []int64{},
			}
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SequenceReport returns the status of a sequence addressed by either its internal
// identity or its protocol identifier, in either direction.
func (e *Engine) SequenceReport(ctx context.Context, id string) (*model.SequenceReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, NewError(ErrCodeConfiguration, "sequence identifier is required")
	}

	report, err := e.outgoingReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report.Status != model.ReportUnknown {
		return report, nil
	}

	internalID, ok, err := e.resolveOutbound(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		return e.outgoingReport(ctx, internalID)
	}
	return e.IncomingSequenceReport(ctx, id)
}

// IncomingSequenceReport returns the status of an inbound sequence, or ErrNoData when
// it does not exist.
func (e *Engine) IncomingSequenceReport(ctx context.Context, protocolID string) (*model.SequenceReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	var report *model.SequenceReport
	err := e.readTx(ctx, []string{protocolID}, func(_ context.Context, tx *storage.Tx) error {
		r, ok, err := e.inboundReport(tx, protocolID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoData
		}
		report = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// IncomingSequenceReports returns the status of every inbound sequence.
func (e *Engine) IncomingSequenceReports(ctx context.Context) ([]*model.SequenceReport, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ids, err := e.sequencesWith(ctx, model.PropAcksTo)
	if err != nil {
		return nil, err
	}

	reports := make([]*model.SequenceReport, 0, len(ids))
	err = e.readTx(ctx, ids, func(_ context.Context, tx *storage.Tx) error {
		for _, id := range ids {
			r, ok, err := e.inboundReport(tx, id)
			if err != nil {
				return err
			}
			if ok {
				reports = append(reports, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// AggregateReport summarizes every known sequence in both directions.
//
// All sequences are read in one transaction holding every sequence lock, so the report
// is a consistent snapshot.
func (e *Engine) AggregateReport(ctx context.Context) (*model.Report, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	outbound, err := e.sequencesWith(ctx, model.PropDestination)
	if err != nil {
		return nil, err
	}
	inbound, err := e.sequencesWith(ctx, model.PropAcksTo)
	if err != nil {
		return nil, err
	}

	report := &model.Report{
		Outgoing: make([]model.SequenceSummary, 0, len(outbound)),
		Incoming: make([]model.SequenceSummary, 0, len(inbound)),
	}
	lock := append(append([]string{}, outbound...), inbound...)
	err = e.readTx(ctx, lock, func(_ context.Context, tx *storage.Tx) error {
		for _, id := range outbound {
			seq, ok, err := e.loadOutbound(tx, id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			report.Outgoing = append(report.Outgoing, model.SequenceSummary{
				SequenceID:         seq.ProtocolID,
				InternalSequenceID: seq.InternalID,
				Status:             seq.Status.ReportStatus(),
				CompletedCount:     seq.Completed.Count(),
			})
		}
		for _, id := range inbound {
			seq, ok, err := e.loadInbound(tx, id)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			report.Incoming = append(report.Incoming, model.SequenceSummary{
				SequenceID:     seq.ProtocolID,
				Status:         seq.Status.ReportStatus(),
				CompletedCount: seq.Completed.Count(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (e *Engine) outboundReport(tx *storage.Tx, internalID string) (*model.SequenceReport, bool, error) {
	seq, ok, err := e.loadOutbound(tx, internalID)
	if err != nil || !ok {
		return nil, ok, err
	}

	records, err := tx.FindSendRecords(storage.SendRecordFilter{
		SequenceID: internalID,
		Status:     model.SendStatusFailed,
	})
	if err != nil {
		return nil, false, err
	}
	var failed []int64
	for i := range records {
		if records[i].IsApplication() {
			failed = append(failed, records[i].MessageNumber)
		}
	}

	return &model.SequenceReport{
		Status:             seq.Status.ReportStatus(),
		Direction:          model.DirectionOut,
		SequenceID:         seq.ProtocolID,
		InternalSequenceID: seq.InternalID,
		CompletedMessages:  completed(seq.Completed.Expand()),
		FailedMessages:     failed,
		Secure:             seq.Secure(),
	}, true, nil
}

func (e *Engine) inboundReport(tx *storage.Tx, protocolID string) (*model.SequenceReport, bool, error) {
	seq, ok, err := e.loadInbound(tx, protocolID)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &model.SequenceReport{
		Status:             seq.Status.ReportStatus(),
		Direction:          model.DirectionIn,
		SequenceID:         seq.ProtocolID,
		InternalSequenceID: seq.ReverseOf,
		CompletedMessages:  completed(seq.Completed.Expand()),
		Secure:             seq.Secure(),
	}, true, nil
}

func completed(numbers []int64) []int64 {
	if numbers == nil {
		return []int64{}
	}
	return numbers
}

// SequenceID returns the protocol identifier of the outbound sequence addressed by
// (destination, key): ErrNoData if there is no such sequence, ErrNotEstablished if the
// peer has not assigned one yet.
func (e *Engine) SequenceID(ctx context.Context, destination, key string) (string, error) {
	seq, err := e.outbound(ctx, destination, key)
	if err != nil {
		return "", err
	}
	if seq.ProtocolID == "" {
		return "", ErrNotEstablished
	}
	return seq.ProtocolID, nil
}

// SendError is the most recent failure recorded on an outbound sequence: a transport
// error, a spent retransmission budget, or a fault returned by the peer.
type SendError struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (e *SendError) Error() string {
	return e.Message
}

// LastSendError returns the most recent send failure of the outbound sequence addressed
// by (destination, key), or nil when nothing failed.
func (e *Engine) LastSendError(ctx context.Context, destination, key string) (*SendError, error) {
	seq, err := e.outbound(ctx, destination, key)
	if err != nil {
		return nil, err
	}
	if seq.LastSendError == "" {
		return nil, nil
	}
	return &SendError{Message: seq.LastSendError, At: seq.LastSendErrorAt}, nil
}

func (e *Engine) outbound(ctx context.Context, destination, key string) (*model.OutboundSequence, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	internalID, err := e.internalID(destination, key)
	if err != nil {
		return nil, err
	}

	var seq *model.OutboundSequence
	err = e.readTx(ctx, []string{internalID}, func(_ context.Context, tx *storage.Tx) error {
		s, ok, err := e.loadOutbound(tx, internalID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoData
		}
		seq = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return seq, nil
}
