package model

// ReportStatus is the sequence status surfaced to external callers.
type ReportStatus string

const (
	ReportUnknown     ReportStatus = "UNKNOWN"
	ReportInitial     ReportStatus = "INITIAL"
	ReportEstablished ReportStatus = "ESTABLISHED"
	ReportTerminated  ReportStatus = "TERMINATED"
	ReportTimedOut    ReportStatus = "TIMED_OUT"
)

// IsFinal reports whether the sequence will not change any more.
func (s ReportStatus) IsFinal() bool {
	return s == ReportTerminated || s == ReportTimedOut
}

// SequenceReport is a point-in-time projection of one sequence.
type SequenceReport struct {
	Status             ReportStatus `json:"status"`
	Direction          Direction    `json:"direction"`
	SequenceID         string       `json:"sequenceID,omitempty"`
	InternalSequenceID string       `json:"internalSequenceID,omitempty"`
	CompletedMessages  []int64      `json:"completedMessages"`
	FailedMessages     []int64      `json:"failedMessages,omitempty"`
	Secure             bool         `json:"secure"`
}

// CompletedCount returns the number of completed messages.
func (r *SequenceReport) CompletedCount() int {
	return len(r.CompletedMessages)
}

// SequenceSummary is one row of the aggregate report.
type SequenceSummary struct {
	SequenceID         string       `json:"sequenceID,omitempty"`
	InternalSequenceID string       `json:"internalSequenceID,omitempty"`
	Status             ReportStatus `json:"status"`
	CompletedCount     int64        `json:"completedCount"`
}

// Report aggregates every known sequence.
type Report struct {
	Outgoing []SequenceSummary `json:"outgoing"`
	Incoming []SequenceSummary `json:"incoming"`
}

// OutgoingInternalIDs maps protocol identifiers of established outgoing sequences to
// their internal identities.
func (r *Report) OutgoingInternalIDs() map[string]string {
	out := make(map[string]string, len(r.Outgoing))
	for _, s := range r.Outgoing {
		if s.SequenceID != "" {
			out[s.SequenceID] = s.InternalSequenceID
		}
	}
	return out
}

// CountByStatus tallies sequences per status across both directions.
func (r *Report) CountByStatus() map[ReportStatus]int {
	out := map[ReportStatus]int{}
	for _, s := range r.Outgoing {
		out[s.Status]++
	}
	for _, s := range r.Incoming {
		out[s.Status]++
	}
	return out
}
