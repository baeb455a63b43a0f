package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportStatus_IsFinal(t *testing.T) {
	assert.True(t, ReportTerminated.IsFinal())
	assert.True(t, ReportTimedOut.IsFinal())
	assert.False(t, ReportEstablished.IsFinal())
	assert.False(t, ReportUnknown.IsFinal())
}

func TestReport_Helpers(t *testing.T) {
	r := Report{
		Outgoing: []SequenceSummary{
			{SequenceID: "p1", InternalSequenceID: "i1", Status: ReportEstablished, CompletedCount: 2},
			{InternalSequenceID: "i2", Status: ReportInitial},
		},
		Incoming: []SequenceSummary{
			{SequenceID: "p3", Status: ReportEstablished, CompletedCount: 7},
		},
	}

	assert.Equal(t, map[string]string{"p1": "i1"}, r.OutgoingInternalIDs())
	assert.Equal(t, map[ReportStatus]int{ReportEstablished: 2, ReportInitial: 1}, r.CountByStatus())

	sr := SequenceReport{CompletedMessages: []int64{1, 2, 3}}
	assert.Equal(t, 3, sr.CompletedCount())
}
