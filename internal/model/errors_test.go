package model

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsKind_MatchesThroughWrapping(t *testing.T) {
	err := NewValidationError("source %q is not recognized", "bogus")
	wrapped := eris.Wrap(err, "ingest: submit")

	assert.True(t, IsKind(wrapped, KindValidation))
	assert.False(t, IsKind(wrapped, KindNotFound))
	assert.Equal(t, KindValidation, KindOf(wrapped))
}

func TestKindOf_UntypedError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(eris.New("boom")))
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusCompletedWithErrors.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestIngestionJob_SkipRatio(t *testing.T) {
	j := &IngestionJob{RowsTotal: 20, RowsSkipped: 1}
	assert.InDelta(t, 0.05, j.SkipRatio(), 1e-9)

	empty := &IngestionJob{}
	assert.Zero(t, empty.SkipRatio())
}
