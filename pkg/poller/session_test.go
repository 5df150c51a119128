package poller

import (
	"errors"
	"testing"
	"time"

	"github.com/liveone/liveone/pkg/types"
	"github.com/liveone/liveone/pkg/vendors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() types.SystemConfig {
	return types.SystemConfig{
		Key:           "home",
		DisplayName:   "Home",
		Vendor:        types.VendorMock,
		PollingActive: true,
	}
}

func TestSessionSuccess(t *testing.T) {
	var seen []types.PollStage
	s := NewSession(testConfig(), func(systemID string, st types.PollStage) {
		assert.Equal(t, "home", systemID)
		seen = append(seen, st)
	})

	for _, name := range types.AllStages() {
		s.StartStage(name)
		s.CompleteStage(name)
	}
	s.SetRecords(1)
	s.Finish()

	r := s.Result()
	assert.Equal(t, types.ActionPolled, r.Action)
	assert.True(t, r.Completed())
	require.Len(t, r.Stages, 3)
	for _, st := range r.Stages {
		assert.Equal(t, types.StageCompleted, st.Status)
		require.NotNil(t, st.EndMS)
		assert.GreaterOrEqual(t, *st.EndMS, st.StartMS)
	}
	require.NotNil(t, r.DurationMS)
	require.NotNil(t, r.RecordsProcessed)
	assert.Equal(t, 1, *r.RecordsProcessed)

	// each stage transitions exactly twice, in order
	require.Len(t, seen, 6)
	assert.Equal(t, types.StageLogin, seen[0].Name)
	assert.Equal(t, types.StageInProgress, seen[0].Status)
	assert.Equal(t, types.StageInsert, seen[5].Name)
	assert.Equal(t, types.StageCompleted, seen[5].Status)
}

func TestSessionFailureLeavesRestPending(t *testing.T) {
	s := NewSession(testConfig(), nil)

	s.StartStage(types.StageLogin)
	s.CompleteStage(types.StageLogin)
	s.StartStage(types.StageDownload)
	s.FailStage(types.StageDownload, vendors.StatusError(vendors.CodeHTTP, 503, "down"), string(vendors.CodeHTTP))

	r := s.Result()
	assert.Equal(t, types.ActionError, r.Action)
	assert.Equal(t, "HTTP_ERROR", r.ErrorCode)
	assert.Contains(t, r.Error, "down")
	assert.True(t, r.Completed())

	require.Len(t, r.Stages, 3)
	assert.Equal(t, types.StageCompleted, r.Stages[0].Status)
	assert.Equal(t, types.StageError, r.Stages[1].Status)
	// the insert stage was never attempted
	assert.Equal(t, types.StagePending, r.Stages[2].Status)
	assert.Zero(t, r.Stages[2].StartMS)
	assert.Nil(t, r.Stages[2].EndMS)
}

func TestSessionSkip(t *testing.T) {
	s := NewSession(testConfig(), nil)
	s.Skip()

	r := s.Result()
	assert.Equal(t, types.ActionSkipped, r.Action)
	assert.Empty(t, r.Stages)
	assert.Nil(t, r.DurationMS)
	assert.True(t, r.Completed())
}

func TestSessionSkipAfterStartIsNoop(t *testing.T) {
	s := NewSession(testConfig(), nil)
	s.StartStage(types.StageLogin)
	s.Skip()

	r := s.Result()
	assert.Equal(t, types.ActionPolled, r.Action)
	assert.Len(t, r.Stages, 3)
}

func TestSessionCancelMarksInFlightStage(t *testing.T) {
	s := NewSession(testConfig(), nil)
	s.StartStage(types.StageLogin)
	s.CompleteStage(types.StageLogin)
	s.StartStage(types.StageDownload)
	s.Cancel()

	r := s.Result()
	assert.Equal(t, types.ActionError, r.Action)
	assert.Equal(t, "cancelled", r.Error)
	assert.Equal(t, types.StageError, r.Stages[1].Status)
	assert.Equal(t, types.StagePending, r.Stages[2].Status)
}

func TestSessionDurationSumsOwnStages(t *testing.T) {
	s := NewSession(testConfig(), nil)
	ms := int64(1000)
	s.now = func() time.Time { return time.UnixMilli(ms) }

	s.StartStage(types.StageLogin) // 1000
	ms = 1200
	s.CompleteStage(types.StageLogin) // 200ms
	ms = 5000
	s.StartStage(types.StageDownload)
	ms = 5300
	s.CompleteStage(types.StageDownload) // 300ms
	ms = 5300
	s.StartStage(types.StageInsert)
	ms = 5350
	s.CompleteStage(types.StageInsert) // 50ms
	s.Finish()

	r := s.Result()
	require.NotNil(t, r.DurationMS)
	// gaps between stages don't count
	assert.EqualValues(t, 550, *r.DurationMS)
}

func TestSessionFailureWithUntypedError(t *testing.T) {
	s := NewSession(testConfig(), nil)
	s.StartStage(types.StageInsert)
	s.FailStage(types.StageInsert, errors.New("write refused"), "")

	r := s.Result()
	assert.Equal(t, types.ActionError, r.Action)
	assert.Empty(t, r.ErrorCode)
	assert.Equal(t, "write refused", r.Error)
}
