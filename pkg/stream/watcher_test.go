package stream

import (
	"testing"
	"time"

	"github.com/liveone/liveone/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startEvent(ids ...string) types.ProgressEvent {
	refs := make([]types.SystemRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, types.SystemRef{SystemID: id, DisplayName: id, VendorType: types.VendorMock})
	}
	return types.ProgressEvent{
		Type:           types.EventStart,
		SessionID:      "sess-1",
		SessionStartMS: 1000,
		TotalSystems:   len(refs),
		Systems:        refs,
	}
}

func stageEvent(systemID string, stage types.StageName, status types.StageStatus, startMS int64, endMS *int64) types.ProgressEvent {
	return types.ProgressEvent{
		Type:     types.EventStageUpdate,
		SystemID: systemID,
		Stage:    stage,
		Status:   status,
		StartMS:  startMS,
		EndMS:    endMS,
	}
}

func feedFullSuccess(t *testing.T, w *Watcher, systemID string) {
	t.Helper()
	var ms int64 = 2000
	for _, stage := range types.AllStages() {
		require.NoError(t, w.Handle(stageEvent(systemID, stage, types.StageInProgress, ms, nil)))
		end := ms + 100
		require.NoError(t, w.Handle(stageEvent(systemID, stage, types.StageCompleted, ms, &end)))
		ms += 200
	}
}

func TestWatcherRebuildsSession(t *testing.T) {
	w := NewWatcher(0)
	require.NoError(t, w.Handle(startEvent("home")))
	feedFullSuccess(t, w, "home")
	assert.False(t, w.Terminal())

	end := int64(9000)
	dur := int64(300)
	one := 1
	require.NoError(t, w.Handle(types.ProgressEvent{
		Type:         types.EventComplete,
		SessionID:    "sess-1",
		SessionEndMS: &end,
		Summary:      &types.PollSummary{Total: 1, Successful: 1},
		Results: []types.PollingResult{{
			SystemID:         "home",
			Action:           types.ActionPolled,
			DurationMS:       &dur,
			RecordsProcessed: &one,
		}},
	}))
	assert.True(t, w.Terminal())

	s := w.Session()
	assert.Equal(t, "sess-1", s.SessionID)
	assert.Equal(t, types.PollSummary{Total: 1, Successful: 1}, s.Summary)
	require.Len(t, s.Results, 1)
	assert.Equal(t, types.ActionPolled, s.Results[0].Action)
}

func TestWatcherTimeoutFinalizesOnce(t *testing.T) {
	w := NewWatcher(0)
	require.NoError(t, w.Handle(startEvent("done", "stuck", "untouched")))

	// "done" finished all stages, "stuck" got partway through download,
	// "untouched" never produced an update
	feedFullSuccess(t, w, "done")
	require.NoError(t, w.Handle(stageEvent("stuck", types.StageLogin, types.StageInProgress, 2000, nil)))
	end := int64(2100)
	require.NoError(t, w.Handle(stageEvent("stuck", types.StageLogin, types.StageCompleted, 2000, &end)))
	require.NoError(t, w.Handle(stageEvent("stuck", types.StageDownload, types.StageInProgress, 2100, nil)))

	assert.True(t, w.FinalizeTimeout())
	// at most once
	assert.False(t, w.FinalizeTimeout())
	assert.True(t, w.Terminal())

	s := w.Session()
	require.NotNil(t, s.SessionEndMS)
	require.Len(t, s.Results, 3)

	byID := map[string]types.PollingResult{}
	for _, r := range s.Results {
		byID[r.SystemID] = r
	}

	// the finished system is untouched
	assert.Equal(t, types.ActionPolled, byID["done"].Action)
	assert.Empty(t, byID["done"].ErrorCode)

	// mid-flight systems became timeouts
	for _, id := range []string{"stuck", "untouched"} {
		assert.Equal(t, types.ActionError, byID[id].Action, id)
		assert.Equal(t, "TIMEOUT", byID[id].ErrorCode, id)
	}

	// the in-flight download stage was closed out as ERROR
	var download *types.PollStage
	for i := range byID["stuck"].Stages {
		if byID["stuck"].Stages[i].Name == types.StageDownload {
			download = &byID["stuck"].Stages[i]
		}
	}
	require.NotNil(t, download)
	assert.Equal(t, types.StageError, download.Status)
	require.NotNil(t, download.EndMS)

	assert.Equal(t, types.PollSummary{Total: 3, Successful: 1, Failed: 2}, s.Summary)
}

func TestWatcherTimeoutBeforeStartIsNoop(t *testing.T) {
	w := NewWatcher(0)
	assert.False(t, w.FinalizeTimeout())
}

func TestWatcherNoEventsAfterTerminal(t *testing.T) {
	w := NewWatcher(0)
	require.NoError(t, w.Handle(startEvent("home")))
	end := int64(1500)
	require.NoError(t, w.Handle(types.ProgressEvent{
		Type:         types.EventComplete,
		SessionID:    "sess-1",
		SessionEndMS: &end,
		Summary:      &types.PollSummary{},
	}))

	err := w.Handle(stageEvent("home", types.StageLogin, types.StageInProgress, 2000, nil))
	assert.Error(t, err)
	// timeout finalization can no longer fire either
	assert.False(t, w.FinalizeTimeout())
}

func TestWatcherErrorEvent(t *testing.T) {
	w := NewWatcher(0)
	require.NoError(t, w.Handle(startEvent("home")))
	err := w.Handle(types.ProgressEvent{Type: types.EventError, Message: "server died"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server died")
	assert.True(t, w.Terminal())
}

func TestWatcherRejectsMalformedEvents(t *testing.T) {
	w := NewWatcher(0)
	assert.Error(t, w.Handle(types.ProgressEvent{Type: "bogus"}))
	assert.Error(t, w.Handle(stageEvent("home", types.StageLogin, types.StageInProgress, 0, nil)))

	require.NoError(t, w.Handle(startEvent("home")))
	assert.Error(t, w.Handle(stageEvent("ghost", types.StageLogin, types.StageInProgress, 0, nil)))
	assert.Error(t, w.Handle(startEvent("home")))
}

func TestWatcherRejectsTerminalBeforeStart(t *testing.T) {
	w := NewWatcher(0)
	end := int64(1500)
	err := w.Handle(types.ProgressEvent{
		Type:         types.EventComplete,
		SessionID:    "sess-1",
		SessionEndMS: &end,
		Summary:      &types.PollSummary{},
	})
	assert.Error(t, err)
	// a session that never opened cannot terminate
	assert.False(t, w.Terminal())

	assert.Error(t, w.Handle(types.ProgressEvent{Type: types.EventError, Message: "server died"}))
	assert.False(t, w.Terminal())

	// the stream is still usable once start arrives
	require.NoError(t, w.Handle(startEvent("home")))
}

func TestWatcherTracksLastMessageTime(t *testing.T) {
	w := NewWatcher(0)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	now := base
	w.now = func() time.Time { return now }

	require.NoError(t, w.Handle(startEvent("home")))
	assert.Equal(t, base, w.LastMessageTime())

	now = base.Add(3 * time.Second)
	require.NoError(t, w.Handle(stageEvent("home", types.StageLogin, types.StageInProgress, 0, nil)))
	assert.Equal(t, base.Add(3*time.Second), w.LastMessageTime())
}

func TestDefaultIdleTimeout(t *testing.T) {
	assert.Equal(t, DefaultIdleTimeout, NewWatcher(0).idleTimeout)
	assert.Equal(t, 5*time.Second, NewWatcher(5*time.Second).idleTimeout)
}
