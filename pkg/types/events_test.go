package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressEventValidate(t *testing.T) {
	t.Run("Start", func(t *testing.T) {
		e := ProgressEvent{
			Type:         EventStart,
			SessionID:    "sess-1",
			TotalSystems: 1,
			Systems:      []SystemRef{{SystemID: "home"}},
		}
		assert.NoError(t, e.Validate())

		e.SessionID = ""
		assert.Error(t, e.Validate())

		e.SessionID = "sess-1"
		e.TotalSystems = 2
		assert.Error(t, e.Validate(), "totalSystems must match systems length")
	})

	t.Run("Stage Update", func(t *testing.T) {
		e := ProgressEvent{
			Type:     EventStageUpdate,
			SystemID: "home",
			Stage:    StageLogin,
			Status:   StageInProgress,
		}
		assert.NoError(t, e.Validate())

		assert.Error(t, ProgressEvent{Type: EventStageUpdate, Stage: StageLogin, Status: StageInProgress}.Validate())
		assert.Error(t, ProgressEvent{Type: EventStageUpdate, SystemID: "home", Status: StageInProgress}.Validate())
		assert.Error(t, ProgressEvent{Type: EventStageUpdate, SystemID: "home", Stage: StageLogin}.Validate())
	})

	t.Run("Complete", func(t *testing.T) {
		e := ProgressEvent{
			Type:      EventComplete,
			SessionID: "sess-1",
			Summary:   &PollSummary{Total: 1, Successful: 1},
			Results:   []PollingResult{{SystemID: "home", Action: ActionPolled}},
		}
		assert.NoError(t, e.Validate())

		e.Summary = &PollSummary{Total: 2}
		assert.Error(t, e.Validate(), "summary total must match results length")

		e.Summary = nil
		assert.Error(t, e.Validate())
	})

	t.Run("Error", func(t *testing.T) {
		assert.NoError(t, ProgressEvent{Type: EventError, Message: "boom"}.Validate())
		assert.Error(t, ProgressEvent{Type: EventError}.Validate())
	})

	t.Run("Unknown Type", func(t *testing.T) {
		assert.Error(t, ProgressEvent{Type: "bogus"}.Validate())
		assert.Error(t, ProgressEvent{}.Validate())
	})
}

func TestEncodeDecodeEvent(t *testing.T) {
	e := ProgressEvent{
		Type:           EventStart,
		SessionID:      "sess-1",
		SessionStartMS: 1000,
		TotalSystems:   1,
		Systems:        []SystemRef{{SystemID: "home", DisplayName: "Home", VendorType: VendorMock}},
	}

	data, err := EncodeEvent(e)
	require.NoError(t, err)

	decoded, err := DecodeEvent(data)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestDecodeEventRejectsBadFrames(t *testing.T) {
	_, err := DecodeEvent([]byte("not-json"))
	assert.Error(t, err)

	// well-formed JSON but invalid per protocol
	_, err = DecodeEvent([]byte(`{"type":"start"}`))
	assert.Error(t, err)
}

func TestEncodeEventRejectsInvalid(t *testing.T) {
	_, err := EncodeEvent(ProgressEvent{Type: EventComplete})
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	assert.False(t, ProgressEvent{Type: EventStart}.Terminal())
	assert.False(t, ProgressEvent{Type: EventStageUpdate}.Terminal())
	assert.True(t, ProgressEvent{Type: EventComplete}.Terminal())
	assert.True(t, ProgressEvent{Type: EventError}.Terminal())
}
