package types

import (
	"encoding/json"
	"fmt"
)

// EventType discriminates the progress event union.
type EventType string

const (
	EventStart       EventType = "start"
	EventStageUpdate EventType = "stage-update"
	EventComplete    EventType = "complete"
	EventError       EventType = "error"
)

// SystemRef identifies one system in a start event.
type SystemRef struct {
	SystemID    string     `json:"systemId"`
	DisplayName string     `json:"displayName"`
	VendorType  VendorType `json:"vendorType"`
}

// ProgressEvent is one message of the bulk poll push protocol. Exactly one
// start event opens a session, stage-update events follow (ordered per
// system, unordered across systems), and exactly one of complete or error
// closes it. Fields are populated according to Type.
type ProgressEvent struct {
	Type EventType `json:"type"`

	// start
	SessionID      string      `json:"sessionId,omitempty"`
	SessionStartMS int64       `json:"sessionStartMs,omitempty"`
	TotalSystems   int         `json:"totalSystems,omitempty"`
	Systems        []SystemRef `json:"systems,omitempty"`

	// stage-update
	SystemID string      `json:"systemId,omitempty"`
	Stage    StageName   `json:"stage,omitempty"`
	Status   StageStatus `json:"status,omitempty"`
	StartMS  int64       `json:"startMs,omitempty"`
	EndMS    *int64      `json:"endMs,omitempty"`

	// complete
	SessionEndMS *int64          `json:"sessionEndMs,omitempty"`
	Summary      *PollSummary    `json:"summary,omitempty"`
	Results      []PollingResult `json:"results,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Terminal reports whether this event closes the session.
func (e ProgressEvent) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}

// Validate checks that the event carries the fields its type requires. Both
// the emitter and the consumer validate so a malformed frame is rejected at
// whichever end produced or received it.
func (e ProgressEvent) Validate() error {
	switch e.Type {
	case EventStart:
		if e.SessionID == "" {
			return fmt.Errorf("start event missing sessionId")
		}
		if e.TotalSystems != len(e.Systems) {
			return fmt.Errorf("start event totalSystems %d != %d systems", e.TotalSystems, len(e.Systems))
		}
	case EventStageUpdate:
		if e.SystemID == "" {
			return fmt.Errorf("stage-update event missing systemId")
		}
		if e.Stage == "" || e.Status == "" {
			return fmt.Errorf("stage-update event missing stage or status")
		}
	case EventComplete:
		if e.SessionID == "" {
			return fmt.Errorf("complete event missing sessionId")
		}
		if e.Summary == nil {
			return fmt.Errorf("complete event missing summary")
		}
		if e.Summary.Total != len(e.Results) {
			return fmt.Errorf("complete event summary total %d != %d results", e.Summary.Total, len(e.Results))
		}
	case EventError:
		if e.Message == "" {
			return fmt.Errorf("error event missing message")
		}
	default:
		return fmt.Errorf("unknown event type: %q", e.Type)
	}
	return nil
}

// DecodeEvent parses and validates one protocol frame.
func DecodeEvent(data []byte) (ProgressEvent, error) {
	var e ProgressEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ProgressEvent{}, fmt.Errorf("failed to decode progress event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return ProgressEvent{}, err
	}
	return e, nil
}

// EncodeEvent validates and serializes one protocol frame.
func EncodeEvent(e ProgressEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode progress event: %w", err)
	}
	return data, nil
}
