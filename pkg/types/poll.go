package types

import "time"

// StageName is one phase of a single poll attempt.
type StageName string

const (
	StageLogin    StageName = "login"
	StageDownload StageName = "download"
	StageInsert   StageName = "insert"
)

// StageStatus is the state of one stage.
type StageStatus string

const (
	StagePending    StageStatus = "PENDING"
	StageInProgress StageStatus = "IN_PROGRESS"
	StageCompleted  StageStatus = "COMPLETED"
	StageError      StageStatus = "ERROR"
)

// PollAction is the overall outcome of a poll attempt for one system.
type PollAction string

const (
	// ActionPolled with fewer than three stages means the attempt is still in
	// progress; with three stages and no error it means completed success.
	ActionPolled  PollAction = "POLLED"
	ActionError   PollAction = "ERROR"
	ActionSkipped PollAction = "SKIPPED"
)

// PollStage records the timing of one stage. EndMS is set only once the stage
// finished (successfully or not); a nil EndMS means the stage is running.
type PollStage struct {
	Name    StageName   `json:"stage"`
	Status  StageStatus `json:"status"`
	StartMS int64       `json:"startMs"`
	EndMS   *int64      `json:"endMs,omitempty"`
}

// PollingResult is the outcome of one poll attempt for one system.
type PollingResult struct {
	SystemID    string     `json:"systemId"`
	DisplayName string     `json:"displayName"`
	VendorType  VendorType `json:"vendorType"`

	Action PollAction  `json:"action"`
	Stages []PollStage `json:"stages"`

	// DurationMS is the sum of this system's own stage durations, set once the
	// attempt is terminal.
	DurationMS       *int64 `json:"durationMs,omitempty"`
	RecordsProcessed *int   `json:"recordsProcessed,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorCode        string `json:"errorCode,omitempty"`
}

// Completed reports whether the attempt reached a terminal outcome with all
// three stages attempted or a skip/error short-circuit.
func (r PollingResult) Completed() bool {
	switch r.Action {
	case ActionSkipped, ActionError:
		return true
	case ActionPolled:
		return len(r.Stages) == len(AllStages())
	}
	return false
}

// AllStages returns the stage sequence of a poll attempt, in execution order.
func AllStages() []StageName {
	return []StageName{StageLogin, StageDownload, StageInsert}
}

// PollSummary aggregates the outcomes of a bulk poll session.
type PollSummary struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// PollAllSession is the full record of one bulk poll. Summary.Total always
// equals len(Results); once terminal, Successful+Failed+Skipped == Total.
type PollAllSession struct {
	SessionID      string          `json:"sessionId"`
	SessionStartMS int64           `json:"sessionStartMs"`
	SessionEndMS   *int64          `json:"sessionEndMs,omitempty"`
	Summary        PollSummary     `json:"summary"`
	Results        []PollingResult `json:"results"`
}

// PollingStatus is the per-system operational bookkeeping record upserted
// after every poll attempt.
type PollingStatus struct {
	SystemID          string    `json:"systemId"`
	LastPollTime      time.Time `json:"lastPollTime"`
	LastSuccessTime   time.Time `json:"lastSuccessTime,omitempty"`
	LastErrorTime     time.Time `json:"lastErrorTime,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
	ConsecutiveErrors int       `json:"consecutiveErrors"`
	TotalPolls        int       `json:"totalPolls"`
	SuccessfulPolls   int       `json:"successfulPolls"`
}
