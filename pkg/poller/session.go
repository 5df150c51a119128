package poller

import (
	"errors"
	"time"

	"github.com/liveone/liveone/pkg/types"
)

var errCancelled = errors.New("cancelled")

// Observer receives stage transitions as they happen. A nil observer is
// allowed and drops the transitions.
type Observer func(systemID string, stage types.PollStage)

// Session tracks one poll attempt for one system through its three stages:
// login, download, insert. Stages run strictly in order; the first failure
// ends the attempt and leaves every later stage PENDING. A session is not
// safe for concurrent use; exactly one goroutine drives it.
type Session struct {
	result  types.PollingResult
	observe Observer

	now func() time.Time
}

// NewSession returns a session with all stages PENDING.
func NewSession(cfg types.SystemConfig, observe Observer) *Session {
	stages := make([]types.PollStage, 0, len(types.AllStages()))
	for _, name := range types.AllStages() {
		stages = append(stages, types.PollStage{Name: name, Status: types.StagePending})
	}
	return &Session{
		result: types.PollingResult{
			SystemID:    cfg.Key,
			DisplayName: cfg.DisplayName,
			VendorType:  cfg.Vendor,
			Action:      types.ActionPolled,
			Stages:      stages,
		},
		observe: observe,
		now:     time.Now,
	}
}

func (s *Session) nowMS() int64 {
	return s.now().UnixMilli()
}

func (s *Session) stage(name types.StageName) *types.PollStage {
	for i := range s.result.Stages {
		if s.result.Stages[i].Name == name {
			return &s.result.Stages[i]
		}
	}
	return nil
}

func (s *Session) notify(st types.PollStage) {
	if s.observe != nil {
		s.observe(s.result.SystemID, st)
	}
}

// StartStage marks the stage IN_PROGRESS.
func (s *Session) StartStage(name types.StageName) {
	st := s.stage(name)
	st.Status = types.StageInProgress
	st.StartMS = s.nowMS()
	s.notify(*st)
}

// CompleteStage marks the stage COMPLETED.
func (s *Session) CompleteStage(name types.StageName) {
	st := s.stage(name)
	end := s.nowMS()
	st.Status = types.StageCompleted
	st.EndMS = &end
	s.notify(*st)
}

// FailStage marks the stage ERROR and ends the attempt. Stages after it stay
// PENDING. code may be empty for failures outside the vendor taxonomy.
func (s *Session) FailStage(name types.StageName, err error, code string) {
	st := s.stage(name)
	end := s.nowMS()
	st.Status = types.StageError
	st.EndMS = &end

	s.result.Action = types.ActionError
	s.result.Error = err.Error()
	s.result.ErrorCode = code
	s.finalize()
	s.notify(*st)
}

// Skip ends the attempt before any stage started. A skipped result carries no
// stages at all.
func (s *Session) Skip() {
	for i := range s.result.Stages {
		if s.result.Stages[i].Status != types.StagePending {
			// a started attempt can no longer be skipped
			return
		}
	}
	s.result.Action = types.ActionSkipped
	s.result.Stages = nil
	s.result.DurationMS = nil
}

// Cancel marks the in-flight stage, if any, as ERROR and ends the attempt.
func (s *Session) Cancel() {
	for i := range s.result.Stages {
		if s.result.Stages[i].Status == types.StageInProgress {
			s.FailStage(s.result.Stages[i].Name, errCancelled, "")
			return
		}
	}
	if s.result.Action == types.ActionPolled {
		s.result.Action = types.ActionError
		s.result.Error = errCancelled.Error()
		s.finalize()
	}
}

// SetRecords records how many readings the insert stage stored.
func (s *Session) SetRecords(n int) {
	s.result.RecordsProcessed = &n
}

// Finish finalizes a fully successful attempt.
func (s *Session) Finish() {
	s.finalize()
}

// finalize computes DurationMS as the sum of the attempt's own stage
// durations, not wall time between other systems' events.
func (s *Session) finalize() {
	var total int64
	for _, st := range s.result.Stages {
		if st.EndMS != nil {
			total += *st.EndMS - st.StartMS
		}
	}
	s.result.DurationMS = &total
}

// Result returns a copy of the attempt's current state.
func (s *Session) Result() types.PollingResult {
	r := s.result
	r.Stages = append([]types.PollStage(nil), s.result.Stages...)
	return r
}
