package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/types"
)

// DefaultIdleTimeout is how long a watcher waits between events before
// declaring the session dead client-side.
const DefaultIdleTimeout = 20 * time.Second

// Watcher is the client-side consumer of a progress stream. It rebuilds the
// session state from events and applies the idle timeout: if no event arrives
// for the timeout while the session is open, the watcher finalizes locally,
// at most once, by rewriting every still-in-progress result to ERROR with
// code TIMEOUT. Closing the transport is the only cancellation signal the
// server gets; vendor calls already in flight finish server-side.
type Watcher struct {
	idleTimeout time.Duration

	mu              sync.Mutex
	session         types.PollAllSession
	order           []string
	results         map[string]*types.PollingResult
	started         bool
	terminal        bool
	finalized       bool
	lastMessageTime time.Time

	now func() time.Time
}

// NewWatcher returns a watcher. A zero idleTimeout uses DefaultIdleTimeout.
func NewWatcher(idleTimeout time.Duration) *Watcher {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Watcher{
		idleTimeout: idleTimeout,
		results:     make(map[string]*types.PollingResult),
		now:         time.Now,
	}
}

// Handle applies one decoded event. Events arriving after the session is
// terminal are rejected.
func (w *Watcher) Handle(e types.ProgressEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.terminal {
		return fmt.Errorf("event %q after terminal event", e.Type)
	}
	w.lastMessageTime = w.now()

	switch e.Type {
	case types.EventStart:
		if w.started {
			return fmt.Errorf("duplicate start event")
		}
		w.started = true
		w.session.SessionID = e.SessionID
		w.session.SessionStartMS = e.SessionStartMS
		for _, ref := range e.Systems {
			w.order = append(w.order, ref.SystemID)
			w.results[ref.SystemID] = &types.PollingResult{
				SystemID:    ref.SystemID,
				DisplayName: ref.DisplayName,
				VendorType:  ref.VendorType,
				Action:      types.ActionPolled,
			}
		}

	case types.EventStageUpdate:
		if !w.started {
			return fmt.Errorf("stage-update before start")
		}
		r, ok := w.results[e.SystemID]
		if !ok {
			return fmt.Errorf("stage-update for unknown system %q", e.SystemID)
		}
		applyStage(r, e)

	case types.EventComplete:
		if !w.started {
			return fmt.Errorf("complete before start")
		}
		// the server's results are authoritative
		w.terminal = true
		w.session.SessionEndMS = e.SessionEndMS
		w.session.Summary = *e.Summary
		w.session.Results = e.Results

	case types.EventError:
		if !w.started {
			return fmt.Errorf("stream error before start: %s", e.Message)
		}
		w.terminal = true
		return fmt.Errorf("stream error: %s", e.Message)
	}
	return nil
}

func applyStage(r *types.PollingResult, e types.ProgressEvent) {
	for i := range r.Stages {
		if r.Stages[i].Name == e.Stage {
			r.Stages[i].Status = e.Status
			r.Stages[i].StartMS = e.StartMS
			r.Stages[i].EndMS = e.EndMS
			return
		}
	}
	r.Stages = append(r.Stages, types.PollStage{
		Name:    e.Stage,
		Status:  e.Status,
		StartMS: e.StartMS,
		EndMS:   e.EndMS,
	})
}

// Terminal reports whether a complete or error event arrived, or the watcher
// finalized on timeout.
func (w *Watcher) Terminal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.terminal
}

// LastMessageTime returns when the last event arrived.
func (w *Watcher) LastMessageTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastMessageTime
}

// FinalizeTimeout converts the open session into a terminal one after an idle
// gap. Every result still in progress becomes ERROR with code TIMEOUT;
// finished results are untouched. It runs at most once and reports whether it
// acted.
func (w *Watcher) FinalizeTimeout() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.terminal || !w.started {
		return false
	}
	w.finalized = true
	w.terminal = true

	for _, id := range w.order {
		r := w.results[id]
		if !midFlight(r) {
			continue
		}
		for i := range r.Stages {
			if r.Stages[i].Status == types.StageInProgress {
				end := w.now().UnixMilli()
				r.Stages[i].Status = types.StageError
				r.Stages[i].EndMS = &end
			}
		}
		r.Action = types.ActionError
		r.Error = "timed out waiting for progress events"
		r.ErrorCode = "TIMEOUT"
	}

	w.session.Results = w.snapshotResultsLocked()
	w.session.Summary = summarizeResults(w.session.Results)
	end := w.now().UnixMilli()
	w.session.SessionEndMS = &end
	return true
}

// midFlight reports whether the result has not reached a terminal outcome:
// still POLLED without all three stages completed.
func midFlight(r *types.PollingResult) bool {
	if r.Action != types.ActionPolled {
		return false
	}
	if len(r.Stages) < len(types.AllStages()) {
		return true
	}
	for _, st := range r.Stages {
		if st.Status != types.StageCompleted {
			return true
		}
	}
	return false
}

func (w *Watcher) snapshotResultsLocked() []types.PollingResult {
	results := make([]types.PollingResult, 0, len(w.order))
	for _, id := range w.order {
		results = append(results, *w.results[id])
	}
	return results
}

func summarizeResults(results []types.PollingResult) types.PollSummary {
	s := types.PollSummary{Total: len(results)}
	for _, r := range results {
		switch r.Action {
		case types.ActionSkipped:
			s.Skipped++
		case types.ActionError:
			s.Failed++
		default:
			s.Successful++
		}
	}
	return s
}

// Session returns the current session state. Before a terminal event the
// results reflect what has streamed in so far.
func (w *Watcher) Session() types.PollAllSession {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.session
	if !w.terminal {
		s.Results = w.snapshotResultsLocked()
		s.Summary = summarizeResults(s.Results)
	}
	return s
}

// Watch consumes a websocket stream until a terminal event, the idle timeout,
// or ctx cancellation, and returns the final session. Cancellation closes the
// transport; that is the only signal the server gets (soft cancellation).
func (w *Watcher) Watch(ctx context.Context, conn *websocket.Conn) (types.PollAllSession, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(w.now().Add(w.idleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return w.Session(), ctx.Err()
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if w.FinalizeTimeout() {
					log.Ctx(ctx).WarnContext(ctx, "stream idle too long, finalizing locally",
						slog.Duration("idleTimeout", w.idleTimeout),
					)
					return w.Session(), nil
				}
			}
			return w.Session(), fmt.Errorf("stream closed: %w", err)
		}

		event, err := types.DecodeEvent(data)
		if err != nil {
			return w.Session(), fmt.Errorf("bad frame: %w", err)
		}
		if err := w.Handle(event); err != nil {
			return w.Session(), err
		}
		if w.Terminal() {
			return w.Session(), nil
		}
	}
}
