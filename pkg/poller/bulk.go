package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/types"
)

// Emitter receives protocol events in emission order. Implementations must
// tolerate being called from the coordinator's goroutine only; the
// coordinator serializes all emissions itself.
type Emitter interface {
	Emit(e types.ProgressEvent) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(e types.ProgressEvent) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(e types.ProgressEvent) error {
	return f(e)
}

// Discard drops every event. Used for one-shot bulk polls with no stream
// attached.
var Discard Emitter = EmitterFunc(func(types.ProgressEvent) error { return nil })

// Coordinator fans a poll out over every registered system and reports
// progress through an Emitter.
type Coordinator struct {
	orch *Orchestrator

	now func() time.Time
}

// NewCoordinator returns a coordinator over the orchestrator's systems.
func NewCoordinator(orch *Orchestrator) *Coordinator {
	return &Coordinator{orch: orch, now: time.Now}
}

// serialEmitter funnels concurrent per-system observers into ordered single
// emissions. After the first send failure it drops everything else; the
// session still runs to completion server-side.
type serialEmitter struct {
	mu     sync.Mutex
	em     Emitter
	failed bool
}

func (s *serialEmitter) emit(e types.ProgressEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed {
		return false
	}
	if err := s.em.Emit(e); err != nil {
		s.failed = true
		return false
	}
	return true
}

func (s *serialEmitter) hasFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// PollAll polls every registered system concurrently and returns the
// finished session. force bypasses per-system disabled checks. Events flow
// through em per the wire protocol: one start, per-stage updates, then one
// complete (or error on a transport failure). Results are never rolled back;
// the session finishes and is persisted even if the emitter dies.
func (c *Coordinator) PollAll(ctx context.Context, force bool, em Emitter) (types.PollAllSession, error) {
	systems := c.orch.Systems()
	sort.Slice(systems, func(i, j int) bool { return systems[i].Key < systems[j].Key })

	sessionID := uuid.NewString()
	startMS := c.now().UnixMilli()
	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("pollSession", sessionID)))

	log.Ctx(ctx).InfoContext(ctx, "bulk poll starting",
		slog.Int("systems", len(systems)),
		slog.Bool("force", force),
	)

	refs := make([]types.SystemRef, 0, len(systems))
	for _, cfg := range systems {
		refs = append(refs, types.SystemRef{
			SystemID:    cfg.Key,
			DisplayName: cfg.DisplayName,
			VendorType:  cfg.Vendor,
		})
	}

	se := &serialEmitter{em: em}
	if !se.emit(types.ProgressEvent{
		Type:           types.EventStart,
		SessionID:      sessionID,
		SessionStartMS: startMS,
		TotalSystems:   len(systems),
		Systems:        refs,
	}) {
		return types.PollAllSession{}, fmt.Errorf("failed to emit start event for session %s", sessionID)
	}

	observe := func(systemID string, st types.PollStage) {
		se.emit(types.ProgressEvent{
			Type:     types.EventStageUpdate,
			SystemID: systemID,
			Stage:    st.Name,
			Status:   st.Status,
			StartMS:  st.StartMS,
			EndMS:    st.EndMS,
		})
	}

	results := make([]types.PollingResult, len(systems))
	var wg sync.WaitGroup
	for i, cfg := range systems {
		wg.Add(1)
		go func(i int, cfg types.SystemConfig) {
			defer wg.Done()
			// one system panicking must not take the session down
			defer func() {
				if r := recover(); r != nil {
					log.Ctx(ctx).ErrorContext(ctx, "poll panicked",
						slog.String("system", cfg.Key),
						slog.Any("panic", r),
					)
					results[i] = types.PollingResult{
						SystemID:    cfg.Key,
						DisplayName: cfg.DisplayName,
						VendorType:  cfg.Vendor,
						Action:      types.ActionError,
						Error:       fmt.Sprintf("panic: %v", r),
					}
				}
			}()
			results[i] = c.orch.Poll(ctx, cfg.Key, force, observe)
		}(i, cfg)
	}
	wg.Wait()

	endMS := c.now().UnixMilli()
	summary := summarize(results)
	session := types.PollAllSession{
		SessionID:      sessionID,
		SessionStartMS: startMS,
		SessionEndMS:   &endMS,
		Summary:        summary,
		Results:        results,
	}

	if !se.hasFailed() {
		se.emit(types.ProgressEvent{
			Type:         types.EventComplete,
			SessionID:    sessionID,
			SessionEndMS: &endMS,
			Summary:      &summary,
			Results:      results,
		})
	} else {
		// best effort; the stream already broke once
		se.mu.Lock()
		se.em.Emit(types.ProgressEvent{
			Type:    types.EventError,
			Message: fmt.Sprintf("stream failed mid-session %s", sessionID),
		})
		se.mu.Unlock()
	}

	if err := c.orch.db.InsertPollSession(ctx, session); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to persist poll session", slog.Any("error", err))
	}

	log.Ctx(ctx).InfoContext(ctx, "bulk poll finished",
		slog.Int("successful", summary.Successful),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Int64("durationMs", endMS-startMS),
	)
	return session, nil
}

func summarize(results []types.PollingResult) types.PollSummary {
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
