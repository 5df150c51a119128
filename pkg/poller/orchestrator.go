package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/liveone/liveone/pkg/log"
	"github.com/liveone/liveone/pkg/storage"
	"github.com/liveone/liveone/pkg/types"
	"github.com/liveone/liveone/pkg/vendors"
)

// AdapterFactory builds a vendor adapter for a system config.
type AdapterFactory interface {
	New(cfg types.SystemConfig) (vendors.Adapter, error)
}

// Orchestrator owns one PollInstance per registered system and guarantees at
// most one in-flight poll per system at any time.
type Orchestrator struct {
	db       storage.Database
	factory  AdapterFactory
	interval time.Duration

	mu        sync.Mutex
	instances map[string]*instance

	rootCtx context.Context
	stop    context.CancelFunc
}

// instance is the per-system state. polling is the single-flight marker,
// guarded by the orchestrator mutex.
type instance struct {
	cfg     types.SystemConfig
	adapter vendors.Adapter
	info    *types.SystemInfo
	cancel  context.CancelFunc

	polling bool

	hasBaseline    bool
	previousTotals types.EnergyTotals
}

// Configured sets up flags for the orchestrator and returns the instance.
func Configured(db storage.Database, factory AdapterFactory) *Orchestrator {
	o := New(db, factory, 0)
	interval := lflag.Duration("poll-interval", time.Minute, "interval between scheduled polls per system")
	lflag.Do(func() {
		o.interval = *interval
	})
	return o
}

// New returns an orchestrator. An interval of 0 disables the per-system
// schedule loop; polls then only run on demand.
func New(db storage.Database, factory AdapterFactory, interval time.Duration) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		db:        db,
		factory:   factory,
		interval:  interval,
		instances: make(map[string]*instance),
		rootCtx:   ctx,
		stop:      cancel,
	}
}

// ErrSystemExists is returned by AddSystem when an instance is already
// registered for the key.
var ErrSystemExists = errors.New("system already registered")

// AddSystem registers a system and starts its schedule loop. Registration is
// all or nothing: a duplicate key or an adapter the factory cannot build
// leaves no state behind.
func (o *Orchestrator) AddSystem(ctx context.Context, cfg types.SystemConfig) error {
	o.mu.Lock()
	if _, ok := o.instances[cfg.Key]; ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSystemExists, cfg.Key)
	}

	adapter, err := o.factory.New(cfg)
	if err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to build adapter for %s: %w", cfg.Key, err)
	}

	loopCtx, cancel := context.WithCancel(o.rootCtx)
	inst := &instance{
		cfg:     cfg,
		adapter: adapter,
		cancel:  cancel,
	}
	o.instances[cfg.Key] = inst
	o.mu.Unlock()

	log.Ctx(ctx).InfoContext(ctx, "system registered",
		slog.String("system", cfg.Key),
		slog.String("vendor", string(cfg.Vendor)),
		slog.Bool("pollingActive", cfg.PollingActive),
	)

	if o.interval > 0 {
		go o.runLoop(loopCtx, inst)
	}
	return nil
}

// LoadSystems registers every system found in storage. A system that fails to
// register is logged and skipped so one bad record never blocks startup.
func (o *Orchestrator) LoadSystems(ctx context.Context) error {
	systems, err := o.db.ListSystems(ctx)
	if err != nil {
		return fmt.Errorf("failed to list systems: %w", err)
	}
	for _, cfg := range systems {
		if err := o.AddSystem(ctx, cfg); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping stored system",
				slog.String("system", cfg.Key),
				slog.Any("error", err),
			)
		}
	}
	log.Ctx(ctx).InfoContext(ctx, "loaded systems", slog.Int("count", len(systems)))
	return nil
}

// RemoveSystem stops the system's schedule loop and drops the instance. It is
// idempotent and reports whether the system was registered.
func (o *Orchestrator) RemoveSystem(key string) bool {
	o.mu.Lock()
	inst, ok := o.instances[key]
	if ok {
		delete(o.instances, key)
	}
	o.mu.Unlock()

	if !ok {
		return false
	}
	inst.cancel()
	log.Ctx(context.Background()).Info("system removed", slog.String("system", key))
	return true
}

// Shutdown stops every schedule loop.
func (o *Orchestrator) Shutdown() {
	o.stop()
}

// runLoop authenticates once, captures system info once, polls immediately
// and then on every tick until the instance is removed.
func (o *Orchestrator) runLoop(ctx context.Context, inst *instance) {
	ctx = log.System(ctx, inst.cfg.Key)

	if !inst.adapter.Authenticate(ctx) {
		log.Ctx(ctx).WarnContext(ctx, "initial authentication failed, will retry on first poll")
	}
	if info, err := inst.adapter.FetchSystemInfo(ctx); err == nil && info != nil {
		o.mu.Lock()
		inst.info = info
		o.mu.Unlock()
		log.Ctx(ctx).InfoContext(ctx, "system info captured",
			slog.String("model", info.Model),
			slog.String("serial", info.Serial),
		)
	}

	if last, err := o.db.GetLatestReadingTime(ctx, inst.cfg.Key); err == nil && !last.IsZero() {
		log.Ctx(ctx).InfoContext(ctx, "resuming telemetry",
			slog.Time("lastReading", last),
			slog.Duration("gap", time.Since(last)),
		)
	}

	o.Poll(ctx, inst.cfg.Key, false, nil)

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Poll(ctx, inst.cfg.Key, false, nil)
		}
	}
}

// tryBeginPoll is the only entry point into a poll. It returns the instance
// with its polling flag taken, or false when the system is unknown or a poll
// is already in flight.
func (o *Orchestrator) tryBeginPoll(key string) (*instance, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.instances[key]
	if !ok || inst.polling {
		return inst, false
	}
	inst.polling = true
	return inst, true
}

func (o *Orchestrator) endPoll(inst *instance) {
	o.mu.Lock()
	inst.polling = false
	o.mu.Unlock()
}

// Poll runs one 3-stage poll attempt for the system. force bypasses the
// per-system disabled check but never the single-flight check. Stage
// transitions are reported to observe.
func (o *Orchestrator) Poll(ctx context.Context, key string, force bool, observe Observer) types.PollingResult {
	// everything below, including the deferred release, must run against the
	// instance whose flag tryBeginPoll took, or a concurrent remove+add for
	// the same key would leave the replacement's flag stuck
	inst, began := o.tryBeginPoll(key)
	if inst == nil {
		s := NewSession(types.SystemConfig{Key: key}, observe)
		s.FailStage(types.StageLogin, fmt.Errorf("unknown system: %s", key), "")
		return s.Result()
	}

	ctx = log.System(ctx, key)
	session := NewSession(inst.cfg, observe)

	if !began {
		session.Skip()
		log.Ctx(ctx).DebugContext(ctx, "poll skipped, already in flight")
		return session.Result()
	}
	defer o.endPoll(inst)

	if !inst.cfg.PollingActive && !force {
		session.Skip()
		log.Ctx(ctx).DebugContext(ctx, "poll skipped, polling disabled")
		return session.Result()
	}

	result := o.runStages(ctx, inst, session)
	o.recordStatus(ctx, key, result)
	return result
}

func (o *Orchestrator) runStages(ctx context.Context, inst *instance, session *Session) types.PollingResult {
	// login
	session.StartStage(types.StageLogin)
	if !inst.adapter.Authenticate(ctx) {
		err := vendors.Errorf(vendors.CodeAuthFailed, "authentication failed")
		session.FailStage(types.StageLogin, err, string(vendors.CodeAuthFailed))
		return session.Result()
	}
	session.CompleteStage(types.StageLogin)

	if ctx.Err() != nil {
		session.Cancel()
		return session.Result()
	}

	// download, with exactly one re-authenticate-and-retry on auth failure
	session.StartStage(types.StageDownload)
	var reading types.Telemetry
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		reading, err = inst.adapter.FetchData(ctx)
		if err == nil || !vendors.IsAuth(err) || attempt > 0 {
			break
		}
		log.Ctx(ctx).InfoContext(ctx, "session rejected mid-poll, re-authenticating once")
		inst.adapter.ClearSession()
		if !inst.adapter.Authenticate(ctx) {
			err = vendors.Errorf(vendors.CodeAuthFailed, "re-authentication failed")
			break
		}
	}
	if err != nil {
		session.FailStage(types.StageDownload, err, string(vendors.CodeOf(err)))
		return session.Result()
	}
	session.CompleteStage(types.StageDownload)
	o.logDelta(ctx, inst, reading)

	if ctx.Err() != nil {
		session.Cancel()
		return session.Result()
	}

	// insert
	session.StartStage(types.StageInsert)
	if err := o.db.AppendReading(ctx, inst.cfg.Key, reading); err != nil {
		session.FailStage(types.StageInsert, err, "")
		return session.Result()
	}
	session.SetRecords(1)
	session.CompleteStage(types.StageInsert)
	session.Finish()

	log.Ctx(ctx).DebugContext(ctx, "poll completed",
		slog.Float64("solarKW", reading.SolarKW),
		slog.Float64("loadKW", reading.LoadKW),
		slog.Float64("soc", reading.BatterySOC),
	)
	return session.Result()
}

// logDelta diffs the vendor's cumulative counters against the previous poll
// and logs the interval energy. The first fetch establishes the baseline and
// is not diffed; counter regressions clamp to zero.
func (o *Orchestrator) logDelta(ctx context.Context, inst *instance, reading types.Telemetry) {
	if reading.Totals.IsZero() {
		return
	}

	o.mu.Lock()
	hadBaseline := inst.hasBaseline
	prev := inst.previousTotals
	inst.previousTotals = reading.Totals
	inst.hasBaseline = true
	o.mu.Unlock()

	if !hadBaseline {
		log.Ctx(ctx).DebugContext(ctx, "energy baseline established",
			slog.Float64("solarKWH", reading.Totals.SolarKWH),
			slog.Float64("loadKWH", reading.Totals.LoadKWH),
		)
		return
	}

	delta := reading.Totals.Sub(prev)
	log.Ctx(ctx).InfoContext(ctx, "energy since last poll",
		slog.Float64("solarKWH", delta.SolarKWH),
		slog.Float64("loadKWH", delta.LoadKWH),
		slog.Float64("batteryInKWH", delta.BatteryInKWH),
		slog.Float64("batteryOutKWH", delta.BatteryOutKWH),
		slog.Float64("gridInKWH", delta.GridInKWH),
		slog.Float64("gridOutKWH", delta.GridOutKWH),
	)
}

// recordStatus upserts the system's poll bookkeeping after a terminal
// attempt. Skips leave the record untouched.
func (o *Orchestrator) recordStatus(ctx context.Context, key string, result types.PollingResult) {
	if result.Action == types.ActionSkipped {
		return
	}

	ps, err := o.db.GetPollingStatus(ctx, key)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to load polling status", slog.Any("error", err))
		ps = types.PollingStatus{SystemID: key}
	}
	ps.SystemID = key

	now := time.Now()
	ps.LastPollTime = now
	ps.TotalPolls++
	if result.Action == types.ActionError {
		ps.LastErrorTime = now
		ps.LastError = result.Error
		ps.ConsecutiveErrors++
	} else {
		ps.LastSuccessTime = now
		ps.ConsecutiveErrors = 0
		ps.SuccessfulPolls++
	}

	if err := o.db.UpsertPollingStatus(ctx, key, ps); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to upsert polling status", slog.Any("error", err))
	}
}

// Systems returns a snapshot of the registered system configs.
func (o *Orchestrator) Systems() []types.SystemConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	systems := make([]types.SystemConfig, 0, len(o.instances))
	for _, inst := range o.instances {
		systems = append(systems, inst.cfg)
	}
	return systems
}

// System returns the registered config for a key.
func (o *Orchestrator) System(key string) (types.SystemConfig, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.instances[key]
	if !ok {
		return types.SystemConfig{}, false
	}
	return inst.cfg, true
}

// SystemInfo returns the metadata captured at registration, if any.
func (o *Orchestrator) SystemInfo(key string) *types.SystemInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	inst, ok := o.instances[key]
	if !ok {
		return nil
	}
	return inst.info
}

// Status returns the persisted poll bookkeeping for a system.
func (o *Orchestrator) Status(ctx context.Context, key string) (types.PollingStatus, error) {
	return o.db.GetPollingStatus(ctx, key)
}
