// Package engine maintains the authoritative view of user-session unit state
// and republishes it as line-protocol metrics.
//
// The engine is driven by two inputs merged onto one processing goroutine: a
// stream of bus change notifications and a periodic reconciliation poll.
// Events give low latency, the poll re-asserts every tracked unit so that
// lost notifications self-heal within one interval.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"git.home.luguber.info/inful/unitmon/internal/filter"
	"git.home.luguber.info/inful/unitmon/internal/identity"
	"git.home.luguber.info/inful/unitmon/internal/lineproto"
	"git.home.luguber.info/inful/unitmon/internal/logfields"
	"git.home.luguber.info/inful/unitmon/internal/metrics"
	"git.home.luguber.info/inful/unitmon/internal/retry"
	"git.home.luguber.info/inful/unitmon/internal/sink"
	"git.home.luguber.info/inful/unitmon/internal/systemd"
)

// Config carries the immutable parameters of one engine run.
type Config struct {
	Measurement string
	Filters     filter.Set
	Session     identity.Session
}

// unitRecord is one entry in the unit table.
type unitRecord struct {
	snapshot       systemd.UnitSnapshot
	lastSeenAt     time.Time
	pendingRemoval bool
	lastEmitNanos  int64
}

// UnitState is a read-only copy of one table entry, exposed for inspection.
type UnitState struct {
	Snapshot       systemd.UnitSnapshot
	LastSeenAt     time.Time
	PendingRemoval bool
	FilterPass     bool
}

// Engine owns the unit table. All table mutation happens on the Run
// goroutine; the mutex only guards the read-side Snapshot/LastPoll hooks.
type Engine struct {
	gateway  systemd.Gateway
	sink     sink.Sink
	cfg      Config
	recorder metrics.Recorder
	backoff  retry.Policy
	now      func() time.Time

	mu            sync.Mutex
	units         map[string]*unitRecord
	seenSincePoll map[string]struct{}
	lastPollAt    time.Time

	pollTrigger chan struct{}
	polling     atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithBackoff overrides the re-subscription backoff policy.
func WithBackoff(p retry.Policy) Option {
	return func(e *Engine) { e.backoff = p }
}

// New creates an engine. Run must be called to start processing.
func New(gateway systemd.Gateway, out sink.Sink, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		gateway:       gateway,
		sink:          out,
		cfg:           cfg,
		recorder:      metrics.NoopRecorder{},
		backoff:       retry.DefaultPolicy(),
		now:           time.Now,
		units:         make(map[string]*unitRecord),
		seenSincePoll: make(map[string]struct{}),
		pollTrigger:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run processes events and poll triggers until the context is canceled.
func (e *Engine) Run(ctx context.Context) error {
	e.seed(ctx)

	events, err := e.subscribe(ctx)
	if err != nil {
		return err
	}
	slog.Info("Unit state engine started",
		logfields.Units(e.trackedCount()),
		slog.String("measurement", e.cfg.Measurement))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Unit state engine stopping")
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				e.recorder.IncBusReconnect()
				events, err = e.subscribe(ctx)
				if err != nil {
					return err
				}
				continue
			}
			e.handleEvent(ctx, ev)
		case <-e.pollTrigger:
			e.poll(ctx)
		}
	}
}

// TriggerPoll requests a reconciliation poll. A trigger arriving while a
// poll is pending or running is dropped, never queued.
func (e *Engine) TriggerPoll() {
	if e.polling.Load() {
		slog.Warn("Poll still in flight, skipping tick")
		e.recorder.IncPollSkipped()
		return
	}
	select {
	case e.pollTrigger <- struct{}{}:
	default:
		slog.Warn("Poll already pending, skipping tick")
		e.recorder.IncPollSkipped()
	}
}

// Snapshot returns a copy of the unit table sorted by name.
func (e *Engine) Snapshot() []UnitState {
	e.mu.Lock()
	defer e.mu.Unlock()

	states := make([]UnitState, 0, len(e.units))
	for _, rec := range e.units {
		states = append(states, UnitState{
			Snapshot:       rec.snapshot,
			LastSeenAt:     rec.lastSeenAt,
			PendingRemoval: rec.pendingRemoval,
			FilterPass:     e.cfg.Filters.Match(rec.snapshot.Name),
		})
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Snapshot.Name < states[j].Snapshot.Name
	})
	return states
}

// LastPoll returns the completion time of the most recent successful poll.
func (e *Engine) LastPoll() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastPollAt
}

// seed performs the initial table fill and baseline emission. A failed seed
// is not fatal: the first poll rebuilds the table.
func (e *Engine) seed(ctx context.Context) {
	snaps, err := e.gateway.ListUnits(ctx)
	if err != nil {
		slog.Warn("Initial unit listing failed, relying on first poll", logfields.Error(err))
		return
	}

	e.mu.Lock()
	emissions := make([]emission, 0, len(snaps))
	for _, snap := range snaps {
		e.upsertLocked(snap)
		if e.cfg.Filters.Match(snap.Name) {
			emissions = append(emissions, e.emissionLocked(snap.Name))
		}
	}
	e.mu.Unlock()

	slog.Info("Seeded unit table", logfields.Units(len(snaps)))
	e.emitAll(emissions)
	e.updateGauges()
}

// subscribe establishes the event stream, retrying with backoff until it
// succeeds or the context is canceled.
func (e *Engine) subscribe(ctx context.Context) (<-chan systemd.UnitEvent, error) {
	for attempt := 1; ; attempt++ {
		events, err := e.gateway.SubscribeEvents(ctx)
		if err == nil {
			return events, nil
		}
		delay := e.backoff.Delay(attempt)
		slog.Warn("Event subscription failed, retrying",
			logfields.Error(err),
			logfields.Interval(delay.String()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// handleEvent applies one bus notification to the table.
func (e *Engine) handleEvent(ctx context.Context, ev systemd.UnitEvent) {
	e.recorder.IncEvent(string(ev.Kind))

	if ev.Kind == systemd.EventRemoved {
		e.markRemoval(ev.Name, "removal event")
		return
	}

	snap, err := e.gateway.UnitProperties(ctx, ev.Name)
	switch {
	case errors.Is(err, systemd.ErrUnitNotFound):
		// Vanished between the notification and the property read.
		e.markRemoval(ev.Name, "vanished during property read")
		return
	case err != nil:
		slog.Warn("Property read failed, skipping event",
			logfields.Unit(ev.Name), logfields.Error(err))
		return
	}

	e.mu.Lock()
	e.upsertLocked(snap)
	pass := e.cfg.Filters.Match(snap.Name)
	var em emission
	if pass {
		em = e.emissionLocked(snap.Name)
	}
	e.mu.Unlock()

	if pass {
		e.emitAll([]emission{em})
	}
	e.updateGauges()
}

// markRemoval flags a unit for deletion. The record survives until the next
// poll confirms the unit is really gone, so a spurious removal racing a
// restart does not drop state.
func (e *Engine) markRemoval(name, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.units[name]
	if !ok {
		return
	}
	rec.pendingRemoval = true
	delete(e.seenSincePoll, name)
	slog.Debug("Unit pending removal", logfields.Unit(name), slog.String("reason", reason))
}

// poll runs one full reconciliation: refresh every reported unit, resolve
// pending removals, and re-assert all filter-passing units.
func (e *Engine) poll(ctx context.Context) {
	e.polling.Store(true)
	defer e.polling.Store(false)

	start := e.now()
	snaps, err := e.gateway.ListUnits(ctx)
	if err != nil {
		slog.Warn("Reconciliation poll failed", logfields.Error(err))
		e.recorder.IncPollFailure()
		return
	}

	e.mu.Lock()
	present := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		present[snap.Name] = struct{}{}
		e.upsertLocked(snap)
	}

	for name, rec := range e.units {
		if _, ok := present[name]; ok {
			continue
		}
		if _, seen := e.seenSincePoll[name]; seen {
			// Observed via an event since the previous poll; one miss is
			// tolerated to avoid flapping on transient list gaps.
			continue
		}
		if rec.pendingRemoval {
			delete(e.units, name)
			slog.Info("Unit removed from table", logfields.Unit(name))
			continue
		}
		rec.pendingRemoval = true
		slog.Debug("Unit missed one poll", logfields.Unit(name))
	}
	e.seenSincePoll = make(map[string]struct{})

	names := make([]string, 0, len(e.units))
	for name := range e.units {
		if e.cfg.Filters.Match(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	emissions := make([]emission, 0, len(names))
	for _, name := range names {
		emissions = append(emissions, e.emissionLocked(name))
	}
	e.lastPollAt = e.now()
	e.mu.Unlock()

	e.emitAll(emissions)
	e.updateGauges()
	e.recorder.ObservePollDuration(e.now().Sub(start))
	slog.Debug("Poll complete",
		logfields.Units(len(snaps)),
		logfields.DurationMS(float64(e.now().Sub(start).Milliseconds())))
}

// upsertLocked creates or refreshes a record. Any observation clears a
// pending removal: the unit is demonstrably alive.
func (e *Engine) upsertLocked(snap systemd.UnitSnapshot) {
	rec, ok := e.units[snap.Name]
	if !ok {
		rec = &unitRecord{}
		e.units[snap.Name] = rec
		slog.Debug("New unit tracked", logfields.Unit(snap.Name), logfields.ActiveState(snap.ActiveState))
	} else if rec.snapshot.ActiveState != snap.ActiveState {
		slog.Info("Unit state changed",
			logfields.Unit(snap.Name),
			slog.String("from", rec.snapshot.ActiveState),
			slog.String("to", snap.ActiveState))
	}
	rec.snapshot = snap
	rec.lastSeenAt = e.now()
	rec.pendingRemoval = false
	e.seenSincePoll[snap.Name] = struct{}{}
}

// emission is a snapshot plus its assigned timestamp, captured under the
// lock so timestamps stay strictly increasing per unit.
type emission struct {
	snapshot systemd.UnitSnapshot
	tsNanos  int64
}

// emissionLocked assigns the next timestamp for a unit. Successive emissions
// for the same unit always get strictly greater timestamps, which the
// downstream store requires for point uniqueness.
func (e *Engine) emissionLocked(name string) emission {
	rec := e.units[name]
	ts := e.now().UnixNano()
	if ts <= rec.lastEmitNanos {
		ts = rec.lastEmitNanos + 1
	}
	rec.lastEmitNanos = ts
	return emission{snapshot: rec.snapshot, tsNanos: ts}
}

// emitAll encodes and sends records outside the table lock. Failures are
// logged and counted, never propagated: losing a sample is tolerable,
// stalling the engine is not.
func (e *Engine) emitAll(emissions []emission) {
	for _, em := range emissions {
		line, err := lineproto.Encode(e.cfg.Measurement, em.snapshot, e.cfg.Session, em.tsNanos)
		if err != nil {
			slog.Error("Encoding failed, skipping record",
				logfields.Unit(em.snapshot.Name), logfields.Error(err))
			e.recorder.IncEncodeFailure()
			continue
		}
		if err := e.sink.Send(line); err != nil {
			slog.Warn("Metric dropped",
				logfields.Unit(em.snapshot.Name), logfields.Error(err))
			e.recorder.IncDropped()
			continue
		}
		e.recorder.IncEmitted()
	}
}

func (e *Engine) trackedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.units)
}

func (e *Engine) updateGauges() {
	e.mu.Lock()
	tracked := len(e.units)
	passing := 0
	for name := range e.units {
		if e.cfg.Filters.Match(name) {
			passing++
		}
	}
	e.mu.Unlock()
	e.recorder.SetTrackedUnits(tracked)
	e.recorder.SetFilteredUnits(passing)
}
