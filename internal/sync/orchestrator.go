package sync

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
)

// State is a named orchestrator state, so failure injection tests can assert
// exact transition sequences.
type State string

const (
	StateIdle        State = "idle"
	StatePulling     State = "pulling"
	StateReconciling State = "reconciling"
	StatePushing     State = "pushing"
	StateBackoff     State = "backoff"
)

// Status is a point-in-time snapshot of one source's sync health.
type Status struct {
	Source   Source `json:"source"`
	State    State  `json:"state"`
	Failures int    `json:"consecutive_failures"`
	Degraded bool   `json:"degraded"`
}

// Options tune one orchestrator. Zero values fall back to sane defaults.
type Options struct {
	// Interval is the fixed cycle cadence.
	Interval time.Duration
	// Debounce collapses a burst of local-mutation triggers into one cycle.
	Debounce time.Duration
	// BackoffCeiling is the consecutive-failure count at which the source is
	// flagged degraded and automatic retries stop.
	BackoffCeiling int
	// Credentials is refreshed once after an AUTH_EXPIRED failure (optional).
	Credentials CredentialRefresher
	// Recorder receives a report per cycle (optional).
	Recorder Recorder
	// Alert fires when the backoff ceiling is hit (optional, defaults to a log).
	Alert AlertFunc
	// OnTransition observes every state change (tests only).
	OnTransition func(State)
}

// Orchestrator drives periodic and on-demand reconciliation for one external
// source. One cycle runs at a time per source; the per-entity in-flight
// markers live in memory only, so a restart trivially clears them.
type Orchestrator[T Syncable] struct {
	source   Source
	adapter  Adapter[T]
	store    Store[T]
	resolver Resolver[T]
	cursors  CursorStore
	reviews  ReviewSink
	opts     Options

	trigger chan struct{}

	mu       stdsync.Mutex
	state    State
	failures int
	degraded bool
	inflight map[uuid.UUID]uuid.UUID // entity id -> cycle id
}

func NewOrchestrator[T Syncable](
	source Source,
	adapter Adapter[T],
	store Store[T],
	resolver Resolver[T],
	cursors CursorStore,
	reviews ReviewSink,
	opts Options,
) *Orchestrator[T] {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Minute
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.BackoffCeiling <= 0 {
		opts.BackoffCeiling = 8
	}
	if opts.Alert == nil {
		opts.Alert = func(source Source, err error) {
			slog.Error("Sync degraded", slog.String("source", string(source)), slog.Any("error", err))
		}
	}

	return &Orchestrator[T]{
		source:   source,
		adapter:  adapter,
		store:    store,
		resolver: resolver,
		cursors:  cursors,
		reviews:  reviews,
		opts:     opts,
		trigger:  make(chan struct{}, 1),
		state:    StateIdle,
		inflight: map[uuid.UUID]uuid.UUID{},
	}
}

// Trigger requests an on-demand cycle, typically after a local mutation.
// Triggers within the debounce window collapse into a single cycle. A degraded
// source ignores mutation triggers; only ForceSync revives it.
func (o *Orchestrator[T]) Trigger() {
	o.mu.Lock()
	degraded := o.degraded
	o.mu.Unlock()
	if degraded {
		return
	}

	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// ForceSync clears the degraded flag and requests an immediate cycle.
func (o *Orchestrator[T]) ForceSync(ctx context.Context) {
	o.mu.Lock()
	o.degraded = false
	o.failures = 0
	o.mu.Unlock()

	if err := o.cursors.SetHealth(ctx, o.source, 0, false); err != nil {
		slog.Warn("Unable to reset sync health", slog.String("source", string(o.source)), slog.Any("error", err))
	}

	select {
	case o.trigger <- struct{}{}:
	default:
	}
}

// Status reports the current state for the sync status endpoint.
func (o *Orchestrator[T]) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Status{
		Source:   o.source,
		State:    o.state,
		Failures: o.failures,
		Degraded: o.degraded,
	}
}

// Run drives cycles until ctx is cancelled. Cancellation mid-cycle leaves the
// cursor un-advanced and clears every in-flight marker.
func (o *Orchestrator[T]) Run(ctx context.Context) {
	ticker := time.NewTicker(o.opts.Interval)
	defer ticker.Stop()

	slog.Info("Sync orchestrator started", slog.String("source", string(o.source)))

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sync orchestrator stopped", slog.String("source", string(o.source)))
			return
		case <-ticker.C:
			o.mu.Lock()
			degraded := o.degraded
			o.mu.Unlock()
			if degraded {
				continue
			}
		case <-o.trigger:
			o.debounce(ctx)
		}

		o.RunCycle(ctx)
	}
}

// debounce absorbs follow-up triggers for the debounce window so a burst of
// mutations becomes one outward cycle.
func (o *Orchestrator[T]) debounce(ctx context.Context) {
	timer := time.NewTimer(o.opts.Debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.trigger:
		case <-timer.C:
			return
		}
	}
}

// RunCycle runs one cycle, retrying with exponential backoff on adapter
// failure until it succeeds, the context ends, or the failure ceiling flags
// the source degraded.
func (o *Orchestrator[T]) RunCycle(ctx context.Context) {
	for {
		report := CycleReport{
			Source:    o.source,
			CycleID:   uuid.New(),
			StartedAt: time.Now(),
		}

		err := o.runOnce(ctx, &report)

		report.FinishedAt = time.Now()
		if err != nil {
			report.Err = err.Error()
		}
		if o.opts.Recorder != nil {
			o.opts.Recorder.RecordCycle(ctx, report)
		}

		if err == nil {
			o.resetHealth(ctx)
			o.setState(StateIdle)
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}

		o.mu.Lock()
		o.failures++
		failures := o.failures
		o.mu.Unlock()

		o.setState(StateBackoff)

		if failures >= o.opts.BackoffCeiling {
			o.mu.Lock()
			o.degraded = true
			o.mu.Unlock()
			if herr := o.cursors.SetHealth(ctx, o.source, failures, true); herr != nil {
				slog.Warn("Unable to persist sync health", slog.String("source", string(o.source)), slog.Any("error", herr))
			}
			o.opts.Alert(o.source, err)
			return
		}

		if herr := o.cursors.SetHealth(ctx, o.source, failures, false); herr != nil {
			slog.Warn("Unable to persist sync health", slog.String("source", string(o.source)), slog.Any("error", herr))
		}

		slog.Warn("Sync cycle failed, backing off",
			slog.String("source", string(o.source)),
			slog.Int("failures", failures),
			slog.Any("error", err))

		if waitWithContext(ctx, backoffDelay(failures)) != nil {
			return
		}
	}
}

func (o *Orchestrator[T]) runOnce(ctx context.Context, report *CycleReport) error {
	defer o.clearCycleMarkers(report.CycleID)

	// Pulling
	o.setState(StatePulling)

	cursor, err := o.cursors.Get(ctx, o.source)
	if err != nil {
		return err
	}

	var changes []Change[T]
	var next string
	err = o.withAuthRetry(ctx, func() error {
		var perr error
		changes, next, perr = o.adapter.Pull(ctx, cursor.Cursor)
		return perr
	})
	if err != nil {
		return err
	}
	report.Pulled = len(changes)

	// Reconciling
	o.setState(StateReconciling)

	locked, err := o.reviews.LockedIDs(ctx, o.source)
	if err != nil {
		return err
	}

	for _, change := range changes {
		if err := o.reconcile(ctx, change, locked, report); err != nil {
			return err
		}
	}

	// The cursor only advances once the whole batch is durably reconciled.
	if err := o.cursors.Save(ctx, o.source, next); err != nil {
		return err
	}

	// Pushing
	o.setState(StatePushing)

	pending, err := o.store.ListPending(ctx)
	if err != nil {
		return err
	}

	for _, entity := range pending {
		id := entity.SyncableID()
		if locked[id] {
			continue
		}
		if !o.markInflight(id, report.CycleID) {
			continue
		}

		err := o.pushOne(ctx, entity, report)
		o.clearInflight(id)

		if err == nil {
			continue
		}
		if errors.Is(err, ErrRejected) {
			// Degraded entity: park it instead of retrying a payload the
			// service will keep refusing.
			if perr := o.reviews.Park(ctx, o.source, id, "push rejected: "+err.Error(), entity, nil); perr != nil {
				return perr
			}
			locked[id] = true
			report.Parked++
			continue
		}
		return err
	}

	return nil
}

func (o *Orchestrator[T]) reconcile(ctx context.Context, change Change[T], locked map[uuid.UUID]bool, report *CycleReport) error {
	if change.Ref == "" {
		return nil
	}

	local, ok, err := o.store.GetByRef(ctx, change.Ref)
	if err != nil {
		return err
	}

	if !ok {
		if change.Deleted {
			return nil
		}
		// External-origin record: persist locally, system origin.
		slog.Info("Importing external record",
			slog.String("source", string(o.source)),
			slog.String("ref", change.Ref),
			slog.String("origin", "system"))
		if err := o.store.InsertExternal(ctx, change); err != nil {
			return err
		}
		report.Applied++
		return nil
	}

	if locked[local.SyncableID()] {
		return nil
	}

	// Token unchanged means this is the echo of our own last push.
	if !change.Deleted && change.Token == local.SyncableToken() {
		return nil
	}

	conflict := local.SyncableVersion() > local.SyncablePushedVersion()
	if !conflict {
		report.Applied++
		if change.Deleted {
			return o.store.DeleteLocal(ctx, local.SyncableID())
		}
		return o.store.Overwrite(ctx, change)
	}

	report.Conflicts++

	resolution, err := o.resolver.Resolve(local, change)
	if err != nil {
		return o.park(ctx, local, change, "resolver failed: "+err.Error(), locked, report)
	}

	switch resolution.Action {
	case ResolutionExternal:
		if change.Deleted {
			err = o.store.DeleteLocal(ctx, local.SyncableID())
		} else {
			err = o.store.Overwrite(ctx, change)
		}
	case ResolutionMerged:
		err = o.store.SaveMerged(ctx, resolution.Merged, change.Token)
	case ResolutionLocal:
		if change.Deleted {
			// External side deleted; local wins, so drop the stale reference
			// and let the push phase recreate the record.
			err = o.store.Detach(ctx, local.SyncableID())
		}
	}
	if err != nil {
		return o.park(ctx, local, change, "resolution persist failed: "+err.Error(), locked, report)
	}

	return nil
}

// park moves a conflicting pair to manual review. Parking failures are fatal
// to the cycle: a conflict must never be silently dropped.
func (o *Orchestrator[T]) park(ctx context.Context, local T, change Change[T], reason string, locked map[uuid.UUID]bool, report *CycleReport) error {
	id := local.SyncableID()
	if err := o.reviews.Park(ctx, o.source, id, reason, local, change); err != nil {
		return err
	}
	locked[id] = true
	report.Parked++
	slog.Warn("Conflict parked for manual review",
		slog.String("source", string(o.source)),
		slog.String("entity_id", id.String()),
		slog.String("reason", reason))
	return nil
}

func (o *Orchestrator[T]) pushOne(ctx context.Context, entity T, report *CycleReport) error {
	if entity.SyncableDeleted() {
		if ref := entity.SyncableRef(); ref != "" {
			err := o.withAuthRetry(ctx, func() error {
				return o.adapter.Delete(ctx, ref)
			})
			// Already absent is success: delete stays idempotent.
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
		if err := o.store.Purge(ctx, entity.SyncableID()); err != nil {
			return err
		}
		report.Deleted++
		return nil
	}

	var result PushResult
	err := o.withAuthRetry(ctx, func() error {
		var perr error
		result, perr = o.adapter.Push(ctx, entity)
		return perr
	})
	if err != nil {
		return err
	}

	if err := o.store.ConfirmPush(ctx, entity.SyncableID(), entity.SyncableVersion(), result.Ref, result.Token); err != nil {
		return err
	}
	report.Pushed++
	return nil
}

// withAuthRetry refreshes the external credential once on AUTH_EXPIRED and
// retries, per the single-retry-then-backoff rule.
func (o *Orchestrator[T]) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if !errors.Is(err, ErrAuthExpired) || o.opts.Credentials == nil {
		return err
	}

	slog.Info("External credential expired, refreshing", slog.String("source", string(o.source)))
	if rerr := o.opts.Credentials.Refresh(ctx); rerr != nil {
		return rerr
	}
	return fn()
}

func (o *Orchestrator[T]) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	if o.opts.OnTransition != nil {
		o.opts.OnTransition(s)
	}
}

func (o *Orchestrator[T]) resetHealth(ctx context.Context) {
	o.mu.Lock()
	changed := o.failures != 0 || o.degraded
	o.failures = 0
	o.degraded = false
	o.mu.Unlock()

	if changed {
		if err := o.cursors.SetHealth(ctx, o.source, 0, false); err != nil {
			slog.Warn("Unable to reset sync health", slog.String("source", string(o.source)), slog.Any("error", err))
		}
	}
}

func (o *Orchestrator[T]) markInflight(id, cycleID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[id]; busy {
		return false
	}
	o.inflight[id] = cycleID
	return true
}

func (o *Orchestrator[T]) clearInflight(id uuid.UUID) {
	o.mu.Lock()
	delete(o.inflight, id)
	o.mu.Unlock()
}

// clearCycleMarkers drops markers left by a cancelled cycle so no entity stays
// in-flight forever.
func (o *Orchestrator[T]) clearCycleMarkers(cycleID uuid.UUID) {
	o.mu.Lock()
	for id, cycle := range o.inflight {
		if cycle == cycleID {
			delete(o.inflight, id)
		}
	}
	o.mu.Unlock()
}
