package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// item is a minimal synced entity for exercising the engine.
type item struct {
	id      uuid.UUID
	ref     string
	token   string
	version int64
	pushed  int64
	deleted bool
	payload string
}

func (i *item) SyncableID() uuid.UUID        { return i.id }
func (i *item) SyncableVersion() int64       { return i.version }
func (i *item) SyncablePushedVersion() int64 { return i.pushed }
func (i *item) SyncableRef() string          { return i.ref }
func (i *item) SyncableToken() string        { return i.token }
func (i *item) SyncableDeleted() bool        { return i.deleted }

type fakeStore struct {
	mu    stdsync.Mutex
	items map[uuid.UUID]*item
	order []uuid.UUID
}

func newFakeStore(items ...*item) *fakeStore {
	s := &fakeStore{items: map[uuid.UUID]*item{}}
	for _, it := range items {
		s.items[it.id] = it
		s.order = append(s.order, it.id)
	}
	return s
}

func (s *fakeStore) byRef(ref string) *item {
	for _, id := range s.order {
		if it, ok := s.items[id]; ok && it.ref == ref {
			return it
		}
	}
	return nil
}

func (s *fakeStore) GetByRef(_ context.Context, ref string) (*item, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.byRef(ref)
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

func (s *fakeStore) InsertExternal(_ context.Context, change Change[*item]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := &item{
		id:      uuid.New(),
		ref:     change.Ref,
		token:   change.Token,
		version: 1,
		pushed:  1,
		payload: change.Entity.payload,
	}
	s.items[it.id] = it
	s.order = append(s.order, it.id)
	return nil
}

func (s *fakeStore) Overwrite(_ context.Context, change Change[*item]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.byRef(change.Ref)
	if it == nil {
		return fmt.Errorf("no item with ref %s", change.Ref)
	}
	it.payload = change.Entity.payload
	it.token = change.Token
	it.deleted = false
	it.version++
	it.pushed = it.version
	return nil
}

func (s *fakeStore) SaveMerged(_ context.Context, merged *item, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[merged.id]
	if !ok {
		return fmt.Errorf("no item %s", merged.id)
	}
	it.payload = merged.payload
	it.token = token
	it.version++
	return nil
}

func (s *fakeStore) DeleteLocal(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
	return nil
}

func (s *fakeStore) Detach(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok {
		it.ref = ""
		it.token = ""
		it.pushed = 0
	}
	return nil
}

func (s *fakeStore) ListPending(_ context.Context) ([]*item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []*item
	for _, id := range s.order {
		if it, ok := s.items[id]; ok && (it.version > it.pushed || it.deleted) {
			// Snapshots, the way a SELECT returns rows: later writes to the
			// store must not leak into an already-listed entity.
			cp := *it
			pending = append(pending, &cp)
		}
	}
	return pending, nil
}

func (s *fakeStore) ConfirmPush(_ context.Context, id uuid.UUID, version int64, ref, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok && it.pushed < version {
		it.ref = ref
		it.token = token
		it.pushed = version
	}
	return nil
}

func (s *fakeStore) Purge(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[id]; ok && it.deleted {
		delete(s.items, id)
	}
	return nil
}

type pullResult struct {
	changes []Change[*item]
	next    string
	err     error
}

type fakeAdapter struct {
	mu           stdsync.Mutex
	pulls        []pullResult // consumed in order; the last one repeats
	pullCount    int
	pushErr      map[uuid.UUID]error
	pushed       []uuid.UUID
	pushVersions []int64 // entity version observed per push, parallel to pushed
	onPush       func(*item)
	deleted      []string
	deleteErr    error
}

func (a *fakeAdapter) Pull(context.Context, string) ([]Change[*item], string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pullCount++
	if len(a.pulls) == 0 {
		return nil, "", nil
	}
	idx := a.pullCount - 1
	if idx >= len(a.pulls) {
		idx = len(a.pulls) - 1
	}
	p := a.pulls[idx]
	return p.changes, p.next, p.err
}

func (a *fakeAdapter) Push(_ context.Context, it *item) (PushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.pushErr[it.id]; err != nil {
		return PushResult{}, err
	}
	a.pushed = append(a.pushed, it.id)
	a.pushVersions = append(a.pushVersions, it.version)
	if a.onPush != nil {
		a.onPush(it)
	}
	ref := it.ref
	if ref == "" {
		ref = "ext-" + it.id.String()[:8]
	}
	return PushResult{Ref: ref, Token: fmt.Sprintf("tok-%s-v%d", ref, it.version)}, nil
}

func (a *fakeAdapter) Delete(_ context.Context, ref string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, ref)
	return a.deleteErr
}

type fakeCursors struct {
	mu     stdsync.Mutex
	cursor Cursor
	saved  []string
	health []Status
}

func (c *fakeCursors) Get(context.Context, Source) (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur := c.cursor
	return &cur, nil
}

func (c *fakeCursors) Save(_ context.Context, _ Source, cursor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor.Cursor = cursor
	c.saved = append(c.saved, cursor)
	return nil
}

func (c *fakeCursors) SetHealth(_ context.Context, source Source, failures int, degraded bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = append(c.health, Status{Source: source, Failures: failures, Degraded: degraded})
	return nil
}

type parkCall struct {
	entityID uuid.UUID
	reason   string
}

type fakeReviews struct {
	mu     stdsync.Mutex
	locked map[uuid.UUID]bool
	parked []parkCall
}

func (r *fakeReviews) Park(_ context.Context, _ Source, entityID uuid.UUID, reason string, _, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locked == nil {
		r.locked = map[uuid.UUID]bool{}
	}
	r.locked[entityID] = true
	r.parked = append(r.parked, parkCall{entityID: entityID, reason: reason})
	return nil
}

func (r *fakeReviews) LockedIDs(context.Context, Source) (map[uuid.UUID]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[uuid.UUID]bool{}
	for id := range r.locked {
		out[id] = true
	}
	return out, nil
}

type resolverFunc func(local *item, external Change[*item]) (Resolution[*item], error)

func (f resolverFunc) Resolve(local *item, external Change[*item]) (Resolution[*item], error) {
	return f(local, external)
}

// externalWins mirrors the ledger policy.
var externalWins resolverFunc = func(*item, Change[*item]) (Resolution[*item], error) {
	return Resolution[*item]{Action: ResolutionExternal}, nil
}

type reportSink struct {
	mu      stdsync.Mutex
	reports []CycleReport
}

func (r *reportSink) RecordCycle(_ context.Context, report CycleReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *reportSink) last() CycleReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reports[len(r.reports)-1]
}

type fixture struct {
	store   *fakeStore
	adapter *fakeAdapter
	cursors *fakeCursors
	reviews *fakeReviews
	reports *reportSink
}

func newFixture(store *fakeStore, adapter *fakeAdapter, resolver Resolver[*item], opts Options) (*Orchestrator[*item], *fixture) {
	f := &fixture{
		store:   store,
		adapter: adapter,
		cursors: &fakeCursors{},
		reviews: &fakeReviews{},
		reports: &reportSink{},
	}
	if resolver == nil {
		resolver = externalWins
	}
	opts.Recorder = f.reports
	o := NewOrchestrator(SourceLedger, adapter, store, resolver, f.cursors, f.reviews, opts)
	return o, f
}

func TestExternalEditOverwritesCleanLocal(t *testing.T) {
	local := &item{id: uuid.New(), ref: "r1", token: "t1", version: 2, pushed: 2, payload: "old"}
	store := newFakeStore(local)
	adapter := &fakeAdapter{pulls: []pullResult{{
		changes: []Change[*item]{{Ref: "r1", Token: "t2", Entity: &item{payload: "edited outside"}}},
		next:    "c2",
	}}}

	o, f := newFixture(store, adapter, nil, Options{})
	o.RunCycle(context.Background())

	assert.Equal(t, "edited outside", local.payload)
	assert.Equal(t, "t2", local.token)
	assert.Equal(t, local.version, local.pushed, "external apply must not queue a push back")
	assert.Empty(t, adapter.pushed)
	assert.Equal(t, []string{"c2"}, f.cursors.saved)

	report := f.reports.last()
	assert.Equal(t, 1, report.Pulled)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, 0, report.Conflicts)
	assert.Empty(t, report.Err)
}

func TestExternalOriginRecordIsImported(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{pulls: []pullResult{{
		changes: []Change[*item]{{Ref: "new-row", Token: "t1", Entity: &item{payload: "typed into the sheet"}}},
		next:    "c1",
	}}}

	o, f := newFixture(store, adapter, nil, Options{})
	o.RunCycle(context.Background())

	imported := store.byRef("new-row")
	require.NotNil(t, imported)
	assert.Equal(t, "typed into the sheet", imported.payload)
	assert.Equal(t, imported.version, imported.pushed, "imported record starts settled")
	assert.Empty(t, adapter.pushed, "import must not bounce back out")
	assert.Equal(t, 1, f.reports.last().Applied)
}

func TestOwnPushEchoIsSkipped(t *testing.T) {
	local := &item{id: uuid.New(), ref: "r1", token: "t1", version: 2, pushed: 2, payload: "mine"}
	store := newFakeStore(local)
	adapter := &fakeAdapter{pulls: []pullResult{{
		changes: []Change[*item]{{Ref: "r1", Token: "t1", Entity: &item{payload: "mine"}}},
		next:    "c2",
	}}}

	o, f := newFixture(store, adapter, nil, Options{})
	o.RunCycle(context.Background())

	assert.Equal(t, int64(2), local.version, "echo must not touch the record")
	assert.Equal(t, 0, f.reports.last().Applied)
	assert.Equal(t, 0, f.reports.last().Conflicts)
}

func TestConflictMergeIsPushedBackOnce(t *testing.T) {
	local := &item{id: uuid.New(), ref: "r1", token: "t1", version: 3, pushed: 2, payload: "local edit"}
	store := newFakeStore(local)
	adapter := &fakeAdapter{pulls: []pullResult{{
		changes: []Change[*item]{{Ref: "r1", Token: "t2", Entity: &item{payload: "external edit"}}},
		next:    "c2",
	}}}

	merge := resolverFunc(func(l *item, ext Change[*item]) (Resolution[*item], error) {
		merged := *l
		merged.payload = l.payload + "+" + ext.Entity.payload
		return Resolution[*item]{Action: ResolutionMerged, Merged: &merged}, nil
	})

	o, f := newFixture(store, adapter, merge, Options{})
	o.RunCycle(context.Background())

	assert.Equal(t, "local edit+external edit", local.payload)
	require.Len(t, adapter.pushed, 1, "merge result goes back out exactly once")
	assert.Equal(t, local.id, adapter.pushed[0])
	assert.Equal(t, local.version, local.pushed, "push confirmed")

	report := f.reports.last()
	assert.Equal(t, 1, report.Conflicts)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, 0, report.Parked)
}

func TestResolverErrorParksAndLaterChangesStillApply(t *testing.T) {
	a := &item{id: uuid.New(), ref: "ra", token: "t1", version: 3, pushed: 2, payload: "conflicted"}
	b := &item{id: uuid.New(), ref: "rb", token: "t1", version: 2, pushed: 2, payload: "clean"}
	store := newFakeStore(a, b)
	adapter := &fakeAdapter{pulls: []pullResult{{
		changes: []Change[*item]{
			{Ref: "ra", Token: "t2", Entity: &item{payload: "ext-a"}},
			{Ref: "rb", Token: "t2", Entity: &item{payload: "ext-b"}},
		},
		next: "c2",
	}}}

	failing := resolverFunc(func(*item, Change[*item]) (Resolution[*item], error) {
		return Resolution[*item]{}, errors.New("cannot decide")
	})

	o, f := newFixture(store, adapter, failing, Options{})
	o.RunCycle(context.Background())

	require.Len(t, f.reviews.parked, 1)
	assert.Equal(t, a.id, f.reviews.parked[0].entityID)
	assert.Equal(t, "conflicted", a.payload, "parked entity is left untouched")
	assert.Equal(t, "ext-b", b.payload, "the rest of the batch still applies")
	assert.Empty(t, adapter.pushed, "parked entity is excluded from the push phase")
	assert.Equal(t, []string{"c2"}, f.cursors.saved, "parking is not a cycle failure")
	assert.Equal(t, 1, f.reports.last().Parked)
}

func TestRejectedPushParksAndCycleSucceeds(t *testing.T) {
	bad := &item{id: uuid.New(), version: 2, pushed: 1, payload: "rejected"}
	good := &item{id: uuid.New(), version: 2, pushed: 1, payload: "fine"}
	store := newFakeStore(bad, good)
	adapter := &fakeAdapter{
		pulls:   []pullResult{{next: "c1"}},
		pushErr: map[uuid.UUID]error{bad.id: fmt.Errorf("schema: %w", ErrRejected)},
	}

	o, f := newFixture(store, adapter, nil, Options{})
	o.RunCycle(context.Background())

	require.Len(t, f.reviews.parked, 1)
	assert.Equal(t, bad.id, f.reviews.parked[0].entityID)
	assert.Contains(t, f.reviews.parked[0].reason, "push rejected")
	require.Len(t, adapter.pushed, 1)
	assert.Equal(t, good.id, adapter.pushed[0])
	assert.Equal(t, StateIdle, o.Status().State, "a rejected payload is not a source failure")
	assert.Equal(t, 0, o.Status().Failures)
}

func TestTombstoneDeleteIsIdempotent(t *testing.T) {
	gone := &item{id: uuid.New(), ref: "r1", token: "t1", version: 3, pushed: 2, deleted: true}
	store := newFakeStore(gone)
	adapter := &fakeAdapter{
		pulls:     []pullResult{{next: "c1"}},
		deleteErr: fmt.Errorf("already removed: %w", ErrNotFound),
	}

	o, f := newFixture(store, adapter, nil, Options{})
	o.RunCycle(context.Background())

	assert.Equal(t, []string{"r1"}, adapter.deleted)
	assert.NotContains(t, store.items, gone.id, "tombstone purged even when the counterpart was already gone")
	assert.Equal(t, 1, f.reports.last().Deleted)
	assert.Empty(t, f.reports.last().Err)
}

func TestAuthExpiredRefreshesOnceAndRetries(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{pulls: []pullResult{
		{err: fmt.Errorf("401: %w", ErrAuthExpired)},
		{next: "c1"},
	}}

	refreshes := 0
	o, f := newFixture(store, adapter, nil, Options{
		Credentials: credentialFunc(func(context.Context) error {
			refreshes++
			return nil
		}),
	})
	o.RunCycle(context.Background())

	assert.Equal(t, 1, refreshes)
	assert.Equal(t, 2, adapter.pullCount)
	assert.Equal(t, []string{"c1"}, f.cursors.saved)
	assert.Equal(t, 0, o.Status().Failures, "an in-cycle auth recovery is not a failure")
}

type credentialFunc func(ctx context.Context) error

func (f credentialFunc) Refresh(ctx context.Context) error { return f(ctx) }

func TestRepeatedFailureHitsCeilingAndDegrades(t *testing.T) {
	pending := &item{id: uuid.New(), version: 2, pushed: 1, payload: "stuck"}
	store := newFakeStore(pending)
	adapter := &fakeAdapter{pulls: []pullResult{{err: fmt.Errorf("429: %w", ErrRateLimited)}}}

	var alerts []error
	var transitions []State
	o, f := newFixture(store, adapter, nil, Options{
		BackoffCeiling: 3,
		Alert:          func(_ Source, err error) { alerts = append(alerts, err) },
		OnTransition:   func(s State) { transitions = append(transitions, s) },
	})

	o.RunCycle(context.Background())

	require.Len(t, alerts, 1)
	assert.True(t, errors.Is(alerts[0], ErrRateLimited))

	status := o.Status()
	assert.True(t, status.Degraded)
	assert.Equal(t, 3, status.Failures)

	// Health was persisted on the way up and the final write flags degraded.
	require.NotEmpty(t, f.cursors.health)
	last := f.cursors.health[len(f.cursors.health)-1]
	assert.Equal(t, 3, last.Failures)
	assert.True(t, last.Degraded)

	assert.Empty(t, f.cursors.saved, "cursor never advances through failures")
	pendingItems, err := store.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pendingItems, 1, "pending work survives degradation")

	assert.Equal(t, []State{
		StatePulling, StateBackoff,
		StatePulling, StateBackoff,
		StatePulling, StateBackoff,
	}, transitions)

	// Every attempt left an audit record.
	assert.Len(t, f.reports.reports, 3)
}

func TestTriggerIgnoredWhileDegradedAndForceSyncRevives(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{pulls: []pullResult{{err: errors.New("down")}}}

	o, f := newFixture(store, adapter, nil, Options{BackoffCeiling: 1})
	o.RunCycle(context.Background())
	require.True(t, o.Status().Degraded)

	o.Trigger()
	select {
	case <-o.trigger:
		t.Fatal("degraded source must swallow mutation triggers")
	default:
	}

	o.ForceSync(context.Background())
	select {
	case <-o.trigger:
	default:
		t.Fatal("ForceSync must queue a cycle")
	}

	status := o.Status()
	assert.False(t, status.Degraded)
	assert.Equal(t, 0, status.Failures)

	last := f.cursors.health[len(f.cursors.health)-1]
	assert.False(t, last.Degraded, "ForceSync resets persisted health")
}

func TestCancellationMidBackoffLeavesCursor(t *testing.T) {
	store := newFakeStore()
	adapter := &fakeAdapter{pulls: []pullResult{{err: errors.New("flaky")}}}

	ctx, cancel := context.WithCancel(context.Background())
	o, f := newFixture(store, adapter, nil, Options{BackoffCeiling: 10})

	done := make(chan struct{})
	go func() {
		o.RunCycle(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunCycle did not stop on cancellation")
	}

	assert.Empty(t, f.cursors.saved)
	assert.False(t, o.Status().Degraded)
}

func TestLockedEntityIsSkippedEntirely(t *testing.T) {
	locked := &item{id: uuid.New(), ref: "r1", token: "t1", version: 3, pushed: 2, payload: "under review"}
	store := newFakeStore(locked)
	adapter := &fakeAdapter{pulls: []pullResult{{
		changes: []Change[*item]{{Ref: "r1", Token: "t2", Entity: &item{payload: "ext"}}},
		next:    "c2",
	}}}

	o, f := newFixture(store, adapter, nil, Options{})
	f.reviews.locked = map[uuid.UUID]bool{locked.id: true}

	o.RunCycle(context.Background())

	assert.Equal(t, "under review", locked.payload, "inbound change held while locked")
	assert.Empty(t, adapter.pushed, "outbound push held while locked")
	assert.Equal(t, []string{"c2"}, f.cursors.saved)
}

func TestPushesObserveNonDecreasingVersionOrder(t *testing.T) {
	local := &item{id: uuid.New(), ref: "r1", token: "t1", version: 2, pushed: 1, payload: "edit one"}
	store := newFakeStore(local)
	adapter := &fakeAdapter{}

	// A second local edit lands while the first push is on the wire.
	raced := false
	adapter.onPush = func(*item) {
		if raced {
			return
		}
		raced = true
		store.mu.Lock()
		local.version++
		local.payload = "edit two"
		store.mu.Unlock()
	}

	o, _ := newFixture(store, adapter, nil, Options{})
	o.RunCycle(context.Background())

	// The confirm only covers the version that went out; the mid-flight edit
	// keeps the entity pending.
	assert.Equal(t, int64(2), local.pushed)
	assert.Equal(t, int64(3), local.version)

	o.RunCycle(context.Background())

	require.Equal(t, []uuid.UUID{local.id, local.id}, adapter.pushed)
	require.Equal(t, []int64{2, 3}, adapter.pushVersions)
	for i := 1; i < len(adapter.pushVersions); i++ {
		assert.GreaterOrEqual(t, adapter.pushVersions[i], adapter.pushVersions[i-1],
			"versions must reach the external side in non-decreasing order")
	}
	assert.Equal(t, local.version, local.pushed, "second cycle settles the entity")

	// A replayed confirm for the older push must not roll the record back.
	require.NoError(t, store.ConfirmPush(context.Background(), local.id, 2, "r1", "stale"))
	assert.Equal(t, int64(3), local.pushed)
	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending, "a stale confirm must not re-queue the entity")
}
