package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflictPair() (*Event, sync.Change[*Event]) {
	ref := "cal_123"
	start := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

	local := &Event{
		ID:            uuid.New(),
		Program:       "fundraiser",
		Title:         "Bake sale",
		Description:   "hall A",
		StartsAt:      start,
		EndsAt:        start.Add(2 * time.Hour),
		Status:        StatusDone,
		CalendarRef:   &ref,
		CalendarToken: "etag-1",
		Version:       4,
		PushedVersion: 3,
	}

	external := sync.Change[*Event]{
		Ref:   ref,
		Token: "etag-2",
		Entity: &Event{
			Title:       "Bake sale (moved)",
			Description: "hall B",
			StartsAt:    start.Add(time.Hour),
			EndsAt:      start.Add(3 * time.Hour),
			Status:      StatusPlanned,
		},
	}

	return local, external
}

func TestResolveMergesFieldsByOwner(t *testing.T) {
	local, external := conflictPair()

	res, err := Resolver{}.Resolve(local, external)
	require.NoError(t, err)
	require.Equal(t, sync.ResolutionMerged, res.Action)

	// Scheduling fields come from the calendar side.
	assert.Equal(t, "Bake sale (moved)", res.Merged.Title)
	assert.Equal(t, "hall B", res.Merged.Description)
	assert.Equal(t, external.Entity.StartsAt, res.Merged.StartsAt)
	assert.Equal(t, external.Entity.EndsAt, res.Merged.EndsAt)

	// Operational fields stay local.
	assert.Equal(t, StatusDone, res.Merged.Status)
	assert.Equal(t, "fundraiser", res.Merged.Program)
	assert.Equal(t, local.ID, res.Merged.ID)
}

func TestResolveIsDeterministic(t *testing.T) {
	local, external := conflictPair()

	first, err := Resolver{}.Resolve(local, external)
	require.NoError(t, err)
	second, err := Resolver{}.Resolve(local, external)
	require.NoError(t, err)

	assert.Equal(t, first.Action, second.Action)
	assert.Equal(t, *first.Merged, *second.Merged)
}

func TestResolveExternalDeleteKeepsLocal(t *testing.T) {
	local, external := conflictPair()
	external.Deleted = true
	external.Entity = nil

	res, err := Resolver{}.Resolve(local, external)
	require.NoError(t, err)
	assert.Equal(t, sync.ResolutionLocal, res.Action)
}

func TestResolveLocalTombstoneWins(t *testing.T) {
	local, external := conflictPair()
	now := time.Now()
	local.DeletedAt = &now

	res, err := Resolver{}.Resolve(local, external)
	require.NoError(t, err)
	assert.Equal(t, sync.ResolutionLocal, res.Action)
}
