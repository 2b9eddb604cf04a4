package event

import (
	"github.com/orgboard/orgsync/internal/sync"
)

// Resolver implements the event conflict policy: the app exclusively drives
// status, so the local status wins; the calendar is the convenience surface
// for scheduling, so external title, description and time window win. The
// merge is written at a new version and pushed back out so the calendar picks
// up the locally-won fields.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

func (Resolver) Resolve(local *Event, external sync.Change[*Event]) (sync.Resolution[*Event], error) {
	if external.Deleted {
		// The calendar deleted an event we still have unpushed edits for.
		// Local wins existence; the record is recreated on the next push.
		return sync.Resolution[*Event]{Action: sync.ResolutionLocal}, nil
	}

	if local.DeletedAt != nil {
		// Locally deleted while edited externally: the tombstone stands and
		// the push phase removes the calendar counterpart.
		return sync.Resolution[*Event]{Action: sync.ResolutionLocal}, nil
	}

	merged := *local
	merged.Title = external.Entity.Title
	merged.Description = external.Entity.Description
	merged.StartsAt = external.Entity.StartsAt
	merged.EndsAt = external.Entity.EndsAt
	// merged.Status and merged.Program stay local.

	return sync.Resolution[*Event]{Action: sync.ResolutionMerged, Merged: &merged}, nil
}
