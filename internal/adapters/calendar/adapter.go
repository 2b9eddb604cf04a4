package calendar

import (
	"context"
	"errors"
	"strings"

	"github.com/orgboard/orgsync/internal/services/event"
	"github.com/orgboard/orgsync/internal/sync"
)

// Adapter implements the calendar side of the sync engine. The calendar has
// no status field, so the operational status rides in the description as a
// bracketed prefix and is stripped back out on pull.
type Adapter struct {
	client *Client
}

func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// Push upserts the calendar counterpart of an event. The entity id doubles as
// the calendar event id on first push, so a retried create updates in place
// instead of duplicating.
func (a *Adapter) Push(ctx context.Context, e *event.Event) (sync.PushResult, error) {
	id := e.SyncableRef()
	if id == "" {
		id = e.ID.String()
	}

	out, err := a.client.putEvent(ctx, id, &calendarEvent{
		ID:          id,
		Status:      "confirmed",
		Summary:     e.Title,
		Description: encodeDescription(e.Status, e.Description),
		StartsAt:    e.StartsAt,
		EndsAt:      e.EndsAt,
	})
	if err != nil {
		return sync.PushResult{}, err
	}

	return sync.PushResult{Ref: out.ID, Token: out.Etag}, nil
}

// Pull lists changes since cursor. An expired sync token falls back to a full
// listing, which the reconciler absorbs because applying an unchanged record
// is a no-op.
func (a *Adapter) Pull(ctx context.Context, cursor string) ([]sync.Change[*event.Event], string, error) {
	changes, next, err := a.pullFrom(ctx, cursor)
	if errors.Is(err, errSyncTokenExpired) && cursor != "" {
		return a.pullFrom(ctx, "")
	}
	return changes, next, err
}

func (a *Adapter) pullFrom(ctx context.Context, syncToken string) ([]sync.Change[*event.Event], string, error) {
	var changes []sync.Change[*event.Event]
	pageToken := ""

	for {
		page, err := a.client.listEvents(ctx, syncToken, pageToken)
		if err != nil {
			return nil, "", err
		}

		for _, item := range page.Items {
			changes = append(changes, toChange(item))
		}

		if page.NextPageToken == "" {
			return changes, page.NextSyncToken, nil
		}
		pageToken = page.NextPageToken
	}
}

// Delete removes the calendar counterpart. The caller treats an already-gone
// record as success.
func (a *Adapter) Delete(ctx context.Context, ref string) error {
	return a.client.deleteEvent(ctx, ref)
}

func toChange(item calendarEvent) sync.Change[*event.Event] {
	if item.Status == "cancelled" {
		return sync.Change[*event.Event]{Ref: item.ID, Token: item.Etag, Deleted: true}
	}

	status, description := decodeDescription(item.Description)
	return sync.Change[*event.Event]{
		Ref:   item.ID,
		Token: item.Etag,
		Entity: &event.Event{
			Title:       item.Summary,
			Description: description,
			StartsAt:    item.StartsAt,
			EndsAt:      item.EndsAt,
			Status:      status,
		},
	}
}

// encodeDescription prefixes the description with the operational status,
// e.g. "[in-progress] hall B".
func encodeDescription(status event.Status, description string) string {
	return "[" + string(status) + "] " + description
}

// decodeDescription strips a status prefix written by encodeDescription.
// Descriptions edited by hand on the calendar side keep working: an absent or
// unknown prefix falls back to planned with the text untouched.
func decodeDescription(s string) (event.Status, string) {
	if strings.HasPrefix(s, "[") {
		if end := strings.Index(s, "] "); end > 0 {
			status := event.Status(s[1:end])
			if status.Valid() {
				return status, s[end+2:]
			}
		}
	}
	return event.StatusPlanned, s
}
