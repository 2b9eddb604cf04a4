package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/orgboard/orgsync/internal/adapters/ratelimit"
	"github.com/orgboard/orgsync/internal/credentials"
	"github.com/orgboard/orgsync/internal/services/event"
	"github.com/orgboard/orgsync/internal/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCalendar is a minimal in-memory calendar service.
type fakeCalendar struct {
	events    map[string]calendarEvent
	syncToken string
	putCount  int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{events: map[string]calendarEvent{}, syncToken: "tok-1"}
}

func (f *fakeCalendar) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /calendars/primary/events", func(w http.ResponseWriter, r *http.Request) {
		if st := r.URL.Query().Get("syncToken"); st != "" && st != f.syncToken {
			w.WriteHeader(http.StatusGone)
			return
		}
		page := eventsPage{NextSyncToken: f.syncToken}
		for _, ev := range f.events {
			page.Items = append(page.Items, ev)
		}
		json.NewEncoder(w).Encode(page)
	})

	mux.HandleFunc("PUT /calendars/primary/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.putCount++
		id := r.PathValue("id")
		var ev calendarEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ev.ID = id
		ev.Etag = fmt.Sprintf("etag-%d", f.putCount)
		f.events[id] = ev
		json.NewEncoder(w).Encode(ev)
	})

	mux.HandleFunc("DELETE /calendars/primary/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, ok := f.events[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.events, id)
		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func newTestAdapter(t *testing.T, handler http.Handler) (*Adapter, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := ratelimit.NewInMemoryStorage()
	t.Cleanup(limiter.Stop)

	creds := credentials.NewManager("calendar", "", "", "")
	client := NewClient(server.URL, "primary", creds, limiter, 600)
	return NewAdapter(client), server
}

func testEvent() *event.Event {
	start := time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)
	return &event.Event{
		ID:          uuid.New(),
		Program:     "outreach",
		Title:       "Open day",
		Description: "main hall",
		StartsAt:    start,
		EndsAt:      start.Add(2 * time.Hour),
		Status:      event.StatusInProgress,
		Version:     2,
	}
}

func TestPushThenPullRoundTrip(t *testing.T) {
	fake := newFakeCalendar()
	adapter, _ := newTestAdapter(t, fake.handler())

	e := testEvent()
	res, err := adapter.Push(context.Background(), e)
	require.NoError(t, err)
	assert.Equal(t, e.ID.String(), res.Ref, "first push names the record after the entity")
	assert.NotEmpty(t, res.Token)

	changes, next, err := adapter.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "tok-1", next)

	got := changes[0]
	assert.Equal(t, res.Ref, got.Ref)
	assert.Equal(t, res.Token, got.Token)
	assert.False(t, got.Deleted)
	assert.Equal(t, "Open day", got.Entity.Title)
	assert.Equal(t, "main hall", got.Entity.Description, "status prefix is stripped on pull")
	assert.Equal(t, event.StatusInProgress, got.Entity.Status)
}

func TestPushIsIdempotent(t *testing.T) {
	fake := newFakeCalendar()
	adapter, _ := newTestAdapter(t, fake.handler())

	e := testEvent()
	first, err := adapter.Push(context.Background(), e)
	require.NoError(t, err)

	ref := first.Ref
	e.CalendarRef = &ref
	second, err := adapter.Push(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, first.Ref, second.Ref, "retried push updates in place")
	assert.Len(t, fake.events, 1)
}

func TestPullFallsBackOnExpiredSyncToken(t *testing.T) {
	fake := newFakeCalendar()
	adapter, _ := newTestAdapter(t, fake.handler())

	e := testEvent()
	_, err := adapter.Push(context.Background(), e)
	require.NoError(t, err)

	changes, next, err := adapter.Pull(context.Background(), "tok-stale")
	require.NoError(t, err, "expired cursor should trigger a full re-read")
	assert.Len(t, changes, 1)
	assert.Equal(t, "tok-1", next)
}

func TestPullMapsCancelledToDelete(t *testing.T) {
	fake := newFakeCalendar()
	fake.events["gone"] = calendarEvent{ID: "gone", Etag: "e1", Status: "cancelled"}
	adapter, _ := newTestAdapter(t, fake.handler())

	changes, _, err := adapter.Pull(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.True(t, changes[0].Deleted)
	assert.Equal(t, "gone", changes[0].Ref)
}

func TestDeleteMissingReportsNotFound(t *testing.T) {
	fake := newFakeCalendar()
	adapter, _ := newTestAdapter(t, fake.handler())

	err := adapter.Delete(context.Background(), "never-existed")
	assert.True(t, errors.Is(err, sync.ErrNotFound))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, sync.ErrAuthExpired},
		{"throttled", http.StatusTooManyRequests, sync.ErrRateLimited},
		{"bad payload", http.StatusUnprocessableEntity, sync.ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			adapter, _ := newTestAdapter(t, handler)

			_, err := adapter.Push(context.Background(), testEvent())
			assert.True(t, errors.Is(err, tt.want), "status %d should map to %v, got %v", tt.status, tt.want, err)
		})
	}
}

func TestClientStopsAtLocalBudget(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(eventsPage{NextSyncToken: "tok-1"})
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	limiter := ratelimit.NewInMemoryStorage()
	t.Cleanup(limiter.Stop)

	creds := credentials.NewManager("calendar", "", "", "")
	client := NewClient(server.URL, "primary", creds, limiter, 2)
	adapter := NewAdapter(client)

	for i := 0; i < 2; i++ {
		_, _, err := adapter.Pull(context.Background(), "")
		require.NoError(t, err)
	}

	_, _, err := adapter.Pull(context.Background(), "")
	require.True(t, errors.Is(err, sync.ErrRateLimited))
	assert.Equal(t, 2, calls, "throttled request never leaves the process")
}

func TestDecodeDescription(t *testing.T) {
	status, desc := decodeDescription("[done] wrap-up notes")
	assert.Equal(t, event.StatusDone, status)
	assert.Equal(t, "wrap-up notes", desc)

	// Hand-edited descriptions without a valid prefix stay intact.
	status, desc = decodeDescription("[urgent] hall B")
	assert.Equal(t, event.StatusPlanned, status)
	assert.Equal(t, "[urgent] hall B", desc)

	status, desc = decodeDescription("plain text")
	assert.Equal(t, event.StatusPlanned, status)
	assert.Equal(t, "plain text", desc)

	assert.True(t, strings.HasPrefix(encodeDescription(event.StatusDone, "x"), "[done] "))
}
