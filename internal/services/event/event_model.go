package event

import (
	"time"

	"github.com/google/uuid"
)

// Status is the operational state of a work-program event. The app is the only
// writer of status; the calendar never carries it natively.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Event is a scheduled work-program event mirrored into the calendar service.
// Version increments on every local mutation; PushedVersion trails it until
// the sync orchestrator confirms an outward push.
type Event struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	Program       string     `json:"program" db:"program"`
	Title         string     `json:"title" db:"title"`
	Description   string     `json:"description" db:"description"`
	StartsAt      time.Time  `json:"starts_at" db:"starts_at"`
	EndsAt        time.Time  `json:"ends_at" db:"ends_at"`
	Status        Status     `json:"status" db:"status"`
	CalendarRef   *string    `json:"calendar_ref,omitempty" db:"calendar_ref"`
	CalendarToken string     `json:"-" db:"calendar_token"`
	Version       int64      `json:"version" db:"version"`
	PushedVersion int64      `json:"-" db:"pushed_version"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

func (e *Event) SyncableID() uuid.UUID        { return e.ID }
func (e *Event) SyncableVersion() int64       { return e.Version }
func (e *Event) SyncablePushedVersion() int64 { return e.PushedVersion }
func (e *Event) SyncableToken() string        { return e.CalendarToken }
func (e *Event) SyncableDeleted() bool        { return e.DeletedAt != nil }

func (e *Event) SyncableRef() string {
	if e.CalendarRef == nil {
		return ""
	}
	return *e.CalendarRef
}

// CreateEventRequest captures payload for creating an event
type CreateEventRequest struct {
	Program     string    `json:"program"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

// UpdateEventRequest captures payload for updating an event. ExpectedVersion
// is the version the caller last read; a mismatch fails with a stale write.
type UpdateEventRequest struct {
	Program         *string    `json:"program,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Description     *string    `json:"description,omitempty"`
	StartsAt        *time.Time `json:"starts_at,omitempty"`
	EndsAt          *time.Time `json:"ends_at,omitempty"`
	Status          *Status    `json:"status,omitempty"`
	ExpectedVersion int64      `json:"expected_version"`
}
