package domain

import (
	"time"
)

type EventSource string

const (
	SourceInternal EventSource = "internal"
	SourceCarrier  EventSource = "carrier"
)

type Location struct {
	Name      string   `json:"name,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// StatusEvent is an append-only timeline entry. OccurredAt may be nil for carrier events
// reported without a timestamp.
type StatusEvent struct {
	ID          int64
	OrderID     int64
	Kind        string
	Label       string
	Source      EventSource
	OccurredAt  *time.Time
	Note        string
	Location    *Location
	ExternalKey string
	CreatedAt   time.Time
}

// TrackingEvent is one entry of the carrier's history, already normalized.
type TrackingEvent struct {
	Status     TrackingStatus `json:"status"`
	RawStatus  string         `json:"raw_status"`
	OccurredAt *time.Time     `json:"occurred_at"`
	Note       string         `json:"note,omitempty"`
	Location   *Location      `json:"location,omitempty"`
}

// Key identifies a carrier event across refreshes: provider timestamp plus raw status.
func (e TrackingEvent) Key() string {
	ts := ""
	if e.OccurredAt != nil {
		ts = e.OccurredAt.UTC().Format(time.RFC3339Nano)
	}
	return ts + "|" + e.RawStatus
}

// StatusEvent converts the carrier event into a timeline entry for order orderID.
func (e TrackingEvent) StatusEvent(orderID int64) StatusEvent {
	return StatusEvent{
		OrderID:     orderID,
		Kind:        string(e.Status),
		Label:       e.Status.Label(),
		Source:      SourceCarrier,
		OccurredAt:  e.OccurredAt,
		Note:        e.Note,
		Location:    e.Location,
		ExternalKey: e.Key(),
	}
}

// TransitionEvent builds the internal timeline entry recorded alongside a status change.
func TransitionEvent(orderID int64, status OrderStatus, at time.Time, note string) StatusEvent {
	return StatusEvent{
		OrderID:    orderID,
		Kind:       string(status),
		Label:      status.Label(),
		Source:     SourceInternal,
		OccurredAt: &at,
		Note:       note,
	}
}
