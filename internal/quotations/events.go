package quotations

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names a domain event emitted by a committed transition.
type EventType string

const (
	EventCreated          EventType = "quotation.created"
	EventSubmitted        EventType = "quotation.submitted"
	EventApproved         EventType = "quotation.approved"
	EventApprovalRejected EventType = "quotation.approval_rejected"
	EventSent             EventType = "quotation.sent"
	EventViewed           EventType = "quotation.viewed"
	EventAccepted         EventType = "quotation.accepted"
	EventRejected         EventType = "quotation.rejected"
	EventExpired          EventType = "quotation.expired"
	EventArchived         EventType = "quotation.archived"
	EventReopened         EventType = "quotation.reopened"
)

// Event is a domain event describing a committed transition. The service
// returns events to its caller rather than dispatching them itself; the
// caller forwards them to a notification collaborator.
type Event struct {
	ID              uuid.UUID      `json:"id"`
	QuotationID     int64          `json:"quotation_id"`
	RevisionVersion int            `json:"revision_version"`
	ActorID         int64          `json:"actor_id"`
	At              time.Time      `json:"at"`
	Type            EventType      `json:"type"`
	Meta            map[string]any `json:"meta,omitempty"`
}

// Dispatcher forwards domain events to a notification transport.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []Event) error
}

func newEvent(q *Quotation, actorID int64, at time.Time, typ EventType, meta map[string]any) Event {
	return Event{
		ID:              uuid.New(),
		QuotationID:     q.ID,
		RevisionVersion: q.CurrentRevision,
		ActorID:         actorID,
		At:              at,
		Type:            typ,
		Meta:            meta,
	}
}
