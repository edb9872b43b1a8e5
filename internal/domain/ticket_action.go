package domain

import "time"

// TicketActionType captures what an audit entry records.
type TicketActionType string

const (
	ActionCreated         TicketActionType = "created"
	ActionAssigned        TicketActionType = "assigned"
	ActionStatusChanged   TicketActionType = "status_changed"
	ActionPriorityChanged TicketActionType = "priority_changed"
	ActionResponded       TicketActionType = "responded"
	ActionEscalated       TicketActionType = "escalated"
	ActionResolved        TicketActionType = "resolved"
	ActionClosed          TicketActionType = "closed"
)

// TicketAction is an immutable audit trail entry.
// Hash chains each entry to its predecessor for the same ticket.
type TicketAction struct {
	ID              string
	TicketID        string
	ActionType      TicketActionType
	PerformedBy     string
	PerformedByName string
	Timestamp       time.Time
	Details         map[string]any
	PrevHash        string
	Hash            string
}
