package events

import (
	"time"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventClosureRequested EventType = "closure_requested"
	EventClosureApproved  EventType = "closure_approved"
	EventClosureRejected  EventType = "closure_rejected"
	EventClosureCompleted EventType = "closure_completed"

	EventTicketCreated         EventType = "ticket_created"
	EventTicketResponded       EventType = "ticket_responded"
	EventTicketAssigned        EventType = "ticket_assigned"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketEscalated       EventType = "ticket_escalated"
	EventTicketPriorityChanged EventType = "ticket_priority_changed"
)

// Actor identifies who triggered an event. Empty for system actions such as the sweep.
type Actor struct {
	ID   string      `json:"id,omitempty"`
	Name string      `json:"name,omitempty"`
	Role domain.Role `json:"role,omitempty"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	EntityID  string      `json:"entity_id"`
	Actor     Actor       `json:"actor"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// ClosurePayload carries the closure request after the transition.
type ClosurePayload struct {
	InvestorID   string               `json:"investor_id"`
	InvestorName string               `json:"investor_name"`
	RequestedBy  string               `json:"requested_by"`
	Status       domain.ClosureStatus `json:"status"`
	Stage        domain.ClosureStage  `json:"stage"`
	Reason       string               `json:"reason,omitempty"`
	// DaysRemaining is set for approvals.
	DaysRemaining *int `json:"days_remaining,omitempty"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	InvestorName string                `json:"investor_name"`
	SubmittedBy  string                `json:"submitted_by"`
	TicketType   domain.TicketType     `json:"ticket_type"`
	Priority     domain.TicketPriority `json:"priority"`
	Subject      string                `json:"subject"`
}

// TicketRespondedPayload payload.
type TicketRespondedPayload struct {
	ResponseID    string      `json:"response_id"`
	ResponderRole domain.Role `json:"responder_role"`
	IsInternal    bool        `json:"is_internal"`
	SubmittedBy   string      `json:"submitted_by"`
	AssignedTo    *string     `json:"assigned_to,omitempty"`
	Subject       string      `json:"subject"`
	BodyPreview   string      `json:"body_preview"`
}

// TicketAssignedPayload payload.
type TicketAssignedPayload struct {
	AssigneeID   string `json:"assignee_id"`
	AssigneeName string `json:"assignee_name"`
	Subject      string `json:"subject"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus   domain.TicketStatus `json:"old_status"`
	NewStatus   domain.TicketStatus `json:"new_status"`
	SubmittedBy string              `json:"submitted_by"`
	Subject     string              `json:"subject"`
	Resolution  string              `json:"resolution,omitempty"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	Reason       string `json:"reason"`
	InvestorName string `json:"investor_name"`
	Subject      string `json:"subject"`
}

// TicketPriorityChangedPayload payload.
type TicketPriorityChangedPayload struct {
	OldPriority domain.TicketPriority `json:"old_priority"`
	NewPriority domain.TicketPriority `json:"new_priority"`
}
