package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	// TicketStatusPendingApproval is reserved; no operation moves a ticket into or out of it.
	TicketStatusPendingApproval TicketStatus = "pending_approval"
	TicketStatusResolved        TicketStatus = "resolved"
	TicketStatusClosed          TicketStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusPendingApproval, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// TicketPriority enumerates review urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityUrgent TicketPriority = "urgent"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityUrgent:
		return true
	}
	return false
}

// TicketType classifies the case.
type TicketType string

const (
	TicketTypeSuspiciousActivity      TicketType = "suspicious_activity"
	TicketTypeInformationModification TicketType = "information_modification"
	TicketTypePolicyViolation         TicketType = "policy_violation"
	TicketTypeAccountIssue            TicketType = "account_issue"
	TicketTypeOther                   TicketType = "other"
)

func (t TicketType) Valid() bool {
	switch t {
	case TicketTypeSuspiciousActivity, TicketTypeInformationModification, TicketTypePolicyViolation, TicketTypeAccountIssue, TicketTypeOther:
		return true
	}
	return false
}

// SupportTicket is the aggregate for support and compliance cases.
type SupportTicket struct {
	ID              string
	InvestorID      string
	InvestorName    string
	SubmittedBy     string
	SubmittedByName string
	TicketType      TicketType
	Priority        TicketPriority
	Subject         string
	Description     string
	Status          TicketStatus
	AssignedTo      *string
	AssignedToName  *string
	AssignedAt      *time.Time
	Responses       []TicketResponse
	Resolution      *string
	ResolvedAt      *time.Time
	ResolvedBy      *string
	ClosedAt        *time.Time
	ClosedBy        *string
	Tags            []string
	Attachments     []string
	LastActivity    time.Time
	Escalated       bool
	EscalatedAt     *time.Time
	EscalatedReason *string
	CreatedAt       time.Time
}

// VisibleTo returns a copy of the ticket with responses filtered for viewer.
// Internal responses are only shown to the reviewing role.
func (t SupportTicket) VisibleTo(viewer Principal) SupportTicket {
	if viewer.IsReviewer() {
		return t
	}
	visible := make([]TicketResponse, 0, len(t.Responses))
	for _, resp := range t.Responses {
		if resp.IsInternal {
			continue
		}
		visible = append(visible, resp)
	}
	t.Responses = visible
	return t
}
