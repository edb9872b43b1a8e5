package dto

import (
	"time"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// CreateTicketRequest payload.
type CreateTicketRequest struct {
	InvestorID   string                `json:"investorId" validate:"required"`
	InvestorName string                `json:"investorName" validate:"max=200"`
	TicketType   domain.TicketType     `json:"ticketType" validate:"required,oneof=suspicious_activity information_modification policy_violation account_issue other"`
	Priority     domain.TicketPriority `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	Subject      string                `json:"subject" validate:"required,max=200"`
	Description  string                `json:"description" validate:"required"`
	Tags         []string              `json:"tags" validate:"max=20,dive,max=50"`
	Attachments  []string              `json:"attachments" validate:"max=20"`
}

// AddResponseRequest payload.
type AddResponseRequest struct {
	Content    string `json:"content" validate:"required"`
	IsInternal bool   `json:"isInternal"`
}

// UpdateStatusRequest payload.
type UpdateStatusRequest struct {
	Status     domain.TicketStatus `json:"status" validate:"required,oneof=in_progress resolved closed"`
	Resolution string              `json:"resolution" validate:"required_if=Status resolved"`
}

// AssignTicketRequest payload.
type AssignTicketRequest struct {
	AssigneeID   string `json:"assigneeId" validate:"required"`
	AssigneeName string `json:"assigneeName"`
}

// EscalateTicketRequest payload.
type EscalateTicketRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// UpdatePriorityRequest payload.
type UpdatePriorityRequest struct {
	Priority domain.TicketPriority `json:"priority" validate:"required,oneof=low medium high urgent"`
}

// TicketListQuery captures listing filters from the query string.
type TicketListQuery struct {
	InvestorID string `query:"investorId"`
	Status     string `query:"status"`
	Escalated  bool   `query:"escalated"`
	Limit      int    `query:"limit" validate:"min=0,max=200"`
	Offset     int    `query:"offset" validate:"min=0"`
}

// TicketDetailResponse provides full ticket info.
type TicketDetailResponse struct {
	ID              string                  `json:"id"`
	InvestorID      string                  `json:"investorId"`
	InvestorName    string                  `json:"investorName"`
	SubmittedBy     string                  `json:"submittedBy"`
	SubmittedByName string                  `json:"submittedByName"`
	TicketType      domain.TicketType       `json:"ticketType"`
	Priority        domain.TicketPriority   `json:"priority"`
	Subject         string                  `json:"subject"`
	Description     string                  `json:"description"`
	Status          domain.TicketStatus     `json:"status"`
	AssignedTo      *string                 `json:"assignedTo"`
	AssignedToName  *string                 `json:"assignedToName"`
	AssignedAt      *time.Time              `json:"assignedAt"`
	Responses       []TicketMessageResponse `json:"responses"`
	Resolution      *string                 `json:"resolution"`
	ResolvedAt      *time.Time              `json:"resolvedAt"`
	ResolvedBy      *string                 `json:"resolvedBy"`
	ClosedAt        *time.Time              `json:"closedAt"`
	ClosedBy        *string                 `json:"closedBy"`
	Tags            []string                `json:"tags"`
	Attachments     []string                `json:"attachments"`
	LastActivity    time.Time               `json:"lastActivity"`
	Escalated       bool                    `json:"escalated"`
	EscalatedAt     *time.Time              `json:"escalatedAt"`
	EscalatedReason *string                 `json:"escalatedReason"`
	CreatedAt       time.Time               `json:"createdAt"`
}

// TicketMessageResponse represents one thread entry.
type TicketMessageResponse struct {
	ID            string      `json:"id"`
	ResponderID   string      `json:"responderId"`
	ResponderName string      `json:"responderName"`
	ResponderRole domain.Role `json:"responderRole"`
	Content       string      `json:"content"`
	Timestamp     time.Time   `json:"timestamp"`
	IsInternal    bool        `json:"isInternal"`
}

// TicketActionResponse represents one audit entry.
type TicketActionResponse struct {
	ID              string                  `json:"id"`
	TicketID        string                  `json:"ticketId"`
	ActionType      domain.TicketActionType `json:"actionType"`
	PerformedBy     string                  `json:"performedBy"`
	PerformedByName string                  `json:"performedByName"`
	Timestamp       time.Time               `json:"timestamp"`
	Details         map[string]any          `json:"details"`
	Hash            string                  `json:"hash"`
}

// NewTicketDetailResponse maps a ticket as viewer may see it.
func NewTicketDetailResponse(ticket *domain.SupportTicket, viewer domain.Principal) TicketDetailResponse {
	visible := ticket.VisibleTo(viewer)
	t := &visible
	responses := make([]TicketMessageResponse, 0, len(t.Responses))
	for _, resp := range t.Responses {
		responses = append(responses, NewTicketMessageResponse(resp))
	}
	return TicketDetailResponse{
		ID:              t.ID,
		InvestorID:      t.InvestorID,
		InvestorName:    t.InvestorName,
		SubmittedBy:     t.SubmittedBy,
		SubmittedByName: t.SubmittedByName,
		TicketType:      t.TicketType,
		Priority:        t.Priority,
		Subject:         t.Subject,
		Description:     t.Description,
		Status:          t.Status,
		AssignedTo:      t.AssignedTo,
		AssignedToName:  t.AssignedToName,
		AssignedAt:      t.AssignedAt,
		Responses:       responses,
		Resolution:      t.Resolution,
		ResolvedAt:      t.ResolvedAt,
		ResolvedBy:      t.ResolvedBy,
		ClosedAt:        t.ClosedAt,
		ClosedBy:        t.ClosedBy,
		Tags:            nonNil(t.Tags),
		Attachments:     nonNil(t.Attachments),
		LastActivity:    t.LastActivity,
		Escalated:       t.Escalated,
		EscalatedAt:     t.EscalatedAt,
		EscalatedReason: t.EscalatedReason,
		CreatedAt:       t.CreatedAt,
	}
}

// NewTicketListResponse maps tickets as viewer may see them.
func NewTicketListResponse(tickets []domain.SupportTicket, viewer domain.Principal) []TicketDetailResponse {
	items := make([]TicketDetailResponse, 0, len(tickets))
	for i := range tickets {
		items = append(items, NewTicketDetailResponse(&tickets[i], viewer))
	}
	return items
}

// NewTicketMessageResponse maps a thread entry.
func NewTicketMessageResponse(resp domain.TicketResponse) TicketMessageResponse {
	return TicketMessageResponse{
		ID:            resp.ID,
		ResponderID:   resp.ResponderID,
		ResponderName: resp.ResponderName,
		ResponderRole: resp.ResponderRole,
		Content:       resp.Content,
		Timestamp:     resp.Timestamp,
		IsInternal:    resp.IsInternal,
	}
}

// NewTicketActionResponses maps audit entries.
func NewTicketActionResponses(actions []domain.TicketAction) []TicketActionResponse {
	items := make([]TicketActionResponse, 0, len(actions))
	for _, action := range actions {
		details := action.Details
		if details == nil {
			details = map[string]any{}
		}
		items = append(items, TicketActionResponse{
			ID:              action.ID,
			TicketID:        action.TicketID,
			ActionType:      action.ActionType,
			PerformedBy:     action.PerformedBy,
			PerformedByName: action.PerformedByName,
			Timestamp:       action.Timestamp,
			Details:         details,
			Hash:            action.Hash,
		})
	}
	return items
}
