package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/events"
	"github.com/spec-kit/account-workflows/internal/observability"
	"github.com/spec-kit/account-workflows/internal/repository"
	"github.com/spec-kit/account-workflows/internal/timemath"
	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

// TicketService coordinates ticket workflows. Every mutation writes the
// ticket and its audit entry in one transaction.
type TicketService struct {
	tickets repository.TicketRepository
	actions repository.TicketActionRepository
	staff   repository.StaffDirectory
	tx      repository.TxManager
	clock   timemath.Clock
	metrics *observability.Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
	publisher
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo repository.TicketRepository
	ActionRepo repository.TicketActionRepository
	StaffRepo  repository.StaffDirectory
	Tx         repository.TxManager
	Dispatcher events.Dispatcher
	Feed       changefeed.Feed
	Clock      timemath.Clock
	Metrics    *observability.Metrics
	Tracer     trace.Tracer
	Logger     *zap.Logger
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	InvestorID   string
	InvestorName string
	TicketType   domain.TicketType
	Priority     domain.TicketPriority
	Subject      string
	Description  string
	Tags         []string
	Attachments  []string
}

// Assignee identifies the staff member a ticket is assigned to. Name is
// looked up in the staff directory when empty.
type Assignee struct {
	ID   string
	Name string
}

// TicketListFilter describes listing filters.
type TicketListFilter struct {
	InvestorID    *string
	Statuses      []domain.TicketStatus
	EscalatedOnly bool
	Limit         int
	Offset        int
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	clock := deps.Clock
	if clock == nil {
		clock = timemath.SystemClock{}
	}
	logger := defaultLogger(deps.Logger)
	return &TicketService{
		tickets:   deps.TicketRepo,
		actions:   deps.ActionRepo,
		staff:     deps.StaffRepo,
		tx:        deps.Tx,
		clock:     clock,
		metrics:   deps.Metrics,
		tracer:    defaultTracer(deps.Tracer),
		logger:    logger,
		publisher: publisher{dispatcher: deps.Dispatcher, feed: deps.Feed, logger: logger},
	}
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:            {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusInProgress:      {domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusResolved:        {domain.TicketStatusClosed},
	domain.TicketStatusClosed:          {},
	domain.TicketStatusPendingApproval: {},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// CreateTicket opens a ticket on behalf of submitter.
func (s *TicketService) CreateTicket(ctx context.Context, submitter domain.Principal, input TicketCreateInput) (_ *domain.SupportTicket, err error) {
	ctx, span := s.tracer.Start(ctx, "ticket.create")
	defer func() { endSpan(span, err) }()

	for _, f := range [][2]string{
		{"investorId", input.InvestorID},
		{"subject", input.Subject},
		{"description", input.Description},
	} {
		if err := required(f[0], f[1]); err != nil {
			return nil, err
		}
	}
	if !input.TicketType.Valid() {
		return nil, apperrors.NewValidationError("invalid ticket type", map[string]any{"ticketType": input.TicketType})
	}
	if input.Priority == "" {
		input.Priority = domain.TicketPriorityMedium
	}
	if !input.Priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": input.Priority})
	}

	now := s.now()
	ticket := &domain.SupportTicket{
		ID:              uuid.NewString(),
		InvestorID:      input.InvestorID,
		InvestorName:    strings.TrimSpace(input.InvestorName),
		SubmittedBy:     submitter.ID,
		SubmittedByName: submitter.Name,
		TicketType:      input.TicketType,
		Priority:        input.Priority,
		Subject:         strings.TrimSpace(input.Subject),
		Description:     strings.TrimSpace(input.Description),
		Status:          domain.TicketStatusOpen,
		Responses:       []domain.TicketResponse{},
		Tags:            append([]string{}, input.Tags...),
		Attachments:     append([]string{}, input.Attachments...),
		LastActivity:    now,
		CreatedAt:       now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.tickets.Create(ctx, ticket); err != nil {
			return translate("create ticket", "ticket", ticket.ID, err)
		}
		return s.appendAction(ctx, ticket.ID, domain.ActionCreated, submitter, now, map[string]any{
			"ticketType": string(ticket.TicketType),
			"priority":   string(ticket.Priority),
			"subject":    ticket.Subject,
		})
	})
	if err != nil {
		return nil, translate("create ticket", "ticket", ticket.ID, err)
	}

	s.metrics.RecordTransition("ticket", "create")
	s.announce(ctx, events.EventTicketCreated, ticket, submitter, events.TicketCreatedPayload{
		InvestorName: ticket.InvestorName,
		SubmittedBy:  ticket.SubmittedBy,
		TicketType:   ticket.TicketType,
		Priority:     ticket.Priority,
		Subject:      ticket.Subject,
	})
	return ticket, nil
}

// AddResponse appends a response to the thread. A response from the
// reviewing role moves an open ticket to in_progress.
func (s *TicketService) AddResponse(ctx context.Context, ticketID string, responder domain.Principal, content string, isInternal bool) (*domain.TicketResponse, error) {
	if err := required("content", content); err != nil {
		return nil, err
	}

	var resp domain.TicketResponse
	ticket, err := s.mutate(ctx, "respond", ticketID, responder, func(ticket *domain.SupportTicket, at time.Time) (repository.TicketPatch, domain.TicketActionType, map[string]any, error) {
		resp = domain.TicketResponse{
			ID:            uuid.NewString(),
			ResponderID:   responder.ID,
			ResponderName: responder.Name,
			ResponderRole: responder.Role,
			Content:       strings.TrimSpace(content),
			Timestamp:     at,
			IsInternal:    isInternal,
		}
		patch := repository.TicketPatch{LastActivity: at}
		details := map[string]any{"responseId": resp.ID, "isInternal": isInternal}
		if responder.IsReviewer() && ticket.Status == domain.TicketStatusOpen {
			status := domain.TicketStatusInProgress
			patch.Status = &status
			details["fromStatus"] = string(domain.TicketStatusOpen)
			details["toStatus"] = string(status)
		}
		return patch, domain.ActionResponded, details, nil
	}, func(ctx context.Context, id string, patch repository.TicketPatch) error {
		return s.tickets.AppendResponse(ctx, id, resp, patch)
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, events.EventTicketResponded, ticket, responder, events.TicketRespondedPayload{
		ResponseID:    resp.ID,
		ResponderRole: resp.ResponderRole,
		IsInternal:    resp.IsInternal,
		SubmittedBy:   ticket.SubmittedBy,
		AssignedTo:    ticket.AssignedTo,
		Subject:       ticket.Subject,
		BodyPreview:   stringPreview(resp.Content, 120),
	})
	return &resp, nil
}

// UpdateStatus moves a ticket along the status table. Resolving requires
// resolution text; closing a resolved ticket clears its resolved markers but
// keeps the resolution.
func (s *TicketService) UpdateStatus(ctx context.Context, ticketID string, newStatus domain.TicketStatus, actor domain.Principal, resolution string) (*domain.SupportTicket, error) {
	switch newStatus {
	case domain.TicketStatusInProgress, domain.TicketStatusClosed:
	case domain.TicketStatusResolved:
		if err := required("resolution", resolution); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.NewValidationError("status must be in_progress, resolved or closed", map[string]any{"status": newStatus})
	}

	var oldStatus domain.TicketStatus
	ticket, err := s.mutate(ctx, "status", ticketID, actor, func(ticket *domain.SupportTicket, at time.Time) (repository.TicketPatch, domain.TicketActionType, map[string]any, error) {
		oldStatus = ticket.Status
		if !isValidTransition(ticket.Status, newStatus) {
			return repository.TicketPatch{}, "", nil, apperrors.NewConflict(
				fmt.Sprintf("ticket cannot move from %s to %s", ticket.Status, newStatus),
				map[string]any{"ticket_id": ticket.ID, "status": ticket.Status, "target": newStatus},
			)
		}
		patch := repository.TicketPatch{Status: &newStatus, LastActivity: at}
		details := map[string]any{"fromStatus": string(oldStatus), "toStatus": string(newStatus)}
		switch newStatus {
		case domain.TicketStatusResolved:
			text := strings.TrimSpace(resolution)
			patch.Resolution = &text
			patch.ResolvedAt = &at
			patch.ResolvedBy = &actor.ID
			details["resolution"] = text
		case domain.TicketStatusClosed:
			patch.ClosedAt = &at
			patch.ClosedBy = &actor.ID
			patch.ClearResolved = true
		}
		return patch, domain.ActionStatusChanged, details, nil
	}, s.tickets.Update)
	if err != nil {
		return nil, err
	}

	payload := events.TicketStatusChangedPayload{
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		SubmittedBy: ticket.SubmittedBy,
		Subject:     ticket.Subject,
	}
	if ticket.Resolution != nil {
		payload.Resolution = *ticket.Resolution
	}
	s.announce(ctx, events.EventTicketStatusChanged, ticket, actor, payload)
	return ticket, nil
}

// AssignTicket hands the ticket to assignee and forces it to in_progress
// regardless of its prior status.
func (s *TicketService) AssignTicket(ctx context.Context, ticketID string, assignee Assignee, assignedBy domain.Principal) (*domain.SupportTicket, error) {
	if err := required("assigneeId", assignee.ID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(assignee.Name) == "" {
		member, err := s.staff.GetByID(ctx, assignee.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewValidationError("unknown assignee", map[string]any{"assigneeId": assignee.ID})
		}
		if err != nil {
			return nil, translate("load staff", "staff member", assignee.ID, err)
		}
		assignee.Name = member.Name
	}

	ticket, err := s.mutate(ctx, "assign", ticketID, assignedBy, func(ticket *domain.SupportTicket, at time.Time) (repository.TicketPatch, domain.TicketActionType, map[string]any, error) {
		status := domain.TicketStatusInProgress
		patch := repository.TicketPatch{
			Status:         &status,
			AssignedTo:     &assignee.ID,
			AssignedToName: &assignee.Name,
			AssignedAt:     &at,
			ClearResolved:  true,
			ClearClosed:    true,
			LastActivity:   at,
		}
		details := map[string]any{
			"assigneeId":   assignee.ID,
			"assigneeName": assignee.Name,
			"fromStatus":   string(ticket.Status),
		}
		if ticket.AssignedTo != nil {
			details["previousAssigneeId"] = *ticket.AssignedTo
		}
		return patch, domain.ActionAssigned, details, nil
	}, s.tickets.Update)
	if err != nil {
		return nil, err
	}

	s.announce(ctx, events.EventTicketAssigned, ticket, assignedBy, events.TicketAssignedPayload{
		AssigneeID:   assignee.ID,
		AssigneeName: assignee.Name,
		Subject:      ticket.Subject,
	})
	return ticket, nil
}

// EscalateTicket flags the ticket and forces urgent priority. Repeating the
// call refreshes the timestamp and reason; the flag is never cleared.
func (s *TicketService) EscalateTicket(ctx context.Context, ticketID, reason string, escalatedBy domain.Principal) (*domain.SupportTicket, error) {
	if err := required("reason", reason); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)

	ticket, err := s.mutate(ctx, "escalate", ticketID, escalatedBy, func(ticket *domain.SupportTicket, at time.Time) (repository.TicketPatch, domain.TicketActionType, map[string]any, error) {
		escalated := true
		urgent := domain.TicketPriorityUrgent
		patch := repository.TicketPatch{
			Escalated:       &escalated,
			EscalatedAt:     &at,
			EscalatedReason: &reason,
			Priority:        &urgent,
			LastActivity:    at,
		}
		return patch, domain.ActionEscalated, map[string]any{
			"reason":       reason,
			"fromPriority": string(ticket.Priority),
		}, nil
	}, s.tickets.Update)
	if err != nil {
		return nil, err
	}

	s.announce(ctx, events.EventTicketEscalated, ticket, escalatedBy, events.TicketEscalatedPayload{
		Reason:       reason,
		InvestorName: ticket.InvestorName,
		Subject:      ticket.Subject,
	})
	return ticket, nil
}

// UpdatePriority changes the ticket priority. Escalated tickets stay urgent.
func (s *TicketService) UpdatePriority(ctx context.Context, ticketID string, priority domain.TicketPriority, actor domain.Principal) (*domain.SupportTicket, error) {
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("invalid priority", map[string]any{"priority": priority})
	}

	var oldPriority domain.TicketPriority
	ticket, err := s.mutate(ctx, "priority", ticketID, actor, func(ticket *domain.SupportTicket, at time.Time) (repository.TicketPatch, domain.TicketActionType, map[string]any, error) {
		oldPriority = ticket.Priority
		if ticket.Escalated && priority != domain.TicketPriorityUrgent {
			return repository.TicketPatch{}, "", nil, apperrors.NewConflict("escalated tickets must stay urgent", map[string]any{"ticket_id": ticket.ID})
		}
		return repository.TicketPatch{Priority: &priority, LastActivity: at}, domain.ActionPriorityChanged, map[string]any{
			"fromPriority": string(oldPriority),
			"toPriority":   string(priority),
		}, nil
	}, s.tickets.Update)
	if err != nil {
		return nil, err
	}

	s.announce(ctx, events.EventTicketPriorityChanged, ticket, actor, events.TicketPriorityChangedPayload{
		OldPriority: oldPriority,
		NewPriority: priority,
	})
	return ticket, nil
}

// ListTickets returns tickets ordered by last activity, most recent first.
func (s *TicketService) ListTickets(ctx context.Context, filter TicketListFilter) ([]domain.SupportTicket, error) {
	tickets, err := s.tickets.List(ctx, repository.TicketFilter{
		InvestorID:    filter.InvestorID,
		Statuses:      filter.Statuses,
		EscalatedOnly: filter.EscalatedOnly,
		Limit:         filter.Limit,
		Offset:        filter.Offset,
	})
	if err != nil {
		return nil, translate("list tickets", "ticket", "*", err)
	}
	if tickets == nil {
		tickets = []domain.SupportTicket{}
	}
	return tickets, nil
}

// GetTicket returns the ticket as viewer may see it.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string, viewer domain.Principal) (*domain.SupportTicket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, translate("load ticket", "ticket", ticketID, err)
	}
	visible := ticket.VisibleTo(viewer)
	return &visible, nil
}

// GetAuditTrail returns the ticket's audit entries in ascending timestamp order.
func (s *TicketService) GetAuditTrail(ctx context.Context, ticketID string) ([]domain.TicketAction, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, translate("load ticket", "ticket", ticketID, err)
	}
	actions, err := s.actions.ListByTicket(ctx, ticketID)
	if err != nil {
		return nil, translate("list ticket actions", "ticket", ticketID, err)
	}
	if actions == nil {
		actions = []domain.TicketAction{}
	}
	return actions, nil
}

// VerifyAuditTrail recomputes the hash chain of a ticket's audit entries.
func (s *TicketService) VerifyAuditTrail(ctx context.Context, ticketID string) (AuditVerification, error) {
	actions, err := s.GetAuditTrail(ctx, ticketID)
	if err != nil {
		return AuditVerification{}, err
	}
	result, err := verifyChain(ticketID, actions)
	if err != nil {
		return AuditVerification{}, apperrors.NewInternalError(err)
	}
	if !result.Valid {
		s.logger.Error("audit chain broken", zap.String("ticket_id", ticketID), zap.Int("index", *result.BrokenAt))
	}
	return result, nil
}

type ticketStep func(ticket *domain.SupportTicket, at time.Time) (repository.TicketPatch, domain.TicketActionType, map[string]any, error)

type ticketWrite func(ctx context.Context, id string, patch repository.TicketPatch) error

// mutate loads the ticket, applies step and writes the patch plus its audit
// entry atomically. It returns the ticket as stored after the write.
func (s *TicketService) mutate(ctx context.Context, name, ticketID string, actor domain.Principal, step ticketStep, write ticketWrite) (_ *domain.SupportTicket, err error) {
	ctx, span := s.tracer.Start(ctx, "ticket."+name, trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer func() { endSpan(span, err) }()

	var updated *domain.SupportTicket
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return translate("load ticket", "ticket", ticketID, err)
		}
		at := s.nextTimestamp(ticket.LastActivity)
		patch, actionType, details, err := step(ticket, at)
		if err != nil {
			return err
		}
		if err := write(ctx, ticketID, patch); err != nil {
			return translate(name+" ticket", "ticket", ticketID, err)
		}
		if err := s.appendAction(ctx, ticketID, actionType, actor, at, details); err != nil {
			return err
		}
		patch.Apply(ticket)
		updated = ticket
		return nil
	})
	if err != nil {
		return nil, translate(name+" ticket", "ticket", ticketID, err)
	}
	s.metrics.RecordTransition("ticket", name)
	return updated, nil
}

func (s *TicketService) appendAction(ctx context.Context, ticketID string, actionType domain.TicketActionType, actor domain.Principal, at time.Time, details map[string]any) error {
	prevHash := ""
	last, err := s.actions.Last(ctx, ticketID)
	switch {
	case err == nil:
		prevHash = last.Hash
	case !errors.Is(err, repository.ErrNotFound):
		return translate("load last ticket action", "ticket action", ticketID, err)
	}

	action := domain.TicketAction{
		ID:              uuid.NewString(),
		TicketID:        ticketID,
		ActionType:      actionType,
		PerformedBy:     actor.ID,
		PerformedByName: actor.Name,
		Timestamp:       at,
		Details:         details,
		PrevHash:        prevHash,
	}
	hash, err := hashAction(prevHash, action)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	action.Hash = hash
	if err := s.actions.Append(ctx, &action); err != nil {
		return translate("append ticket action", "ticket action", action.ID, err)
	}
	return nil
}

func (s *TicketService) announce(ctx context.Context, eventType events.EventType, ticket *domain.SupportTicket, actor domain.Principal, payload interface{}) {
	s.logger.Info("ticket event",
		zap.String("ticket_id", ticket.ID),
		zap.String("event_type", string(eventType)),
		zap.String("status", string(ticket.Status)),
	)
	s.publishEvent(ctx, events.Event{
		Type:      eventType,
		EntityID:  ticket.ID,
		Actor:     principalActor(actor),
		Timestamp: ticket.LastActivity,
		Payload:   payload,
	})
	s.publishChange(ctx, changefeed.Change{
		Collection: changefeed.CollectionTickets,
		DocumentID: ticket.ID,
		Key:        ticket.InvestorID,
	})
}

// now truncates to the microsecond precision timestamps are stored with.
func (s *TicketService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

// nextTimestamp keeps timestamps within one ticket strictly increasing even
// when the clock stalls or steps back.
func (s *TicketService) nextTimestamp(last time.Time) time.Time {
	now := s.now()
	if floor := last.Add(time.Microsecond); now.Before(floor) {
		return floor.UTC()
	}
	return now
}
