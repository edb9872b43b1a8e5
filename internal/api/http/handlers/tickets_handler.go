package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/api/dto"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/live"
	"github.com/spec-kit/account-workflows/internal/service"
	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

// TicketsHandler serves support ticket endpoints.
type TicketsHandler struct {
	service *service.TicketService
	live    *live.TicketQuery
	streams context.Context
	logger  *zap.Logger
}

// NewTicketsHandler constructs handler. Event streams end when streams is cancelled.
func NewTicketsHandler(streams context.Context, ticketService *service.TicketService, query *live.TicketQuery, logger *zap.Logger) *TicketsHandler {
	return &TicketsHandler{service: ticketService, live: query, streams: streams, logger: logger}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), principal, service.TicketCreateInput{
		InvestorID:   req.InvestorID,
		InvestorName: req.InvestorName,
		TicketType:   req.TicketType,
		Priority:     req.Priority,
		Subject:      req.Subject,
		Description:  req.Description,
		Tags:         req.Tags,
		Attachments:  req.Attachments,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketDetailResponse(ticket, principal)})
}

// ListTickets GET /tickets.
func (h *TicketsHandler) ListTickets(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	filter, err := parseTicketQuery(c)
	if err != nil {
		return err
	}
	tickets, err := h.service.ListTickets(c.UserContext(), filter)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketListResponse(tickets, principal)})
}

// Stream GET /tickets/stream.
func (h *TicketsHandler) Stream(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	return streamSSE(h.streams, c, h.logger, "tickets", func(ctx context.Context, send func(any)) live.Unsubscribe {
		return h.live.SubscribeToTickets(ctx, func(tickets []domain.SupportTicket) {
			send(dto.NewTicketListResponse(tickets, principal))
		})
	})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	ticket, err := h.service.GetTicket(c.UserContext(), c.Params("id"), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetailResponse(ticket, principal)})
}

// AddResponse POST /tickets/:id/responses.
func (h *TicketsHandler) AddResponse(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AddResponseRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.IsInternal && !principal.IsReviewer() {
		return apperrors.NewForbidden("only governors may add internal notes")
	}
	resp, err := h.service.AddResponse(c.UserContext(), c.Params("id"), principal, req.Content, req.IsInternal)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketMessageResponse(*resp)})
}

// UpdateStatus PATCH /tickets/:id/status.
func (h *TicketsHandler) UpdateStatus(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdateStatusRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.UpdateStatus(c.UserContext(), c.Params("id"), req.Status, principal, req.Resolution)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetailResponse(ticket, principal)})
}

// Assign POST /tickets/:id/assign.
func (h *TicketsHandler) Assign(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.AssignTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.AssignTicket(c.UserContext(), c.Params("id"), service.Assignee{ID: req.AssigneeID, Name: req.AssigneeName}, principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetailResponse(ticket, principal)})
}

// Escalate POST /tickets/:id/escalate.
func (h *TicketsHandler) Escalate(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.EscalateTicketRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.EscalateTicket(c.UserContext(), c.Params("id"), req.Reason, principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetailResponse(ticket, principal)})
}

// UpdatePriority PATCH /tickets/:id/priority.
func (h *TicketsHandler) UpdatePriority(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.UpdatePriorityRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ticket, err := h.service.UpdatePriority(c.UserContext(), c.Params("id"), req.Priority, principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketDetailResponse(ticket, principal)})
}

// AuditTrail GET /tickets/:id/audit.
func (h *TicketsHandler) AuditTrail(c *fiber.Ctx) error {
	actions, err := h.service.GetAuditTrail(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketActionResponses(actions)})
}

// VerifyAuditTrail GET /tickets/:id/audit/verify.
func (h *TicketsHandler) VerifyAuditTrail(c *fiber.Ctx) error {
	result, err := h.service.VerifyAuditTrail(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": result})
}

func parseTicketQuery(c *fiber.Ctx) (service.TicketListFilter, error) {
	var q dto.TicketListQuery
	if err := c.QueryParser(&q); err != nil {
		return service.TicketListFilter{}, apperrors.NewValidationError("invalid query", nil)
	}
	if err := dto.Validate(q); err != nil {
		return service.TicketListFilter{}, err
	}

	filter := service.TicketListFilter{
		EscalatedOnly: q.Escalated,
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
	if q.InvestorID != "" {
		filter.InvestorID = &q.InvestorID
	}
	if q.Status != "" {
		for _, part := range strings.Split(q.Status, ",") {
			status := domain.TicketStatus(strings.TrimSpace(part))
			if !status.Valid() {
				return service.TicketListFilter{}, apperrors.NewValidationError("invalid status filter", map[string]any{"status": part})
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	return filter, nil
}
