package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/api/dto"
	"github.com/spec-kit/account-workflows/internal/live"
	"github.com/spec-kit/account-workflows/internal/service"
)

// Sweeper runs the closure sweep on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context) (service.SweepResult, bool, error)
}

// ClosureHandler serves account closure endpoints.
type ClosureHandler struct {
	service *service.ClosureService
	live    *live.ClosureQuery
	sweeper Sweeper
	streams context.Context
	logger  *zap.Logger
}

// NewClosureHandler constructs handler. Event streams end when streams is cancelled.
func NewClosureHandler(streams context.Context, closureService *service.ClosureService, query *live.ClosureQuery, sweeper Sweeper, logger *zap.Logger) *ClosureHandler {
	return &ClosureHandler{service: closureService, live: query, sweeper: sweeper, streams: streams, logger: logger}
}

// Create POST /closures.
func (h *ClosureHandler) Create(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateClosureRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	created, err := h.service.CreateClosureRequest(c.UserContext(), service.ClosureCreateInput{
		InvestorID:     req.InvestorID,
		InvestorName:   req.InvestorName,
		Reason:         req.Reason,
		RequestedBy:    principal.ID,
		AccountBalance: req.AccountBalance,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewClosureResponse(created)})
}

// Current GET /investors/:id/closure.
func (h *ClosureHandler) Current(c *fiber.Ctx) error {
	view, err := h.service.GetCurrentView(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewClosureViewResponse(view)})
}

// Stream GET /investors/:id/closure/stream.
func (h *ClosureHandler) Stream(c *fiber.Ctx) error {
	investorID := c.Params("id")
	return streamSSE(h.streams, c, h.logger, "closure", func(ctx context.Context, send func(any)) live.Unsubscribe {
		return h.live.SubscribeToCurrentRequest(ctx, investorID, func(view *service.ClosureView) {
			send(dto.NewClosureViewResponse(view))
		})
	})
}

// Standing GET /investors/:id/standing.
func (h *ClosureHandler) Standing(c *fiber.Ctx) error {
	standing, err := h.service.InvestorStanding(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStandingResponse(standing)})
}

// Approve POST /closures/:id/approve.
func (h *ClosureHandler) Approve(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	approved, err := h.service.ApproveClosureRequest(c.UserContext(), c.Params("id"), principal)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewClosureResponse(approved)})
}

// Reject POST /closures/:id/reject.
func (h *ClosureHandler) Reject(c *fiber.Ctx) error {
	principal, err := currentPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.RejectClosureRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	rejected, err := h.service.RejectClosureRequest(c.UserContext(), c.Params("id"), principal, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewClosureResponse(rejected)})
}

// Sweep POST /closures/sweep.
func (h *ClosureHandler) Sweep(c *fiber.Ctx) error {
	result, ran, err := h.sweeper.SweepOnce(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSweepResponse(result, ran)})
}
