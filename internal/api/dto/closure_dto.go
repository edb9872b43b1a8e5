package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/service"
	"github.com/spec-kit/account-workflows/internal/timemath"
)

// CreateClosureRequest payload.
type CreateClosureRequest struct {
	InvestorID     string          `json:"investorId" validate:"required"`
	InvestorName   string          `json:"investorName" validate:"max=200"`
	Reason         string          `json:"reason" validate:"required,max=2000"`
	AccountBalance decimal.Decimal `json:"accountBalance"`
}

// RejectClosureRequest payload.
type RejectClosureRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// ClosureResponse is the wire form of a closure request.
type ClosureResponse struct {
	ID                      string               `json:"id"`
	InvestorID              string               `json:"investorId"`
	InvestorName            string               `json:"investorName"`
	RequestDate             string               `json:"requestDate"`
	Status                  domain.ClosureStatus `json:"status"`
	Stage                   domain.ClosureStage  `json:"stage"`
	Reason                  string               `json:"reason"`
	RequestedBy             string               `json:"requestedBy"`
	AccountBalance          decimal.Decimal      `json:"accountBalance"`
	ApprovalDate            *time.Time           `json:"approvalDate,omitempty"`
	ApprovedBy              string               `json:"approvedBy,omitempty"`
	CompletionDate          *time.Time           `json:"completionDate,omitempty"`
	RejectionDate           *time.Time           `json:"rejectionDate,omitempty"`
	RejectionReason         *string              `json:"rejectionReason,omitempty"`
	RejectedBy              string               `json:"rejectedBy,omitempty"`
	EstimatedCompletionDate *time.Time           `json:"estimatedCompletionDate,omitempty"`
	CreatedAt               time.Time            `json:"createdAt"`
	UpdatedAt               time.Time            `json:"updatedAt"`
	Countdown               *CountdownResponse   `json:"countdown,omitempty"`
	Standing                *StandingResponse    `json:"standing,omitempty"`
}

// CountdownResponse carries display state derived at read time.
type CountdownResponse struct {
	Progress            float64    `json:"progress"`
	DaysRemaining       int        `json:"daysRemaining"`
	Overdue             bool       `json:"overdue"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
}

// StandingResponse is the advisory account status of an investor.
type StandingResponse struct {
	InvestorID string `json:"investorId"`
	Active     bool   `json:"active"`
	Closed     bool   `json:"closed"`
	Label      string `json:"label"`
}

// SweepResponse summarizes a manual sweep.
type SweepResponse struct {
	Ran       bool     `json:"ran"`
	Examined  int      `json:"examined"`
	Completed []string `json:"completed"`
	Failed    []string `json:"failed"`
}

// NewClosureResponse maps a request without derived display state.
func NewClosureResponse(req *domain.ClosureRequest) ClosureResponse {
	return ClosureResponse{
		ID:                      req.ID,
		InvestorID:              req.InvestorID,
		InvestorName:            req.InvestorName,
		RequestDate:             req.RequestDate,
		Status:                  req.Status(),
		Stage:                   req.Stage(),
		Reason:                  req.Reason,
		RequestedBy:             req.RequestedBy,
		AccountBalance:          req.AccountBalance,
		ApprovalDate:            req.ApprovalDate(),
		ApprovedBy:              req.ApprovedBy(),
		CompletionDate:          req.CompletionDate(),
		RejectionDate:           req.RejectionDate(),
		RejectionReason:         req.RejectionReason(),
		RejectedBy:              req.RejectedBy(),
		EstimatedCompletionDate: req.EstimatedCompletionDate(),
		CreatedAt:               req.CreatedAt,
		UpdatedAt:               req.UpdatedAt,
	}
}

// NewClosureViewResponse maps a decorated request. A nil view maps to nil.
func NewClosureViewResponse(view *service.ClosureView) *ClosureResponse {
	if view == nil || view.Request == nil {
		return nil
	}
	resp := NewClosureResponse(view.Request)
	resp.Countdown = newCountdownResponse(view.Countdown)
	standing := NewStandingResponse(view.Standing)
	resp.Standing = &standing
	return &resp
}

func newCountdownResponse(c timemath.CountdownView) *CountdownResponse {
	return &CountdownResponse{
		Progress:            c.Progress,
		DaysRemaining:       c.DaysRemaining,
		Overdue:             c.Overdue,
		EstimatedCompletion: c.EstimatedCompletion,
	}
}

// NewStandingResponse maps an investor standing.
func NewStandingResponse(s domain.InvestorStanding) StandingResponse {
	return StandingResponse{InvestorID: s.InvestorID, Active: s.Active, Closed: s.Closed, Label: s.Label}
}

// NewSweepResponse maps a sweep result.
func NewSweepResponse(result service.SweepResult, ran bool) SweepResponse {
	return SweepResponse{
		Ran:       ran,
		Examined:  result.Examined,
		Completed: nonNil(result.Completed),
		Failed:    nonNil(result.Failed),
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
