package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClosureStatus is the persisted lifecycle label of a closure request.
type ClosureStatus string

const (
	ClosureStatusPending   ClosureStatus = "Pending"
	ClosureStatusApproved  ClosureStatus = "Approved"
	ClosureStatusCompleted ClosureStatus = "Completed"
	ClosureStatusRejected  ClosureStatus = "Rejected"
)

// ClosureStage is the display label derived from ClosureStatus.
type ClosureStage string

const (
	ClosureStageRequest   ClosureStage = "request"
	ClosureStageCountdown ClosureStage = "countdown"
	ClosureStageCompleted ClosureStage = "completed"
	ClosureStageRejected  ClosureStage = "rejected"
)

// WaitingPeriod is the mandatory interval between approval and fund transfer.
const WaitingPeriod = 90 * 24 * time.Hour

// RequestDateLayout formats the date-only request date.
const RequestDateLayout = "2006-01-02"

// ClosureState is the single source of truth for where a request is in its lifecycle.
// Implementations are ClosurePending, ClosureApproved, ClosureCompleted and ClosureRejected.
type ClosureState interface {
	Status() ClosureStatus
	closureState()
}

// ClosurePending awaits a governor decision.
type ClosurePending struct{}

// ClosureApproved is counting down to fund transfer.
type ClosureApproved struct {
	ApprovedBy string
	ApprovedAt time.Time
}

// ClosureCompleted has transferred funds and closed the account.
type ClosureCompleted struct {
	ApprovedBy  string
	ApprovedAt  time.Time
	CompletedAt time.Time
}

// ClosureRejected was turned down by a governor.
type ClosureRejected struct {
	RejectedBy string
	RejectedAt time.Time
	Reason     string
}

func (ClosurePending) Status() ClosureStatus   { return ClosureStatusPending }
func (ClosureApproved) Status() ClosureStatus  { return ClosureStatusApproved }
func (ClosureCompleted) Status() ClosureStatus { return ClosureStatusCompleted }
func (ClosureRejected) Status() ClosureStatus  { return ClosureStatusRejected }

func (ClosurePending) closureState()   {}
func (ClosureApproved) closureState()  {}
func (ClosureCompleted) closureState() {}
func (ClosureRejected) closureState()  {}

// StageFor maps a status to its stage label.
func StageFor(status ClosureStatus) ClosureStage {
	switch status {
	case ClosureStatusApproved:
		return ClosureStageCountdown
	case ClosureStatusCompleted:
		return ClosureStageCompleted
	case ClosureStatusRejected:
		return ClosureStageRejected
	default:
		return ClosureStageRequest
	}
}

// ClosureRequest records the intent to permanently close an investor account.
type ClosureRequest struct {
	ID             string
	InvestorID     string
	InvestorName   string
	RequestDate    string
	State          ClosureState
	Reason         string
	RequestedBy    string
	AccountBalance decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Status returns the lifecycle status, Pending when no state is set.
func (r *ClosureRequest) Status() ClosureStatus {
	if r.State == nil {
		return ClosureStatusPending
	}
	return r.State.Status()
}

// Stage returns the display stage derived from the status.
func (r *ClosureRequest) Stage() ClosureStage {
	return StageFor(r.Status())
}

// IsTerminal reports whether no further transition is possible.
func (r *ClosureRequest) IsTerminal() bool {
	switch r.Status() {
	case ClosureStatusCompleted, ClosureStatusRejected:
		return true
	default:
		return false
	}
}

// ApprovalDate is set once the request reached Approved or beyond.
func (r *ClosureRequest) ApprovalDate() *time.Time {
	switch s := r.State.(type) {
	case ClosureApproved:
		return timePtr(s.ApprovedAt)
	case ClosureCompleted:
		return timePtr(s.ApprovedAt)
	}
	return nil
}

// ApprovedBy names the approving governor, empty before approval.
func (r *ClosureRequest) ApprovedBy() string {
	switch s := r.State.(type) {
	case ClosureApproved:
		return s.ApprovedBy
	case ClosureCompleted:
		return s.ApprovedBy
	}
	return ""
}

func (r *ClosureRequest) CompletionDate() *time.Time {
	if s, ok := r.State.(ClosureCompleted); ok {
		return timePtr(s.CompletedAt)
	}
	return nil
}

func (r *ClosureRequest) RejectionDate() *time.Time {
	if s, ok := r.State.(ClosureRejected); ok {
		return timePtr(s.RejectedAt)
	}
	return nil
}

func (r *ClosureRequest) RejectionReason() *string {
	if s, ok := r.State.(ClosureRejected); ok {
		reason := s.Reason
		return &reason
	}
	return nil
}

func (r *ClosureRequest) RejectedBy() string {
	if s, ok := r.State.(ClosureRejected); ok {
		return s.RejectedBy
	}
	return ""
}

// EstimatedCompletionDate is the approval date plus the waiting period.
func (r *ClosureRequest) EstimatedCompletionDate() *time.Time {
	approved := r.ApprovalDate()
	if approved == nil {
		return nil
	}
	return timePtr(approved.Add(WaitingPeriod))
}

func timePtr(t time.Time) *time.Time {
	return &t
}
