package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
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

// Standing labels shown for an investor account.
const (
	StandingActive         = "Active"
	StandingAwaitingReview = "Closure requested - awaiting review"
	StandingTransferDue    = "Closing - transfer due"
	StandingClosed         = "Account closed"
)

// ClosureService owns the account closure lifecycle.
type ClosureService struct {
	closures  repository.ClosureRepository
	investors repository.InvestorRepository
	tx        repository.TxManager
	clock     timemath.Clock
	metrics   *observability.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	publisher
}

// ClosureDependencies bundles collaborators for the closure service.
type ClosureDependencies struct {
	ClosureRepo  repository.ClosureRepository
	InvestorRepo repository.InvestorRepository
	Tx           repository.TxManager
	Dispatcher   events.Dispatcher
	Feed         changefeed.Feed
	Clock        timemath.Clock
	Metrics      *observability.Metrics
	Tracer       trace.Tracer
	Logger       *zap.Logger
}

// ClosureCreateInput describes a new closure request.
type ClosureCreateInput struct {
	InvestorID     string
	InvestorName   string
	Reason         string
	RequestedBy    string
	AccountBalance decimal.Decimal
}

// ClosureView is a closure request decorated with display state derived at read time.
type ClosureView struct {
	Request   *domain.ClosureRequest
	Countdown timemath.CountdownView
	Standing  domain.InvestorStanding
}

// SweepResult summarizes one pass over approved requests.
type SweepResult struct {
	Examined  int
	Completed []string
	Failed    []string
}

// NewClosureService constructs the service.
func NewClosureService(deps ClosureDependencies) *ClosureService {
	clock := deps.Clock
	if clock == nil {
		clock = timemath.SystemClock{}
	}
	logger := defaultLogger(deps.Logger)
	return &ClosureService{
		closures:  deps.ClosureRepo,
		investors: deps.InvestorRepo,
		tx:        deps.Tx,
		clock:     clock,
		metrics:   deps.Metrics,
		tracer:    defaultTracer(deps.Tracer),
		logger:    logger,
		publisher: publisher{dispatcher: deps.Dispatcher, feed: deps.Feed, logger: logger},
	}
}

// CreateClosureRequest opens a Pending request for an investor with no open request.
func (s *ClosureService) CreateClosureRequest(ctx context.Context, input ClosureCreateInput) (_ *domain.ClosureRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "closure.create", trace.WithAttributes(attribute.String("investor.id", input.InvestorID)))
	defer func() { endSpan(span, err) }()

	if err := required("investorId", input.InvestorID); err != nil {
		return nil, err
	}
	if err := required("reason", input.Reason); err != nil {
		return nil, err
	}
	if err := required("requestedBy", input.RequestedBy); err != nil {
		return nil, err
	}
	if input.AccountBalance.IsNegative() {
		return nil, apperrors.NewValidationError("account balance must not be negative", map[string]any{"field": "accountBalance"})
	}

	now := s.now()
	req := &domain.ClosureRequest{
		ID:             uuid.NewString(),
		InvestorID:     input.InvestorID,
		InvestorName:   strings.TrimSpace(input.InvestorName),
		RequestDate:    now.Format(domain.RequestDateLayout),
		State:          domain.ClosurePending{},
		Reason:         strings.TrimSpace(input.Reason),
		RequestedBy:    input.RequestedBy,
		AccountBalance: input.AccountBalance,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		investor, err := s.investors.GetByID(ctx, input.InvestorID)
		if err != nil {
			return translate("load investor", "investor", input.InvestorID, err)
		}
		if investor.ClosedAt != nil {
			return apperrors.NewConflict("investor account is already closed", map[string]any{"investor_id": investor.ID})
		}
		if req.InvestorName == "" {
			req.InvestorName = investor.Name
		}

		current, err := s.closures.CurrentForInvestor(ctx, input.InvestorID)
		switch {
		case err == nil && !current.IsTerminal():
			return apperrors.NewConflict("investor already has an open closure request", map[string]any{
				"investor_id": input.InvestorID,
				"request_id":  current.ID,
				"status":      current.Status(),
			})
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return translate("load current closure", "closure request", input.InvestorID, err)
		}
		return translate("create closure", "closure request", req.ID, s.closures.Create(ctx, req))
	})
	if err != nil {
		return nil, translate("create closure", "closure request", req.ID, err)
	}

	s.metrics.RecordTransition("closure", "request")
	s.logger.Info("closure requested", zap.String("request_id", req.ID), zap.String("investor_id", req.InvestorID))
	s.announce(ctx, events.EventClosureRequested, req, events.Actor{ID: req.RequestedBy})
	return req, nil
}

// ApproveClosureRequest starts the waiting period for a Pending request.
func (s *ClosureService) ApproveClosureRequest(ctx context.Context, requestID string, approver domain.Principal) (*domain.ClosureRequest, error) {
	return s.transition(ctx, "approve", requestID, approver, func(req *domain.ClosureRequest, now time.Time) (domain.ClosureState, error) {
		if req.Status() != domain.ClosureStatusPending {
			return nil, invalidClosureTransition(req, domain.ClosureStatusApproved)
		}
		return domain.ClosureApproved{ApprovedBy: approver.ID, ApprovedAt: now}, nil
	})
}

// RejectClosureRequest turns down a Pending request. The investor's standing
// returns to active because standing is derived from the request.
func (s *ClosureService) RejectClosureRequest(ctx context.Context, requestID string, rejector domain.Principal, reason string) (*domain.ClosureRequest, error) {
	if err := required("reason", reason); err != nil {
		return nil, err
	}
	return s.transition(ctx, "reject", requestID, rejector, func(req *domain.ClosureRequest, now time.Time) (domain.ClosureState, error) {
		if req.Status() != domain.ClosureStatusPending {
			return nil, invalidClosureTransition(req, domain.ClosureStatusRejected)
		}
		return domain.ClosureRejected{RejectedBy: rejector.ID, RejectedAt: now, Reason: strings.TrimSpace(reason)}, nil
	})
}

// CompleteClosureRequest finalizes an Approved request and closes the
// investor account. The waiting period is not checked here; the sweep only
// calls it for overdue requests.
func (s *ClosureService) CompleteClosureRequest(ctx context.Context, requestID string) (*domain.ClosureRequest, error) {
	return s.transition(ctx, "complete", requestID, domain.Principal{}, func(req *domain.ClosureRequest, now time.Time) (domain.ClosureState, error) {
		approved, ok := req.State.(domain.ClosureApproved)
		if !ok {
			return nil, invalidClosureTransition(req, domain.ClosureStatusCompleted)
		}
		return domain.ClosureCompleted{ApprovedBy: approved.ApprovedBy, ApprovedAt: approved.ApprovedAt, CompletedAt: now}, nil
	})
}

type closureStep func(req *domain.ClosureRequest, now time.Time) (domain.ClosureState, error)

func (s *ClosureService) transition(ctx context.Context, name, requestID string, actor domain.Principal, step closureStep) (_ *domain.ClosureRequest, err error) {
	ctx, span := s.tracer.Start(ctx, "closure."+name, trace.WithAttributes(attribute.String("closure.id", requestID)))
	defer func() { endSpan(span, err) }()

	var req *domain.ClosureRequest
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		current, err := s.closures.GetByID(ctx, requestID)
		if err != nil {
			return translate("load closure", "closure request", requestID, err)
		}
		now := s.now()
		next, err := step(current, now)
		if err != nil {
			return err
		}
		if err := s.closures.UpdateState(ctx, requestID, next, now); err != nil {
			return translate("update closure", "closure request", requestID, err)
		}
		if completed, ok := next.(domain.ClosureCompleted); ok {
			if err := s.investors.MarkClosed(ctx, current.InvestorID, completed.CompletedAt); err != nil {
				return translate("close investor", "investor", current.InvestorID, err)
			}
		}
		current.State = next
		current.UpdatedAt = now
		req = current
		return nil
	})
	if err != nil {
		return nil, translate(name+" closure", "closure request", requestID, err)
	}

	s.metrics.RecordTransition("closure", name)
	s.logger.Info("closure transition",
		zap.String("request_id", req.ID),
		zap.String("transition", name),
		zap.String("status", string(req.Status())),
	)
	s.announce(ctx, closureEventFor(req.Status()), req, principalActor(actor))
	return req, nil
}

func invalidClosureTransition(req *domain.ClosureRequest, target domain.ClosureStatus) error {
	return apperrors.NewConflict(
		fmt.Sprintf("closure request is %s and cannot become %s", req.Status(), target),
		map[string]any{"request_id": req.ID, "status": req.Status(), "target": target},
	)
}

func closureEventFor(status domain.ClosureStatus) events.EventType {
	switch status {
	case domain.ClosureStatusApproved:
		return events.EventClosureApproved
	case domain.ClosureStatusRejected:
		return events.EventClosureRejected
	case domain.ClosureStatusCompleted:
		return events.EventClosureCompleted
	default:
		return events.EventClosureRequested
	}
}

func (s *ClosureService) announce(ctx context.Context, eventType events.EventType, req *domain.ClosureRequest, actor events.Actor) {
	payload := events.ClosurePayload{
		InvestorID:   req.InvestorID,
		InvestorName: req.InvestorName,
		RequestedBy:  req.RequestedBy,
		Status:       req.Status(),
		Stage:        req.Stage(),
	}
	switch eventType {
	case events.EventClosureRequested:
		payload.Reason = req.Reason
	case events.EventClosureRejected:
		payload.Reason = *req.RejectionReason()
	case events.EventClosureApproved:
		days := timemath.DaysRemaining(*req.ApprovalDate(), s.clock.Now())
		payload.DaysRemaining = &days
	}
	s.publishEvent(ctx, events.Event{
		Type:      eventType,
		EntityID:  req.ID,
		Actor:     actor,
		Timestamp: req.UpdatedAt,
		Payload:   payload,
	})
	s.publishChange(ctx, changefeed.Change{
		Collection: changefeed.CollectionClosures,
		DocumentID: req.ID,
		Key:        req.InvestorID,
	})
}

// CalculateDaysRemaining returns whole days left until the transfer is due.
func (s *ClosureService) CalculateDaysRemaining(approvalDate time.Time) int {
	return timemath.DaysRemaining(approvalDate, s.clock.Now())
}

// IsOverdue reports whether the waiting period has elapsed.
func (s *ClosureService) IsOverdue(approvalDate time.Time) bool {
	return timemath.IsOverdue(approvalDate, s.clock.Now())
}

// GetCurrentRequest returns the investor's most recent request, or nil when there is none.
func (s *ClosureService) GetCurrentRequest(ctx context.Context, investorID string) (*domain.ClosureRequest, error) {
	req, err := s.closures.CurrentForInvestor(ctx, investorID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate("load current closure", "closure request", investorID, err)
	}
	return req, nil
}

// GetCurrentView returns the current request with its countdown, or nil when there is none.
func (s *ClosureService) GetCurrentView(ctx context.Context, investorID string) (*ClosureView, error) {
	req, err := s.GetCurrentRequest(ctx, investorID)
	if err != nil || req == nil {
		return nil, err
	}
	return s.Decorate(req, s.clock.Now()), nil
}

// Decorate derives the display state of req at now.
func (s *ClosureService) Decorate(req *domain.ClosureRequest, now time.Time) *ClosureView {
	return &ClosureView{
		Request:   req,
		Countdown: timemath.Countdown(req.Status(), req.ApprovalDate(), now),
		Standing:  StandingFor(req.InvestorID, req, now),
	}
}

// InvestorStanding derives the advisory account status of an investor.
func (s *ClosureService) InvestorStanding(ctx context.Context, investorID string) (domain.InvestorStanding, error) {
	investor, err := s.investors.GetByID(ctx, investorID)
	if err != nil {
		return domain.InvestorStanding{}, translate("load investor", "investor", investorID, err)
	}
	req, err := s.GetCurrentRequest(ctx, investorID)
	if err != nil {
		return domain.InvestorStanding{}, err
	}
	standing := StandingFor(investorID, req, s.clock.Now())
	if investor.ClosedAt != nil {
		standing.Active, standing.Closed, standing.Label = false, true, StandingClosed
	}
	return standing, nil
}

// StandingFor derives an investor's standing from their current request.
func StandingFor(investorID string, req *domain.ClosureRequest, now time.Time) domain.InvestorStanding {
	standing := domain.InvestorStanding{InvestorID: investorID, Active: true, Label: StandingActive}
	if req == nil {
		return standing
	}
	switch req.Status() {
	case domain.ClosureStatusPending:
		standing.Active = false
		standing.Label = StandingAwaitingReview
	case domain.ClosureStatusApproved:
		standing.Active = false
		approved := *req.ApprovalDate()
		if timemath.IsOverdue(approved, now) {
			standing.Label = StandingTransferDue
		} else {
			standing.Label = fmt.Sprintf("Closing - %d days remaining", timemath.DaysRemaining(approved, now))
		}
	case domain.ClosureStatusCompleted:
		standing.Active = false
		standing.Closed = true
		standing.Label = StandingClosed
	}
	return standing
}

// SweepDueClosures completes every Approved request whose waiting period has
// elapsed. A failure on one request is logged and does not stop the sweep.
func (s *ClosureService) SweepDueClosures(ctx context.Context) (_ SweepResult, err error) {
	ctx, span := s.tracer.Start(ctx, "closure.sweep")
	defer func() { endSpan(span, err) }()

	var result SweepResult
	approved, err := s.closures.ListByStatus(ctx, domain.ClosureStatusApproved)
	if err != nil {
		return result, translate("list approved closures", "closure request", string(domain.ClosureStatusApproved), err)
	}

	now := s.now()
	for i := range approved {
		req := &approved[i]
		result.Examined++
		approvalDate := req.ApprovalDate()
		if approvalDate == nil || !timemath.IsOverdue(*approvalDate, now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.CompleteClosureRequest(ctx, req.ID); err != nil {
			if apperrors.HasCode(err, apperrors.CodeConflict) {
				// completed concurrently
				continue
			}
			s.logger.Error("sweep failed to complete closure", zap.String("request_id", req.ID), zap.Error(err))
			result.Failed = append(result.Failed, req.ID)
			continue
		}
		result.Completed = append(result.Completed, req.ID)
	}

	s.metrics.RecordSweep("completed", len(result.Completed))
	s.metrics.RecordSweep("failed", len(result.Failed))
	span.SetAttributes(
		attribute.Int("sweep.examined", result.Examined),
		attribute.Int("sweep.completed", len(result.Completed)),
		attribute.Int("sweep.failed", len(result.Failed)),
	)
	return result, nil
}

// now matches the microsecond precision of timestamptz so returned values
// equal what is read back later.
func (s *ClosureService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}
