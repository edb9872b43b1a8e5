package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/events"
	apperrors "github.com/spec-kit/account-workflows/pkg/util/errorutil"
)

type ClosureServiceSuite struct {
	suite.Suite
	ctx context.Context
	f   *fixture
}

func TestClosureServiceSuite(t *testing.T) {
	suite.Run(t, new(ClosureServiceSuite))
}

func (s *ClosureServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.f = newFixture(s.T())
}

func (s *ClosureServiceSuite) request(investorID string) *domain.ClosureRequest {
	req, err := s.f.closures.CreateClosureRequest(s.ctx, ClosureCreateInput{
		InvestorID:     investorID,
		Reason:         "Moving abroad",
		RequestedBy:    admin.ID,
		AccountBalance: decimal.NewFromInt(12500),
	})
	s.Require().NoError(err)
	return req
}

func (s *ClosureServiceSuite) TestCreateOpensPendingRequest() {
	rec := s.f.record(events.EventClosureRequested)
	sub := s.f.feed.Subscribe(changefeed.CollectionClosures)
	defer sub.Close()

	req := s.request("inv-1")

	s.Equal(domain.ClosureStatusPending, req.Status())
	s.Equal(domain.ClosureStageRequest, req.Stage())
	s.Equal("Ivy Investor", req.InvestorName)
	s.Equal("2024-01-01", req.RequestDate)
	s.Nil(req.ApprovalDate())
	s.Equal([]events.EventType{events.EventClosureRequested}, rec.types())

	change := <-sub.C()
	s.Equal(req.ID, change.DocumentID)
	s.Equal("inv-1", change.Key)

	standing, err := s.f.closures.InvestorStanding(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.False(standing.Active)
	s.Equal(StandingAwaitingReview, standing.Label)
}

func (s *ClosureServiceSuite) TestCreateRejectsSecondOpenRequest() {
	first := s.request("inv-1")

	_, err := s.f.closures.CreateClosureRequest(s.ctx, ClosureCreateInput{InvestorID: "inv-1", Reason: "again", RequestedBy: admin.ID})
	s.True(apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = s.f.closures.ApproveClosureRequest(s.ctx, first.ID, governor)
	s.Require().NoError(err)
	_, err = s.f.closures.CreateClosureRequest(s.ctx, ClosureCreateInput{InvestorID: "inv-1", Reason: "again", RequestedBy: admin.ID})
	s.True(apperrors.HasCode(err, apperrors.CodeConflict), "approved requests are still open")
}

func (s *ClosureServiceSuite) TestCreateAfterRejectionIsAllowed() {
	first := s.request("inv-1")
	_, err := s.f.closures.RejectClosureRequest(s.ctx, first.ID, governor, "Outstanding obligations")
	s.Require().NoError(err)

	s.f.clock.Advance(time.Hour)
	second := s.request("inv-1")

	current, err := s.f.closures.GetCurrentRequest(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.Equal(second.ID, current.ID)
}

func (s *ClosureServiceSuite) TestCreateValidation() {
	cases := map[string]ClosureCreateInput{
		"missing investor": {Reason: "r", RequestedBy: admin.ID},
		"missing reason":   {InvestorID: "inv-1", RequestedBy: admin.ID},
		"missing actor":    {InvestorID: "inv-1", Reason: "r"},
		"negative balance": {InvestorID: "inv-1", Reason: "r", RequestedBy: admin.ID, AccountBalance: decimal.NewFromInt(-1)},
	}
	for name, input := range cases {
		_, err := s.f.closures.CreateClosureRequest(s.ctx, input)
		s.True(apperrors.HasCode(err, apperrors.CodeValidation), name)
	}

	_, err := s.f.closures.CreateClosureRequest(s.ctx, ClosureCreateInput{InvestorID: "nobody", Reason: "r", RequestedBy: admin.ID})
	s.True(apperrors.HasCode(err, apperrors.CodeNotFound))
}

func (s *ClosureServiceSuite) TestApproveStartsCountdown() {
	rec := s.f.record(events.EventClosureApproved)
	req := s.request("inv-1")

	s.f.clock.Advance(2 * time.Hour)
	approved, err := s.f.closures.ApproveClosureRequest(s.ctx, req.ID, governor)
	s.Require().NoError(err)

	s.Equal(domain.ClosureStatusApproved, approved.Status())
	s.Equal(domain.ClosureStageCountdown, approved.Stage())
	s.Equal(governor.ID, approved.ApprovedBy())
	s.Equal(t0.Add(2*time.Hour), *approved.ApprovalDate())
	s.Equal(90, s.f.closures.CalculateDaysRemaining(*approved.ApprovalDate()))

	s.Require().Len(rec.events, 1)
	payload := rec.events[0].Payload.(events.ClosurePayload)
	s.Equal(90, *payload.DaysRemaining)
	s.Equal(governor.ID, rec.events[0].Actor.ID)

	s.f.clock.Advance(30 * 24 * time.Hour)
	view, err := s.f.closures.GetCurrentView(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.Equal(60, view.Countdown.DaysRemaining)
	s.False(view.Countdown.Overdue)
	s.Equal("Closing - 60 days remaining", view.Standing.Label)
}

func (s *ClosureServiceSuite) TestApproveTwiceConflicts() {
	req := s.request("inv-1")
	_, err := s.f.closures.ApproveClosureRequest(s.ctx, req.ID, governor)
	s.Require().NoError(err)

	_, err = s.f.closures.ApproveClosureRequest(s.ctx, req.ID, governor)
	s.True(apperrors.HasCode(err, apperrors.CodeConflict))

	_, err = s.f.closures.RejectClosureRequest(s.ctx, req.ID, governor, "too late")
	s.True(apperrors.HasCode(err, apperrors.CodeConflict))
}

func (s *ClosureServiceSuite) TestTimestampsUseStoredPrecision() {
	s.f.clock.Set(t0.Add(1500 * time.Nanosecond))
	req := s.request("inv-1")
	s.Equal(t0.Add(time.Microsecond), req.CreatedAt)

	approved, err := s.f.closures.ApproveClosureRequest(s.ctx, req.ID, governor)
	s.Require().NoError(err)
	s.Require().NotNil(approved.ApprovalDate())
	s.Zero(approved.ApprovalDate().Nanosecond() % 1000)
	s.Equal(approved.ApprovalDate().Add(90*24*time.Hour), *approved.EstimatedCompletionDate())

	stored, err := s.f.store.Closures().GetByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.True(approved.ApprovalDate().Equal(*stored.ApprovalDate()))
}

func (s *ClosureServiceSuite) TestApproveAfterRejectionConflicts() {
	req := s.request("inv-1")
	_, err := s.f.closures.RejectClosureRequest(s.ctx, req.ID, governor, "duplicate")
	s.Require().NoError(err)

	_, err = s.f.closures.ApproveClosureRequest(s.ctx, req.ID, governor)
	s.True(apperrors.HasCode(err, apperrors.CodeConflict))

	stored, err := s.f.store.Closures().GetByID(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(domain.ClosureStatusRejected, stored.Status())
	s.Equal("duplicate", *stored.RejectionReason())
	s.Nil(stored.ApprovalDate())
}

func (s *ClosureServiceSuite) TestUnknownRequestIsNotFound() {
	_, err := s.f.closures.ApproveClosureRequest(s.ctx, "missing", governor)
	s.True(apperrors.HasCode(err, apperrors.CodeNotFound))
	_, err = s.f.closures.CompleteClosureRequest(s.ctx, "missing")
	s.True(apperrors.HasCode(err, apperrors.CodeNotFound))
}

func (s *ClosureServiceSuite) TestRejectRestoresActiveStanding() {
	rec := s.f.record(events.EventClosureRejected)
	req := s.request("inv-1")

	_, err := s.f.closures.RejectClosureRequest(s.ctx, req.ID, governor, "  ")
	s.True(apperrors.HasCode(err, apperrors.CodeValidation))

	rejected, err := s.f.closures.RejectClosureRequest(s.ctx, req.ID, governor, "Outstanding obligations")
	s.Require().NoError(err)
	s.Equal(domain.ClosureStatusRejected, rejected.Status())
	s.Equal("Outstanding obligations", *rejected.RejectionReason())
	s.Equal(governor.ID, rejected.RejectedBy())
	s.Nil(rejected.ApprovalDate())

	standing, err := s.f.closures.InvestorStanding(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.True(standing.Active)
	s.Equal(StandingActive, standing.Label)

	s.Require().Len(rec.events, 1)
	s.Equal("Outstanding obligations", rec.events[0].Payload.(events.ClosurePayload).Reason)
}

func (s *ClosureServiceSuite) TestCompleteRequiresApproval() {
	req := s.request("inv-1")
	_, err := s.f.closures.CompleteClosureRequest(s.ctx, req.ID)
	s.True(apperrors.HasCode(err, apperrors.CodeConflict))
}

func (s *ClosureServiceSuite) TestSweepCompletesOnlyOverdueRequests() {
	rec := s.f.record(events.EventClosureCompleted)
	due := s.request("inv-1")
	_, err := s.f.closures.ApproveClosureRequest(s.ctx, due.ID, governor)
	s.Require().NoError(err)

	s.f.clock.Advance(10 * 24 * time.Hour)
	later := s.request("inv-2")
	_, err = s.f.closures.ApproveClosureRequest(s.ctx, later.ID, governor)
	s.Require().NoError(err)

	s.f.clock.Set(t0.Add(domain.WaitingPeriod))
	result, err := s.f.closures.SweepDueClosures(s.ctx)
	s.Require().NoError(err)
	s.Empty(result.Completed, "exactly at the deadline is not yet overdue")

	s.f.clock.Advance(time.Minute)
	result, err = s.f.closures.SweepDueClosures(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, result.Examined)
	s.Equal([]string{due.ID}, result.Completed)
	s.Empty(result.Failed)

	completed, err := s.f.closures.GetCurrentRequest(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.Equal(domain.ClosureStatusCompleted, completed.Status())
	s.Equal(s.f.clock.Now(), *completed.CompletionDate())
	s.Equal(governor.ID, completed.ApprovedBy())

	investor, err := s.f.store.Investors().GetByID(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.NotNil(investor.ClosedAt)
	s.True(investor.Balance.IsZero())

	standing, err := s.f.closures.InvestorStanding(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.True(standing.Closed)
	s.Equal(StandingClosed, standing.Label)

	pending, err := s.f.closures.GetCurrentRequest(s.ctx, "inv-2")
	s.Require().NoError(err)
	s.Equal(domain.ClosureStatusApproved, pending.Status())

	s.Equal([]events.EventType{events.EventClosureCompleted}, rec.types())

	expected := `
# HELP closure_sweep_results_total Closure requests handled by the sweep, by outcome
# TYPE closure_sweep_results_total counter
closure_sweep_results_total{outcome="completed"} 1
`
	s.NoError(testutil.GatherAndCompare(s.f.metrics.Registry(), strings.NewReader(expected), "closure_sweep_results_total"))
}

func (s *ClosureServiceSuite) TestClosedInvestorCannotRequestAgain() {
	req := s.request("inv-1")
	_, err := s.f.closures.ApproveClosureRequest(s.ctx, req.ID, governor)
	s.Require().NoError(err)
	_, err = s.f.closures.CompleteClosureRequest(s.ctx, req.ID)
	s.Require().NoError(err)

	_, err = s.f.closures.CreateClosureRequest(s.ctx, ClosureCreateInput{InvestorID: "inv-1", Reason: "again", RequestedBy: admin.ID})
	s.True(apperrors.HasCode(err, apperrors.CodeConflict))
}

func (s *ClosureServiceSuite) TestTransferDueStandingBeforeSweep() {
	req := s.request("inv-1")
	_, err := s.f.closures.ApproveClosureRequest(s.ctx, req.ID, governor)
	s.Require().NoError(err)

	s.f.clock.Advance(domain.WaitingPeriod + time.Hour)
	view, err := s.f.closures.GetCurrentView(s.ctx, "inv-1")
	s.Require().NoError(err)
	s.True(view.Countdown.Overdue)
	s.Equal(0, view.Countdown.DaysRemaining)
	s.Equal(StandingTransferDue, view.Standing.Label)
	s.True(s.f.closures.IsOverdue(*req.ApprovalDate()))
}

func (s *ClosureServiceSuite) TestNoRequestMeansActive() {
	view, err := s.f.closures.GetCurrentView(s.ctx, "inv-2")
	s.Require().NoError(err)
	s.Nil(view)

	standing, err := s.f.closures.InvestorStanding(s.ctx, "inv-2")
	s.Require().NoError(err)
	s.True(standing.Active)
}

func TestStandingFor(t *testing.T) {
	approvedAt := t0
	cases := []struct {
		name  string
		state domain.ClosureState
		now   time.Time
		label string
	}{
		{"pending", domain.ClosurePending{}, t0, StandingAwaitingReview},
		{"fresh approval", domain.ClosureApproved{ApprovedAt: approvedAt}, t0, "Closing - 90 days remaining"},
		{"partial day rounds up", domain.ClosureApproved{ApprovedAt: approvedAt}, t0.Add(89*24*time.Hour + time.Hour), "Closing - 1 days remaining"},
		{"overdue", domain.ClosureApproved{ApprovedAt: approvedAt}, t0.Add(domain.WaitingPeriod + time.Second), StandingTransferDue},
		{"rejected", domain.ClosureRejected{RejectedAt: t0}, t0, StandingActive},
		{"completed", domain.ClosureCompleted{ApprovedAt: t0, CompletedAt: t0}, t0, StandingClosed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StandingFor("inv-1", &domain.ClosureRequest{State: tc.state}, tc.now)
			assert.Equal(t, tc.label, got.Label)
		})
	}
	require.True(t, StandingFor("inv-1", nil, t0).Active)
}
