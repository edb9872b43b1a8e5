package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/repository"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	require.NoError(t, store.Investors().Create(ctx, &domain.Investor{ID: "inv-1", Name: "Ada", Balance: decimal.NewFromInt(500)}))

	boom := errors.New("boom")
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Investors().MarkClosed(ctx, "inv-1", time.Now()))
		require.NoError(t, store.Closures().Create(ctx, &domain.ClosureRequest{ID: "c-1", InvestorID: "inv-1", State: domain.ClosurePending{}}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	investor, err := store.Investors().GetByID(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, investor.ClosedAt)
	assert.True(t, investor.Balance.Equal(decimal.NewFromInt(500)))

	_, err = store.Closures().GetByID(ctx, "c-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestWithinTxNested(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	err := store.WithinTx(ctx, func(ctx context.Context) error {
		return store.WithinTx(ctx, func(ctx context.Context) error {
			return store.Investors().Create(ctx, &domain.Investor{ID: "inv-1"})
		})
	})
	require.NoError(t, err)
	_, err = store.Investors().GetByID(ctx, "inv-1")
	assert.NoError(t, err)
}

func TestClosureCreateRejectsSecondOpenRequest(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Closures()

	require.NoError(t, repo.Create(ctx, &domain.ClosureRequest{ID: "c-1", InvestorID: "inv-1", State: domain.ClosurePending{}}))
	err := repo.Create(ctx, &domain.ClosureRequest{ID: "c-2", InvestorID: "inv-1", State: domain.ClosurePending{}})
	assert.ErrorIs(t, err, repository.ErrConflict)

	require.NoError(t, repo.UpdateState(ctx, "c-1", domain.ClosureRejected{Reason: "no"}, time.Now()))
	assert.NoError(t, repo.Create(ctx, &domain.ClosureRequest{ID: "c-2", InvestorID: "inv-1", State: domain.ClosurePending{}}))
}

func TestCurrentForInvestorPicksNewest(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Closures()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &domain.ClosureRequest{ID: "old", InvestorID: "inv-1", State: domain.ClosureRejected{}, CreatedAt: base}))
	require.NoError(t, repo.Create(ctx, &domain.ClosureRequest{ID: "new", InvestorID: "inv-1", State: domain.ClosurePending{}, CreatedAt: base.Add(time.Hour)}))

	current, err := repo.CurrentForInvestor(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, "new", current.ID)

	_, err = repo.CurrentForInvestor(ctx, "inv-2")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTicketListOrderingAndFilters(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Tickets()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &domain.SupportTicket{ID: "t-1", InvestorID: "inv-1", Status: domain.TicketStatusOpen, LastActivity: base}))
	require.NoError(t, repo.Create(ctx, &domain.SupportTicket{ID: "t-2", InvestorID: "inv-2", Status: domain.TicketStatusClosed, LastActivity: base.Add(time.Minute)}))
	require.NoError(t, repo.Create(ctx, &domain.SupportTicket{ID: "t-3", InvestorID: "inv-1", Status: domain.TicketStatusOpen, LastActivity: base.Add(2 * time.Minute), Escalated: true}))

	all, err := repo.List(ctx, repository.TicketFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"t-3", "t-2", "t-1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	investor := "inv-1"
	filtered, err := repo.List(ctx, repository.TicketFilter{InvestorID: &investor, Statuses: []domain.TicketStatus{domain.TicketStatusOpen}})
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	escalated, err := repo.List(ctx, repository.TicketFilter{EscalatedOnly: true})
	require.NoError(t, err)
	require.Len(t, escalated, 1)
	assert.Equal(t, "t-3", escalated[0].ID)

	page, err := repo.List(ctx, repository.TicketFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "t-2", page[0].ID)
}

func TestTicketReadsAreCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Tickets()
	require.NoError(t, repo.Create(ctx, &domain.SupportTicket{ID: "t-1", Tags: []string{"kyc"}}))

	ticket, err := repo.GetByID(ctx, "t-1")
	require.NoError(t, err)
	ticket.Tags[0] = "mutated"

	again, err := repo.GetByID(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kyc"}, again.Tags)
}

func TestAppendResponseAppliesPatch(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	repo := store.Tickets()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, &domain.SupportTicket{ID: "t-1", Status: domain.TicketStatusOpen}))

	status := domain.TicketStatusInProgress
	err := repo.AppendResponse(ctx, "t-1", domain.TicketResponse{ID: "r-1", Content: "hi"}, repository.TicketPatch{Status: &status, LastActivity: now})
	require.NoError(t, err)

	ticket, err := repo.GetByID(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, ticket.Responses, 1)
	assert.Equal(t, domain.TicketStatusInProgress, ticket.Status)
	assert.Equal(t, now, ticket.LastActivity)

	err = repo.AppendResponse(ctx, "missing", domain.TicketResponse{}, repository.TicketPatch{})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStaffListByRole(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	staff := store.Staff()
	require.NoError(t, staff.Create(ctx, &domain.StaffMember{ID: "g-2", Name: "Zed", Role: domain.RoleGovernor, Active: true}))
	require.NoError(t, staff.Create(ctx, &domain.StaffMember{ID: "g-1", Name: "Amy", Role: domain.RoleGovernor, Active: true}))
	require.NoError(t, staff.Create(ctx, &domain.StaffMember{ID: "g-3", Name: "Old", Role: domain.RoleGovernor, Active: false}))
	require.NoError(t, staff.Create(ctx, &domain.StaffMember{ID: "a-1", Name: "Ann", Role: domain.RoleAdmin, Active: true}))

	governors, err := staff.ListByRole(ctx, domain.RoleGovernor)
	require.NoError(t, err)
	require.Len(t, governors, 2)
	assert.Equal(t, "Amy", governors[0].Name)
	assert.Equal(t, "Zed", governors[1].Name)
}

func TestActionsLast(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	actions := store.Actions()

	_, err := actions.Last(ctx, "t-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, actions.Append(ctx, &domain.TicketAction{ID: "a-1", TicketID: "t-1", Hash: "h1"}))
	require.NoError(t, actions.Append(ctx, &domain.TicketAction{ID: "a-2", TicketID: "t-1", Hash: "h2"}))

	last, err := actions.Last(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "a-2", last.ID)
}
