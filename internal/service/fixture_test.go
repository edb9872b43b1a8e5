package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/account-workflows/internal/changefeed"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/events"
	"github.com/spec-kit/account-workflows/internal/observability"
	"github.com/spec-kit/account-workflows/internal/repository/memory"
	"github.com/spec-kit/account-workflows/internal/timemath"
)

var (
	t0       = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	admin    = domain.Principal{ID: "adm-1", Name: "Alice Admin", Role: domain.RoleAdmin}
	governor = domain.Principal{ID: "gov-1", Name: "Grace Governor", Role: domain.RoleGovernor}
)

type fixture struct {
	store      *memory.Store
	clock      *timemath.ManualClock
	feed       *changefeed.MemoryFeed
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	closures   *ClosureService
	tickets    *TicketService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	f := &fixture{
		store:      memory.NewStore(),
		clock:      timemath.NewManualClock(t0),
		feed:       changefeed.NewMemoryFeed(),
		dispatcher: events.NewInMemoryDispatcher(logger),
		metrics:    observability.NewMetrics(),
	}
	t.Cleanup(func() { _ = f.feed.Close() })

	f.closures = NewClosureService(ClosureDependencies{
		ClosureRepo:  f.store.Closures(),
		InvestorRepo: f.store.Investors(),
		Tx:           f.store,
		Dispatcher:   f.dispatcher,
		Feed:         f.feed,
		Clock:        f.clock,
		Metrics:      f.metrics,
		Logger:       logger,
	})
	f.tickets = NewTicketService(TicketDependencies{
		TicketRepo: f.store.Tickets(),
		ActionRepo: f.store.Actions(),
		StaffRepo:  f.store.Staff(),
		Tx:         f.store,
		Dispatcher: f.dispatcher,
		Feed:       f.feed,
		Clock:      f.clock,
		Metrics:    f.metrics,
		Logger:     logger,
	})

	ctx := context.Background()
	require.NoError(t, f.store.Investors().Create(ctx, &domain.Investor{ID: "inv-1", Name: "Ivy Investor", Balance: decimal.NewFromInt(12500), CreatedAt: t0}))
	require.NoError(t, f.store.Investors().Create(ctx, &domain.Investor{ID: "inv-2", Name: "Ike Investor", Balance: decimal.NewFromInt(300), CreatedAt: t0}))
	require.NoError(t, f.store.Staff().Create(ctx, &domain.StaffMember{ID: governor.ID, Name: governor.Name, Role: domain.RoleGovernor, Active: true}))
	require.NoError(t, f.store.Staff().Create(ctx, &domain.StaffMember{ID: "gov-2", Name: "Gus Governor", Role: domain.RoleGovernor, Active: true}))
	require.NoError(t, f.store.Staff().Create(ctx, &domain.StaffMember{ID: admin.ID, Name: admin.Name, Role: domain.RoleAdmin, Active: true}))
	return f
}

// recorder captures dispatched events of the given types.
type recorder struct {
	events []events.Event
}

func (f *fixture) record(types ...events.EventType) *recorder {
	r := &recorder{}
	for _, eventType := range types {
		f.dispatcher.Subscribe(eventType, func(_ context.Context, event events.Event) error {
			r.events = append(r.events, event)
			return nil
		})
	}
	return r
}

func (r *recorder) types() []events.EventType {
	out := make([]events.EventType, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.Type)
	}
	return out
}
