package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/account-workflows/internal/config"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/events"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, intent domain.NotificationIntent) error {
	return m.Called(ctx, intent).Error(0)
}

func newNotificationService(t *testing.T, f *fixture, notifier *mockNotifier) *NotificationService {
	svc := NewNotificationService(NotificationDependencies{
		Dispatcher: f.dispatcher,
		StaffRepo:  f.store.Staff(),
		Notifier:   notifier,
		Logger:     zaptest.NewLogger(t),
		Metrics:    f.metrics,
		Config:     config.NotificationConfig{PortalBaseURL: "https://backoffice.example.com"},
	})
	svc.RegisterHandlers()
	return svc
}

func recipients(intents []domain.NotificationIntent) []string {
	out := make([]string, 0, len(intents))
	for _, intent := range intents {
		out = append(out, intent.RecipientID)
	}
	return out
}

func TestTicketCreatedNotifiesEveryGovernor(t *testing.T) {
	f := newFixture(t)
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	newNotificationService(t, f, notifier)

	ticket, err := f.tickets.CreateTicket(context.Background(), admin, TicketCreateInput{
		InvestorID: "inv-1", InvestorName: "Ivy Investor", TicketType: domain.TicketTypePolicyViolation, Subject: "Late filing", Description: "d",
	})
	require.NoError(t, err)

	notifier.AssertNumberOfCalls(t, "Notify", 2)
	var sent []domain.NotificationIntent
	for _, call := range notifier.Calls {
		sent = append(sent, call.Arguments.Get(1).(domain.NotificationIntent))
	}
	assert.ElementsMatch(t, []string{"gov-1", "gov-2"}, recipients(sent))
	for _, intent := range sent {
		assert.Equal(t, domain.NotifyTicketCreated, intent.Kind)
		assert.Equal(t, domain.RoleGovernor, intent.RecipientRole)
		assert.Equal(t, "https://backoffice.example.com/tickets/"+ticket.ID, intent.ActionURL)
		assert.Equal(t, ticket.ID, intent.Payload["entityId"])
	}
}

func TestActorIsNeverNotified(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f, new(mockNotifier))

	intents, err := svc.IntentsFor(context.Background(), events.Event{
		ID:       "evt-1",
		Type:     events.EventTicketEscalated,
		EntityID: "t-1",
		Actor:    events.Actor{ID: governor.ID, Name: governor.Name, Role: domain.RoleGovernor},
		Payload:  events.TicketEscalatedPayload{Reason: "regulator", InvestorName: "Ivy", Subject: "s"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"gov-2"}, recipients(intents))
	assert.Equal(t, domain.NotificationPriorityUrgent, intents[0].Priority)
}

func TestResponseRouting(t *testing.T) {
	f := newFixture(t)
	svc := newNotificationService(t, f, new(mockNotifier))
	ctx := context.Background()
	assignee := "gov-2"

	cases := []struct {
		name    string
		actor   domain.Principal
		payload events.TicketRespondedPayload
		want    []string
	}{
		{
			name:    "governor reply goes to submitter",
			actor:   governor,
			payload: events.TicketRespondedPayload{ResponderRole: domain.RoleGovernor, SubmittedBy: admin.ID},
			want:    []string{admin.ID},
		},
		{
			name:    "internal note notifies nobody",
			actor:   governor,
			payload: events.TicketRespondedPayload{ResponderRole: domain.RoleGovernor, IsInternal: true, SubmittedBy: admin.ID},
			want:    []string{},
		},
		{
			name:    "admin reply goes to assignee",
			actor:   admin,
			payload: events.TicketRespondedPayload{ResponderRole: domain.RoleAdmin, SubmittedBy: admin.ID, AssignedTo: &assignee},
			want:    []string{"gov-2"},
		},
		{
			name:    "admin reply on unassigned ticket goes to governors",
			actor:   admin,
			payload: events.TicketRespondedPayload{ResponderRole: domain.RoleAdmin, SubmittedBy: admin.ID},
			want:    []string{"gov-1", "gov-2"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intents, err := svc.IntentsFor(ctx, events.Event{
				Type:    events.EventTicketResponded,
				Actor:   principalActor(tc.actor),
				Payload: tc.payload,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, recipients(intents))
		})
	}
}

func TestClosureEventsNotifyRequester(t *testing.T) {
	f := newFixture(t)
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	newNotificationService(t, f, notifier)
	ctx := context.Background()

	req, err := f.closures.CreateClosureRequest(ctx, ClosureCreateInput{InvestorID: "inv-1", Reason: "Relocating", RequestedBy: admin.ID})
	require.NoError(t, err)
	notifier.AssertNumberOfCalls(t, "Notify", 2)

	_, err = f.closures.ApproveClosureRequest(ctx, req.ID, governor)
	require.NoError(t, err)

	last := notifier.Calls[len(notifier.Calls)-1].Arguments.Get(1).(domain.NotificationIntent)
	assert.Equal(t, admin.ID, last.RecipientID)
	assert.Equal(t, domain.NotifyClosureStageChange, last.Kind)
	assert.Equal(t, string(domain.ClosureStageCountdown), last.Payload["stage"])
	assert.Contains(t, last.Message, "90 days")
	assert.Equal(t, "https://backoffice.example.com/investors/inv-1/closure", last.ActionURL)
}

func TestDeliveryFailureNeverFailsWorkflow(t *testing.T) {
	f := newFixture(t)
	notifier := new(mockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	newNotificationService(t, f, notifier)

	_, err := f.tickets.CreateTicket(context.Background(), admin, TicketCreateInput{
		InvestorID: "inv-1", TicketType: domain.TicketTypeOther, Subject: "s", Description: "d",
	})
	require.NoError(t, err)
	notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestFullQueueDropsIntent(t *testing.T) {
	f := newFixture(t)
	notifier := new(mockNotifier)
	svc := newNotificationService(t, f, notifier)
	var queued []domain.NotificationIntent
	svc.UseQueue(func(intent domain.NotificationIntent) bool {
		if len(queued) == 1 {
			return false
		}
		queued = append(queued, intent)
		return true
	})

	_, err := f.tickets.CreateTicket(context.Background(), admin, TicketCreateInput{
		InvestorID: "inv-1", TicketType: domain.TicketTypeOther, Subject: "s", Description: "d",
	})
	require.NoError(t, err)
	assert.Len(t, queued, 1)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}
