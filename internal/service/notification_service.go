package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/account-workflows/internal/config"
	"github.com/spec-kit/account-workflows/internal/domain"
	"github.com/spec-kit/account-workflows/internal/events"
	"github.com/spec-kit/account-workflows/internal/notify"
	"github.com/spec-kit/account-workflows/internal/observability"
	"github.com/spec-kit/account-workflows/internal/repository"
)

// NotificationService turns workflow events into notification intents.
// Delivery is best effort: failures are logged and counted, never returned
// to the workflow that raised the event.
type NotificationService struct {
	dispatcher events.Dispatcher
	staff      repository.StaffDirectory
	notifier   notify.Notifier
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.NotificationConfig

	mu      sync.RWMutex
	enqueue func(domain.NotificationIntent) bool
}

// NotificationDependencies bundles collaborators for the notification service.
type NotificationDependencies struct {
	Dispatcher events.Dispatcher
	StaffRepo  repository.StaffDirectory
	Notifier   notify.Notifier
	Logger     *zap.Logger
	Metrics    *observability.Metrics
	Config     config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	logger := defaultLogger(deps.Logger)
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	return &NotificationService{
		dispatcher: deps.Dispatcher,
		staff:      deps.StaffRepo,
		notifier:   notifier,
		logger:     logger,
		metrics:    deps.Metrics,
		cfg:        deps.Config,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated,
		events.EventTicketResponded,
		events.EventTicketAssigned,
		events.EventTicketStatusChanged,
		events.EventTicketEscalated,
		events.EventClosureRequested,
		events.EventClosureApproved,
		events.EventClosureRejected,
		events.EventClosureCompleted,
	} {
		n.dispatcher.Subscribe(eventType, n.handle)
	}
}

// UseQueue routes intents through enqueue instead of delivering inline.
// enqueue returns false when the intent could not be queued.
func (n *NotificationService) UseQueue(enqueue func(domain.NotificationIntent) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enqueue = enqueue
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) error {
	intents, err := n.IntentsFor(ctx, event)
	if err != nil {
		return err
	}

	n.mu.RLock()
	enqueue := n.enqueue
	n.mu.RUnlock()

	for _, intent := range intents {
		if enqueue == nil {
			n.Deliver(ctx, intent)
			continue
		}
		if !enqueue(intent) {
			n.logger.Warn("notification queue full, dropping intent",
				zap.String("kind", string(intent.Kind)),
				zap.String("recipient_id", intent.RecipientID),
			)
			n.metrics.RecordNotificationFailure(string(intent.Kind))
		}
	}
	return nil
}

// Deliver sends one intent to the notifier.
func (n *NotificationService) Deliver(ctx context.Context, intent domain.NotificationIntent) {
	if err := n.notifier.Notify(ctx, intent); err != nil {
		n.metrics.RecordNotificationFailure(string(intent.Kind))
		n.logger.Warn("notification delivery failed",
			zap.String("kind", string(intent.Kind)),
			zap.String("recipient_id", intent.RecipientID),
			zap.Error(err),
		)
	}
}

// IntentsFor applies the dispatch rules to one event. The actor who caused
// the event is never notified about it.
func (n *NotificationService) IntentsFor(ctx context.Context, event events.Event) ([]domain.NotificationIntent, error) {
	var (
		intents []domain.NotificationIntent
		err     error
	)
	switch p := event.Payload.(type) {
	case events.TicketCreatedPayload:
		intents, err = n.toGovernors(ctx, domain.NotificationIntent{
			Kind:     domain.NotifyTicketCreated,
			Title:    "New support ticket",
			Message:  fmt.Sprintf("%s opened a %s ticket for %s: %s", actorName(event.Actor), humanize(string(p.TicketType)), p.InvestorName, p.Subject),
			Priority: domain.NotificationPriority(p.Priority),
		})
	case events.TicketRespondedPayload:
		intents, err = n.responseIntents(ctx, event, p)
	case events.TicketAssignedPayload:
		intents = []domain.NotificationIntent{{
			RecipientID:   p.AssigneeID,
			RecipientRole: domain.RoleGovernor,
			Kind:          domain.NotifyTicketAssigned,
			Title:         "Ticket assigned to you",
			Message:       fmt.Sprintf("%s assigned you: %s", actorName(event.Actor), p.Subject),
			Priority:      domain.NotificationPriorityMedium,
		}}
	case events.TicketStatusChangedPayload:
		intents = []domain.NotificationIntent{{
			RecipientID:   p.SubmittedBy,
			RecipientRole: domain.RoleAdmin,
			Kind:          domain.NotifyTicketStatusChange,
			Title:         "Ticket status updated",
			Message:       fmt.Sprintf("%s is now %s", p.Subject, humanize(string(p.NewStatus))),
			Priority:      domain.NotificationPriorityLow,
		}}
	case events.TicketEscalatedPayload:
		intents, err = n.toGovernors(ctx, domain.NotificationIntent{
			Kind:     domain.NotifyTicketEscalated,
			Title:    "Ticket escalated",
			Message:  fmt.Sprintf("%s (%s) was escalated: %s", p.Subject, p.InvestorName, p.Reason),
			Priority: domain.NotificationPriorityUrgent,
		})
	case events.ClosurePayload:
		intents, err = n.closureIntents(ctx, event, p)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := intents[:0]
	for _, intent := range intents {
		if intent.RecipientID == "" || (event.Actor.ID != "" && intent.RecipientID == event.Actor.ID) {
			continue
		}
		if intent.Payload == nil {
			intent.Payload = map[string]any{}
		}
		intent.Payload["eventId"] = event.ID
		intent.Payload["eventType"] = string(event.Type)
		intent.Payload["entityId"] = event.EntityID
		intent.ActionURL = n.actionURL(event)
		out = append(out, intent)
	}
	return out, nil
}

func (n *NotificationService) responseIntents(ctx context.Context, event events.Event, p events.TicketRespondedPayload) ([]domain.NotificationIntent, error) {
	base := domain.NotificationIntent{
		Kind:     domain.NotifyTicketResponse,
		Title:    "New response on " + p.Subject,
		Message:  fmt.Sprintf("%s: %s", actorName(event.Actor), p.BodyPreview),
		Priority: domain.NotificationPriorityMedium,
	}
	switch p.ResponderRole {
	case domain.RoleGovernor:
		if p.IsInternal {
			return nil, nil
		}
		base.RecipientID = p.SubmittedBy
		base.RecipientRole = domain.RoleAdmin
		return []domain.NotificationIntent{base}, nil
	default:
		if p.AssignedTo != nil && *p.AssignedTo != "" {
			base.RecipientID = *p.AssignedTo
			base.RecipientRole = domain.RoleGovernor
			return []domain.NotificationIntent{base}, nil
		}
		return n.toGovernors(ctx, base)
	}
}

func (n *NotificationService) closureIntents(ctx context.Context, event events.Event, p events.ClosurePayload) ([]domain.NotificationIntent, error) {
	if event.Type == events.EventClosureRequested {
		return n.toGovernors(ctx, domain.NotificationIntent{
			Kind:     domain.NotifyClosureStageChange,
			Title:    "Account closure requested",
			Message:  fmt.Sprintf("Closure requested for %s: %s", p.InvestorName, p.Reason),
			Priority: domain.NotificationPriorityHigh,
			Payload:  map[string]any{"stage": string(p.Stage), "investorId": p.InvestorID},
		})
	}

	var message string
	switch event.Type {
	case events.EventClosureApproved:
		days := 0
		if p.DaysRemaining != nil {
			days = *p.DaysRemaining
		}
		message = fmt.Sprintf("Closure of %s approved; funds transfer in %d days", p.InvestorName, days)
	case events.EventClosureRejected:
		message = fmt.Sprintf("Closure of %s rejected: %s", p.InvestorName, p.Reason)
	case events.EventClosureCompleted:
		message = fmt.Sprintf("Closure of %s completed; account closed", p.InvestorName)
	default:
		return nil, nil
	}
	return []domain.NotificationIntent{{
		RecipientID:   p.RequestedBy,
		RecipientRole: domain.RoleAdmin,
		Kind:          domain.NotifyClosureStageChange,
		Title:         "Account closure " + strings.ToLower(string(p.Status)),
		Message:       message,
		Priority:      domain.NotificationPriorityMedium,
		Payload:       map[string]any{"stage": string(p.Stage), "investorId": p.InvestorID},
	}}, nil
}

// toGovernors copies template once per active governor.
func (n *NotificationService) toGovernors(ctx context.Context, template domain.NotificationIntent) ([]domain.NotificationIntent, error) {
	if n.staff == nil {
		return nil, nil
	}
	governors, err := n.staff.ListByRole(ctx, domain.RoleGovernor)
	if err != nil {
		return nil, translate("list governors", "staff member", string(domain.RoleGovernor), err)
	}
	intents := make([]domain.NotificationIntent, 0, len(governors))
	for _, governor := range governors {
		intent := template
		intent.RecipientID = governor.ID
		intent.RecipientRole = domain.RoleGovernor
		intent.Payload = copyPayload(template.Payload)
		intents = append(intents, intent)
	}
	return intents, nil
}

func (n *NotificationService) actionURL(event events.Event) string {
	if n.cfg.PortalBaseURL == "" {
		return ""
	}
	if p, ok := event.Payload.(events.ClosurePayload); ok {
		return n.cfg.PortalBaseURL + "/investors/" + p.InvestorID + "/closure"
	}
	return n.cfg.PortalBaseURL + "/tickets/" + event.EntityID
}

func copyPayload(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+3)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func actorName(actor events.Actor) string {
	if actor.Name != "" {
		return actor.Name
	}
	if actor.ID != "" {
		return actor.ID
	}
	return "System"
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
