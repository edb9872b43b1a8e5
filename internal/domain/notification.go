package domain

// NotificationKind names the class of a notification intent.
type NotificationKind string

const (
	NotifyTicketCreated      NotificationKind = "ticket-created"
	NotifyTicketResponse     NotificationKind = "ticket-response"
	NotifyTicketAssigned     NotificationKind = "ticket-assigned"
	NotifyTicketStatusChange NotificationKind = "ticket-status-change"
	NotifyTicketEscalated    NotificationKind = "ticket-escalated"
	NotifyClosureStageChange NotificationKind = "closure-stage-change"
)

// NotificationPriority orders delivery urgency.
type NotificationPriority string

const (
	NotificationPriorityLow    NotificationPriority = "low"
	NotificationPriorityMedium NotificationPriority = "medium"
	NotificationPriorityHigh   NotificationPriority = "high"
	NotificationPriorityUrgent NotificationPriority = "urgent"
)

// NotificationIntent is what the workflows ask the notifier to deliver.
type NotificationIntent struct {
	RecipientID   string               `json:"recipientId"`
	RecipientRole Role                 `json:"recipientRole"`
	Kind          NotificationKind     `json:"kind"`
	Title         string               `json:"title"`
	Message       string               `json:"message"`
	Priority      NotificationPriority `json:"priority"`
	Payload       map[string]any       `json:"payload,omitempty"`
	ActionURL     string               `json:"actionUrl,omitempty"`
}
