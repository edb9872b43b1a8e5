package domain

import "time"

// TicketResponse is one entry in a ticket thread. Responses are never edited.
type TicketResponse struct {
	ID            string
	ResponderID   string
	ResponderName string
	ResponderRole Role
	Content       string
	Timestamp     time.Time
	IsInternal    bool
}
