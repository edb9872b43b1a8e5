package service

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// AuditVerification reports whether a ticket's audit chain is intact.
type AuditVerification struct {
	TicketID string `json:"ticketId"`
	Entries  int    `json:"entries"`
	Valid    bool   `json:"valid"`
	// BrokenAt is the index of the first entry whose hash does not match.
	BrokenAt *int `json:"brokenAt,omitempty"`
}

// actionDigest is the hashed form of an action. Map keys in Details are
// sorted by encoding/json, which keeps the encoding stable.
type actionDigest struct {
	ID              string                  `json:"id"`
	TicketID        string                  `json:"ticketId"`
	ActionType      domain.TicketActionType `json:"actionType"`
	PerformedBy     string                  `json:"performedBy"`
	PerformedByName string                  `json:"performedByName"`
	Timestamp       string                  `json:"timestamp"`
	Details         map[string]any          `json:"details"`
}

// hashAction computes blake2b-256 over the previous hash and the action.
func hashAction(prevHash string, action domain.TicketAction) (string, error) {
	details := action.Details
	if details == nil {
		details = map[string]any{}
	}
	body, err := json.Marshal(actionDigest{
		ID:              action.ID,
		TicketID:        action.TicketID,
		ActionType:      action.ActionType,
		PerformedBy:     action.PerformedBy,
		PerformedByName: action.PerformedByName,
		Timestamp:       action.Timestamp.UTC().Format(time.RFC3339Nano),
		Details:         details,
	})
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(append([]byte(prevHash), body...))
	return hex.EncodeToString(sum[:]), nil
}

// verifyChain recomputes every hash in order.
func verifyChain(ticketID string, actions []domain.TicketAction) (AuditVerification, error) {
	result := AuditVerification{TicketID: ticketID, Entries: len(actions), Valid: true}
	prev := ""
	for i, action := range actions {
		want, err := hashAction(prev, action)
		if err != nil {
			return result, err
		}
		if action.PrevHash != prev || action.Hash != want {
			idx := i
			result.Valid = false
			result.BrokenAt = &idx
			return result, nil
		}
		prev = action.Hash
	}
	return result, nil
}
