package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// TicketActionRepository stores audit entries. Entries are insert-only.
type TicketActionRepository interface {
	Append(ctx context.Context, action *domain.TicketAction) error
	// ListByTicket returns entries in ascending timestamp order.
	ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketAction, error)
	// Last returns the newest entry for a ticket, or ErrNotFound.
	Last(ctx context.Context, ticketID string) (*domain.TicketAction, error)
}

type ticketActionRepository struct {
	pool *pgxpool.Pool
}

// NewTicketActionRepository builds repository.
func NewTicketActionRepository(pool *pgxpool.Pool) TicketActionRepository {
	return &ticketActionRepository{pool: pool}
}

const actionColumns = `id, ticket_id, action_type, performed_by, performed_by_name, timestamp, details, prev_hash, hash`

func (r *ticketActionRepository) Append(ctx context.Context, action *domain.TicketAction) error {
	const query = `
        INSERT INTO ticket_actions (` + actionColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	details := action.Details
	if details == nil {
		details = map[string]any{}
	}
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		action.ID,
		action.TicketID,
		action.ActionType,
		action.PerformedBy,
		action.PerformedByName,
		action.Timestamp,
		details,
		action.PrevHash,
		action.Hash,
	)
	return mapError(err)
}

func (r *ticketActionRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.TicketAction, error) {
	const query = `SELECT ` + actionColumns + ` FROM ticket_actions WHERE ticket_id=$1 ORDER BY timestamp ASC, seq ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, ticketID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.TicketAction
	for rows.Next() {
		var action domain.TicketAction
		if err := rows.Scan(
			&action.ID,
			&action.TicketID,
			&action.ActionType,
			&action.PerformedBy,
			&action.PerformedByName,
			&action.Timestamp,
			&action.Details,
			&action.PrevHash,
			&action.Hash,
		); err != nil {
			return nil, err
		}
		result = append(result, action)
	}
	return result, rows.Err()
}

func (r *ticketActionRepository) Last(ctx context.Context, ticketID string) (*domain.TicketAction, error) {
	const query = `SELECT ` + actionColumns + ` FROM ticket_actions WHERE ticket_id=$1 ORDER BY timestamp DESC, seq DESC LIMIT 1`
	var action domain.TicketAction
	if err := conn(ctx, r.pool).QueryRow(ctx, query, ticketID).Scan(
		&action.ID,
		&action.TicketID,
		&action.ActionType,
		&action.PerformedBy,
		&action.PerformedByName,
		&action.Timestamp,
		&action.Details,
		&action.PrevHash,
		&action.Hash,
	); err != nil {
		return nil, mapError(err)
	}
	return &action, nil
}
