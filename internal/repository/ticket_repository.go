package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// TicketFilter narrows ticket listings. Zero value lists everything.
type TicketFilter struct {
	InvestorID    *string
	Statuses      []domain.TicketStatus
	EscalatedOnly bool
	Limit         int
	Offset        int
}

// TicketPatch updates individual ticket fields; nil fields are left untouched.
// LastActivity is always written.
type TicketPatch struct {
	Status          *domain.TicketStatus
	Priority        *domain.TicketPriority
	AssignedTo      *string
	AssignedToName  *string
	AssignedAt      *time.Time
	Resolution      *string
	ResolvedAt      *time.Time
	ResolvedBy      *string
	ClearResolved   bool
	ClosedAt        *time.Time
	ClosedBy        *string
	ClearClosed     bool
	Escalated       *bool
	EscalatedAt     *time.Time
	EscalatedReason *string
	LastActivity    time.Time
}

// Apply merges the patch into ticket in memory.
func (p TicketPatch) Apply(ticket *domain.SupportTicket) {
	if p.Status != nil {
		ticket.Status = *p.Status
	}
	if p.Priority != nil {
		ticket.Priority = *p.Priority
	}
	if p.AssignedTo != nil {
		ticket.AssignedTo = p.AssignedTo
	}
	if p.AssignedToName != nil {
		ticket.AssignedToName = p.AssignedToName
	}
	if p.AssignedAt != nil {
		ticket.AssignedAt = p.AssignedAt
	}
	if p.Resolution != nil {
		ticket.Resolution = p.Resolution
	}
	if p.ClearResolved {
		ticket.ResolvedAt, ticket.ResolvedBy = nil, nil
	}
	if p.ResolvedAt != nil {
		ticket.ResolvedAt = p.ResolvedAt
	}
	if p.ResolvedBy != nil {
		ticket.ResolvedBy = p.ResolvedBy
	}
	if p.ClearClosed {
		ticket.ClosedAt, ticket.ClosedBy = nil, nil
	}
	if p.ClosedAt != nil {
		ticket.ClosedAt = p.ClosedAt
	}
	if p.ClosedBy != nil {
		ticket.ClosedBy = p.ClosedBy
	}
	if p.Escalated != nil {
		ticket.Escalated = *p.Escalated
	}
	if p.EscalatedAt != nil {
		ticket.EscalatedAt = p.EscalatedAt
	}
	if p.EscalatedReason != nil {
		ticket.EscalatedReason = p.EscalatedReason
	}
	ticket.LastActivity = p.LastActivity
}

// TicketRepository encapsulates ticket persistence.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.SupportTicket) error
	GetByID(ctx context.Context, id string) (*domain.SupportTicket, error)
	Update(ctx context.Context, id string, patch TicketPatch) error
	// AppendResponse adds resp to the end of the thread and applies patch.
	AppendResponse(ctx context.Context, id string, resp domain.TicketResponse, patch TicketPatch) error
	// List orders by last activity, most recent first.
	List(ctx context.Context, filter TicketFilter) ([]domain.SupportTicket, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

// responseRecord is the stored shape of one thread entry.
type responseRecord struct {
	ID            string      `json:"id"`
	ResponderID   string      `json:"responderId"`
	ResponderName string      `json:"responderName"`
	ResponderRole domain.Role `json:"responderRole"`
	Content       string      `json:"content"`
	Timestamp     time.Time   `json:"timestamp"`
	IsInternal    bool        `json:"isInternal"`
}

func toRecord(resp domain.TicketResponse) responseRecord {
	return responseRecord(resp)
}

func fromRecord(rec responseRecord) domain.TicketResponse {
	return domain.TicketResponse(rec)
}

const ticketColumns = `id, investor_id, investor_name, submitted_by, submitted_by_name, ticket_type, priority,
       subject, description, status, assigned_to, assigned_to_name, assigned_at, responses, resolution,
       resolved_at, resolved_by, closed_at, closed_by, tags, attachments, last_activity, escalated,
       escalated_at, escalated_reason, created_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.SupportTicket) error {
	const query = `
        INSERT INTO support_tickets (id, investor_id, investor_name, submitted_by, submitted_by_name, ticket_type,
            priority, subject, description, status, responses, tags, attachments, last_activity, escalated, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13,$14,$15,$16)`
	records := make([]responseRecord, 0, len(ticket.Responses))
	for _, resp := range ticket.Responses {
		records = append(records, toRecord(resp))
	}
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		ticket.ID,
		ticket.InvestorID,
		ticket.InvestorName,
		ticket.SubmittedBy,
		ticket.SubmittedByName,
		ticket.TicketType,
		ticket.Priority,
		ticket.Subject,
		ticket.Description,
		ticket.Status,
		records,
		nonNil(ticket.Tags),
		nonNil(ticket.Attachments),
		ticket.LastActivity,
		ticket.Escalated,
		ticket.CreatedAt,
	)
	return mapError(err)
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.SupportTicket, error) {
	query := `SELECT ` + ticketColumns + ` FROM support_tickets WHERE id=$1` + lockClause(ctx)
	return scanTicket(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *ticketRepository) Update(ctx context.Context, id string, patch TicketPatch) error {
	sets, args := patchClauses(patch)
	return r.exec(ctx, id, sets, args)
}

func (r *ticketRepository) AppendResponse(ctx context.Context, id string, resp domain.TicketResponse, patch TicketPatch) error {
	sets, args := patchClauses(patch)
	args = append(args, []responseRecord{toRecord(resp)})
	sets = append(sets, fmt.Sprintf("responses = responses || $%d::jsonb", len(args)))
	return r.exec(ctx, id, sets, args)
}

func (r *ticketRepository) exec(ctx context.Context, id string, sets []string, args []any) error {
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE support_tickets SET %s WHERE id=$%d`, strings.Join(sets, ", "), len(args))
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func patchClauses(p TicketPatch) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if p.Status != nil {
		set("status", *p.Status)
	}
	if p.Priority != nil {
		set("priority", *p.Priority)
	}
	if p.AssignedTo != nil {
		set("assigned_to", *p.AssignedTo)
	}
	if p.AssignedToName != nil {
		set("assigned_to_name", *p.AssignedToName)
	}
	if p.AssignedAt != nil {
		set("assigned_at", *p.AssignedAt)
	}
	if p.Resolution != nil {
		set("resolution", *p.Resolution)
	}
	if p.ClearResolved && p.ResolvedAt == nil {
		sets = append(sets, "resolved_at=NULL", "resolved_by=NULL")
	}
	if p.ResolvedAt != nil {
		set("resolved_at", *p.ResolvedAt)
	}
	if p.ResolvedBy != nil {
		set("resolved_by", *p.ResolvedBy)
	}
	if p.ClearClosed && p.ClosedAt == nil {
		sets = append(sets, "closed_at=NULL", "closed_by=NULL")
	}
	if p.ClosedAt != nil {
		set("closed_at", *p.ClosedAt)
	}
	if p.ClosedBy != nil {
		set("closed_by", *p.ClosedBy)
	}
	if p.Escalated != nil {
		set("escalated", *p.Escalated)
	}
	if p.EscalatedAt != nil {
		set("escalated_at", *p.EscalatedAt)
	}
	if p.EscalatedReason != nil {
		set("escalated_reason", *p.EscalatedReason)
	}
	set("last_activity", p.LastActivity)
	return sets, args
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.SupportTicket, error) {
	clauses := []string{"1=1"}
	args := []any{}

	if filter.InvestorID != nil {
		args = append(args, *filter.InvestorID)
		clauses = append(clauses, fmt.Sprintf("investor_id=$%d", len(args)))
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, status := range filter.Statuses {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.EscalatedOnly {
		clauses = append(clauses, "escalated")
	}

	query := fmt.Sprintf(`SELECT %s FROM support_tickets WHERE %s ORDER BY last_activity DESC, id ASC`,
		ticketColumns, strings.Join(clauses, " AND "))
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, offset)
	}

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.SupportTicket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func scanTicket(row pgx.Row) (*domain.SupportTicket, error) {
	var (
		ticket  domain.SupportTicket
		records []responseRecord
	)
	if err := row.Scan(
		&ticket.ID,
		&ticket.InvestorID,
		&ticket.InvestorName,
		&ticket.SubmittedBy,
		&ticket.SubmittedByName,
		&ticket.TicketType,
		&ticket.Priority,
		&ticket.Subject,
		&ticket.Description,
		&ticket.Status,
		&ticket.AssignedTo,
		&ticket.AssignedToName,
		&ticket.AssignedAt,
		&records,
		&ticket.Resolution,
		&ticket.ResolvedAt,
		&ticket.ResolvedBy,
		&ticket.ClosedAt,
		&ticket.ClosedBy,
		&ticket.Tags,
		&ticket.Attachments,
		&ticket.LastActivity,
		&ticket.Escalated,
		&ticket.EscalatedAt,
		&ticket.EscalatedReason,
		&ticket.CreatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	ticket.Responses = make([]domain.TicketResponse, 0, len(records))
	for _, rec := range records {
		ticket.Responses = append(ticket.Responses, fromRecord(rec))
	}
	return &ticket, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
