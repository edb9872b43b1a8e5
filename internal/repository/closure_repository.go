package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// ClosureRepository encapsulates closure request persistence.
type ClosureRepository interface {
	Create(ctx context.Context, req *domain.ClosureRequest) error
	GetByID(ctx context.Context, id string) (*domain.ClosureRequest, error)
	// CurrentForInvestor returns the most recently created request, or ErrNotFound.
	CurrentForInvestor(ctx context.Context, investorID string) (*domain.ClosureRequest, error)
	UpdateState(ctx context.Context, id string, state domain.ClosureState, updatedAt time.Time) error
	ListByStatus(ctx context.Context, status domain.ClosureStatus) ([]domain.ClosureRequest, error)
}

type closureRepository struct {
	pool *pgxpool.Pool
}

// NewClosureRepository instantiates the repository.
func NewClosureRepository(pool *pgxpool.Pool) ClosureRepository {
	return &closureRepository{pool: pool}
}

const closureColumns = `id, investor_id, investor_name, request_date::text, status, reason, requested_by,
       account_balance::text, approved_by, approval_date, completion_date, rejected_by, rejection_date,
       rejection_reason, created_at, updated_at`

func (r *closureRepository) Create(ctx context.Context, req *domain.ClosureRequest) error {
	const query = `
        INSERT INTO closure_requests (id, investor_id, investor_name, request_date, status, reason, requested_by,
            account_balance, approved_by, approval_date, estimated_completion_date, completion_date,
            rejected_by, rejection_date, rejection_reason, created_at, updated_at)
        VALUES ($1,$2,$3,$4::date,$5,$6,$7,$8::numeric,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	cols := flattenState(req.State)
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		req.ID,
		req.InvestorID,
		req.InvestorName,
		req.RequestDate,
		cols.status,
		req.Reason,
		req.RequestedBy,
		req.AccountBalance.String(),
		cols.approvedBy,
		cols.approvalDate,
		cols.estimatedCompletion,
		cols.completionDate,
		cols.rejectedBy,
		cols.rejectionDate,
		cols.rejectionReason,
		req.CreatedAt,
		req.UpdatedAt,
	)
	return mapError(err)
}

func (r *closureRepository) GetByID(ctx context.Context, id string) (*domain.ClosureRequest, error) {
	query := `SELECT ` + closureColumns + ` FROM closure_requests WHERE id=$1` + lockClause(ctx)
	return scanClosure(conn(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *closureRepository) CurrentForInvestor(ctx context.Context, investorID string) (*domain.ClosureRequest, error) {
	query := `SELECT ` + closureColumns + `
        FROM closure_requests WHERE investor_id=$1
        ORDER BY created_at DESC LIMIT 1` + lockClause(ctx)
	return scanClosure(conn(ctx, r.pool).QueryRow(ctx, query, investorID))
}

func (r *closureRepository) UpdateState(ctx context.Context, id string, state domain.ClosureState, updatedAt time.Time) error {
	const query = `
        UPDATE closure_requests SET status=$1, approved_by=$2, approval_date=$3, estimated_completion_date=$4,
            completion_date=$5, rejected_by=$6, rejection_date=$7, rejection_reason=$8, updated_at=$9
        WHERE id=$10`
	cols := flattenState(state)
	cmd, err := conn(ctx, r.pool).Exec(ctx, query,
		cols.status,
		cols.approvedBy,
		cols.approvalDate,
		cols.estimatedCompletion,
		cols.completionDate,
		cols.rejectedBy,
		cols.rejectionDate,
		cols.rejectionReason,
		updatedAt,
		id,
	)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *closureRepository) ListByStatus(ctx context.Context, status domain.ClosureStatus) ([]domain.ClosureRequest, error) {
	query := `SELECT ` + closureColumns + ` FROM closure_requests WHERE status=$1 ORDER BY approval_date ASC NULLS LAST, created_at ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, status)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.ClosureRequest
	for rows.Next() {
		req, err := scanClosure(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

type stateColumns struct {
	status              domain.ClosureStatus
	approvedBy          *string
	approvalDate        *time.Time
	estimatedCompletion *time.Time
	completionDate      *time.Time
	rejectedBy          *string
	rejectionDate       *time.Time
	rejectionReason     *string
}

func flattenState(state domain.ClosureState) stateColumns {
	switch s := state.(type) {
	case domain.ClosureApproved:
		eta := s.ApprovedAt.Add(domain.WaitingPeriod)
		return stateColumns{status: s.Status(), approvedBy: &s.ApprovedBy, approvalDate: &s.ApprovedAt, estimatedCompletion: &eta}
	case domain.ClosureCompleted:
		eta := s.ApprovedAt.Add(domain.WaitingPeriod)
		return stateColumns{status: s.Status(), approvedBy: &s.ApprovedBy, approvalDate: &s.ApprovedAt, estimatedCompletion: &eta, completionDate: &s.CompletedAt}
	case domain.ClosureRejected:
		return stateColumns{status: s.Status(), rejectedBy: &s.RejectedBy, rejectionDate: &s.RejectedAt, rejectionReason: &s.Reason}
	default:
		return stateColumns{status: domain.ClosureStatusPending}
	}
}

// buildState rebuilds the union from stored columns, rejecting rows whose
// columns disagree with their status.
func buildState(cols stateColumns) (domain.ClosureState, error) {
	switch cols.status {
	case domain.ClosureStatusPending:
		return domain.ClosurePending{}, nil
	case domain.ClosureStatusApproved:
		if cols.approvalDate == nil {
			return nil, fmt.Errorf("approved closure without approval_date")
		}
		return domain.ClosureApproved{ApprovedBy: deref(cols.approvedBy), ApprovedAt: *cols.approvalDate}, nil
	case domain.ClosureStatusCompleted:
		if cols.approvalDate == nil || cols.completionDate == nil {
			return nil, fmt.Errorf("completed closure without approval_date or completion_date")
		}
		return domain.ClosureCompleted{ApprovedBy: deref(cols.approvedBy), ApprovedAt: *cols.approvalDate, CompletedAt: *cols.completionDate}, nil
	case domain.ClosureStatusRejected:
		if cols.rejectionDate == nil || cols.rejectionReason == nil {
			return nil, fmt.Errorf("rejected closure without rejection_date or rejection_reason")
		}
		return domain.ClosureRejected{RejectedBy: deref(cols.rejectedBy), RejectedAt: *cols.rejectionDate, Reason: *cols.rejectionReason}, nil
	}
	return nil, fmt.Errorf("unknown closure status %q", cols.status)
}

func scanClosure(row pgx.Row) (*domain.ClosureRequest, error) {
	var (
		req     domain.ClosureRequest
		cols    stateColumns
		balance string
	)
	if err := row.Scan(
		&req.ID,
		&req.InvestorID,
		&req.InvestorName,
		&req.RequestDate,
		&cols.status,
		&req.Reason,
		&req.RequestedBy,
		&balance,
		&cols.approvedBy,
		&cols.approvalDate,
		&cols.completionDate,
		&cols.rejectedBy,
		&cols.rejectionDate,
		&cols.rejectionReason,
		&req.CreatedAt,
		&req.UpdatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("closure %s balance: %w", req.ID, err)
	}
	req.AccountBalance = amount
	state, err := buildState(cols)
	if err != nil {
		return nil, fmt.Errorf("closure %s: %w", req.ID, err)
	}
	req.State = state
	return &req, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
