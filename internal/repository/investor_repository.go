package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// InvestorRepository reads investor accounts and applies the closure write.
type InvestorRepository interface {
	Create(ctx context.Context, investor *domain.Investor) error
	GetByID(ctx context.Context, id string) (*domain.Investor, error)
	// MarkClosed zeroes the balance and stamps the account closed.
	MarkClosed(ctx context.Context, id string, closedAt time.Time) error
}

type investorRepository struct {
	pool *pgxpool.Pool
}

// NewInvestorRepository instantiates the repository.
func NewInvestorRepository(pool *pgxpool.Pool) InvestorRepository {
	return &investorRepository{pool: pool}
}

func (r *investorRepository) Create(ctx context.Context, investor *domain.Investor) error {
	const query = `
        INSERT INTO investors (id, name, balance, closed_at)
        VALUES ($1,$2,$3::numeric,$4)
        RETURNING created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		investor.ID,
		investor.Name,
		investor.Balance.String(),
		investor.ClosedAt,
	).Scan(&investor.CreatedAt, &investor.UpdatedAt)
	return mapError(err)
}

func (r *investorRepository) GetByID(ctx context.Context, id string) (*domain.Investor, error) {
	query := `SELECT id, name, balance::text, closed_at, created_at, updated_at FROM investors WHERE id=$1` + lockClause(ctx)
	var (
		investor domain.Investor
		balance  string
	)
	if err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&investor.ID,
		&investor.Name,
		&balance,
		&investor.ClosedAt,
		&investor.CreatedAt,
		&investor.UpdatedAt,
	); err != nil {
		return nil, mapError(err)
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return nil, fmt.Errorf("investor %s balance: %w", id, err)
	}
	investor.Balance = amount
	return &investor, nil
}

func (r *investorRepository) MarkClosed(ctx context.Context, id string, closedAt time.Time) error {
	const query = `UPDATE investors SET balance=0, closed_at=$1, updated_at=$1 WHERE id=$2`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, closedAt, id)
	if err != nil {
		return mapError(err)
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
