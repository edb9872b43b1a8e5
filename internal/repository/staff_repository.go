package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/account-workflows/internal/domain"
)

// StaffDirectory resolves back-office staff for notification fan-out.
type StaffDirectory interface {
	Create(ctx context.Context, staff *domain.StaffMember) error
	GetByID(ctx context.Context, id string) (*domain.StaffMember, error)
	// ListByRole returns active staff holding role, ordered by name.
	ListByRole(ctx context.Context, role domain.Role) ([]domain.StaffMember, error)
}

type staffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository instantiates the repository.
func NewStaffRepository(pool *pgxpool.Pool) StaffDirectory {
	return &staffRepository{pool: pool}
}

func (r *staffRepository) Create(ctx context.Context, staff *domain.StaffMember) error {
	const query = `
        INSERT INTO staff_members (id, name, email, role, active_flag)
        VALUES ($1,$2,$3,$4,$5)`
	_, err := conn(ctx, r.pool).Exec(ctx, query,
		staff.ID,
		staff.Name,
		staff.Email,
		staff.Role,
		staff.Active,
	)
	return mapError(err)
}

func (r *staffRepository) GetByID(ctx context.Context, id string) (*domain.StaffMember, error) {
	const query = `SELECT id, name, email, role, active_flag FROM staff_members WHERE id=$1`
	var staff domain.StaffMember
	if err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&staff.ID,
		&staff.Name,
		&staff.Email,
		&staff.Role,
		&staff.Active,
	); err != nil {
		return nil, mapError(err)
	}
	return &staff, nil
}

func (r *staffRepository) ListByRole(ctx context.Context, role domain.Role) ([]domain.StaffMember, error) {
	const query = `
        SELECT id, name, email, role, active_flag FROM staff_members
        WHERE role=$1 AND active_flag ORDER BY name ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, role)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var result []domain.StaffMember
	for rows.Next() {
		var staff domain.StaffMember
		if err := rows.Scan(
			&staff.ID,
			&staff.Name,
			&staff.Email,
			&staff.Role,
			&staff.Active,
		); err != nil {
			return nil, err
		}
		result = append(result, staff)
	}
	return result, rows.Err()
}
