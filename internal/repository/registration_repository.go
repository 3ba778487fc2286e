package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/registration-service/internal/domain"
)

// RegistrationRepository encapsulates registration persistence.
type RegistrationRepository interface {
	Create(ctx context.Context, reg *domain.Registration) error
	Update(ctx context.Context, reg *domain.Registration) error
	GetByID(ctx context.Context, id string) (*domain.Registration, error)
	// GetForUpdate locks the row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id string) (*domain.Registration, error)
}

type registrationRepository struct {
	pool *pgxpool.Pool
}

// NewRegistrationRepository instantiates repository.
func NewRegistrationRepository(pool *pgxpool.Pool) RegistrationRepository {
	return &registrationRepository{pool: pool}
}

const registrationColumns = `id, email, full_name, payment_status, profile_status, tcc_status,
               status, badge_url, created_at, updated_at`

func (r *registrationRepository) Create(ctx context.Context, reg *domain.Registration) error {
	const query = `
        INSERT INTO registrations (email, full_name, payment_status, profile_status, tcc_status, status, badge_url)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING id, created_at, updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		reg.Email,
		reg.FullName,
		reg.PaymentStatus,
		reg.ProfileStatus,
		reg.TCCStatus,
		reg.Status,
		reg.BadgeURL,
	).Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (r *registrationRepository) Update(ctx context.Context, reg *domain.Registration) error {
	const query = `
        UPDATE registrations SET payment_status=$1, profile_status=$2, tcc_status=$3,
            status=$4, badge_url=$5, updated_at=NOW()
        WHERE id=$6
        RETURNING updated_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		reg.PaymentStatus,
		reg.ProfileStatus,
		reg.TCCStatus,
		reg.Status,
		reg.BadgeURL,
		reg.ID,
	).Scan(&reg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update registration: %w", err)
	}
	return nil
}

func (r *registrationRepository) GetByID(ctx context.Context, id string) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id=$1`
	return r.fetchSingle(ctx, query, id)
}

func (r *registrationRepository) GetForUpdate(ctx context.Context, id string) (*domain.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE id=$1 FOR UPDATE`
	return r.fetchSingle(ctx, query, id)
}

func (r *registrationRepository) fetchSingle(ctx context.Context, query string, id string) (*domain.Registration, error) {
	var reg domain.Registration
	err := conn(ctx, r.pool).QueryRow(ctx, query, id).Scan(
		&reg.ID,
		&reg.Email,
		&reg.FullName,
		&reg.PaymentStatus,
		&reg.ProfileStatus,
		&reg.TCCStatus,
		&reg.Status,
		&reg.BadgeURL,
		&reg.CreatedAt,
		&reg.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select registration: %w", err)
	}
	return &reg, nil
}
