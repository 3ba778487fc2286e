package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/registration-service/internal/domain"
)

// UpdateTokenRepository manages update-request token persistence.
type UpdateTokenRepository interface {
	Create(ctx context.Context, token *domain.UpdateToken) error
	GetByDigest(ctx context.Context, digest string) (*domain.UpdateToken, error)
	// Consume flips used=false to used=true only while the token is unexpired at
	// now. ErrNotFound means nothing matched the guard.
	Consume(ctx context.Context, digest string, now time.Time) (*domain.UpdateToken, error)
	ListByRegistration(ctx context.Context, registrationID string) ([]domain.UpdateToken, error)
}

type updateTokenRepository struct {
	pool *pgxpool.Pool
}

// NewUpdateTokenRepository constructs repository.
func NewUpdateTokenRepository(pool *pgxpool.Pool) UpdateTokenRepository {
	return &updateTokenRepository{pool: pool}
}

const updateTokenColumns = `id, token_digest, registration_id, dimension, used, used_at, expires_at, created_at`

func (r *updateTokenRepository) Create(ctx context.Context, token *domain.UpdateToken) error {
	const query = `
        INSERT INTO update_tokens (token_digest, registration_id, dimension, expires_at)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		token.Digest,
		token.RegistrationID,
		token.Dimension,
		token.ExpiresAt,
	).Scan(&token.ID, &token.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert update token: %w", err)
	}
	return nil
}

func (r *updateTokenRepository) GetByDigest(ctx context.Context, digest string) (*domain.UpdateToken, error) {
	query := `SELECT ` + updateTokenColumns + ` FROM update_tokens WHERE token_digest=$1`
	token, err := scanUpdateToken(conn(ctx, r.pool).QueryRow(ctx, query, digest))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select update token: %w", err)
	}
	return token, nil
}

func (r *updateTokenRepository) Consume(ctx context.Context, digest string, now time.Time) (*domain.UpdateToken, error) {
	query := `
        UPDATE update_tokens SET used=TRUE, used_at=$2
        WHERE token_digest=$1 AND used=FALSE AND expires_at > $2
        RETURNING ` + updateTokenColumns
	token, err := scanUpdateToken(conn(ctx, r.pool).QueryRow(ctx, query, digest, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume update token: %w", err)
	}
	return token, nil
}

func (r *updateTokenRepository) ListByRegistration(ctx context.Context, registrationID string) ([]domain.UpdateToken, error) {
	query := `SELECT ` + updateTokenColumns + ` FROM update_tokens WHERE registration_id=$1 ORDER BY created_at ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, registrationID)
	if err != nil {
		return nil, fmt.Errorf("list update tokens: %w", err)
	}
	defer rows.Close()

	var result []domain.UpdateToken
	for rows.Next() {
		token, err := scanUpdateToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan update token: %w", err)
		}
		result = append(result, *token)
	}
	return result, rows.Err()
}

func scanUpdateToken(row pgx.Row) (*domain.UpdateToken, error) {
	var token domain.UpdateToken
	if err := row.Scan(
		&token.ID,
		&token.Digest,
		&token.RegistrationID,
		&token.Dimension,
		&token.Used,
		&token.UsedAt,
		&token.ExpiresAt,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}
