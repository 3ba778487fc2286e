package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/registration-service/internal/domain"
)

// OutboxRepository is the append-only notification log and the dispatcher's
// claim surface.
type OutboxRepository interface {
	Append(ctx context.Context, entry *domain.OutboxEntry) error
	// ListDispatchable returns pending, capped and blocked entries plus
	// in_progress entries claimed before staleBefore, oldest first.
	ListDispatchable(ctx context.Context, staleBefore time.Time) ([]domain.OutboxEntry, error)
	// Claim moves an entry from its expected status to in_progress. It returns
	// false when another run got there first.
	Claim(ctx context.Context, id string, from domain.OutboxStatus, staleBefore time.Time, now time.Time) (bool, error)
	// Park records blocked or capped on an entry that is still dispatchable.
	Park(ctx context.Context, id string, status domain.OutboxStatus) error
	// Complete records the delivery outcome of a claimed entry.
	Complete(ctx context.Context, id string, status domain.OutboxStatus, lastError *string, now time.Time) error
	ListByRecipient(ctx context.Context, recipient string) ([]domain.OutboxEntry, error)
}

type outboxRepository struct {
	pool *pgxpool.Pool
}

// NewOutboxRepository builds repository.
func NewOutboxRepository(pool *pgxpool.Pool) OutboxRepository {
	return &outboxRepository{pool: pool}
}

const outboxColumns = `id, template, recipient, payload, status, attempts, last_error, claimed_at, sent_at, created_at`

func (r *outboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	if entry.Status == "" {
		entry.Status = domain.OutboxPending
	}
	if len(entry.Payload) == 0 {
		entry.Payload = []byte("{}")
	}
	const query = `
        INSERT INTO email_outbox (template, recipient, payload, status)
        VALUES ($1,$2,$3,$4)
        RETURNING id, created_at`
	err := conn(ctx, r.pool).QueryRow(ctx, query,
		entry.Template,
		entry.Recipient,
		[]byte(entry.Payload),
		entry.Status,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (r *outboxRepository) ListDispatchable(ctx context.Context, staleBefore time.Time) ([]domain.OutboxEntry, error) {
	query := `
        SELECT ` + outboxColumns + `
        FROM email_outbox
        WHERE status IN ('pending','capped','blocked')
           OR (status = 'in_progress' AND claimed_at < $1)
        ORDER BY created_at ASC, id ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, staleBefore)
	if err != nil {
		return nil, fmt.Errorf("select dispatchable outbox entries: %w", err)
	}
	defer rows.Close()
	return scanOutboxEntries(rows)
}

func (r *outboxRepository) Claim(ctx context.Context, id string, from domain.OutboxStatus, staleBefore time.Time, now time.Time) (bool, error) {
	const query = `
        UPDATE email_outbox SET status='in_progress', attempts=attempts+1, claimed_at=$4
        WHERE id=$1 AND status=$2
          AND ($2 <> 'in_progress' OR claimed_at < $3)`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, id, from, staleBefore, now)
	if err != nil {
		return false, fmt.Errorf("claim outbox entry %s: %w", id, err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *outboxRepository) Park(ctx context.Context, id string, status domain.OutboxStatus) error {
	const query = `
        UPDATE email_outbox SET status=$2
        WHERE id=$1 AND status IN ('pending','capped','blocked')`
	if _, err := conn(ctx, r.pool).Exec(ctx, query, id, status); err != nil {
		return fmt.Errorf("park outbox entry %s: %w", id, err)
	}
	return nil
}

func (r *outboxRepository) Complete(ctx context.Context, id string, status domain.OutboxStatus, lastError *string, now time.Time) error {
	const query = `
        UPDATE email_outbox SET status=$2, last_error=$3,
            sent_at=CASE WHEN $2 = 'sent' THEN $4 ELSE sent_at END
        WHERE id=$1 AND status='in_progress'`
	cmd, err := conn(ctx, r.pool).Exec(ctx, query, id, status, lastError, now)
	if err != nil {
		return fmt.Errorf("complete outbox entry %s: %w", id, err)
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("complete outbox entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *outboxRepository) ListByRecipient(ctx context.Context, recipient string) ([]domain.OutboxEntry, error) {
	query := `SELECT ` + outboxColumns + ` FROM email_outbox WHERE recipient=$1 ORDER BY created_at ASC`
	rows, err := conn(ctx, r.pool).Query(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("select outbox entries: %w", err)
	}
	defer rows.Close()
	return scanOutboxEntries(rows)
}

func scanOutboxEntries(rows pgx.Rows) ([]domain.OutboxEntry, error) {
	var result []domain.OutboxEntry
	for rows.Next() {
		var (
			entry   domain.OutboxEntry
			payload []byte
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Template,
			&entry.Recipient,
			&payload,
			&entry.Status,
			&entry.Attempts,
			&entry.LastError,
			&entry.ClaimedAt,
			&entry.SentAt,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entry.Payload = payload
		result = append(result, entry)
	}
	return result, rows.Err()
}
