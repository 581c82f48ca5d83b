package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promora/beacon/internal/domain"
)

// TicketRepo persists single-use realtime connect tickets.
type TicketRepo struct {
	pool *pgxpool.Pool
}

func NewTicketRepo(pool *pgxpool.Pool) *TicketRepo {
	return &TicketRepo{pool: pool}
}

var _ domain.TicketRepository = (*TicketRepo)(nil)

// Issue stores a fresh ticket with a random token.
func (r *TicketRepo) Issue(ctx context.Context, userID, ownerClientID string, ttl time.Duration) (*domain.Ticket, error) {
	ticket := &domain.Ticket{
		Token:         uuid.NewString(),
		OwnerUserID:   userID,
		OwnerClientID: ownerClientID,
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO realtime_tickets (token, owner_user_id, owner_client_id, expires_at)
		VALUES ($1, $2, $3, now() + make_interval(secs => $4))
		RETURNING expires_at, created_at`,
		ticket.Token, userID, ownerClientID, ttl.Seconds(),
	)
	if err := row.Scan(&ticket.ExpiresAt, &ticket.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to issue ticket: %w", err)
	}
	return ticket, nil
}

// Consume atomically marks the ticket consumed and returns it. The UPDATE
// only matches live tickets, so concurrent consumers cannot both win; a
// follow-up SELECT distinguishes the failure reason.
func (r *TicketRepo) Consume(ctx context.Context, token string) (*domain.Ticket, error) {
	ticket := &domain.Ticket{Token: token}

	row := r.pool.QueryRow(ctx, `
		UPDATE realtime_tickets
		SET consumed_at = now()
		WHERE token = $1 AND consumed_at IS NULL AND expires_at > now()
		RETURNING owner_user_id, owner_client_id, expires_at, consumed_at, created_at`,
		token,
	)
	err := row.Scan(&ticket.OwnerUserID, &ticket.OwnerClientID, &ticket.ExpiresAt, &ticket.ConsumedAt, &ticket.CreatedAt)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to consume ticket: %w", err)
	}

	var consumedAt *time.Time
	var expiresAt time.Time
	probe := r.pool.QueryRow(ctx,
		`SELECT consumed_at, expires_at FROM realtime_tickets WHERE token = $1`, token)
	switch err := probe.Scan(&consumedAt, &expiresAt); {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, domain.ErrTicketNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to inspect ticket: %w", err)
	case consumedAt != nil:
		return nil, domain.ErrTicketConsumed
	default:
		return nil, domain.ErrTicketExpired
	}
}

// DeleteExpired reclaims tickets past their expiry. Intended for a periodic
// janitor; returns the number of rows removed.
func (r *TicketRepo) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM realtime_tickets WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tickets: %w", err)
	}
	return tag.RowsAffected(), nil
}
