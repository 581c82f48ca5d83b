package domain

import (
	"context"
	"time"
)

// Ticket is a single-use realtime connect ticket issued by the business
// platform. The token travels out-of-band in the WebSocket request and must
// be echoed by the client's authenticate frame; on a match the ticket is
// consumed and its identity is bound onto the connection.
type Ticket struct {
	Token         string
	OwnerUserID   string
	OwnerClientID string
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	CreatedAt     time.Time
}

// TicketRepository persists connect tickets.
type TicketRepository interface {
	// Issue stores a new ticket and returns it.
	Issue(ctx context.Context, userID, ownerClientID string, ttl time.Duration) (*Ticket, error)
	// Consume atomically validates and consumes the ticket for the given token.
	// Returns ErrTicketNotFound, ErrTicketExpired or ErrTicketConsumed on failure.
	Consume(ctx context.Context, token string) (*Ticket, error)
}
