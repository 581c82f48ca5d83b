package domain

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket not found")
	ErrTicketExpired  = errors.New("ticket expired")
	ErrTicketConsumed = errors.New("ticket already consumed")
	ErrHubStopped     = errors.New("hub stopped")
)
