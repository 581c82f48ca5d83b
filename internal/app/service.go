package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/promora/beacon/internal/domain"
)

const (
	publishTimeout        = 2 * time.Second
	ticketCleanupInterval = 10 * time.Minute
)

// broadcaster is the hub surface the service depends on.
type broadcaster interface {
	PublishJobProgress(ctx context.Context, event domain.JobProgressEvent)
}

// relay is the cross-instance fan-out surface.
type relay interface {
	Publish(ctx context.Context, event domain.JobProgressEvent) error
}

// ticketJanitor reclaims expired connect tickets.
type ticketJanitor interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Service is the application layer: one instance constructed at startup and
// passed by handle to every collaborator that publishes progress events.
type Service struct {
	hub     broadcaster
	relay   relay
	tickets domain.TicketRepository
	janitor ticketJanitor
	clock   clockwork.Clock

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ domain.Notifier = (*Service)(nil)

// NewService creates the application service. relay may be nil in
// single-instance deployments; publishes then go straight to the local hub.
func NewService(hub broadcaster, r relay, tickets domain.TicketRepository, janitor ticketJanitor, clock clockwork.Clock) *Service {
	s := &Service{
		hub:     hub,
		relay:   r,
		tickets: tickets,
		janitor: janitor,
		clock:   clock,
		stopCh:  make(chan struct{}),
	}
	if janitor != nil {
		s.startTicketCleanup()
	}
	return s
}

// PublishJobProgress routes one progress event through the relay so every
// instance delivers to its local connections. If the relay is down the event
// still reaches clients connected to this instance. Fire-and-forget: the
// caller never sees delivery errors.
func (s *Service) PublishJobProgress(ctx context.Context, event domain.JobProgressEvent) {
	if s.relay == nil {
		s.hub.PublishJobProgress(ctx, event)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.relay.Publish(pubCtx, event); err != nil {
		slog.Warn("Relay publish failed, delivering local-only",
			"job_id", event.JobID,
			"error", err,
		)
		s.hub.PublishJobProgress(ctx, event)
	}
}

// IssueTicket creates a single-use connect ticket for the given identity.
func (s *Service) IssueTicket(ctx context.Context, userID, ownerClientID string, ttl time.Duration) (*domain.Ticket, error) {
	return s.tickets.Issue(ctx, userID, ownerClientID, ttl)
}

// startTicketCleanup reclaims expired tickets on a fixed period.
func (s *Service) startTicketCleanup() {
	ticker := s.clock.NewTicker(ticketCleanupInterval)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				removed, err := s.janitor.DeleteExpired(ctx)
				cancel()
				if err != nil {
					slog.Error("Ticket cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Debug("Expired tickets removed", "count", removed)
				}
			case <-s.stopCh:
				return
			}
		}
	}()
}

// Stop halts background work. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
