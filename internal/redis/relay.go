package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/promora/beacon/internal/domain"
	"github.com/promora/beacon/internal/metrics"
)

const progressChannel = "beacon:job_progress"

// Relay fans job-progress events out across instances via Redis Pub/Sub.
// Every instance subscribes to one shared channel and delivers received
// events to its local hub, so a publish on any instance reaches every
// connected client regardless of which instance holds its socket.
type Relay struct {
	rdb    *goredis.Client
	sub    *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRelay(rdb *goredis.Client) *Relay {
	return &Relay{rdb: rdb}
}

// Publish sends one event to the shared channel.
func (r *Relay) Publish(ctx context.Context, event domain.JobProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}
	if err := r.rdb.Publish(ctx, progressChannel, data).Err(); err != nil {
		metrics.RelayPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	metrics.RelayPublishedTotal.WithLabelValues("success").Inc()
	return nil
}

// Start subscribes to the shared channel and invokes handler for every
// received event until Stop is called. go-redis re-subscribes on connection
// loss; the gauge tracks observed liveness of the subscription.
func (r *Relay) Start(ctx context.Context, handler func(domain.JobProgressEvent)) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.sub = r.rdb.Subscribe(ctx, progressChannel)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		metrics.RelaySubscriptionActive.Set(1)
		defer metrics.RelaySubscriptionActive.Set(0)

		msgCh := r.sub.Channel()
		for {
			select {
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				var event domain.JobProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					slog.Error("Failed to unmarshal relayed progress event", "error", err)
					continue
				}
				metrics.RelayReceivedTotal.Inc()
				handler(event)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes and waits for the receive goroutine to exit.
func (r *Relay) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.sub != nil {
		_ = r.sub.Close()
	}
	if r.done != nil {
		<-r.done
	}
}
