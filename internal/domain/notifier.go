package domain

import "context"

// Notifier is the narrow publish surface task runners see. Publishing is
// fire-and-forget: delivery failures never propagate back to the runner.
type Notifier interface {
	PublishJobProgress(ctx context.Context, event JobProgressEvent)
}
