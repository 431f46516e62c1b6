package audit

import (
	"context"
	"fmt"
	"log/slog"

	"didledger/pkg/platform/middleware/metadata"
	"didledger/pkg/requestcontext"
)

// Publisher stamps events with request context and writes them to a Store.
type Publisher struct {
	store   Store
	sampler *Sampler
	logger  *slog.Logger
}

type PublisherOption func(*Publisher)

// WithSampler applies sampling to operations events.
func WithSampler(s *Sampler) PublisherOption {
	return func(p *Publisher) {
		p.sampler = s
	}
}

func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records an event. Missing category, timestamp, request ID and client
// IP are filled from the action and ctx. Sampled-out events return nil.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Category == "" {
		event.Category = event.Action.Category()
	}
	if event.Category == CategoryOperations && p.sampler != nil && !p.sampler.ShouldSample(event.Action) {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.ClientIP == "" {
		event.ClientIP = metadata.GetClientIP(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "failed to append audit event",
				"action", string(event.Action),
				"did", event.DID,
				"error", err,
			)
		}
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// List returns the events recorded for one identifier.
func (p *Publisher) List(ctx context.Context, did string) ([]Event, error) {
	return p.store.ListByDID(ctx, did)
}
