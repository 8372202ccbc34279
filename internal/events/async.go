package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"phone-auth-service/internal/models"
)

// Async queues events and publishes them from Run, so request handlers never
// wait on Kafka or Elasticsearch. A full queue drops the event.
type Async struct {
	next    Publisher
	queue   chan *models.SecurityEvent
	timeout time.Duration
	logger  *zap.Logger
}

func NewAsync(next Publisher, size int, timeout time.Duration, logger *zap.Logger) *Async {
	if size <= 0 {
		size = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{
		next:    next,
		queue:   make(chan *models.SecurityEvent, size),
		timeout: timeout,
		logger:  logger,
	}
}

func (a *Async) Publish(_ context.Context, event *models.SecurityEvent) error {
	select {
	case a.queue <- event:
	default:
		a.logger.Warn("Security event queue full, dropping event",
			zap.String("event_type", string(event.EventType)))
	}
	return nil
}

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case event := <-a.queue:
			a.deliver(event)
		case <-ctx.Done():
			for {
				select {
				case event := <-a.queue:
					a.deliver(event)
				default:
					return nil
				}
			}
		}
	}
}

func (a *Async) deliver(event *models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.next.Publish(ctx, event); err != nil {
		a.logger.Warn("Failed to publish security event",
			zap.String("event_type", string(event.EventType)),
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
}
