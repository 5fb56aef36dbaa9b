package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging"
	"github.com/jwalitptl/consult-lifecycle/pkg/metrics"
)

type OutboxProcessorConfig struct {
	Topic        string
	BatchSize    int
	PollInterval time.Duration
	// MaxRetries is the number of failed delivery rounds after which a row
	// is parked as FAILED.
	MaxRetries int
	// RetryDelay is the base delay before a failed row is claimed again. It
	// doubles with every failed round.
	RetryDelay time.Duration
	// PublishAttempts bounds the in-process retries of one publish.
	PublishAttempts uint64
}

// OutboxProcessor relays committed lifecycle events from the outbox table to
// the message broker.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	if config.Topic == "" {
		panic("Topic must be set")
	}
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 5
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	if config.PublishAttempts == 0 {
		config.PublishAttempts = 3
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Starting outbox processor", "topic", p.config.Topic)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if err := p.processEvents(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		}
	}
}

func (p *OutboxProcessor) processEvents(ctx context.Context) error {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	events, err := p.repo.ClaimPending(ctx, p.config.BatchSize, p.now())
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "error").Inc()
		return fmt.Errorf("failed to claim pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("claim_pending_events", "success").Inc()

	for _, event := range events {
		if err := p.processEvent(ctx, event); err != nil {
			p.logger.Error(err, "Failed to process event",
				"event_id", event.ID.String(),
				"event_type", event.EventType)
		}
	}
	return nil
}

func (p *OutboxProcessor) processEvent(ctx context.Context, event *model.OutboxEvent) error {
	env := messaging.Envelope{
		ID:          event.ID.String(),
		Type:        event.EventType,
		AggregateID: event.AggregateID.String(),
		OccurredAt:  event.CreatedAt,
		Payload:     event.Payload,
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(p.backoff(), p.config.PublishAttempts-1), ctx)
	err := backoff.RetryNotify(func() error {
		return p.broker.Publish(ctx, p.config.Topic, env)
	}, policy, func(err error, wait time.Duration) {
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
		p.logger.Warn("Retry publishing event",
			"event_id", event.ID.String(),
			"wait", wait.String(),
			"error", err.Error())
	})

	if err != nil {
		p.metrics.OutboxEventsFailed.Inc()
		retryAt := p.retryAt(event)
		if updateErr := p.repo.MarkFailed(ctx, event.ID, err.Error(), retryAt); updateErr != nil {
			p.logger.Error(updateErr, "Failed to update event status", "event_id", event.ID.String())
		}
		if retryAt == nil {
			p.logger.Warn("Outbox event parked after repeated failures",
				"event_id", event.ID.String(),
				"retry_count", event.RetryCount+1)
		}
		return err
	}

	p.metrics.OutboxEventsProcessed.Inc()
	if err := p.repo.MarkProcessed(ctx, event.ID, p.now()); err != nil {
		p.logger.Error(err, "Failed to update event status", "event_id", event.ID.String())
		return err
	}
	return nil
}

func (p *OutboxProcessor) backoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// retryAt schedules the next delivery round, or returns nil once the row has
// used up its rounds.
func (p *OutboxProcessor) retryAt(event *model.OutboxEvent) *time.Time {
	if event.RetryCount+1 >= p.config.MaxRetries {
		return nil
	}
	at := p.now().Add(p.config.RetryDelay << uint(event.RetryCount))
	return &at
}
