package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging"
)

// AuditSink consumes published lifecycle events and records each one in the
// audit log. Redelivered events are recorded once.
type AuditSink struct {
	broker messaging.Broker
	repo   repository.AuditRepository
	topic  string
	logger *logger.Logger
	now    func() time.Time
}

func NewAuditSink(broker messaging.Broker, repo repository.AuditRepository, topic string, log *logger.Logger) *AuditSink {
	return &AuditSink{
		broker: broker,
		repo:   repo,
		topic:  topic,
		logger: log,
		now:    time.Now,
	}
}

// Start consumes until ctx is done or the subscription closes.
func (s *AuditSink) Start(ctx context.Context) error {
	msgs, err := s.broker.Subscribe(ctx, s.topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.topic, err)
	}
	s.logger.Info("Audit sink subscribed", "topic", s.topic)

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-msgs:
			if !ok {
				return nil
			}
			if err := s.handle(ctx, raw); err != nil {
				s.logger.Error(err, "Failed to record audit log")
			}
		}
	}
}

func (s *AuditSink) handle(ctx context.Context, raw []byte) error {
	var env messaging.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	var evt model.DomainEvent
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return fmt.Errorf("decode %s event %s: %w", env.Type, env.ID, err)
	}
	if err := s.repo.Create(ctx, model.NewAuditLog(evt, env.Payload, s.now())); err != nil {
		return fmt.Errorf("store audit log for event %s: %w", env.ID, err)
	}
	s.logger.Debug("Recorded audit log", "event_id", env.ID, "event_type", env.Type, "case_id", env.AggregateID)
	return nil
}
