// Package provider builds the configured messaging.Broker.
package provider

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jwalitptl/consult-lifecycle/internal/config"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/kafka"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/redis"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/sqs"
)

// NewBroker returns the broker selected by cfg.Broker.Driver. The redis
// driver reuses client when it is non-nil.
func NewBroker(ctx context.Context, cfg *config.Config, client *goredis.Client, log *logger.Logger) (messaging.Broker, error) {
	switch cfg.Broker.Driver {
	case "redis":
		if client == nil {
			var err error
			client, err = redis.NewClient(ctx, redis.Config{
				URL:          cfg.Redis.URL,
				MaxRetries:   cfg.Redis.MaxRetries,
				RetryBackoff: cfg.Redis.RetryBackoff,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
			})
			if err != nil {
				return nil, err
			}
		}
		return redis.NewRedisBroker(client, log), nil
	case "kafka":
		return kafka.NewBroker(kafka.Config{
			Brokers: cfg.Broker.KafkaBrokers,
			GroupID: cfg.Broker.KafkaGroup,
		}, log)
	case "sqs":
		client, err := sqs.NewClient(ctx, sqs.Config{
			Region:   cfg.Broker.SQSRegion,
			Endpoint: cfg.Broker.SQSEndpoint,
		})
		if err != nil {
			return nil, err
		}
		return sqs.NewBroker(client, log), nil
	default:
		return nil, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver)
	}
}
