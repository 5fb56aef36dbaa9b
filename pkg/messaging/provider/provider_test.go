package provider

import (
	"context"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/internal/config"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/kafka"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/redis"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging/sqs"
)

func brokerConfig(driver string) *config.Config {
	cfg := &config.Config{}
	cfg.Broker.Driver = driver
	return cfg
}

func TestNewBroker_RedisReusesClient(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})

	b, err := NewBroker(context.Background(), brokerConfig("redis"), client, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &redis.RedisBroker{}, b)
	assert.NoError(t, b.Close())
}

func TestNewBroker_RedisRejectsBadURL(t *testing.T) {
	cfg := brokerConfig("redis")
	cfg.Redis.URL = "not-a-url"

	_, err := NewBroker(context.Background(), cfg, nil, logger.Nop())
	assert.ErrorContains(t, err, "failed to parse Redis URL")
}

func TestNewBroker_Kafka(t *testing.T) {
	cfg := brokerConfig("kafka")
	cfg.Broker.KafkaBrokers = []string{"127.0.0.1:9092"}
	cfg.Broker.KafkaGroup = "consult-lifecycle"

	b, err := NewBroker(context.Background(), cfg, nil, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &kafka.Broker{}, b)
	assert.NoError(t, b.Close())
}

func TestNewBroker_KafkaRequiresBrokers(t *testing.T) {
	_, err := NewBroker(context.Background(), brokerConfig("kafka"), nil, logger.Nop())
	assert.ErrorContains(t, err, "no brokers configured")
}

func TestNewBroker_SQS(t *testing.T) {
	cfg := brokerConfig("sqs")
	cfg.Broker.SQSRegion = "us-east-1"
	cfg.Broker.SQSEndpoint = "http://127.0.0.1:4566"

	b, err := NewBroker(context.Background(), cfg, nil, logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, &sqs.Broker{}, b)
}

func TestNewBroker_UnknownDriver(t *testing.T) {
	_, err := NewBroker(context.Background(), brokerConfig("nats"), nil, logger.Nop())
	assert.EqualError(t, err, `unknown broker driver "nats"`)
}
