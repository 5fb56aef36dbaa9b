package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/pkg/circuitbreaker"
	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging"
)

// stubClient overrides the calls the broker makes on a UniversalClient.
type stubClient struct {
	redis.UniversalClient
	mock.Mock
}

func (m *stubClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	args := m.Called(channel, message)
	return redis.NewIntResult(int64(args.Int(0)), args.Error(1))
}

func (m *stubClient) Close() error {
	return m.Called().Error(0)
}

func TestRedisBroker_PublishSendsJSON(t *testing.T) {
	client := new(stubClient)
	env := messaging.Envelope{ID: "evt-1", Type: "case.submitted", AggregateID: "case-1"}
	client.On("Publish", "lifecycle.events", mock.MatchedBy(func(payload []byte) bool {
		var got messaging.Envelope
		return json.Unmarshal(payload, &got) == nil && got.ID == "evt-1" && got.AggregateID == "case-1"
	})).Return(1, nil).Once()

	b := NewRedisBroker(client, logger.Nop())
	require.NoError(t, b.Publish(context.Background(), "lifecycle.events", env))
	client.AssertExpectations(t)
}

func TestRedisBroker_PublishRejectsUnencodableMessage(t *testing.T) {
	client := new(stubClient)
	b := NewRedisBroker(client, logger.Nop())

	err := b.Publish(context.Background(), "lifecycle.events", make(chan int))
	assert.ErrorContains(t, err, "failed to marshal message")
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestRedisBroker_OpensBreakerAfterRepeatedFailures(t *testing.T) {
	client := new(stubClient)
	down := errors.New("connection refused")
	client.On("Publish", "lifecycle.events", mock.Anything).Return(0, down)

	b := NewRedisBroker(client, logger.Nop())
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, b.Publish(context.Background(), "lifecycle.events", "x"), down)
	}

	err := b.Publish(context.Background(), "lifecycle.events", "x")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	client.AssertNumberOfCalls(t, "Publish", 5)
}

func TestRedisBroker_CloseClosesClient(t *testing.T) {
	client := new(stubClient)
	client.On("Close").Return(nil).Once()

	require.NoError(t, NewRedisBroker(client, logger.Nop()).Close())
	client.AssertExpectations(t)
}
