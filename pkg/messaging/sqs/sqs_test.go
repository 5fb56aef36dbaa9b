package sqs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*sqs.GetQueueUrlOutput), args.Error(1)
}

func (m *mockAPI) SendMessage(ctx context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*sqs.SendMessageOutput), args.Error(1)
}

func (m *mockAPI) ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *mockAPI) DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(*sqs.DeleteMessageOutput), args.Error(1)
}

const queueURL = "https://sqs.local/000000000000/consult-lifecycle"

func TestBroker_PublishResolvesQueueOnce(t *testing.T) {
	api := new(mockAPI)
	api.On("GetQueueUrl", mock.Anything, mock.MatchedBy(func(in *sqs.GetQueueUrlInput) bool {
		return aws.ToString(in.QueueName) == "consult-lifecycle"
	})).Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(queueURL)}, nil).Once()
	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageInput) bool {
		var body map[string]string
		_ = json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &body)
		return aws.ToString(in.QueueUrl) == queueURL && body["type"] == "CaseSubmitted"
	})).Return(&sqs.SendMessageOutput{}, nil).Twice()

	b := NewBroker(api, logger.Nop())
	msg := map[string]string{"type": "CaseSubmitted"}
	require.NoError(t, b.Publish(context.Background(), "consult-lifecycle", msg))
	require.NoError(t, b.Publish(context.Background(), "consult-lifecycle", msg))

	api.AssertExpectations(t)
}

func TestBroker_SubscribeDeliversAndDeletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := new(mockAPI)
	api.On("GetQueueUrl", mock.Anything, mock.Anything).
		Return(&sqs.GetQueueUrlOutput{QueueUrl: aws.String(queueURL)}, nil)
	api.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{Messages: []types.Message{
			{Body: aws.String(`{"id":"1"}`), ReceiptHandle: aws.String("rh-1")},
		}}, nil).Once()
	api.On("ReceiveMessage", mock.Anything, mock.Anything).
		Return(&sqs.ReceiveMessageOutput{}, nil).Maybe()
	deleted := make(chan struct{})
	api.On("DeleteMessage", mock.Anything, mock.MatchedBy(func(in *sqs.DeleteMessageInput) bool {
		return aws.ToString(in.ReceiptHandle) == "rh-1"
	})).Return(&sqs.DeleteMessageOutput{}, nil).Once().Run(func(mock.Arguments) { close(deleted) })

	b := NewBroker(api, logger.Nop())
	ch, err := b.Subscribe(ctx, "consult-lifecycle")
	require.NoError(t, err)

	select {
	case body := <-ch:
		assert.JSONEq(t, `{"id":"1"}`, string(body))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	select {
	case <-deleted:
	case <-time.After(time.Second):
		t.Fatal("message was not deleted")
	}
}
