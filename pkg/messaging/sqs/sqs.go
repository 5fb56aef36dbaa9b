package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/jwalitptl/consult-lifecycle/pkg/logger"
	"github.com/jwalitptl/consult-lifecycle/pkg/messaging"
)

type Config struct {
	Region string
	// Endpoint overrides the AWS endpoint, e.g. for localstack.
	Endpoint string
}

// API is the subset of the SQS client the broker uses.
type API interface {
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, opts ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Broker maps each channel to the SQS queue of the same name.
type Broker struct {
	client API
	logger *logger.Logger

	mu     sync.Mutex
	queues map[string]string
}

func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewBroker(client API, log *logger.Logger) *Broker {
	return &Broker{client: client, logger: log, queues: map[string]string{}}
}

func (b *Broker) queueURL(ctx context.Context, name string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if url, ok := b.queues[name]; ok {
		return url, nil
	}
	resp, err := b.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to get SQS queue URL for %s: %w", name, err)
	}
	b.queues[name] = aws.ToString(resp.QueueUrl)
	return b.queues[name], nil
}

func (b *Broker) Publish(ctx context.Context, channel string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	url, err := b.queueURL(ctx, channel)
	if err != nil {
		return err
	}
	_, err = b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(url),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

func (b *Broker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	url, err := b.queueURL(ctx, channel)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, 100)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			resp, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:            aws.String(url),
				MaxNumberOfMessages: 10,
				WaitTimeSeconds:     5,
			})
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Error(err, "sqs receive failed", "queue", channel)
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
					return
				}
				continue
			}
			for _, msg := range resp.Messages {
				select {
				case out <- []byte(aws.ToString(msg.Body)):
				case <-ctx.Done():
					return
				}
				if _, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
					QueueUrl:      aws.String(url),
					ReceiptHandle: msg.ReceiptHandle,
				}); err != nil {
					b.logger.Warn("sqs delete failed", "queue", channel, "error", err.Error())
				}
			}
		}
	}()
	return out, nil
}

func (b *Broker) Close() error { return nil }

var _ messaging.Broker = (*Broker)(nil)
