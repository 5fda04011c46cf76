package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Publisher sends canonical events to consumers.
type Publisher interface {
	Publish(ctx context.Context, aggregate, requestID string, evt CanonicalEvent) error
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher writes envelopes to an SQS queue. It also delivers outbox
// entries, which already hold a marshalled envelope.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

var (
	_ Publisher       = (*SQSPublisher)(nil)
	_ DeliveryHandler = (*SQSPublisher)(nil)
)

// NewSQSPublisher creates a publisher around the provided SQS client.
func NewSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) Publish(ctx context.Context, aggregate, requestID string, evt CanonicalEvent) error {
	env, err := NewEnvelope(aggregate, requestID, evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	return p.send(ctx, env.EventType, env.ResourceKey, body)
}

func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	var env Envelope
	if err := json.Unmarshal(entry.Payload, &env); err != nil {
		return fmt.Errorf("events: outbox entry %s: %w", entry.ID, err)
	}
	return p.send(ctx, entry.Type, env.ResourceKey, entry.Payload)
}

// send adds the event type and, when known, the resource key as message
// attributes so consumers can filter without parsing the body.
func (p *SQSPublisher) send(ctx context.Context, eventType, resourceKey string, body []byte) error {
	attrs := map[string]sqstypes.MessageAttributeValue{
		"event_type": {
			DataType:    aws.String("String"),
			StringValue: aws.String(eventType),
		},
	}
	if resourceKey != "" {
		attrs["resource_key"] = sqstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(resourceKey),
		}
	}
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(p.queueURL),
		MessageBody:       aws.String(string(body)),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}

// NopPublisher drops every event. Used when no queue is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, CanonicalEvent) error { return nil }
