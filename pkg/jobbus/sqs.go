package jobbus

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSQueue is the production Queue/EventBus, backed by one SQS queue URL
// per instance (dialogue-jobs, judge-jobs, and run-judged each get their
// own SQSQueue[T] with the matching message type).
type SQSQueue[T any] struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue constructs an SQS-backed Queue for queueURL. region
// selects the AWS region; baseURL, if non-empty, overrides the service
// endpoint (used against a local SQS-compatible stub in tests).
func NewSQSQueue[T any](ctx context.Context, region, queueURL, baseURL string) (*SQSQueue[T], error) {
	if queueURL == "" {
		return nil, fmt.Errorf("jobbus: queue URL required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("jobbus: load AWS config: %w", err)
	}

	var opts []func(*sqs.Options)
	if baseURL != "" {
		opts = append(opts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(baseURL)
		})
	}

	return &SQSQueue[T]{client: sqs.NewFromConfig(awsCfg, opts...), queueURL: queueURL}, nil
}

func (q *SQSQueue[T]) Send(ctx context.Context, body T) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("jobbus: marshal message: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	return err
}

// Publish is an alias for Send, satisfying EventBus.
func (q *SQSQueue[T]) Publish(ctx context.Context, event T) error {
	return q.Send(ctx, event)
}

func (q *SQSQueue[T]) Receive(ctx context.Context, maxMessages int, waitTime time.Duration) ([]Message[T], error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitTime.Seconds()),
	})
	if err != nil {
		return nil, err
	}

	messages := make([]Message[T], 0, len(out.Messages))
	for _, m := range out.Messages {
		var body T
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &body); err != nil {
			return nil, fmt.Errorf("jobbus: unmarshal message %s: %w", aws.ToString(m.MessageId), err)
		}
		messages = append(messages, Message[T]{Body: body, ReceiptHandle: aws.ToString(m.ReceiptHandle)})
	}
	return messages, nil
}

func (q *SQSQueue[T]) Delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return err
}

// Depth satisfies jobbus.DepthReporter via SQS's approximate visible
// message count. "Approximate" per SQS semantics: eventually consistent,
// not exact under concurrent consumers.
func (q *SQSQueue[T]) Depth(ctx context.Context) (int64, error) {
	out, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	if err != nil {
		return 0, err
	}
	raw := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("jobbus: parse queue depth: %w", err)
	}
	return n, nil
}
