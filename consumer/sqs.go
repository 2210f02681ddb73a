package consumer

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of the SQS client the consumer uses.
type SQSAPI interface {
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS publishes records to an SQS queue, base64 encoded.
type SQS struct {
	client   SQSAPI
	queueURL string
}

// NewSQS builds a client from the default AWS credential chain.
func NewSQS(ctx context.Context, queueURL, region string) (*SQS, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	return NewSQSWithClient(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSWithClient wraps an existing client.
func NewSQSWithClient(client SQSAPI, queueURL string) *SQS {
	return &SQS{client: client, queueURL: queueURL}
}

// Available checks that the queue answers.
func (q *SQS) Available(ctx context.Context) bool {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	return err == nil
}

// Send publishes record as one message body, base64 encoded.
func (q *SQS) Send(ctx context.Context, record []byte) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(base64.StdEncoding.EncodeToString(record)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// Close is a no-op.
func (q *SQS) Close() error { return nil }
