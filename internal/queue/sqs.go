package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const defaultSQSRegion = "us-east-1"

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// SQSClient sends and receives queue messages through AWS SQS.
type SQSClient struct {
	client            sqsAPI
	queueURL          string
	maxMessages       int32
	waitSeconds       int32
	visibilitySeconds int32
}

// SQSOptions configures NewSQSClient.
type SQSOptions struct {
	QueueURL          string
	Region            string
	VisibilitySeconds int
}

// NewSQSClient constructs an SQS-backed queue.
func NewSQSClient(ctx context.Context, opts SQSOptions) (*SQSClient, error) {
	queueURL := strings.TrimSpace(opts.QueueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}
	region := strings.TrimSpace(opts.Region)
	if region == "" {
		region = defaultSQSRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return newSQSClient(sqs.NewFromConfig(cfg), queueURL, opts.VisibilitySeconds), nil
}

func newSQSClient(api sqsAPI, queueURL string, visibility int) *SQSClient {
	if visibility <= 0 {
		visibility = 1200
	}
	return &SQSClient{
		client:            api,
		queueURL:          queueURL,
		maxMessages:       10,
		waitSeconds:       20,
		visibilitySeconds: int32(visibility),
	}
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to ten messages.
func (s *SQSClient) Receive(ctx context.Context) ([]Delivery, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: s.maxMessages,
		WaitTimeSeconds:     s.waitSeconds,
		VisibilityTimeout:   s.visibilitySeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("sqs receive: %w", err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		count, _ := strconv.Atoi(m.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
		deliveries = append(deliveries, &sqsDelivery{
			s:       s,
			id:      aws.ToString(m.MessageId),
			body:    []byte(aws.ToString(m.Body)),
			receipt: aws.ToString(m.ReceiptHandle),
			count:   count,
		})
	}
	return deliveries, nil
}

type sqsDelivery struct {
	s       *SQSClient
	id      string
	body    []byte
	receipt string
	count   int
}

func (d *sqsDelivery) ID() string        { return d.id }
func (d *sqsDelivery) Body() []byte      { return d.body }
func (d *sqsDelivery) ReceiveCount() int { return d.count }

func (d *sqsDelivery) Ack(ctx context.Context) error {
	_, err := d.s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.s.queueURL),
		ReceiptHandle: aws.String(d.receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Nack makes the message visible again right away.
func (d *sqsDelivery) Nack(ctx context.Context) error {
	_, err := d.s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(d.s.queueURL),
		ReceiptHandle:     aws.String(d.receipt),
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
)
