package queue

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rotisserie/eris"
)

const defaultRegion = "us-east-1"

const receiveCountAttribute = "ApproximateReceiveCount"

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSClient sends and receives queue messages on AWS SQS.
type SQSClient struct {
	api               SQSAPI
	queueURL          string
	visibilityTimeout time.Duration
	waitTime          time.Duration
}

// NewSQSClient constructs an SQS-backed queue client.
func NewSQSClient(ctx context.Context, region, queueURL string, visibilityTimeout time.Duration) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, eris.New("SQS_QUEUE_URL is required")
	}
	if strings.TrimSpace(region) == "" {
		region = defaultRegion
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "load aws config")
	}
	return NewSQSClientWithAPI(sqs.NewFromConfig(cfg), queueURL, visibilityTimeout), nil
}

// NewSQSClientWithAPI wraps an existing SQS API implementation.
func NewSQSClientWithAPI(api SQSAPI, queueURL string, visibilityTimeout time.Duration) *SQSClient {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 15 * time.Minute
	}
	return &SQSClient{
		api:               api,
		queueURL:          queueURL,
		visibilityTimeout: visibilityTimeout,
		waitTime:          20 * time.Second,
	}
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return eris.Wrap(err, "encode sqs message")
	}
	_, err = s.api.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return eris.Wrap(err, "sqs send message")
	}
	return nil
}

// Receive long-polls for up to max messages.
func (s *SQSClient) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 || max > 10 {
		max = 10
	}
	resp, err := s.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(s.queueURL),
		MaxNumberOfMessages:         int32(max),
		WaitTimeSeconds:             int32(s.waitTime / time.Second),
		VisibilityTimeout:           int32(s.visibilityTimeout / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, eris.Wrap(err, "sqs receive message")
	}
	out := make([]Delivery, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Delivery{
			MessageID:     aws.ToString(m.MessageId),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Body:          aws.ToString(m.Body),
			ReceiveCount:  receiveCount(m.Attributes),
		})
	}
	return out, nil
}

// Delete acknowledges a message.
func (s *SQSClient) Delete(ctx context.Context, receiptHandle string) error {
	if strings.TrimSpace(receiptHandle) == "" {
		return eris.New("missing receipt handle")
	}
	_, err := s.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	return eris.Wrap(err, "sqs delete message")
}

func receiveCount(attrs map[string]string) int {
	raw := attrs[receiveCountAttribute]
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
)
