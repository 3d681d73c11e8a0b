// Package queue hands partner-transfer work to other services over SQS.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// Message is a typed envelope placed on the transfer queue.
type Message struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type Publisher interface {
	Send(ctx context.Context, msg Message) error
}

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, opts ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher sends messages to one queue. The queue URL is resolved once.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

func NewSQSPublisher(ctx context.Context, cfg aws.Config, queueName string) (*SQSPublisher, error) {
	client := sqs.New(sqs.Options{
		Region:       cfg.Region,
		Credentials:  cfg.Credentials,
		HTTPClient:   cfg.HTTPClient,
		BaseEndpoint: cfg.BaseEndpoint,
	})
	resp, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(queueName)})
	if err != nil {
		return nil, fmt.Errorf("get queue url for %s: %w", queueName, err)
	}
	return &SQSPublisher{client: client, queueURL: aws.ToString(resp.QueueUrl)}, nil
}

func (p *SQSPublisher) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(msg.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs send %s: %w", msg.Type, err)
	}
	return nil
}

// Recorder keeps sent messages in memory for development and tests.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	// Err, when set, is returned by Send.
	Err error
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
