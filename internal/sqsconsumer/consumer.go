// Package sqsconsumer pulls batches of inference requests off an SQS queue
// and feeds them to the batch processor. Per-record failures are reported
// in-band by the processor, so every received message is deleted once its
// batch returns; only whole-batch rejections leave messages on the queue
// for redelivery.
package sqsconsumer

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	router "github.com/tessera-ops/bedrock-router"
	"github.com/tessera-ops/bedrock-router/internal/logging"
)

// API is the subset of the SQS client used by the consumer.
type API interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// Processor is the batch entry point the consumer drives.
type Processor interface {
	ProcessBatch(ctx context.Context, records []router.Record, routing router.RoutingConfig) router.BatchResult
}

// Consumer long-polls one queue and processes messages in receive order.
type Consumer struct {
	client      API
	queueURL    string
	processor   Processor
	loadRouting func() router.RoutingConfig
	logger      *slog.Logger

	// WaitTime is the long-poll duration per receive. Defaults to 20s.
	WaitTime time.Duration
}

// New creates a Consumer. loadRouting is called once per received batch.
func New(client API, queueURL string, processor Processor, loadRouting func() router.RoutingConfig, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:      client,
		queueURL:    queueURL,
		processor:   processor,
		loadRouting: loadRouting,
		logger:      logger,
		WaitTime:    20 * time.Second,
	}
}

// Run polls until ctx is cancelled. Receive errors are logged and retried
// after a short backoff rather than stopping the consumer.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     int32(c.WaitTime / time.Second),
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("sqs receive failed", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if len(out.Messages) == 0 {
			continue
		}

		c.processMessages(ctx, out.Messages)
	}
}

func (c *Consumer) processMessages(ctx context.Context, msgs []sqstypes.Message) {
	ctx = logging.WithRequestID(ctx, logging.NewRequestID())
	log := logging.FromContext(ctx)

	records := make([]router.Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, router.Record{Body: aws.ToString(m.Body)})
	}

	result := c.processor.ProcessBatch(ctx, records, c.loadRouting())
	log.Info("batch processed",
		"messages", len(msgs),
		"status", result.StatusCode,
		"processed", result.ProcessedCount,
	)
	if result.StatusCode != 200 {
		// Leave the messages for redelivery; the batch itself was not
		// processable.
		return
	}

	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(msgs))
	for i, m := range msgs {
		id := aws.ToString(m.MessageId)
		if id == "" {
			id = strconv.Itoa(i)
		}
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(id),
			ReceiptHandle: m.ReceiptHandle,
		})
	}
	if _, err := c.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(c.queueURL),
		Entries:  entries,
	}); err != nil {
		log.Error("sqs delete failed", "error", err.Error())
	}
}
