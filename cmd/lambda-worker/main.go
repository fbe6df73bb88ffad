package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/ingest"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/workerproc"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return handleBatch(ctx, app.Pipeline, app.Config.WorkerMaxDeliveries, event), nil
}

// handleBatch reports only retryable failures back to SQS. Malformed payloads
// are logged and dropped since redelivery cannot fix them. On the last allowed
// receive the document is abandoned instead of being left for the DLQ.
func handleBatch(ctx context.Context, processor workerproc.Processor, maxDeliveries int, event events.SQSEvent) events.SQSEventResponse {
	if maxDeliveries <= 0 {
		maxDeliveries = ingest.DefaultMaxDeliveries
	}
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		err := workerproc.HandleMessage(ctx, processor, record.Body)
		if err == nil {
			metrics.IncQueueMessage("completed")
			continue
		}
		receives, _ := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
		fields := map[string]any{
			"sqs_message_id": record.MessageId,
			"receive_count":  receives,
			"error":          err.Error(),
		}
		if workerproc.Unrecoverable(err) {
			telemetry.Error("lambda.ingest.unrecoverable", fields)
			metrics.IncQueueMessage("unrecoverable")
			continue
		}
		if receives >= maxDeliveries {
			msg, _, _ := workerproc.ParseMessage(record.Body)
			abErr := workerproc.AbandonMessage(ctx, processor, msg, err)
			if abErr == nil {
				telemetry.Error("lambda.ingest.dropped", fields)
				metrics.IncQueueMessage("dropped")
				continue
			}
			fields["abandon_error"] = abErr.Error()
		}
		telemetry.Error("lambda.ingest.failed", fields)
		metrics.IncQueueMessage("failed")
		failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
