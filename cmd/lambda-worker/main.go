package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"litigation-backend/internal/bootstrap"
	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/metrics"
	"litigation-backend/internal/shared/telemetry"
	"litigation-backend/internal/workerproc"
)

var (
	initOnce   sync.Once
	initErr    error
	processors workerproc.Processors
)

func initApp() {
	cfg := config.Load()
	telemetry.Setup(cfg.LogLevel, cfg.LogPretty)
	// The event source mapping owns receive and delete, so no queue client here.
	app, err := bootstrap.Build(context.Background(), cfg, bootstrap.Options{Worker: true, NoQueue: true})
	if err != nil {
		initErr = err
		return
	}
	processors = workerproc.Processors{Quotes: app.Quotes, Documents: app.Documents}
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda_worker.bootstrap_failed", map[string]any{"error": initErr.Error()})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processBatch(ctx, processors, event), nil
}

// processBatch reports only messages worth redelivering as batch item failures.
func processBatch(ctx context.Context, p workerproc.Processors, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		err := processRecord(ctx, p, record)
		switch {
		case err == nil:
			metrics.IncWorkerJob("completed")
		case workerproc.Discard(err):
			telemetry.Error("lambda_worker.discarded", map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()})
			metrics.IncWorkerJob("discarded")
		default:
			telemetry.Error("lambda_worker.failed", map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()})
			metrics.IncWorkerJob("failed")
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func processRecord(ctx context.Context, p workerproc.Processors, record events.SQSMessage) error {
	msg, _, err := workerproc.ParseMessage(record.Body)
	if err != nil {
		return err
	}
	return workerproc.HandleMessage(ctx, p, msg)
}

func main() {
	lambda.Start(handler)
}
