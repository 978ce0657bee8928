package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"litigation-backend/internal/bootstrap"
	"litigation-backend/internal/queue"
	"litigation-backend/internal/shared/config"
	"litigation-backend/internal/shared/metrics"
	"litigation-backend/internal/shared/telemetry"
	"litigation-backend/internal/workerproc"
)

const (
	receiveBatch       = 10
	receiveWaitSeconds = 20
	receiveBackoff     = 2 * time.Second
)

func main() {
	cfg := config.Load()
	telemetry.Setup(cfg.LogLevel, cfg.LogPretty)

	if strings.TrimSpace(cfg.QueueURL) == "" {
		telemetry.Error("worker.missing_queue_url", nil)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.Options{Worker: true})
	if err != nil {
		telemetry.Error("worker.bootstrap_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer app.Close()

	client, err := queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
	if err != nil {
		telemetry.Error("worker.queue_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	sched, err := app.Scheduler()
	if err != nil {
		telemetry.Error("worker.scheduler_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	processors := workerproc.Processors{Quotes: app.Quotes, Documents: app.Documents}
	concurrency := max(1, cfg.WorkerConcurrency)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{"concurrency": concurrency})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		deliveries, err := client.Receive(ctx, receiveBatch, receiveWaitSeconds)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Warn("worker.receive_failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				break pollLoop
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, d := range deliveries {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncWorkerJob("received")
			wg.Add(1)
			go func(d queue.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				// Jobs finish on shutdown; the signal only stops polling.
				handleMessage(context.WithoutCancel(ctx), client, processors, d)
			}(d)
		}
	}

	telemetry.Info("worker.draining", map[string]any{"timeout": cfg.WorkerShutdown.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.WorkerShutdown):
		telemetry.Warn("worker.shutdown_timeout", nil)
	}
}

func handleMessage(ctx context.Context, client queue.Consumer, p workerproc.Processors, d queue.Delivery) {
	msg, meta, err := workerproc.ParseMessage(d.Body)
	if err != nil {
		fields := baseFields(d, queue.Message{})
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.decode_failed", fields)
		discard(ctx, client, d, queue.Message{})
		return
	}

	telemetry.Info("worker.received", baseFields(d, msg))

	err = workerproc.HandleMessage(ctx, p, msg)
	if err == nil {
		if deleteMessage(ctx, client, d, msg) {
			telemetry.Info("worker.completed", baseFields(d, msg))
			metrics.IncWorkerJob("completed")
		}
		return
	}

	fields := baseFields(d, msg)
	fields["error"] = err.Error()

	var unknown workerproc.ErrUnknownKind
	var procErr workerproc.ErrProcess
	switch {
	case errors.As(err, &unknown):
		telemetry.Error("worker.unknown_kind", fields)
		discard(ctx, client, d, msg)
	case errors.As(err, &procErr) && !procErr.Retryable():
		telemetry.Error("worker.target_missing", fields)
		discard(ctx, client, d, msg)
	default:
		// Left on the queue; it becomes visible again after the visibility timeout.
		telemetry.Error("worker.failed", fields)
		metrics.IncWorkerJob("failed")
	}
}

func discard(ctx context.Context, client queue.Consumer, d queue.Delivery, msg queue.Message) {
	if deleteMessage(ctx, client, d, msg) {
		metrics.IncWorkerJob("discarded")
	}
}

func deleteMessage(ctx context.Context, client queue.Consumer, d queue.Delivery, msg queue.Message) bool {
	if d.ReceiptHandle == "" {
		fields := baseFields(d, msg)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.delete_failed", fields)
		return false
	}
	if err := client.Delete(ctx, d.ReceiptHandle); err != nil {
		fields := baseFields(d, msg)
		fields["error"] = err.Error()
		telemetry.Error("worker.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(d queue.Delivery, msg queue.Message) map[string]any {
	fields := map[string]any{
		"sqs_message_id": d.MessageID,
	}
	if msg.Kind != "" {
		fields["kind"] = msg.Kind
		fields["target_id"] = msg.TargetID
	}
	if strings.TrimSpace(msg.RequestID) != "" {
		fields["request_id"] = msg.RequestID
	}
	return fields
}
