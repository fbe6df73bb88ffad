package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/workerproc"
)

const (
	DefaultConcurrency     = 4
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxDeliveries   = 5
)

// Pool pulls deliveries from a queue and runs up to Concurrency of them at
// once. Successful and unrecoverable messages are acked; processing errors
// are nacked for redelivery until MaxDeliveries is reached, at which point the
// processor is asked to abandon the document before the message is dropped.
type Pool struct {
	Consumer        queue.Consumer
	Processor       workerproc.Processor
	Concurrency     int
	ShutdownTimeout time.Duration
	MaxDeliveries   int

	// retryWait spaces out receive errors.
	retryWait time.Duration
}

// Run blocks until ctx is cancelled, then waits up to ShutdownTimeout for
// in-flight deliveries. In-flight work is not cancelled by ctx.
func (p *Pool) Run(ctx context.Context) error {
	if p.Consumer == nil || p.Processor == nil {
		return errors.New("worker pool requires a consumer and a processor")
	}
	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	shutdownTimeout := p.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	retryWait := p.retryWait
	if retryWait <= 0 {
		retryWait = time.Second
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	work := context.WithoutCancel(ctx)

	telemetry.Info("worker.started", map[string]any{"concurrency": concurrency})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		deliveries, err := p.Consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				break pollLoop
			case <-time.After(retryWait):
			}
			continue
		}

		for _, d := range deliveries {
			select {
			case <-ctx.Done():
				// not started; leave it for redelivery
				_ = d.Nack(work)
				continue
			case sem <- struct{}{}:
			}
			metrics.IncQueueMessage("received")
			wg.Add(1)
			go func(d queue.Delivery) {
				defer wg.Done()
				defer func() { <-sem }()
				p.handle(work, d)
			}(d)
		}
	}

	telemetry.Info("worker.draining", map[string]any{"timeout_ms": shutdownTimeout.Milliseconds()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
		return nil
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", nil)
		return fmt.Errorf("shutdown timeout after %s with jobs in flight", shutdownTimeout)
	}
}

func (p *Pool) handle(ctx context.Context, d queue.Delivery) {
	body := string(d.Body())
	msg, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := deliveryFields(d, msg)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.ingest.unrecoverable", fields)
		p.ack(ctx, d, msg, "unrecoverable")
		return
	}

	telemetry.Info("worker.ingest.received", deliveryFields(d, msg))

	err = p.process(workerproc.WithParsedMessage(ctx, msg), body)
	if err == nil {
		p.ack(ctx, d, msg, "completed")
		return
	}

	fields := deliveryFields(d, msg)
	fields["error"] = err.Error()
	if workerproc.Unrecoverable(err) {
		telemetry.Error("worker.ingest.unrecoverable", fields)
		p.ack(ctx, d, msg, "unrecoverable")
		return
	}
	maxDeliveries := p.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = DefaultMaxDeliveries
	}
	if d.ReceiveCount() >= maxDeliveries {
		if abErr := workerproc.AbandonMessage(ctx, p.Processor, msg, err); abErr != nil {
			// keep the message; dropping it now would strand the document
			fields["abandon_error"] = abErr.Error()
			telemetry.Error("worker.ingest.abandon_failed", fields)
			p.nack(ctx, d, fields)
			return
		}
		telemetry.Error("worker.ingest.dropped", fields)
		p.ack(ctx, d, msg, "dropped")
		return
	}
	telemetry.Error("worker.ingest.failed", fields)
	p.nack(ctx, d, fields)
}

func (p *Pool) nack(ctx context.Context, d queue.Delivery, fields map[string]any) {
	metrics.IncQueueMessage("failed")
	if nackErr := d.Nack(ctx); nackErr != nil {
		fields["error"] = nackErr.Error()
		telemetry.Error("worker.ingest.nack_failed", fields)
	}
}

// process shields the pool from panics in the pipeline.
func (p *Pool) process(ctx context.Context, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return workerproc.HandleMessage(ctx, p.Processor, body)
}

func (p *Pool) ack(ctx context.Context, d queue.Delivery, msg queue.Message, result string) {
	if err := d.Ack(ctx); err != nil {
		fields := deliveryFields(d, msg)
		fields["error"] = err.Error()
		telemetry.Error("worker.ingest.ack_failed", fields)
		return
	}
	metrics.IncQueueMessage(result)
	if result == "completed" {
		telemetry.Info("worker.ingest.completed", deliveryFields(d, msg))
	}
}

func deliveryFields(d queue.Delivery, msg queue.Message) map[string]any {
	fields := map[string]any{
		"message_id":    d.ID(),
		"receive_count": d.ReceiveCount(),
	}
	if msg.TenantID != "" {
		fields["tenant_id"] = msg.TenantID
	}
	if msg.DocumentID != "" {
		fields["document_id"] = msg.DocumentID
	}
	if msg.RequestID != "" {
		fields["request_id"] = msg.RequestID
	}
	return fields
}
