package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"dermassist/internal/model"
	"dermassist/internal/platform/rabbitmq"
)

type Processor interface {
	ProcessDocument(ctx context.Context, job model.IngestJob) error
}

// IngestionWorker consumes ingestion jobs with at most concurrency documents
// in flight. Jobs are acked once processed, including failed documents, since
// the failure is already recorded on the document.
type IngestionWorker struct {
	conn        *amqp.Connection
	processor   Processor
	queueName   string
	concurrency int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestionWorker(conn *amqp.Connection, processor Processor, queueName string, concurrency int) *IngestionWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &IngestionWorker{
		conn:        conn,
		processor:   processor,
		queueName:   queueName,
		concurrency: concurrency,
	}
}

func (w *IngestionWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	if err := ch.Qos(w.concurrency, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	var consumers sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for {
				select {
				case <-workerCtx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					w.handle(workerCtx, d)
				}
			}
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		consumers.Wait()
		_ = ch.Close()
	}()
	return nil
}

func (w *IngestionWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job model.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("worker decode ingest job failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	err := w.processor.ProcessDocument(ctx, job)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		_ = d.Nack(false, true)
	default:
		log.Printf("worker ingest document %d failed: %v", job.DocumentID, err)
		_ = d.Ack(false)
	}
}

func (w *IngestionWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// InlineQueue processes each job synchronously inside Enqueue. It serves the
// CLI and tests, where there is no broker.
type InlineQueue struct {
	processor Processor
}

func NewInlineQueue() *InlineQueue {
	return &InlineQueue{}
}

func (q *InlineQueue) Attach(p Processor) {
	q.processor = p
}

func (q *InlineQueue) Enqueue(ctx context.Context, job model.IngestJob) error {
	if q.processor == nil {
		return errors.New("inline queue has no processor")
	}
	if err := q.processor.ProcessDocument(ctx, job); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("inline ingest document %d failed: %v", job.DocumentID, err)
	}
	return nil
}
