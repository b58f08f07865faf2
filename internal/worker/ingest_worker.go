package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"compliance-doc-engine/internal/platform/rabbitmq"
)

// Processor runs one full processing attempt for a document.
type Processor interface {
	Process(ctx context.Context, documentID uint) error
}

// IngestWorker consumes ingestion jobs with a pool of concurrent consumers.
// Each worker handles one document at a time; documents are never fanned out
// across workers, which keeps the chunk replace atomic per document.
type IngestWorker struct {
	conn      *amqp.Connection
	processor Processor
	queueName string
	workers   int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, processor Processor, queueName string, workers int) *IngestWorker {
	if workers <= 0 {
		workers = 2
	}
	return &IngestWorker{
		conn:      conn,
		processor: processor,
		queueName: queueName,
		workers:   workers,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
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

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	// Hand each worker at most one unacked job at a time.
	if err := ch.Qos(w.workers, 0, false); err != nil {
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

	var closeOnce sync.Once
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer closeOnce.Do(func() { _ = ch.Close() })
			w.consume(workerCtx, deliveries)
		}()
	}
	return nil
}

func (w *IngestWorker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			var job rabbitmq.IngestJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				log.Printf("worker decode ingest job failed: %v", err)
				_ = d.Nack(false, false)
				continue
			}

			// Process records failures on the document row itself; an error
			// here means the attempt could not even be recorded, so requeue.
			if err := w.processor.Process(ctx, job.DocumentID); err != nil {
				log.Printf("worker process document %d failed: %v", job.DocumentID, err)
				_ = d.Nack(false, true)
				continue
			}

			_ = d.Ack(false)
		}
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
