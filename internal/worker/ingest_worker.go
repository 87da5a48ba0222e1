package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"docingest/internal/app"
	"docingest/internal/model"
)

type IngestHandler interface {
	Process(ctx context.Context, req app.DocumentRequest) (*app.DocumentResult, error)
	Reprocess(ctx context.Context, documentID string, opts app.ReprocessOptions) (*app.DocumentResult, error)
}

// IngestWorker consumes ingest requests from a durable queue, one at a time.
type IngestWorker struct {
	conn      *amqp.Connection
	handler   IngestHandler
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, handler IngestHandler, queueName string, logger *slog.Logger) *IngestWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestWorker{
		conn:      conn,
		handler:   handler,
		queueName: queueName,
		logger:    logger.With("component", "ingest-worker", "queue", queueName),
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

	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker prefetch failed: %w", err)
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

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				// a document already started finishes even if the worker is stopping
				requeue, err := w.handle(context.WithoutCancel(workerCtx), d.Body)
				if err != nil {
					w.logger.Warn("ingest request failed", "requeue", requeue, "err", err)
					_ = d.Nack(false, requeue)
					continue
				}

				_ = d.Ack(false)
			}
		}
	}()

	w.logger.Info("ingest worker started")
	return nil
}

// handle runs one delivery. A busy document is requeued so another attempt can
// pick it up once the current holder is done.
func (w *IngestWorker) handle(ctx context.Context, body []byte) (bool, error) {
	var req model.IngestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return false, fmt.Errorf("decode ingest request failed: %w", err)
	}

	var (
		res *app.DocumentResult
		err error
	)
	if req.Reprocess {
		res, err = w.handler.Reprocess(ctx, req.DocumentID, app.ReprocessOptions{
			MaxPages:            req.MaxPages,
			SkipImageProcessing: req.SkipImageProcessing,
			ProcessingConfig:    req.ProcessingConfig,
		})
	} else {
		res, err = w.handler.Process(ctx, app.DocumentRequest{
			Path:                req.Path,
			MaxPages:            req.MaxPages,
			SkipImageProcessing: req.SkipImageProcessing,
			SkipIfHashExists:    req.SkipIfHashExists,
			ProcessingConfig:    req.ProcessingConfig,
			UserID:              req.UserID,
			DocumentType:        req.DocumentType,
			IsPublic:            req.IsPublic,
			Permissions:         req.Permissions,
		})
	}

	if res != nil && res.ErrorKind == app.ErrorKindDocumentBusy {
		return true, fmt.Errorf("document busy: %s", res.Error)
	}
	if err != nil {
		return errors.Is(err, app.ErrStore), err
	}
	if res != nil {
		w.logger.Info("ingest request handled",
			"document_id", res.DocumentID,
			"status", res.Status,
			"error_kind", res.ErrorKind)
	}
	return false, nil
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
