package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docingest/internal/model"
)

// Publisher sends JSON messages to durable queues: processing outcomes to the
// event queue and ingest requests to the work queue.
type Publisher struct {
	conn        *amqp.Connection
	eventQueue  string
	ingestQueue string
}

func NewPublisher(conn *amqp.Connection, eventQueue, ingestQueue string) *Publisher {
	return &Publisher{
		conn:        conn,
		eventQueue:  eventQueue,
		ingestQueue: ingestQueue,
	}
}

func (p *Publisher) PublishDocumentEvent(ctx context.Context, event model.DocumentEvent) error {
	return p.publish(ctx, p.eventQueue, event)
}

func (p *Publisher) PublishIngestRequest(ctx context.Context, req model.IngestRequest) error {
	return p.publish(ctx, p.ingestQueue, req)
}

func (p *Publisher) publish(ctx context.Context, queue string, v any) error {
	if queue == "" {
		return fmt.Errorf("publish failed: queue name is empty")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message payload failed: %w", err)
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := declareQueue(ch, queue); err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         payload,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}); err != nil {
		return fmt.Errorf("publish to %s failed: %w", queue, err)
	}
	return nil
}
