package transcode

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"driftcast/internal/models"
	"driftcast/internal/observability/logging"
)

const (
	exchangeName    = "driftcast.transcode"
	jobQueueName    = "transcode.jobs"
	parkedQueueName = "transcode.parked"
	routingKeyJobs  = "jobs"
	routingKeyPark  = "parked"
	attemptHeader   = "x-attempt"
	defaultPrefetch = 4
)

// AMQPQueue is the RabbitMQ-backed Queue used in production. Jobs and the
// parked dead-letter queue are both durable so a broker restart loses
// nothing.
type AMQPQueue struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	logger   *slog.Logger
	prefetch int
}

// AMQPConfig wires the broker connection.
type AMQPConfig struct {
	URL      string
	Prefetch int
}

// NewAMQPQueue connects to the broker and declares the exchange and queues.
func NewAMQPQueue(cfg AMQPConfig, logger *slog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = defaultPrefetch
	}
	q := &AMQPQueue{
		conn:     conn,
		channel:  channel,
		logger:   logging.WithComponent(logger, "transcode-queue"),
		prefetch: prefetch,
	}
	if err := q.declareTopology(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *AMQPQueue) declareTopology() error {
	if err := q.channel.ExchangeDeclare(exchangeName, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	for name, key := range map[string]string{jobQueueName: routingKeyJobs, parkedQueueName: routingKeyPark} {
		if _, err := q.channel.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %q: %w", name, err)
		}
		if err := q.channel.QueueBind(name, key, exchangeName, false, nil); err != nil {
			return fmt.Errorf("bind queue %q: %w", name, err)
		}
	}
	if err := q.channel.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// Enqueue publishes a persistent job message with attempt 1.
func (q *AMQPQueue) Enqueue(ctx context.Context, job models.TranscodeJob) error {
	return q.publish(ctx, routingKeyJobs, job, 1)
}

func (q *AMQPQueue) publish(ctx context.Context, routingKey string, job models.TranscodeJob, attempt int) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	err = q.channel.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Consume starts a manual-ack consumer and adapts broker deliveries into
// Delivery values. Retry republishes with the attempt bumped before acking
// the original, so the job survives even if the worker dies mid-handoff.
func (q *AMQPQueue) Consume(ctx context.Context) (<-chan Delivery, error) {
	messages, err := q.channel.ConsumeWithContext(ctx, jobQueueName, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	deliveries := make(chan Delivery)
	go func() {
		defer close(deliveries)
		for message := range messages {
			delivery, err := q.adapt(ctx, message)
			if err != nil {
				q.logger.Warn("dropping malformed job", "error", err)
				message.Nack(false, false)
				continue
			}
			select {
			case deliveries <- delivery:
			case <-ctx.Done():
				message.Nack(false, true)
				return
			}
		}
	}()
	return deliveries, nil
}

func (q *AMQPQueue) adapt(ctx context.Context, message amqp.Delivery) (Delivery, error) {
	var job models.TranscodeJob
	if err := json.Unmarshal(message.Body, &job); err != nil {
		return Delivery{}, fmt.Errorf("decode job: %w", err)
	}
	attempt := attemptFromHeaders(message.Headers)
	return Delivery{
		Job:     job,
		Attempt: attempt,
		ack: func() error {
			return message.Ack(false)
		},
		retry: func() error {
			if err := q.publish(ctx, routingKeyJobs, job, attempt+1); err != nil {
				return err
			}
			return message.Ack(false)
		},
		park: func() error {
			if err := q.publish(ctx, routingKeyPark, job, attempt); err != nil {
				return err
			}
			return message.Ack(false)
		},
	}, nil
}

func attemptFromHeaders(headers amqp.Table) int {
	switch value := headers[attemptHeader].(type) {
	case int32:
		return int(value)
	case int64:
		return int(value)
	case int:
		return value
	default:
		return 1
	}
}

// Close shuts down the channel and connection.
func (q *AMQPQueue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
