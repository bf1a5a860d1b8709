package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/hlsmill/hlsmill/internal/config"
	"github.com/hlsmill/hlsmill/internal/transcoder"
	"github.com/hlsmill/hlsmill/pkg/models"
)

const (
	RequestQueueName = "transcode_requests"
	ExchangeName     = "hlsmill"

	DeadLetterQueueName    = "transcode_requests_dlq"
	DeadLetterExchangeName = "hlsmill_dlq"
)

// Queue provides message queue operations over RabbitMQ. Requests that
// cannot be processed (malformed payloads, handler failures) dead-letter
// into the DLQ for inspection and replay instead of requeueing hot.
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New connects to RabbitMQ and declares the exchange, the request queue,
// and its dead-letter pair.
func New(cfg config.QueueConfig) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{conn: conn, channel: channel}
	if err := q.declareTopology(); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return q, nil
}

func (q *Queue) declareTopology() error {
	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	err = q.channel.ExchangeDeclare(
		DeadLetterExchangeName,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}

	err = q.channel.QueueBind(
		DeadLetterQueueName,
		DeadLetterQueueName,
		DeadLetterExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		RequestQueueName,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    DeadLetterExchangeName,
			"x-dead-letter-routing-key": DeadLetterQueueName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare request queue: %w", err)
	}

	err = q.channel.QueueBind(
		RequestQueueName,
		RequestQueueName,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind request queue: %w", err)
	}

	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishRequest enqueues a transcode request.
func (q *Queue) PublishRequest(ctx context.Context, req models.TranscodeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		RequestQueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish request: %w", err)
	}

	log.Debug().
		Str("video_id", req.VideoID).
		Str("input_uri", req.InputURI).
		Msg("Request enqueued")

	return nil
}

// ConsumeRequests starts consuming transcode requests. Prefetch is one: a
// worker takes no new request while a job runs. Success and duplicate
// deliveries ack; anything else dead-letters for replay.
func (q *Queue) ConsumeRequests(ctx context.Context, handler func(context.Context, models.TranscodeRequest) error) error {
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		RequestQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var req models.TranscodeRequest
				if err := json.Unmarshal(msg.Body, &req); err != nil {
					log.Warn().Err(err).Msg("Dropping malformed request to DLQ")
					msg.Nack(false, false)
					continue
				}

				err := handler(ctx, req)
				switch {
				case err == nil:
					msg.Ack(false)
				case errors.Is(err, transcoder.ErrAlreadyProcessing):
					// Redelivery of work already in flight.
					log.Info().Str("video_id", req.VideoID).Msg("Dropping duplicate request")
					msg.Ack(false)
				default:
					log.Error().Err(err).Str("video_id", req.VideoID).Msg("Request dead-lettered")
					msg.Nack(false, false)
				}
			}
		}
	}()

	log.Info().Str("queue", RequestQueueName).Msg("Consuming transcode requests")

	return nil
}

// GetQueueDepth returns the number of messages waiting in the request queue.
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(RequestQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}

// Ping reports whether the broker connection is still open.
func (q *Queue) Ping() error {
	if q.conn == nil || q.conn.IsClosed() {
		return fmt.Errorf("queue connection is closed")
	}
	return nil
}
