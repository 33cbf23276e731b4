package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/notify"
)

// Sender performs the actual delivery of a consumed job.
type Sender interface {
	Send(ctx context.Context, recipientID string, msg notify.Message) notify.Outcome
}

// Consumer drains the notification queue into a Sender.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	sender   Sender
	logger   *zap.Logger
}

func NewConsumer(url, queue string, prefetch int, sender Sender, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefetch <= 0 {
		prefetch = 50
	}
	return &Consumer{url: url, queue: queue, prefetch: prefetch, sender: sender, logger: logger}
}

// Run connects to RabbitMQ, declares the queue and consumes until ctx is
// cancelled. Connection failures are retried with exponential backoff capped
// at 30s; a closed delivery channel triggers a reconnect.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := dialContext(ctx, c.url)
		if err != nil {
			c.logger.Warn("notify-consumer: failed to dial broker",
				zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("notify-consumer: consume loop ended; reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		c.logger.Warn("notify-consumer: set QoS failed", zap.Error(err))
	}
	if err := declare(ch, c.queue); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.logger.Warn("notify-consumer: handle message failed", zap.Error(err))
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// handleMessage decodes one body and delivers it. Delivery outcomes are
// final: a failed push is logged by the sender and the message is still
// acknowledged.
func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.RecipientID == "" {
		return errors.New("missing recipient_id")
	}
	job := ev.job()
	outcome := c.sender.Send(ctx, job.RecipientID, job.Message)
	c.logger.Debug("notify-consumer: job handled",
		zap.String("recipient", job.RecipientID),
		zap.String("outcome", string(outcome)))
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
