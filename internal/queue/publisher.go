package queue

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/notify"
)

// dialTimeout caps the TCP connect and AMQP handshake when the caller's
// context carries no earlier deadline.
const dialTimeout = 10 * time.Second

// dialContext opens a broker connection bounded by ctx. The socket deadline
// covers the handshake; amqp clears it once the connection is open and
// heartbeats take over.
func dialContext(ctx context.Context, url string) (*amqp.Connection, error) {
	deadline := time.Now().Add(dialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial: func(network, addr string) (net.Conn, error) {
			d := net.Dialer{Deadline: deadline}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := conn.SetDeadline(deadline); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return conn, nil
		},
	})
}

// Publisher publishes notification jobs to a durable queue. It implements
// notify.Sink. One connection is shared by all jobs and re-established on
// the next Deliver after the broker drops it. Errors are logged and returned
// so the fan-out can report them without interrupting the lifecycle
// operation.
type Publisher struct {
	url    string
	queue  string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewPublisher(url, queue string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{url: url, queue: queue, logger: logger}
}

// channel returns the shared channel, connecting and declaring the queue
// first when there is no open one.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && !p.ch.IsClosed() && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.resetLocked()

	conn, err := dialContext(ctx, p.url)
	if err != nil {
		p.logger.Warn("rabbitmq: dial failed", zap.Error(err))
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		p.logger.Warn("rabbitmq: channel open failed", zap.Error(err))
		return nil, err
	}
	if err := declare(ch, p.queue); err != nil {
		_ = conn.Close()
		p.logger.Warn("rabbitmq: queue declare failed", zap.Error(err))
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) resetLocked() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// Deliver publishes job as a persistent message on the default exchange,
// routed by queue name.
func (p *Publisher) Deliver(ctx context.Context, job notify.Job) error {
	now := time.Now().UTC()
	body, err := json.Marshal(eventFromJob(job, now))
	if err != nil {
		return err
	}
	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		p.logger.Warn("rabbitmq: publish failed", zap.Error(err), zap.String("recipient", job.RecipientID))
		p.mu.Lock()
		if p.ch == ch {
			p.resetLocked()
		}
		p.mu.Unlock()
		return err
	}
	return nil
}

// Close drops the shared connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// declare ensures the queue exists (idempotent). Durable so jobs survive
// broker restarts.
func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}
