package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPNotifier publishes StatusChange messages to a RabbitMQ exchange, one
// routing key per registered task's notification queue. The connection and
// channel are opened lazily and reused across publishes, guarded by mu.
type AMQPNotifier struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPNotifier builds a notifier against the given AMQP URL. exchange is
// declared as a durable direct exchange on first use.
func NewAMQPNotifier(url, exchange string) *AMQPNotifier {
	return &AMQPNotifier{url: url, exchange: exchange}
}

func (n *AMQPNotifier) channel() (*amqp.Channel, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.ch != nil && !n.ch.IsClosed() {
		return n.ch, nil
	}

	conn, err := amqp.Dial(n.url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(n.exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}

	n.conn = conn
	n.ch = ch
	return ch, nil
}

// Notify publishes change under routingKey, retrying with full-jitter
// exponential backoff on failure. It never returns an error: each failed
// attempt is logged, and once retryAttempts attempts have failed the
// change is dropped after a final log line. Callers dispatch it through
// Send, so the reconciliation pass that triggered it never waits on it.
func (n *AMQPNotifier) Notify(ctx context.Context, routingKey string, change StatusChange) {
	body, err := marshal(change)
	if err != nil {
		slog.Error("notify: marshal status change", "error", err)
		return
	}

	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err := n.publishOnce(ctx, routingKey, body); err == nil {
			return
		} else {
			logRetry(routingKey, attempt, err)
		}
		if attempt < retryAttempts {
			time.Sleep(jitter(attempt))
		}
	}
	logExhausted(routingKey)
}

func (n *AMQPNotifier) publishOnce(ctx context.Context, routingKey string, body []byte) error {
	ch, err := n.channel()
	if err != nil {
		return err
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return ch.PublishWithContext(pctx, n.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Close releases the underlying channel and connection, if open.
func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ch != nil {
		n.ch.Close()
	}
	if n.conn != nil {
		return n.conn.Close()
	}
	return nil
}

var _ Notifier = (*AMQPNotifier)(nil)
