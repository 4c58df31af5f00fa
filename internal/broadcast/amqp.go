// Package broadcast delivers operator notifications.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/xenking/takeout/internal/domain/order"
)

var _ order.Notifier = (*Publisher)(nil)

// Publisher fans events out through a RabbitMQ fanout exchange. Every
// connected operator client binds its own exclusive queue to the exchange.
type Publisher struct {
	url      string
	exchange string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string) (*Publisher, error) {
	p := &Publisher{url: url, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect must be called with mu held or before p is shared.
func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "open channel")
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return errors.Wrap(err, "enable confirms")
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return errors.Wrapf(err, "declare exchange %q", p.exchange)
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// Broadcast publishes e and waits for the broker to confirm it. A closed
// connection is re-established once per call.
func (p *Publisher) Broadcast(ctx context.Context, e order.Event) error {
	body, err := e.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "encode event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil || p.conn.IsClosed() || p.ch.IsClosed() {
		if p.conn != nil {
			_ = p.conn.Close()
		}
		if err := p.connect(); err != nil {
			return errors.Wrap(err, "reconnect")
		}
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Type:         e.Type.String(),
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return errors.Wrap(err, "publish")
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "wait confirm")
	}
	if !acked {
		return errors.New("broker rejected event")
	}
	return nil
}

// Ping reports whether the connection and channel are open.
func (p *Publisher) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.conn == nil || p.conn.IsClosed():
		return errors.New("rabbitmq connection closed")
	case p.ch == nil || p.ch.IsClosed():
		return errors.New("rabbitmq channel closed")
	}
	return nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Close(); err != nil {
		return errors.Wrap(err, "close connection")
	}
	return nil
}
