package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"

	"github.com/roach88/replicant/internal/ir"
)

// headerWatermark carries the publisher-assigned watermark.
const headerWatermark = "watermark"

// AMQPConfig addresses one fanout exchange.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// Validate checks required fields.
func (c AMQPConfig) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return errors.New("amqp.url is required")
	}
	if strings.TrimSpace(c.Exchange) == "" {
		return errors.New("amqp.exchange is required")
	}
	return nil
}

// AMQP is a broadcast Channel over a RabbitMQ fanout exchange.
//
// Watermarks are the publisher-confirm sequence numbers of this
// connection's publishing channel, so they are strictly increasing per
// publisher but not across publishers. The transport is tail-only: every
// subscription gets a fresh exclusive queue bound to the exchange. It is
// meant for the scatter-gather request/response bus, not the update log.
type AMQP struct {
	cfg  AMQPConfig
	conn *amqp091.Connection

	pubMu sync.Mutex
	pub   *amqp091.Channel
}

// DialAMQP connects, declares the exchange and enables publisher confirms.
func DialAMQP(cfg AMQPConfig) (*AMQP, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := pub.ExchangeDeclare(cfg.Exchange, "fanout", true, false, false, false, nil); err != nil {
		pub.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		pub.Close()
		conn.Close()
		return nil, fmt.Errorf("enable confirms: %w", err)
	}

	return &AMQP{cfg: cfg, conn: conn, pub: pub}, nil
}

// Close closes the connection, ending every subscription.
func (a *AMQP) Close() error {
	return a.conn.Close()
}

// Publish implements Channel.
func (a *AMQP) Publish(ctx context.Context, payload []byte) (ir.Watermark, error) {
	return a.PublishCorrelated(ctx, payload, "")
}

// PublishCorrelated implements Channel. Blocks until the broker confirms.
func (a *AMQP) PublishCorrelated(ctx context.Context, payload []byte, requestID string) (ir.Watermark, error) {
	a.pubMu.Lock()
	w := ir.Watermark(a.pub.GetNextPublishSeqNo()) - 1
	dc, err := a.pub.PublishWithDeferredConfirmWithContext(ctx, a.cfg.Exchange, "", false, false, amqp091.Publishing{
		ContentType:   "application/octet-stream",
		DeliveryMode:  amqp091.Transient,
		CorrelationId: requestID,
		Headers:       amqp091.Table{headerWatermark: int64(w)},
		Body:          payload,
	})
	a.pubMu.Unlock()
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("amqp publish %s: %w", a.cfg.Exchange, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("amqp confirm %s: %w", a.cfg.Exchange, err)
	}
	if !acked {
		return ir.NoWatermark, fmt.Errorf("amqp publish %s: broker nacked delivery %d", a.cfg.Exchange, dc.DeliveryTag)
	}
	return w, nil
}

// Subscribe implements Channel. Only ir.Tail() is supported.
func (a *AMQP) Subscribe(ctx context.Context, pos ir.SeekPosition) (<-chan Delivery, error) {
	if pos.Kind != ir.SeekTail {
		return nil, ErrSeekUnsupported
	}

	ch, err := a.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", a.cfg.Exchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("consume queue %s: %w", q.Name, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				msg := ir.Message{
					Watermark: headerInt(d.Headers, headerWatermark),
					RequestID: d.CorrelationId,
					Payload:   d.Body,
				}
				if !send(ctx, out, Delivery{Message: msg}) {
					return
				}
			}
		}
	}()
	return out, nil
}

// headerInt reads an integer header regardless of the wire width the
// broker chose for it.
func headerInt(t amqp091.Table, key string) ir.Watermark {
	switch v := t[key].(type) {
	case int64:
		return ir.Watermark(v)
	case int32:
		return ir.Watermark(v)
	case int16:
		return ir.Watermark(v)
	case int:
		return ir.Watermark(v)
	case uint64:
		return ir.Watermark(v)
	}
	return ir.NoWatermark
}
