package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/store"
)

const (
	defaultPollInterval = 50 * time.Millisecond
	defaultBatchSize    = 256
)

// SQLiteLog is a Channel backed by the messages table of a store.Store.
// Several processes may share the database file; watermark assignment is
// serialized by SQLite.
type SQLiteLog struct {
	st    *store.Store
	topic string
	poll  time.Duration
	batch int
	now   func() time.Time
}

// SQLiteOption configures a SQLiteLog.
type SQLiteOption func(*SQLiteLog)

// WithPollInterval sets how often an idle subscription re-reads the table.
func WithPollInterval(d time.Duration) SQLiteOption {
	return func(l *SQLiteLog) {
		if d > 0 {
			l.poll = d
		}
	}
}

// WithBatchSize sets the maximum number of rows read per poll.
func WithBatchSize(n int) SQLiteOption {
	return func(l *SQLiteLog) {
		if n > 0 {
			l.batch = n
		}
	}
}

// NewSQLiteLog returns a log over one topic of st.
func NewSQLiteLog(st *store.Store, topic string, opts ...SQLiteOption) *SQLiteLog {
	l := &SQLiteLog{
		st:    st,
		topic: topic,
		poll:  defaultPollInterval,
		batch: defaultBatchSize,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Topic returns the topic name.
func (l *SQLiteLog) Topic() string {
	return l.topic
}

// Publish implements Channel.
func (l *SQLiteLog) Publish(ctx context.Context, payload []byte) (ir.Watermark, error) {
	return l.PublishCorrelated(ctx, payload, "")
}

// PublishCorrelated implements Channel.
func (l *SQLiteLog) PublishCorrelated(ctx context.Context, payload []byte, requestID string) (ir.Watermark, error) {
	w, err := l.st.AppendMessage(ctx, l.topic, requestID, payload, l.now())
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("sqlite log %s: %w", l.topic, err)
	}
	return w, nil
}

// Head implements HeadReporter.
func (l *SQLiteLog) Head(ctx context.Context) (ir.Watermark, error) {
	return l.st.HeadWatermark(ctx, l.topic)
}

// Subscribe implements Channel.
func (l *SQLiteLog) Subscribe(ctx context.Context, pos ir.SeekPosition) (<-chan Delivery, error) {
	var from ir.Watermark
	switch pos.Kind {
	case ir.SeekTail:
		head, err := l.st.HeadWatermark(ctx, l.topic)
		if err != nil {
			return nil, fmt.Errorf("sqlite log %s: subscribe: %w", l.topic, err)
		}
		from = head.Next()
	case ir.SeekWatermark:
		from = pos.Watermark
	default:
		return nil, ErrSeekUnsupported
	}

	out := make(chan Delivery)
	go l.pollLoop(ctx, from, out)
	return out, nil
}

func (l *SQLiteLog) pollLoop(ctx context.Context, from ir.Watermark, out chan<- Delivery) {
	defer close(out)

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		msgs, err := l.st.ReadMessages(ctx, l.topic, from, l.batch)
		if err != nil {
			if ctx.Err() == nil {
				send(ctx, out, Delivery{Err: fmt.Errorf("sqlite log %s: %w", l.topic, err)})
			}
			return
		}

		for _, msg := range msgs {
			if !send(ctx, out, Delivery{Message: msg}) {
				return
			}
			from = msg.Watermark.Next()
		}
		if len(msgs) == l.batch {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
