package channel

import (
	"context"
	"sync"

	"github.com/roach88/replicant/internal/ir"
)

// Memory is an in-process ordered log.
//
// Every subscriber reads the shared log from its own cursor. New messages
// are announced by closing and replacing a broadcast channel, so any number
// of subscribers wake on one append without per-subscriber bookkeeping.
type Memory struct {
	mu      sync.Mutex
	clock   *Clock
	base    ir.Watermark // watermark of log[0]
	log     []ir.Message
	changed chan struct{}
	closed  bool
}

// MemoryOption configures a Memory log.
type MemoryOption func(*Memory)

// WithStartWatermark makes the first published message receive w instead
// of 0.
func WithStartWatermark(w ir.Watermark) MemoryOption {
	return func(m *Memory) {
		m.base = w
		m.clock = NewClockAt(w - 1)
	}
}

// NewMemory creates an empty in-process log.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		clock:   NewClock(),
		base:    0,
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Publish implements Channel.
func (m *Memory) Publish(ctx context.Context, payload []byte) (ir.Watermark, error) {
	return m.PublishCorrelated(ctx, payload, "")
}

// PublishCorrelated implements Channel.
func (m *Memory) PublishCorrelated(ctx context.Context, payload []byte, requestID string) (ir.Watermark, error) {
	if err := ctx.Err(); err != nil {
		return ir.NoWatermark, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ir.NoWatermark, ErrClosed
	}

	w := m.clock.Next()
	m.log = append(m.log, ir.Message{
		Watermark: w,
		RequestID: requestID,
		Payload:   append([]byte(nil), payload...),
	})

	close(m.changed)
	m.changed = make(chan struct{})

	return w, nil
}

// Head implements HeadReporter.
func (m *Memory) Head(ctx context.Context) (ir.Watermark, error) {
	return m.clock.Current(), nil
}

// Len returns the number of messages in the log.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.log)
}

// Close ends every subscription and rejects further publishes.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	close(m.changed)
	return nil
}

// Subscribe implements Channel.
func (m *Memory) Subscribe(ctx context.Context, pos ir.SeekPosition) (<-chan Delivery, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	var cursor int
	switch pos.Kind {
	case ir.SeekTail:
		cursor = len(m.log)
	case ir.SeekWatermark:
		cursor = int(pos.Watermark - m.base)
		if cursor < 0 {
			cursor = 0
		}
	default:
		m.mu.Unlock()
		return nil, ErrSeekUnsupported
	}
	m.mu.Unlock()

	out := make(chan Delivery)
	go m.pump(ctx, cursor, out)
	return out, nil
}

func (m *Memory) pump(ctx context.Context, cursor int, out chan<- Delivery) {
	defer close(out)

	for {
		m.mu.Lock()
		var batch []ir.Message
		if cursor < len(m.log) {
			batch = append(batch, m.log[cursor:]...)
		}
		changed := m.changed
		closed := m.closed
		m.mu.Unlock()

		for _, msg := range batch {
			if !send(ctx, out, Delivery{Message: msg}) {
				return
			}
			cursor++
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}
