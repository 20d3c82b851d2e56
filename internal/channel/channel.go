package channel

import (
	"context"
	"errors"

	"github.com/roach88/replicant/internal/ir"
)

var (
	// ErrClosed is returned by operations on a closed channel.
	ErrClosed = errors.New("channel closed")

	// ErrSeekUnsupported is returned when a transport cannot start a
	// subscription at the requested position.
	ErrSeekUnsupported = errors.New("seek position not supported by transport")
)

// Channel is an ordered message channel.
type Channel interface {
	// Publish appends payload and returns the watermark the channel assigned.
	Publish(ctx context.Context, payload []byte) (ir.Watermark, error)

	// PublishCorrelated appends payload tagged with requestID.
	PublishCorrelated(ctx context.Context, payload []byte, requestID string) (ir.Watermark, error)

	// Subscribe streams messages starting at pos until ctx is cancelled.
	// The starting point of a Tail subscription is fixed before Subscribe
	// returns, so a message published after Subscribe returns is observed.
	Subscribe(ctx context.Context, pos ir.SeekPosition) (<-chan Delivery, error)
}

// HeadReporter is implemented by transports that can report the watermark
// of the newest message currently in the log.
type HeadReporter interface {
	Head(ctx context.Context) (ir.Watermark, error)
}

// Delivery is one element of a subscription stream.
type Delivery struct {
	Message ir.Message
	Err     error
}

// send delivers d unless ctx is done first. Returns false if ctx ended.
func send(ctx context.Context, out chan<- Delivery, d Delivery) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}
