package scatter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/ir"
)

// DefaultMaxConcurrent bounds in-flight requests per Responder.
const DefaultMaxConcurrent = 16

// Handler answers one request, calling emit for every matching item. It
// may emit any number of items, including none. A returned error or a
// panic ends that request's replies; the Responder keeps serving others.
type Handler[Q, I any] func(ctx context.Context, req Request[Q], emit func(I) error) error

// ReplyResolver maps a reply address to the channel to publish on.
type ReplyResolver func(addr ir.TopicAndPartition) (channel.Channel, error)

// StaticResolver resolves addresses from a fixed table.
func StaticResolver(routes map[ir.TopicAndPartition]channel.Channel) ReplyResolver {
	return func(addr ir.TopicAndPartition) (channel.Channel, error) {
		ch, ok := routes[addr]
		if !ok {
			return nil, fmt.Errorf("no reply channel for %s", addr)
		}
		return ch, nil
	}
}

// ResponderOption configures a Responder.
type ResponderOption func(*responderOptions)

type responderOptions struct {
	maxConcurrent int
}

// WithMaxConcurrent bounds how many requests are handled at once.
// Values below 1 are treated as 1.
func WithMaxConcurrent(n int) ResponderOption {
	return func(o *responderOptions) {
		if n < 1 {
			n = 1
		}
		o.maxConcurrent = n
	}
}

// Responder serves requests from a request channel.
type Responder[Q, I any] struct {
	requests channel.Channel
	resolve  ReplyResolver
	handler  Handler[Q, I]
	opts     responderOptions
}

// NewResponder creates a Responder. Run starts it.
func NewResponder[Q, I any](requests channel.Channel, resolve ReplyResolver, handler Handler[Q, I], opts ...ResponderOption) *Responder[Q, I] {
	o := responderOptions{maxConcurrent: DefaultMaxConcurrent}
	for _, opt := range opts {
		opt(&o)
	}
	return &Responder[Q, I]{requests: requests, resolve: resolve, handler: handler, opts: o}
}

// Run serves requests published after it subscribes until ctx is done or
// the request stream closes, then waits for in-flight handlers.
func (r *Responder[Q, I]) Run(ctx context.Context) error {
	sub, err := r.requests.Subscribe(ctx, ir.Tail())
	if err != nil {
		return fmt.Errorf("responder: subscribe to requests: %w", err)
	}
	return r.serve(ctx, sub)
}

// Serve is Run over an existing subscription. It lets the caller subscribe
// before announcing the responder as ready.
func (r *Responder[Q, I]) Serve(ctx context.Context, sub <-chan channel.Delivery) error {
	return r.serve(ctx, sub)
}

func (r *Responder[Q, I]) serve(ctx context.Context, sub <-chan channel.Delivery) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	slots := make(chan struct{}, r.opts.maxConcurrent)
	for {
		var (
			d  channel.Delivery
			ok bool
		)
		select {
		case <-ctx.Done():
			return nil
		case d, ok = <-sub:
		}
		if !ok {
			return nil
		}
		if d.Err != nil {
			slog.Warn("responder request stream error", "error", d.Err)
			continue
		}

		var req Request[Q]
		if err := json.Unmarshal(d.Message.Payload, &req); err != nil {
			slog.Warn("discarding undecodable request", "watermark", d.Message.Watermark, "error", err)
			continue
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			r.handle(ctx, req)
		}()
	}
}

func (r *Responder[Q, I]) handle(ctx context.Context, req Request[Q]) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("responder handler panicked", "request_id", req.RequestID, "panic", p)
		}
	}()

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	reply, err := r.resolve(req.ReplyTo)
	if err != nil {
		slog.Warn("cannot resolve reply address", "request_id", req.RequestID, "reply_to", req.ReplyTo.String(), "error", err)
		return
	}

	sent := 0
	emit := func(item I) error {
		payload, err := json.Marshal(ir.RequestResponseMessage[I]{Payload: item, RequestID: req.RequestID})
		if err != nil {
			return fmt.Errorf("encode reply: %w", err)
		}
		if _, err := reply.PublishCorrelated(ctx, payload, req.RequestID); err != nil {
			return fmt.Errorf("publish reply: %w", err)
		}
		sent++
		return nil
	}

	if err := r.handler(ctx, req, emit); err != nil && ctx.Err() == nil {
		slog.Warn("responder handler failed", "request_id", req.RequestID, "sent", sent, "error", err)
		return
	}
	slog.Debug("request answered", "request_id", req.RequestID, "sent", sent)
}
