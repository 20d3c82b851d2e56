package pump

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/objstore"
)

// Domain supplies the aggregate semantics. Apply must be pure and
// deterministic: folding the same log from the same starting value always
// yields the same aggregate.
type Domain[T, U any] interface {
	CreateEmpty() T
	Apply(current T, update U) T
}

// State is the lifecycle stage of a Pump.
type State int32

const (
	StateUninitialized State = iota
	StateFetchingSnapshot
	StateFailed
	StateReplaying
	StateLive
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFetchingSnapshot:
		return "fetching_snapshot"
	case StateFailed:
		return "failed"
	case StateReplaying:
		return "replaying"
	case StateLive:
		return "live"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Pump maintains one live aggregate of type T folded from updates of
// type U.
type Pump[T, U any] struct {
	domain    Domain[T, U]
	updates   channel.Channel
	snapshots objstore.Store
	opts      options

	state atomic.Int32
	wg    sync.WaitGroup
}

// New creates a pump. Nothing happens until Start.
func New[T, U any](domain Domain[T, U], updates channel.Channel, snapshots objstore.Store, opts ...Option) *Pump[T, U] {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Pump[T, U]{
		domain:    domain,
		updates:   updates,
		snapshots: snapshots,
		opts:      o,
	}
}

// State returns the current lifecycle stage.
func (p *Pump[T, U]) State() State {
	return State(p.state.Load())
}

// SendUpdate publishes update to the log and returns the watermark the
// channel assigned. The aggregate changes only when the fold loop reads
// the update back.
func (p *Pump[T, U]) SendUpdate(ctx context.Context, update U) (ir.Watermark, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("encode update: %w", err)
	}
	w, err := p.updates.Publish(ctx, payload)
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("publish update: %w", err)
	}
	slog.Debug("published update", "watermark", w)
	return w, nil
}

// Start fetches the newest snapshot, subscribes to the log right after its
// watermark and starts folding. Failures before the subscription is
// established are returned synchronously and leave the pump Failed.
//
// The fold loop, the periodic snapshot writer and the retention loop share
// one cancellation scope derived from ctx. Cancelling ctx stops all of
// them; a fatal fold error stops the other two as well.
func (p *Pump[T, U]) Start(ctx context.Context) (*Live[T], error) {
	if !p.state.CompareAndSwap(int32(StateUninitialized), int32(StateFetchingSnapshot)) {
		return nil, ErrAlreadyStarted
	}

	live, err := p.start(ctx)
	if err != nil {
		p.state.Store(int32(StateFailed))
		slog.Error("pump startup failed", "error", err)
		return nil, err
	}
	return live, nil
}

func (p *Pump[T, U]) start(ctx context.Context) (*Live[T], error) {
	snapshot, err := p.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	// The head is read before subscribing; anything published later is
	// live traffic rather than backlog.
	head := ir.NoWatermark
	if hr, ok := p.updates.(channel.HeadReporter); ok {
		if head, err = hr.Head(ctx); err != nil {
			return nil, fmt.Errorf("read log head: %w", err)
		}
		if head < snapshot.Watermark {
			return nil, &LogBehindSnapshotError{Head: head, Snapshot: snapshot.Watermark}
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub, err := p.updates.Subscribe(runCtx, ir.FromWatermark(snapshot.Watermark.Next()))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to updates: %w", err)
	}

	live := newLive(snapshot)
	if head <= snapshot.Watermark {
		p.state.Store(int32(StateLive))
	} else {
		p.state.Store(int32(StateReplaying))
	}
	slog.Info("pump started",
		"snapshot_watermark", snapshot.Watermark,
		"head", head,
		"state", p.State().String(),
	)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		err := p.fold(runCtx, sub, live, head)
		if err != nil {
			slog.Error("pump stopped", "error", err, "watermark", live.Current().Watermark)
			p.state.Store(int32(StateFailed))
		}
		live.finish(err)
	}()

	if p.opts.snapshotInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.snapshotLoop(runCtx, live, snapshot.Watermark)
		}()
	}

	if p.opts.retentionMaxAge > 0 && p.opts.retentionEvery > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.DeleteOldSnapshots(runCtx, p.opts.retentionMaxAge, p.opts.retentionEvery)
		}()
	}

	return live, nil
}

// Wait blocks until every background task started by Start has returned.
func (p *Pump[T, U]) Wait() {
	p.wg.Wait()
}

func (p *Pump[T, U]) fold(ctx context.Context, sub <-chan channel.Delivery, live *Live[T], head ir.Watermark) error {
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
			if ctx.Err() != nil {
				return nil
			}
			return ErrUpdatesClosed
		}
		if d.Err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("update subscription: %w", d.Err)
		}

		cur := live.Current()
		w := d.Message.Watermark
		if w <= cur.Watermark {
			slog.Debug("skipping already folded update", "watermark", w, "current", cur.Watermark)
			continue
		}

		var update U
		if err := json.Unmarshal(d.Message.Payload, &update); err != nil {
			return fmt.Errorf("decode update at watermark %d: %w", w, err)
		}
		live.set(ir.BusinessData[T]{
			Payload:   p.domain.Apply(cur.Payload, update),
			Watermark: w,
		})

		if w >= head && p.state.CompareAndSwap(int32(StateReplaying), int32(StateLive)) {
			slog.Info("pump caught up", "watermark", w)
		}
	}
}

func (p *Pump[T, U]) snapshotLoop(ctx context.Context, live *Live[T], written ir.Watermark) {
	ticker := time.NewTicker(p.opts.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur := live.Current()
		if cur.Watermark <= written {
			continue
		}
		if err := p.WriteSnapshot(ctx, cur); err != nil {
			if ctx.Err() == nil {
				slog.Warn("periodic snapshot failed", "watermark", cur.Watermark, "error", err)
			}
			continue
		}
		written = cur.Watermark
	}
}

func (p *Pump[T, U]) empty() ir.BusinessData[T] {
	return ir.BusinessData[T]{Payload: p.domain.CreateEmpty(), Watermark: ir.NoWatermark}
}
