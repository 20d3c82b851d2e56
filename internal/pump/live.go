package pump

import (
	"context"
	"sync"

	"github.com/roach88/replicant/internal/ir"
)

// Live holds the latest folded aggregate and notifies observers when it
// changes.
//
// Every value handed out is an immutable version; the fold loop replaces
// the held value and never mutates one in place. Observers never see a
// partially applied update.
type Live[T any] struct {
	mu       sync.Mutex
	current  ir.BusinessData[T]
	changed  chan struct{}
	done     chan struct{}
	finished bool
	err      error
}

func newLive[T any](initial ir.BusinessData[T]) *Live[T] {
	return &Live[T]{
		current: initial,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Current returns the latest folded aggregate.
func (l *Live[T]) Current() ir.BusinessData[T] {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Done is closed when the fold loop stops.
func (l *Live[T]) Done() <-chan struct{} {
	return l.done
}

// Err returns the fatal error that stopped the fold loop, or nil while it
// runs and after a cancellation.
func (l *Live[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Subscribe returns a stream that first yields the current aggregate and
// then every later value. A slow reader skips intermediate versions and
// receives the latest one. The stream closes when ctx is done or the
// pump stops.
func (l *Live[T]) Subscribe(ctx context.Context) <-chan ir.BusinessData[T] {
	out := make(chan ir.BusinessData[T], 1)
	go func() {
		defer close(out)
		sent := false
		var last ir.Watermark
		for {
			l.mu.Lock()
			cur, changed, finished := l.current, l.changed, l.finished
			l.mu.Unlock()

			if !sent || cur.Watermark != last {
				select {
				case out <- cur:
				case <-ctx.Done():
					return
				}
				sent, last = true, cur.Watermark
			}
			if finished {
				return
			}

			select {
			case <-changed:
			case <-l.done:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// WaitFor blocks until the aggregate has folded watermark w and returns
// that version. It returns ErrStopped (or the fatal error) if the pump
// stops first.
func (l *Live[T]) WaitFor(ctx context.Context, w ir.Watermark) (ir.BusinessData[T], error) {
	for {
		l.mu.Lock()
		cur, changed, finished, err := l.current, l.changed, l.finished, l.err
		l.mu.Unlock()

		if cur.Watermark >= w {
			return cur, nil
		}
		if finished {
			if err != nil {
				return cur, err
			}
			return cur, ErrStopped
		}

		select {
		case <-changed:
		case <-l.done:
		case <-ctx.Done():
			return cur, ctx.Err()
		}
	}
}

func (l *Live[T]) set(v ir.BusinessData[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = v
	close(l.changed)
	l.changed = make(chan struct{})
}

func (l *Live[T]) finish(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.finished {
		return
	}
	l.finished = true
	l.err = err
	close(l.done)
}
