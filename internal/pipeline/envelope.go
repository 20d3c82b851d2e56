package pipeline

import "context"

// Envelope is one event on a pipeline stream.
//
// Seq identifies the carried item within one stream and is never zero
// for an item. Retracts lists sequence numbers this envelope supersedes.
// A tombstone carries only retractions and no item.
type Envelope[I any] struct {
	Seq       uint64
	Item      I
	Retracts  []uint64
	Tombstone bool
}

func tombstone[I any](retracts []uint64) Envelope[I] {
	return Envelope[I]{Retracts: retracts, Tombstone: true}
}

// Sequencer numbers items entering a stream.
type Sequencer struct {
	next uint64
}

// Wrap returns an envelope for item with the next sequence number.
func Wrap[I any](s *Sequencer, item I) Envelope[I] {
	s.next++
	return Envelope[I]{Seq: s.next, Item: item}
}

// FromChannel wraps every item read from in. The output closes when in
// closes or ctx is done.
func FromChannel[I any](ctx context.Context, in <-chan I) <-chan Envelope[I] {
	out := make(chan Envelope[I])
	go func() {
		defer close(out)
		var seq Sequencer
		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-in:
				if !ok {
					return
				}
				if !emit(ctx, out, Wrap(&seq, item)) {
					return
				}
			}
		}
	}()
	return out
}

// FromSlice streams items and closes the output.
func FromSlice[I any](ctx context.Context, items []I) <-chan Envelope[I] {
	out := make(chan Envelope[I])
	go func() {
		defer close(out)
		var seq Sequencer
		for _, item := range items {
			if !emit(ctx, out, Wrap(&seq, item)) {
				return
			}
		}
	}()
	return out
}

// Collector folds envelopes into the surviving items.
//
// Items keep their arrival order. A retracted item is removed wherever it
// sits; a retraction of an unknown sequence number is ignored.
type Collector[I any] struct {
	order  []uint64
	listed map[uint64]struct{}
	items  map[uint64]I
}

// NewCollector returns an empty collector.
func NewCollector[I any]() *Collector[I] {
	return &Collector[I]{listed: make(map[uint64]struct{}), items: make(map[uint64]I)}
}

// Add folds one envelope.
func (c *Collector[I]) Add(e Envelope[I]) {
	for _, seq := range e.Retracts {
		delete(c.items, seq)
	}
	if e.Tombstone {
		return
	}
	if _, ok := c.listed[e.Seq]; !ok {
		c.listed[e.Seq] = struct{}{}
		c.order = append(c.order, e.Seq)
	}
	c.items[e.Seq] = e.Item
}

// Len returns the number of surviving items.
func (c *Collector[I]) Len() int {
	return len(c.items)
}

// Items returns the surviving items in arrival order.
func (c *Collector[I]) Items() []I {
	out := make([]I, 0, len(c.items))
	for _, seq := range c.order {
		if item, ok := c.items[seq]; ok {
			out = append(out, item)
		}
	}
	return out
}

// Collect drains in until it closes or ctx is done and returns the
// surviving items.
func Collect[I any](ctx context.Context, in <-chan Envelope[I]) []I {
	c := NewCollector[I]()
	for {
		select {
		case <-ctx.Done():
			return c.Items()
		case e, ok := <-in:
			if !ok {
				return c.Items()
			}
			c.Add(e)
		}
	}
}

func emit[I any](ctx context.Context, out chan<- Envelope[I], e Envelope[I]) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}
