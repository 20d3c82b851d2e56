package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// Validate checks that every step is a known, complete variant.
func Validate[C, I any](steps []Step[C, I]) error {
	for i, step := range steps {
		if err := validateStep[C, I](i, step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep[C, I any](i int, step Step[C, I]) error {
	incomplete := func(kind Kind, name string) error {
		return &StepError{Code: ErrCodeIncompleteStep, Index: i, Kind: string(kind), Name: name}
	}
	switch s := step.(type) {
	case Predicate[C, I]:
		if s.Matches == nil {
			return incomplete(KindPredicate, s.Name)
		}
	case Projection[C, I]:
		if s.Map == nil {
			return incomplete(KindProjection, s.Name)
		}
	case BetterMatch[C, I]:
		if s.Compare == nil {
			return incomplete(KindBetterMatch, s.Name)
		}
	case EnumerableProcessor[C, I]:
		if s.Process == nil {
			return incomplete(KindEnumerable, s.Name)
		}
	case StreamProcessor[C, I]:
		if s.Stream == nil {
			return incomplete(KindStream, s.Name)
		}
	case Order[C, I]:
		if s.Less == nil {
			return incomplete(KindOrder, s.Name)
		}
	default:
		return &StepError{Code: ErrCodeUnsupportedStepKind, Index: i, Kind: fmt.Sprintf("%T", step)}
	}
	return nil
}

// ApplyToSlice runs steps over items in list order and returns the
// surviving items. Predicate and Projection steps preserve relative order.
func ApplyToSlice[C, I any](ctx context.Context, c C, steps []Step[C, I], items []I) ([]I, error) {
	if err := Validate(steps); err != nil {
		return nil, err
	}

	current := items
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch s := step.(type) {
		case EnumerableProcessor[C, I]:
			current = s.Process(c, current)
		case Order[C, I]:
			current = sortStable(current, s.Less)
		case StreamProcessor[C, I]:
			current = Collect(ctx, s.Stream(ctx, c, FromSlice(ctx, current)))
		default:
			fn := stageFor[C, I](c, step)
			var seq Sequencer
			col := NewCollector[I]()
			for _, item := range current {
				if e, ok := fn(Wrap(&seq, item)); ok {
					col.Add(e)
				}
			}
			current = col.Items()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return current, nil
}

// ApplyToStream chains steps over a live stream. Each step runs in its own
// goroutine and handles one envelope at a time in arrival order. The
// returned stream closes after in closes and every step has flushed, or
// when ctx is done.
func ApplyToStream[C, I any](ctx context.Context, c C, steps []Step[C, I], in <-chan Envelope[I]) (<-chan Envelope[I], error) {
	if err := Validate(steps); err != nil {
		return nil, err
	}

	current := in
	for _, step := range steps {
		switch s := step.(type) {
		case EnumerableProcessor[C, I]:
			current = drainThen(ctx, current, func(items []I) []I { return s.Process(c, items) })
		case Order[C, I]:
			current = drainThen(ctx, current, func(items []I) []I { return sortStable(items, s.Less) })
		case StreamProcessor[C, I]:
			current = s.Stream(ctx, c, current)
		default:
			current = runStage(ctx, current, stageFor[C, I](c, step))
		}
	}
	return current, nil
}

// stage maps one envelope to at most one envelope.
type stage[I any] func(e Envelope[I]) (Envelope[I], bool)

func stageFor[C, I any](c C, step Step[C, I]) stage[I] {
	switch s := step.(type) {
	case Predicate[C, I]:
		return func(e Envelope[I]) (Envelope[I], bool) {
			if e.Tombstone || s.Matches(c, e.Item) {
				return e, true
			}
			// The item is gone but what it replaced must stay retracted.
			if len(e.Retracts) > 0 {
				return tombstone[I](e.Retracts), true
			}
			return e, false
		}
	case Projection[C, I]:
		return func(e Envelope[I]) (Envelope[I], bool) {
			if !e.Tombstone {
				e.Item = s.Map(c, e.Item)
			}
			return e, true
		}
	case BetterMatch[C, I]:
		return newMatcher(c, s).apply
	}
	// Validate ran first; only stage kinds reach here.
	panic(fmt.Sprintf("pipeline: no stage for %T", step))
}

func runStage[I any](ctx context.Context, in <-chan Envelope[I], fn stage[I]) <-chan Envelope[I] {
	out := make(chan Envelope[I])
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-in:
				if !ok {
					return
				}
				if next, keep := fn(e); keep && !emit(ctx, out, next) {
					return
				}
			}
		}
	}()
	return out
}

// drainThen collects in until it closes, applies fn and re-emits the
// result as fresh envelopes.
func drainThen[I any](ctx context.Context, in <-chan Envelope[I], fn func([]I) []I) <-chan Envelope[I] {
	out := make(chan Envelope[I])
	go func() {
		defer close(out)
		items := Collect(ctx, in)
		if ctx.Err() != nil {
			return
		}
		var seq Sequencer
		for _, item := range fn(items) {
			if !emit(ctx, out, Wrap(&seq, item)) {
				return
			}
		}
	}()
	return out
}

func sortStable[I any](items []I, less func(a, b I) bool) []I {
	sorted := append([]I(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	return sorted
}

type retained[I any] struct {
	seq  uint64
	item I
}

// matcher is the per-run memory of one BetterMatch step.
type matcher[C, I any] struct {
	c       C
	step    BetterMatch[C, I]
	buckets map[string][]retained[I]
}

func newMatcher[C, I any](c C, step BetterMatch[C, I]) *matcher[C, I] {
	return &matcher[C, I]{c: c, step: step, buckets: make(map[string][]retained[I])}
}

func (m *matcher[C, I]) key(item I) string {
	if m.step.Key == nil {
		return ""
	}
	return m.step.Key(item)
}

func (m *matcher[C, I]) forget(seqs []uint64) {
	if len(seqs) == 0 {
		return
	}
	for k, bucket := range m.buckets {
		kept := bucket[:0]
		for _, r := range bucket {
			if !containsSeq(seqs, r.seq) {
				kept = append(kept, r)
			}
		}
		m.buckets[k] = kept
	}
}

func (m *matcher[C, I]) apply(e Envelope[I]) (Envelope[I], bool) {
	// Upstream retractions remove candidates this step retained.
	m.forget(e.Retracts)
	if e.Tombstone {
		return e, true
	}

	k := m.key(e.Item)
	bucket := m.buckets[k]
	for i, r := range bucket {
		switch m.step.Compare(m.c, e.Item, r.item) {
		case NotComparable:
			continue
		case BetterAlternative:
			bucket[i] = retained[I]{seq: e.Seq, item: e.Item}
			e.Retracts = append(append([]uint64(nil), e.Retracts...), r.seq)
			return e, true
		default:
			if len(e.Retracts) > 0 {
				return tombstone[I](e.Retracts), true
			}
			return e, false
		}
	}

	m.buckets[k] = append(bucket, retained[I]{seq: e.Seq, item: e.Item})
	return e, true
}

func containsSeq(seqs []uint64, seq uint64) bool {
	for _, s := range seqs {
		if s == seq {
			return true
		}
	}
	return false
}
