package pipeline

import (
	"context"

	"github.com/roach88/replicant/internal/ir"
)

// Context is the read-only input every step sees: one version of the
// business data and the request being served.
type Context[B, Q any] struct {
	BusinessData ir.BusinessData[B]
	Request      Q
}

// Kind names a step variant.
type Kind string

const (
	KindPredicate   Kind = "predicate"
	KindProjection  Kind = "projection"
	KindBetterMatch Kind = "better_match"
	KindEnumerable  Kind = "enumerable_processor"
	KindStream      Kind = "stream_processor"
	KindOrder       Kind = "order"
)

// Step is one pipeline stage over context C and item I. The interface is
// sealed; only the variants in this package implement it.
type Step[C, I any] interface {
	StepKind() Kind
	isStep()
}

// ComparisonResult is the verdict of a BetterMatch comparator.
type ComparisonResult int

const (
	// NotComparable means the two items do not share identity.
	NotComparable ComparisonResult = iota
	// BetterAlternative means the new item should replace the retained one.
	BetterAlternative
	// NotBetterAlternative means the new item should be dropped.
	NotBetterAlternative
)

// String returns the result name.
func (r ComparisonResult) String() string {
	switch r {
	case NotComparable:
		return "not_comparable"
	case BetterAlternative:
		return "better_alternative"
	case NotBetterAlternative:
		return "not_better_alternative"
	default:
		return "unknown"
	}
}

// Predicate keeps an item iff Matches returns true.
type Predicate[C, I any] struct {
	Name    string
	Matches func(c C, item I) bool
}

// Projection replaces each item with Map's result, one to one.
type Projection[C, I any] struct {
	Name string
	Map  func(c C, item I) I
}

// BetterMatch retains at most one item per identity.
//
// Compare(c, candidate, retained) reports whether a newly observed
// candidate shares identity with a retained item and, if so, whether it
// is better. An item no retained candidate is comparable with is retained
// and emitted. Key is optional; when set, only retained items with the
// same key are compared, which turns the scan into a map lookup. Key must
// agree with Compare: items with different keys must be NotComparable.
//
// The step is deterministic for any two items of equal identity as long
// as Compare is a consistent order; the engine does not check that.
type BetterMatch[C, I any] struct {
	Name    string
	Key     func(item I) string
	Compare func(c C, candidate, retained I) ComparisonResult
}

// EnumerableProcessor transforms the whole collection at once. On a
// stream the engine drains the input before calling Process.
type EnumerableProcessor[C, I any] struct {
	Name    string
	Process func(c C, items []I) []I
}

// StreamProcessor transforms the live stream directly. On a slice the
// engine feeds the items through a stream and drains the result. Stream
// must close its output once in is closed or ctx is done.
type StreamProcessor[C, I any] struct {
	Name   string
	Stream func(ctx context.Context, c C, in <-chan Envelope[I]) <-chan Envelope[I]
}

// Order sorts items with Less, keeping the arrival order of equal items.
// On a stream the engine drains the input before sorting.
type Order[C, I any] struct {
	Name string
	Less func(a, b I) bool
}

func (Predicate[C, I]) StepKind() Kind           { return KindPredicate }
func (Projection[C, I]) StepKind() Kind          { return KindProjection }
func (BetterMatch[C, I]) StepKind() Kind         { return KindBetterMatch }
func (EnumerableProcessor[C, I]) StepKind() Kind { return KindEnumerable }
func (StreamProcessor[C, I]) StepKind() Kind     { return KindStream }
func (Order[C, I]) StepKind() Kind               { return KindOrder }

func (Predicate[C, I]) isStep()           {}
func (Projection[C, I]) isStep()          {}
func (BetterMatch[C, I]) isStep()         {}
func (EnumerableProcessor[C, I]) isStep() {}
func (StreamProcessor[C, I]) isStep()     {}
func (Order[C, I]) isStep()               {}
