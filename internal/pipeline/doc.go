// Package pipeline applies an ordered list of business-logic steps to a
// finite slice or to a live stream of items.
//
// The step set is closed: Predicate, Projection, BetterMatch,
// EnumerableProcessor, StreamProcessor and Order. Validate rejects
// anything else before any item is processed.
//
// Streams carry Envelope values rather than bare items so that a
// BetterMatch step can supersede something it emitted earlier: the
// replacing envelope lists the retracted sequence numbers and a Collector
// drops them when folding the stream into a result.
//
// Steps never share state across runs. BetterMatch keeps its retained
// candidates in memory created fresh by every ApplyToSlice or
// ApplyToStream call.
package pipeline
