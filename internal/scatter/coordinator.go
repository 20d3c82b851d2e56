package scatter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/pipeline"
)

// DefaultProcessingAllowance is the part of a search timeout reserved for
// final aggregation and marshalling the response.
const DefaultProcessingAllowance = 50 * time.Millisecond

// Steps is the step list type a Coordinator runs.
type Steps[B, Q, I any] []pipeline.Step[pipeline.Context[B, Q], I]

// CoordinatorConfig wires a Coordinator.
type CoordinatorConfig[B, Q, I any] struct {
	// Requests carries broadcast Request values.
	Requests channel.Channel

	// Responses carries correlated replies. It may be wrapped with offload.
	Responses channel.Channel

	// ReplyTo is the address responders publish to; it must name Responses.
	ReplyTo ir.TopicAndPartition

	// Data supplies the business data each search is evaluated against.
	Data Source[B]

	// LiveSteps run on each reply as it arrives.
	LiveSteps Steps[B, Q, I]

	// FinalSteps run once over the gathered replies after the deadline.
	FinalSteps Steps[B, Q, I]

	// IDs generates request IDs. Defaults to RandomIDGenerator.
	IDs IDGenerator

	// ProcessingAllowance defaults to DefaultProcessingAllowance. A
	// negative value means none.
	ProcessingAllowance time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator answers searches by scatter-gather.
type Coordinator[B, Q, I any] struct {
	cfg CoordinatorConfig[B, Q, I]
}

// NewCoordinator validates cfg and both step lists.
func NewCoordinator[B, Q, I any](cfg CoordinatorConfig[B, Q, I]) (*Coordinator[B, Q, I], error) {
	if cfg.Requests == nil || cfg.Responses == nil {
		return nil, errors.New("coordinator: request and response channels are required")
	}
	if cfg.Data == nil {
		return nil, errors.New("coordinator: business data source is required")
	}
	if err := pipeline.Validate(cfg.LiveSteps); err != nil {
		return nil, fmt.Errorf("coordinator: live steps: %w", err)
	}
	if err := pipeline.Validate(cfg.FinalSteps); err != nil {
		return nil, fmt.Errorf("coordinator: final steps: %w", err)
	}
	if cfg.IDs == nil {
		cfg.IDs = RandomIDGenerator{}
	}
	switch {
	case cfg.ProcessingAllowance == 0:
		cfg.ProcessingAllowance = DefaultProcessingAllowance
	case cfg.ProcessingAllowance < 0:
		cfg.ProcessingAllowance = 0
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator[B, Q, I]{cfg: cfg}, nil
}

// Search broadcasts query and gathers replies for timeout minus the
// processing allowance. Zero replies is not an error. Transport errors on
// the reply stream end collection early without failing the search; only
// a failed subscribe or publish, or cancellation of ctx, is returned as
// an error.
func (c *Coordinator[B, Q, I]) Search(ctx context.Context, query Q, timeout time.Duration) (SearchResponse[I], error) {
	start := c.cfg.Now()
	data := c.cfg.Data.Current()
	requestID := c.cfg.IDs.Generate()
	pctx := pipeline.Context[B, Q]{BusinessData: data, Request: query}

	budget := timeout - c.cfg.ProcessingAllowance
	if budget < 0 {
		budget = 0
	}
	deadline := start.Add(budget)

	collectCtx, stopCollecting := context.WithTimeout(ctx, budget)
	defer stopCollecting()

	sub, err := c.cfg.Responses.Subscribe(collectCtx, ir.Tail())
	if err != nil {
		return SearchResponse[I]{}, fmt.Errorf("search %s: subscribe to responses: %w", requestID, err)
	}

	// The pipeline outlives collection so items already accepted are
	// flushed through it after the deadline closes its input.
	pipeCtx, stopPipeline := context.WithCancel(ctx)
	defer stopPipeline()

	items := c.gather(collectCtx, channel.Correlated(collectCtx, sub, requestID), requestID)
	stream, err := pipeline.ApplyToStream(pipeCtx, pctx, c.cfg.LiveSteps, pipeline.FromChannel(pipeCtx, items))
	if err != nil {
		return SearchResponse[I]{}, err
	}

	payload, err := json.Marshal(Request[Q]{
		RequestID: requestID,
		ReplyTo:   c.cfg.ReplyTo,
		Deadline:  deadline,
		Query:     query,
	})
	if err != nil {
		return SearchResponse[I]{}, fmt.Errorf("search %s: encode request: %w", requestID, err)
	}
	if _, err := c.cfg.Requests.PublishCorrelated(ctx, payload, requestID); err != nil {
		return SearchResponse[I]{}, fmt.Errorf("search %s: publish request: %w", requestID, err)
	}
	slog.Debug("search broadcast", "request_id", requestID, "deadline", deadline, "watermark", data.Watermark)

	gathered := pipeline.Collect(pipeCtx, stream)
	if err := ctx.Err(); err != nil {
		return SearchResponse[I]{}, err
	}

	final, err := pipeline.ApplyToSlice(ctx, pctx, c.cfg.FinalSteps, gathered)
	if err != nil {
		return SearchResponse[I]{}, err
	}
	if final == nil {
		final = []I{}
	}

	elapsed := c.cfg.Now().Sub(start)
	slog.Info("search complete",
		"request_id", requestID,
		"items", len(final),
		"elapsed", elapsed,
		"watermark", data.Watermark,
	)
	return SearchResponse[I]{
		RequestID:             requestID,
		Items:                 final,
		Elapsed:               elapsed,
		BusinessDataWatermark: data.Watermark,
	}, nil
}

// gather decodes correlated replies until ctx ends or the stream closes.
func (c *Coordinator[B, Q, I]) gather(ctx context.Context, in <-chan channel.Delivery, requestID string) <-chan I {
	out := make(chan I)
	go func() {
		defer close(out)
		for {
			var (
				d  channel.Delivery
				ok bool
			)
			select {
			case <-ctx.Done():
				return
			case d, ok = <-in:
			}
			// select picks at random when a reply and the deadline are
			// both ready; a reply received after the deadline is dropped.
			if !ok || ctx.Err() != nil {
				return
			}
			if d.Err != nil {
				slog.Warn("search reply error", "request_id", requestID, "error", d.Err)
				continue
			}

			var msg ir.RequestResponseMessage[I]
			if err := json.Unmarshal(d.Message.Payload, &msg); err != nil {
				slog.Warn("discarding undecodable reply", "request_id", requestID, "watermark", d.Message.Watermark, "error", err)
				continue
			}
			if msg.RequestID != requestID {
				continue
			}

			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
