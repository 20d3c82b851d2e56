package scatter

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/pipeline"
)

type quote struct {
	Part  string  `json:"part"`
	Price float64 `json:"price"`
	From  string  `json:"from"`
}

type query struct {
	Part string `json:"part"`
}

type discounts struct {
	Off float64
}

type staticSource ir.BusinessData[discounts]

func (s staticSource) Current() ir.BusinessData[discounts] { return ir.BusinessData[discounts](s) }

type pctx = pipeline.Context[discounts, query]

var (
	matchingPart = pipeline.Predicate[pctx, quote]{
		Name:    "part",
		Matches: func(c pctx, q quote) bool { return q.Part == c.Request.Part },
	}
	applyDiscount = pipeline.Projection[pctx, quote]{
		Name: "discount",
		Map: func(c pctx, q quote) quote {
			q.Price -= c.BusinessData.Payload.Off
			return q
		},
	}
	cheapestFrom = pipeline.BetterMatch[pctx, quote]{
		Name: "cheapest-per-part",
		Key:  func(q quote) string { return q.Part },
		Compare: func(_ pctx, cand, kept quote) pipeline.ComparisonResult {
			if cand.Part != kept.Part {
				return pipeline.NotComparable
			}
			if cand.Price < kept.Price {
				return pipeline.BetterAlternative
			}
			return pipeline.NotBetterAlternative
		},
	}
	byPrice = pipeline.Order[pctx, quote]{
		Name: "price",
		Less: func(a, b quote) bool { return a.Price < b.Price },
	}
)

var replyAddr = ir.TopicAndPartition{Topic: "responses", Partition: 0}

type rig struct {
	requests  *channel.Memory
	responses *channel.Memory
	coord     *Coordinator[discounts, query, quote]
}

func newRig(t *testing.T, live, final Steps[discounts, query, quote], ids IDGenerator) *rig {
	t.Helper()
	r := &rig{requests: channel.NewMemory(), responses: channel.NewMemory()}
	coord, err := NewCoordinator(CoordinatorConfig[discounts, query, quote]{
		Requests:   r.requests,
		Responses:  r.responses,
		ReplyTo:    replyAddr,
		Data:       staticSource{Payload: discounts{Off: 1}, Watermark: 4},
		LiveSteps:  live,
		FinalSteps: final,
		IDs:        ids,
	})
	require.NoError(t, err)
	r.coord = coord
	return r
}

// provider subscribes a responder before returning so no request is missed.
func (r *rig) provider(t *testing.T, ctx context.Context, handler Handler[query, quote], opts ...ResponderOption) {
	t.Helper()
	sub, err := r.requests.Subscribe(ctx, ir.Tail())
	require.NoError(t, err)
	resp := NewResponder(r.requests, StaticResolver(map[ir.TopicAndPartition]channel.Channel{replyAddr: r.responses}), handler, opts...)
	go resp.Serve(ctx, sub)
}

func emitAll(quotes ...quote) Handler[query, quote] {
	return func(ctx context.Context, _ Request[query], emit func(quote) error) error {
		for _, q := range quotes {
			if err := emit(q); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestSearch_NoResponderReturnsEmptyWithinTimeout(t *testing.T) {
	r := newRig(t, nil, nil, nil)

	const timeout = 300 * time.Millisecond
	start := time.Now()
	resp, err := r.coord.Search(context.Background(), query{Part: "bolt"}, timeout)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.NotNil(t, resp.Items)
	assert.Empty(t, resp.Items)
	assert.Less(t, elapsed, timeout+DefaultProcessingAllowance)
	assert.Equal(t, ir.Watermark(4), resp.BusinessDataWatermark)
}

func TestSearch_GathersAcrossProvidersAndRunsBothStepLists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live := Steps[discounts, query, quote]{matchingPart, applyDiscount, cheapestFrom}
	final := Steps[discounts, query, quote]{byPrice}
	r := newRig(t, live, final, NewFixedGenerator("req-1"))

	r.provider(t, ctx, emitAll(quote{Part: "bolt", Price: 10, From: "a"}, quote{Part: "nut", Price: 2, From: "a"}))
	r.provider(t, ctx, emitAll(quote{Part: "bolt", Price: 8, From: "b"}, quote{Part: "bolt", Price: 9, From: "c"}))

	resp, err := r.coord.Search(ctx, query{Part: "bolt"}, 300*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, []quote{{Part: "bolt", Price: 7, From: "b"}}, resp.Items)
	assert.Equal(t, ir.Watermark(4), resp.BusinessDataWatermark)
	assert.Greater(t, int64(resp.Elapsed), int64(0))
}

func TestSearch_ResponderCrashDoesNotFailSearch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRig(t, nil, Steps[discounts, query, quote]{byPrice}, nil)
	r.provider(t, ctx, func(ctx context.Context, _ Request[query], emit func(quote) error) error {
		_ = emit(quote{Part: "bolt", Price: 3, From: "crashy"})
		panic("provider went away")
	})
	r.provider(t, ctx, func(ctx context.Context, _ Request[query], emit func(quote) error) error {
		_ = emit(quote{Part: "bolt", Price: 5, From: "flaky"})
		return errors.New("backend unavailable")
	})
	r.provider(t, ctx, emitAll(quote{Part: "bolt", Price: 4, From: "steady"}))

	resp, err := r.coord.Search(ctx, query{Part: "bolt"}, 300*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, resp.Items, 3)
	assert.Equal(t, []string{"crashy", "steady", "flaky"}, []string{resp.Items[0].From, resp.Items[1].From, resp.Items[2].From})
}

func TestSearch_IgnoresRepliesForOtherRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRig(t, nil, nil, NewFixedGenerator("mine"))
	sub, err := r.requests.Subscribe(ctx, ir.Tail())
	require.NoError(t, err)
	go func() {
		for d := range sub {
			stray, _ := json.Marshal(ir.RequestResponseMessage[quote]{Payload: quote{From: "stray"}, RequestID: "other"})
			_, _ = r.responses.PublishCorrelated(ctx, stray, "other")
			// Correlation metadata and payload disagree: still not ours.
			forged, _ := json.Marshal(ir.RequestResponseMessage[quote]{Payload: quote{From: "forged"}, RequestID: "other"})
			_, _ = r.responses.PublishCorrelated(ctx, forged, d.Message.RequestID)
			_, _ = r.responses.PublishCorrelated(ctx, []byte("not json"), d.Message.RequestID)
			ok, _ := json.Marshal(ir.RequestResponseMessage[quote]{Payload: quote{From: "ok"}, RequestID: d.Message.RequestID})
			_, _ = r.responses.PublishCorrelated(ctx, ok, d.Message.RequestID)
		}
	}()

	resp, err := r.coord.Search(ctx, query{}, 200*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "ok", resp.Items[0].From)
}

func TestSearch_LateRepliesAreNotIncorporated(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRig(t, nil, nil, nil)
	r.provider(t, ctx, func(ctx context.Context, req Request[query], emit func(quote) error) error {
		_ = emit(quote{From: "early"})
		// Outlive the requester's deadline, ignoring our own.
		time.Sleep(250 * time.Millisecond)
		return emit(quote{From: "late"})
	})

	resp, err := r.coord.Search(ctx, query{}, 150*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "early", resp.Items[0].From)
}

func TestGather_DropsRepliesReadyAtDeadline(t *testing.T) {
	r := newRig(t, nil, nil, nil)
	payload, err := json.Marshal(ir.RequestResponseMessage[quote]{Payload: quote{From: "tie"}, RequestID: "req-1"})
	require.NoError(t, err)

	expired, cancel := context.WithCancel(context.Background())
	cancel()

	// Both select cases are ready on every iteration.
	for i := 0; i < 200; i++ {
		in := make(chan channel.Delivery, 1)
		in <- channel.Delivery{Message: ir.Message{Watermark: ir.Watermark(i), RequestID: "req-1", Payload: payload}}

		var got []quote
		for q := range r.coord.gather(expired, in, "req-1") {
			got = append(got, q)
		}
		require.Empty(t, got, "iteration %d", i)
	}
}

func TestSearch_CancellationStopsPromptly(t *testing.T) {
	r := newRig(t, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := r.coord.Search(ctx, query{}, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSearch_RequestCarriesReplyAddressAndDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := newRig(t, nil, nil, NewFixedGenerator("req-42"))
	sub, err := r.requests.Subscribe(ctx, ir.Tail())
	require.NoError(t, err)

	before := time.Now()
	_, err = r.coord.Search(ctx, query{Part: "gear"}, 100*time.Millisecond)
	require.NoError(t, err)

	d := <-sub
	assert.Equal(t, "req-42", d.Message.RequestID)

	var req Request[query]
	require.NoError(t, json.Unmarshal(d.Message.Payload, &req))
	assert.Equal(t, "req-42", req.RequestID)
	assert.Equal(t, replyAddr, req.ReplyTo)
	assert.Equal(t, query{Part: "gear"}, req.Query)
	assert.WithinDuration(t, before.Add(50*time.Millisecond), req.Deadline, 30*time.Millisecond)
}

func TestNewCoordinator_RejectsBadSteps(t *testing.T) {
	_, err := NewCoordinator(CoordinatorConfig[discounts, query, quote]{
		Requests:  channel.NewMemory(),
		Responses: channel.NewMemory(),
		Data:      staticSource{},
		LiveSteps: Steps[discounts, query, quote]{nil},
	})
	assert.True(t, pipeline.IsUnsupportedStepKind(err))

	_, err = NewCoordinator(CoordinatorConfig[discounts, query, quote]{Data: staticSource{}})
	assert.Error(t, err)
}

func TestResponder_BoundedConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests, responses := channel.NewMemory(), channel.NewMemory()
	var active, peak, served atomic.Int32
	resp := NewResponder(requests, StaticResolver(map[ir.TopicAndPartition]channel.Channel{replyAddr: responses}),
		func(ctx context.Context, _ Request[query], emit func(quote) error) error {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
			served.Add(1)
			return nil
		}, WithMaxConcurrent(1))

	sub, err := requests.Subscribe(ctx, ir.Tail())
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- resp.Serve(ctx, sub) }()

	for i := 0; i < 4; i++ {
		payload, _ := json.Marshal(Request[query]{RequestID: "r", ReplyTo: replyAddr})
		_, err := requests.PublishCorrelated(ctx, payload, "r")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return served.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), peak.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("responder did not stop")
	}
}

func TestResponder_UnknownReplyAddressIsSkipped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	requests := channel.NewMemory()
	var called atomic.Bool
	resp := NewResponder(requests, StaticResolver(nil), func(ctx context.Context, _ Request[query], emit func(quote) error) error {
		called.Store(true)
		return nil
	})
	sub, err := requests.Subscribe(ctx, ir.Tail())
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- resp.Serve(ctx, sub) }()

	payload, _ := json.Marshal(Request[query]{RequestID: "r", ReplyTo: ir.TopicAndPartition{Topic: "nowhere"}})
	_, err = requests.Publish(ctx, payload)
	require.NoError(t, err)
	require.NoError(t, requests.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("responder did not stop after request stream closed")
	}
	assert.False(t, called.Load())
}

func TestRandomIDGenerator_UniqueV4(t *testing.T) {
	var gen RandomIDGenerator
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.Generate()
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestFixedGenerator_ExhaustionPanics(t *testing.T) {
	gen := NewFixedGenerator("a")
	assert.Equal(t, "a", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
