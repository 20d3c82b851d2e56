package channel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "log.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteLog_PublishAndReplay(t *testing.T) {
	log := NewSQLiteLog(openTestStore(t), "updates", WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		w, err := log.Publish(ctx, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, ir.Watermark(i), w)
	}

	sub, err := log.Subscribe(ctx, ir.FromWatermark(1))
	require.NoError(t, err)
	msgs := receiveN(t, sub, 2, time.Second)
	assert.Equal(t, ir.Watermark(1), msgs[0].Watermark)
	assert.Equal(t, ir.Watermark(2), msgs[1].Watermark)

	_, err = log.PublishCorrelated(ctx, []byte("live"), "req")
	require.NoError(t, err)
	msgs = receiveN(t, sub, 1, time.Second)
	assert.Equal(t, ir.Watermark(3), msgs[0].Watermark)
	assert.Equal(t, "req", msgs[0].RequestID)
}

func TestSQLiteLog_TailStartsAfterHead(t *testing.T) {
	log := NewSQLiteLog(openTestStore(t), "responses", WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := log.Publish(ctx, []byte("before"))
	require.NoError(t, err)

	sub, err := log.Subscribe(ctx, ir.Tail())
	require.NoError(t, err)

	_, err = log.Publish(ctx, []byte("after"))
	require.NoError(t, err)

	msgs := receiveN(t, sub, 1, time.Second)
	assert.Equal(t, []byte("after"), msgs[0].Payload)
}

func TestSQLiteLog_SmallBatchesStillOrdered(t *testing.T) {
	log := NewSQLiteLog(openTestStore(t), "updates", WithBatchSize(2), WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 7; i++ {
		_, err := log.Publish(ctx, []byte{byte(i)})
		require.NoError(t, err)
	}

	sub, err := log.Subscribe(ctx, ir.FromWatermark(0))
	require.NoError(t, err)
	msgs := receiveN(t, sub, 7, time.Second)
	for i, m := range msgs {
		assert.Equal(t, ir.Watermark(i), m.Watermark)
	}
}

func TestSQLiteLog_Head(t *testing.T) {
	log := NewSQLiteLog(openTestStore(t), "updates")
	ctx := context.Background()

	head, err := log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.NoWatermark, head)

	_, err = log.Publish(ctx, []byte("a"))
	require.NoError(t, err)
	head, err = log.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Watermark(0), head)
}

func TestSQLiteLog_CancelClosesSubscription(t *testing.T) {
	log := NewSQLiteLog(openTestStore(t), "updates", WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := log.Subscribe(ctx, ir.Tail())
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
}
