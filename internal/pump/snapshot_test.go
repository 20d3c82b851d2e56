package pump

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/objstore"
)

func TestWriteSnapshot_Golden(t *testing.T) {
	ctx := context.Background()
	st := objstore.NewMemory(nil)
	p := newTestPump(t, channel.NewMemory(), st)

	require.NoError(t, p.WriteSnapshot(ctx, ir.BusinessData[tally]{
		Payload:   tally{"b": 2, "a": 1},
		Watermark: 3,
	}))

	raw, err := st.Get(ctx, "3.json")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "snapshot_plain", raw)
}

func TestWriteSnapshot_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := objstore.NewMemory(nil)
	p := newTestPump(t, channel.NewMemory(), st)
	other := newTestPump(t, channel.NewMemory(), st)

	first := ir.BusinessData[tally]{Payload: tally{"a": 1}, Watermark: 7}
	require.NoError(t, p.WriteSnapshot(ctx, first))
	require.NoError(t, other.WriteSnapshot(ctx, first))
	require.NoError(t, p.WriteSnapshot(ctx, ir.BusinessData[tally]{Payload: tally{"z": 9}, Watermark: 7}))

	infos, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "7.json", infos[0].Name)

	got, err := p.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, got)
}

func TestWriteSnapshot_SkipsEmptyAggregate(t *testing.T) {
	ctx := context.Background()
	st := objstore.NewMemory(nil)
	p := newTestPump(t, channel.NewMemory(), st)

	require.NoError(t, p.WriteSnapshot(ctx, ir.BusinessData[tally]{Payload: tally{}, Watermark: ir.NoWatermark}))

	infos, err := st.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestWriteSnapshot_CompressedRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := objstore.NewMemory(nil)
	p := newTestPump(t, channel.NewMemory(), st, WithCompression(true))

	data := ir.BusinessData[tally]{Payload: tally{"a": 1, "b": 2}, Watermark: 12}
	require.NoError(t, p.WriteSnapshot(ctx, data))

	_, err := st.Get(ctx, "12.json.gz")
	require.NoError(t, err)

	// A pump without compression still reads it.
	plain := newTestPump(t, channel.NewMemory(), st)
	got, err := plain.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestFetchSnapshot_PicksHighestWatermark(t *testing.T) {
	ctx := context.Background()
	st := objstore.NewMemory(nil)
	plain := newTestPump(t, channel.NewMemory(), st)
	gz := newTestPump(t, channel.NewMemory(), st, WithCompression(true))

	require.NoError(t, plain.WriteSnapshot(ctx, ir.BusinessData[tally]{Payload: tally{"v": 9}, Watermark: 9}))
	require.NoError(t, gz.WriteSnapshot(ctx, ir.BusinessData[tally]{Payload: tally{"v": 10}, Watermark: 10}))
	require.NoError(t, plain.WriteSnapshot(ctx, ir.BusinessData[tally]{Payload: tally{"v": 2}, Watermark: 2}))
	require.NoError(t, st.PutIfAbsent(ctx, "99.txt", []byte("not a snapshot")))

	got, err := plain.FetchSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, ir.Watermark(10), got.Watermark)
	assert.Equal(t, tally{"v": 10}, got.Payload)
}

func TestFetchSnapshot_EmptyStore(t *testing.T) {
	p := newTestPump(t, channel.NewMemory(), objstore.NewMemory(nil))
	got, err := p.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Empty())
	assert.Equal(t, tally{}, got.Payload)
}

func TestSnapshots_OrderedNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := objstore.NewMemory(nil)
	for _, name := range []string{"2.json", "10.json", "10.json.gz", "1.json", "README"} {
		require.NoError(t, st.PutIfAbsent(ctx, name, []byte("{}")))
	}

	p := newTestPump(t, channel.NewMemory(), st)
	infos, err := p.Snapshots(ctx)
	require.NoError(t, err)

	var names []string
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"10.json", "10.json.gz", "2.json", "1.json"}, names)
}
