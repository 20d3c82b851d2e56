package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/fashion"
	"github.com/roach88/replicant/internal/objstore"
	"github.com/roach88/replicant/internal/pump"
)

func TestStopPump_ReturnsWhileParentContextIsLive(t *testing.T) {
	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	ctx, cancel := context.WithCancel(parent)
	p := pump.New[fashion.Catalog, fashion.MarkupUpdate](fashion.CatalogDomain{},
		channel.NewMemory(), objstore.NewMemory(nil),
		pump.WithSnapshotInterval(time.Millisecond))
	_, err := p.Start(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		stopPump(cancel, p)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stopPump blocked on a running pump")
	}
}
