package channel

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roach88/replicant/internal/ir"
)

func TestAMQPContainerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("container test skipped in -short mode")
	}
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker/container runtime unavailable: %v", r)
		}
	}()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete"),
	}
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker/container runtime unavailable: %v", err)
	}
	defer func() { _ = ctr.Terminate(ctx) }()

	host, _ := ctr.Host(ctx)
	port, _ := ctr.MappedPort(ctx, "5672")
	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())

	bus, err := DialAMQP(AMQPConfig{URL: url, Exchange: "search-requests"})
	require.NoError(t, err)
	defer bus.Close()

	subCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err = bus.Subscribe(subCtx, ir.FromWatermark(0))
	assert.ErrorIs(t, err, ErrSeekUnsupported)

	a, err := bus.Subscribe(subCtx, ir.Tail())
	require.NoError(t, err)
	b, err := bus.Subscribe(subCtx, ir.Tail())
	require.NoError(t, err)

	w0, err := bus.PublishCorrelated(subCtx, []byte("q1"), "req-1")
	require.NoError(t, err)
	w1, err := bus.Publish(subCtx, []byte("q2"))
	require.NoError(t, err)
	assert.Less(t, w0, w1)

	for _, sub := range []<-chan Delivery{a, b} {
		msgs := receiveN(t, sub, 2, 20*time.Second)
		assert.Equal(t, "req-1", msgs[0].RequestID)
		assert.Equal(t, w0, msgs[0].Watermark)
		assert.Equal(t, []byte("q2"), msgs[1].Payload)
	}
}
