package channel

import (
	"testing"
	"time"

	"github.com/roach88/replicant/internal/ir"
)

// receiveN reads n deliveries or fails the test after timeout.
func receiveN(t *testing.T, ch <-chan Delivery, n int, timeout time.Duration) []ir.Message {
	t.Helper()
	deadline := time.After(timeout)
	var msgs []ir.Message
	for len(msgs) < n {
		select {
		case d, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed after %d of %d messages", len(msgs), n)
			}
			if d.Err != nil {
				t.Fatalf("unexpected delivery error: %v", d.Err)
			}
			msgs = append(msgs, d.Message)
		case <-deadline:
			t.Fatalf("timed out after %d of %d messages", len(msgs), n)
		}
	}
	return msgs
}

// assertNothing fails if a delivery arrives within wait.
func assertNothing(t *testing.T, ch <-chan Delivery, wait time.Duration) {
	t.Helper()
	select {
	case d, ok := <-ch:
		if ok {
			t.Fatalf("unexpected delivery: %+v", d)
		}
	case <-time.After(wait):
	}
}
