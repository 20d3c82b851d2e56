package channel

import (
	"context"
)

// Correlated forwards only deliveries whose message carries requestID.
// Error deliveries that cannot be attributed to any request (empty
// RequestID) are forwarded as well so callers can log them.
// The returned channel closes when in closes or ctx ends.
func Correlated(ctx context.Context, in <-chan Delivery, requestID string) <-chan Delivery {
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-in:
				if !ok {
					return
				}
				if !belongsTo(d, requestID) {
					continue
				}
				if !send(ctx, out, d) {
					return
				}
			}
		}
	}()
	return out
}

func belongsTo(d Delivery, requestID string) bool {
	if d.Message.RequestID == requestID {
		return true
	}
	return d.Err != nil && d.Message.RequestID == ""
}
