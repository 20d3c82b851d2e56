// Package offload decorates a channel.Channel so payloads travel through
// an object store and only a small reference crosses the channel.
//
// Publishing gzips the payload, stores it as "<requestID>/<uuidv7>.gz"
// and publishes a StorageOffloadReference. Subscribing resolves every
// reference back into the original bytes, keeping the inner message's
// watermark and request ID. A reference that cannot be resolved yields a
// per-item DownloadError; the subscription continues.
package offload

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/replicant/internal/channel"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/objstore"
)

// BlobSuffix is appended to every offloaded object name.
const BlobSuffix = ".gz"

// uncorrelated is the name prefix for payloads published without a
// request ID.
const uncorrelated = "_"

// DownloadError reports a reference that could not be resolved.
type DownloadError struct {
	RequestID string
	Address   string
	Err       error
}

// Error implements the error interface.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download offloaded payload %s (request=%s): %v", e.Address, e.RequestID, e.Err)
}

// Unwrap returns the underlying failure.
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// IsDownloadError returns true if err is or wraps a DownloadError.
func IsDownloadError(err error) bool {
	var de *DownloadError
	return errors.As(err, &de)
}

// Channel is the offloading decorator. It implements channel.Channel.
type Channel struct {
	inner channel.Channel
	blobs objstore.Store
	now   func() time.Time
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock replaces the wall clock Purge ages blobs against.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		if now != nil {
			c.now = now
		}
	}
}

// Wrap decorates inner, storing payloads in blobs.
func Wrap(inner channel.Channel, blobs objstore.Store, opts ...Option) *Channel {
	c := &Channel{inner: inner, blobs: blobs, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Publish implements channel.Channel.
func (c *Channel) Publish(ctx context.Context, payload []byte) (ir.Watermark, error) {
	return c.PublishCorrelated(ctx, payload, "")
}

// PublishCorrelated uploads payload and publishes a reference to it.
func (c *Channel) PublishCorrelated(ctx context.Context, payload []byte, requestID string) (ir.Watermark, error) {
	compressed, err := compress(payload)
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("offload: compress: %w", err)
	}

	address := blobName(requestID)
	if err := c.blobs.PutIfAbsent(ctx, address, compressed); err != nil {
		return ir.NoWatermark, fmt.Errorf("offload: upload %s: %w", address, err)
	}

	ref, err := json.Marshal(ir.StorageOffloadReference{RequestID: requestID, Address: address})
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("offload: encode reference: %w", err)
	}

	w, err := c.inner.PublishCorrelated(ctx, ref, requestID)
	if err != nil {
		return ir.NoWatermark, fmt.Errorf("offload: publish reference: %w", err)
	}
	slog.Debug("offloaded payload", "request_id", requestID, "address", address, "bytes", len(payload), "stored", len(compressed))
	return w, nil
}

// Subscribe implements channel.Channel.
func (c *Channel) Subscribe(ctx context.Context, pos ir.SeekPosition) (<-chan channel.Delivery, error) {
	sub, err := c.inner.Subscribe(ctx, pos)
	if err != nil {
		return nil, err
	}

	out := make(chan channel.Delivery)
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
			case d, ok = <-sub:
			}
			if !ok {
				return
			}
			if d.Err == nil {
				d = c.resolve(ctx, d.Message)
			}
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Channel) resolve(ctx context.Context, msg ir.Message) channel.Delivery {
	fail := func(address string, err error) channel.Delivery {
		de := &DownloadError{RequestID: msg.RequestID, Address: address, Err: err}
		slog.Warn("offload download failed", "request_id", msg.RequestID, "address", address, "watermark", msg.Watermark, "error", err)
		return channel.Delivery{Message: ir.Message{Watermark: msg.Watermark, RequestID: msg.RequestID}, Err: de}
	}

	var ref ir.StorageOffloadReference
	if err := json.Unmarshal(msg.Payload, &ref); err != nil {
		return fail("", fmt.Errorf("decode reference: %w", err))
	}
	if ref.Address == "" {
		return fail("", errors.New("reference has no address"))
	}

	compressed, err := c.blobs.Get(ctx, ref.Address)
	if err != nil {
		return fail(ref.Address, err)
	}
	payload, err := decompress(compressed)
	if err != nil {
		return fail(ref.Address, err)
	}

	return channel.Delivery{Message: ir.Message{
		Watermark: msg.Watermark,
		RequestID: msg.RequestID,
		Payload:   payload,
	}}
}

// Purge deletes offloaded blobs last modified more than maxAge ago and
// returns their names. Deletes are idempotent, so several purgers may run
// against one store.
func (c *Channel) Purge(ctx context.Context, maxAge time.Duration) ([]string, error) {
	objects, err := c.blobs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("offload: list: %w", err)
	}

	cutoff := c.now().Add(-maxAge)
	var (
		purged []string
		errs   []error
	)
	for _, obj := range objects {
		if !obj.LastModified.Before(cutoff) {
			continue
		}
		if err := c.blobs.Delete(ctx, obj.Name); err != nil {
			errs = append(errs, fmt.Errorf("offload: delete %s: %w", obj.Name, err))
			continue
		}
		purged = append(purged, obj.Name)
	}
	if len(purged) > 0 {
		slog.Info("purged offloaded payloads", "count", len(purged))
	}
	return purged, errors.Join(errs...)
}

func blobName(requestID string) string {
	prefix := requestID
	if prefix == "" {
		prefix = uncorrelated
	}
	return prefix + "/" + uuid.Must(uuid.NewV7()).String() + BlobSuffix
}

func compress(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gunzip: %w", err)
	}
	return out, nil
}
