package pump

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/objstore"
)

// SnapshotInfo describes one snapshot object in the store.
type SnapshotInfo struct {
	Name         string       `json:"name"`
	Watermark    ir.Watermark `json:"watermark"`
	Compressed   bool         `json:"compressed"`
	LastModified time.Time    `json:"lastModified"`
	Size         int64        `json:"size"`
}

// Snapshots lists every snapshot object, newest watermark first. Objects
// whose names do not parse as snapshots are ignored.
func (p *Pump[T, U]) Snapshots(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := p.snapshots.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}

	infos := make([]SnapshotInfo, 0, len(objects))
	for _, obj := range objects {
		w, compressed, ok := ir.ParseSnapshotName(obj.Name)
		if !ok {
			continue
		}
		infos = append(infos, SnapshotInfo{
			Name:         obj.Name,
			Watermark:    w,
			Compressed:   compressed,
			LastModified: obj.LastModified,
			Size:         obj.Size,
		})
	}

	// Plain before compressed at equal watermarks.
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Watermark != infos[j].Watermark {
			return infos[i].Watermark > infos[j].Watermark
		}
		return !infos[i].Compressed && infos[j].Compressed
	})
	return infos, nil
}

// FetchSnapshot loads the snapshot with the highest watermark. An empty
// store yields CreateEmpty() at NoWatermark. A snapshot that cannot be
// read or decoded fails with *SnapshotDownloadError; older snapshots are
// not tried.
func (p *Pump[T, U]) FetchSnapshot(ctx context.Context) (ir.BusinessData[T], error) {
	infos, err := p.Snapshots(ctx)
	if err != nil {
		return ir.BusinessData[T]{}, err
	}
	if len(infos) == 0 {
		slog.Debug("no snapshot found, starting empty")
		return p.empty(), nil
	}

	chosen := infos[0]
	raw, err := p.snapshots.Get(ctx, chosen.Name)
	if err != nil {
		return ir.BusinessData[T]{}, &SnapshotDownloadError{Name: chosen.Name, Watermark: chosen.Watermark, Err: err}
	}
	data, err := decodeSnapshot[T](raw, chosen.Compressed)
	if err != nil {
		return ir.BusinessData[T]{}, &SnapshotDownloadError{Name: chosen.Name, Watermark: chosen.Watermark, Err: err}
	}
	if data.Watermark != chosen.Watermark {
		return ir.BusinessData[T]{}, &SnapshotDownloadError{
			Name:      chosen.Name,
			Watermark: chosen.Watermark,
			Err:       fmt.Errorf("content records watermark %d", data.Watermark),
		}
	}

	slog.Debug("fetched snapshot", "name", chosen.Name, "watermark", data.Watermark)
	return data, nil
}

// WriteSnapshot stores data under its watermark, write-once. A snapshot
// already present at that watermark is left as is and no error is
// returned. An aggregate that has folded nothing is not written.
func (p *Pump[T, U]) WriteSnapshot(ctx context.Context, data ir.BusinessData[T]) error {
	if data.Empty() {
		slog.Debug("skipping snapshot of empty aggregate")
		return nil
	}

	encoded, err := encodeSnapshot(data, p.opts.compress)
	if err != nil {
		return fmt.Errorf("encode snapshot %d: %w", data.Watermark, err)
	}

	name := ir.SnapshotName(data.Watermark, p.opts.compress)
	err = p.snapshots.PutIfAbsent(ctx, name, encoded)
	if errors.Is(err, objstore.ErrAlreadyExists) {
		slog.Debug("snapshot already exists", "name", name, "watermark", data.Watermark)
		return nil
	}
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}

	slog.Info("wrote snapshot", "name", name, "watermark", data.Watermark, "bytes", len(encoded))
	return nil
}

func encodeSnapshot[T any](data ir.BusinessData[T], compress bool) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if !compress {
		return raw, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeSnapshot[T any](raw []byte, compressed bool) (ir.BusinessData[T], error) {
	var data ir.BusinessData[T]
	if compressed {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return data, fmt.Errorf("gunzip: %w", err)
		}
		defer zr.Close()
		if raw, err = io.ReadAll(zr); err != nil {
			return data, fmt.Errorf("gunzip: %w", err)
		}
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("decode: %w", err)
	}
	return data, nil
}
