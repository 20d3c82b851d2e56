package ir

import (
	"strconv"
	"strings"
)

// Snapshot object name suffixes. The decimal watermark prefix is
// load-bearing: listing a store must be able to recover every watermark.
const (
	SnapshotSuffix           = ".json"
	CompressedSnapshotSuffix = ".json.gz"
)

// SnapshotName returns the object name for a snapshot at w.
func SnapshotName(w Watermark, compressed bool) string {
	if compressed {
		return w.String() + CompressedSnapshotSuffix
	}
	return w.String() + SnapshotSuffix
}

// ParseSnapshotName recovers the watermark from a snapshot object name.
// Returns ok=false for names that are not snapshots.
func ParseSnapshotName(name string) (w Watermark, compressed bool, ok bool) {
	var stem string
	switch {
	case strings.HasSuffix(name, CompressedSnapshotSuffix):
		stem = strings.TrimSuffix(name, CompressedSnapshotSuffix)
		compressed = true
	case strings.HasSuffix(name, SnapshotSuffix):
		stem = strings.TrimSuffix(name, SnapshotSuffix)
	default:
		return NoWatermark, false, false
	}
	// Reject signs and leading zeros so the name round-trips exactly.
	if stem == "" || (len(stem) > 1 && stem[0] == '0') || stem[0] == '+' || stem[0] == '-' {
		return NoWatermark, false, false
	}
	n, err := strconv.ParseInt(stem, 10, 64)
	if err != nil {
		return NoWatermark, false, false
	}
	return Watermark(n), compressed, true
}
