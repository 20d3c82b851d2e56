// Package ir provides the shared data model for replicant.
//
// This package contains type definitions and naming helpers only. All other
// internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Watermarks are channel-assigned, strictly increasing within a partition
//   - NoWatermark (-1) means "no data yet"
//   - BusinessData values are immutable once produced; every applied update
//     yields a new value
//   - All JSON tags use camelCase to match the on-wire envelopes
package ir
