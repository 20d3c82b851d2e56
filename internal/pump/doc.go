// Package pump maintains one continuously updated materialized aggregate
// from a durable snapshot plus replay of an ordered update log.
//
// A Pump is built from three collaborators:
//   - a Domain supplying CreateEmpty and a pure Apply fold
//   - a channel.Channel carrying JSON-encoded updates
//   - an objstore.Store holding snapshots named "<watermark>.json"
//
// Start fetches the newest snapshot and subscribes to the log at the
// watermark right after it, so replay covers exactly the updates the
// snapshot has not folded. The running aggregate is exposed through Live,
// which always holds the latest folded value.
//
// Several Pump instances in different processes may share a log and a
// store. Snapshot writes rely on write-once puts and retention relies on
// idempotent deletes; no lock is taken across processes.
package pump
