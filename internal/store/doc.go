// Package store provides SQLite-backed durable storage for replicant.
//
// One database file holds two tables:
//   - messages: append-only ordered log, one sequence per topic
//   - blobs: write-once named objects grouped by container
//
// # Critical Patterns
//
// Watermark Assignment
//   - Watermarks are assigned inside the INSERT statement as
//     MAX(watermark)+1 for the topic, starting at 0
//   - PRIMARY KEY(topic, watermark) makes a duplicate assignment fail
//     rather than silently reorder the log
//
// Write-Once Blobs
//   - INSERT ... ON CONFLICT(container, name) DO NOTHING
//   - RowsAffected() == 0 means the name was already taken; the caller
//     decides whether that is an error
//
// Deterministic Reads
//   - Log reads use ORDER BY watermark ASC
//   - Blob listings use ORDER BY name COLLATE BINARY ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes, including other processes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
