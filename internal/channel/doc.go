// Package channel defines the ordered message channel the core consumes and
// provides transports for it.
//
// A Channel is an append-only, per-partition sequence of payloads. Every
// published message is stamped with a watermark by the channel itself;
// subscribers start either at the tail or at an explicit watermark.
//
// Transports:
//   - Memory: in-process log, used by tests and single-binary demos
//   - SQLiteLog: table-backed log shared by processes on one host
//   - Kafka: one topic partition, record offset = watermark
//   - AMQP: fanout exchange used as a tail-only broadcast bus
//
// Subscription contract:
//   - The returned channel is closed when the subscription ends, either because
//     ctx was cancelled, the channel was closed, or the transport failed
//   - A Delivery with Err set reports a problem with one item or with the
//     transport; consumers decide whether it is fatal for them
//   - Deliveries are sent one at a time in watermark order
package channel
