// Package store archives ingested telemetry batches in SQLite.
//
// The archive is append-only. Each batch is identified by the content id
// of its uncompressed body, so a batch delivered twice (the transport
// retries once) is stored once.
//
// # Layout
//
//   - batches: one row per batch with its session descriptor and raw body
//   - interactions: the flushed interactions of a batch, in wire order
//   - components: the component aggregates of a batch, in wire order
//
// # Determinism
//
// Batches are numbered by a logical receive sequence. Every query orders
// by that sequence, then by ordinal or name with COLLATE BINARY, so the
// same archive always reads back identically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait on lock contention
//   - foreign_keys=ON: Child rows require their batch
package store
