// Package store provides SQLite-backed durable storage for auto-reply rules.
//
// The whole rule set is the unit of persistence: Save replaces every row in
// a single transaction and List returns rows in the order they were saved.
// Readers therefore never observe a half-written rule set.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Schema versions are tracked with PRAGMA user_version and applied on Open.
package store
