// Package store provides the durable key → opaque blob store the engine
// uses to survive restarts.
//
// The store holds no business logic. Callers own their key namespaces:
//   - "deposit/<tanda>/<wallet>/<cycle>": failed deposit retry records
//   - "reputation/<wallet>": the bounded reputation score
//   - "cache/tandas": the offline-first tanda cache
//
// # Backends
//
//   - SQLite (default): single kv table, WAL mode, schema versioned via
//     PRAGMA user_version
//   - Memory: map-backed, for tests and the simulate command
//   - badgerstore: Badger LSM store, selected with backend "badger"
//
// Keys returns keys in byte order, so prefix scans are deterministic.
package store
