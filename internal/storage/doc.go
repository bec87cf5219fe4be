// Package storage is the key-value cache used by task bodies for dedup and
// last-seen state.
//
// Drivers:
//   - "memory": process-local map, lost on restart
//   - "file": JSON snapshot + append-only journal, compacted periodically
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Every value may carry a TTL; expired keys read as missing.
package storage
