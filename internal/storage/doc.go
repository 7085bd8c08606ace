// Package storage persists the per-tenant reminder settings table.
//
// The whole table is loaded at the start of every command and every tick and
// written back in full after every mutation; there is no in-memory cache, so
// the backend is the single source of truth.
//
// Drivers:
//   - "file": one JSON object keyed by tenant id (default)
//   - "sqlite": one row per tenant in a SQLite database file
//   - "memory": process-local table, for tests and dry runs
//
// Load never fails: a missing, unreadable or malformed backend yields an empty
// table so corruption cannot stop the scheduler or command handling.
//
// Save is last-writer-wins. Two mutations that load the same table and save
// concurrently can lose one of the writes; there is no lock or version token.
package storage
