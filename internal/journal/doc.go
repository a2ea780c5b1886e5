// Package journal persists dispatch records of the work queues.
//
// Drivers:
//   - "file": JSON Lines with size-capped rotation (one backup)
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// Recorder adapts a Store to workqueue.Observer without blocking workers.
package journal
