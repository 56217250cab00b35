// Package store provides durable records for assistant-manager.
//
// # Overview
//
// DocumentStore is the persistence boundary for three record kinds:
//
//   - Assistant: one managed account, keyed by numeric id, with sealed
//     credentials, last observed health and the operator who added it
//   - Admin: an operator granted admin privilege by the owner
//   - LogRecord: an append-only audit entry
//
// # Backends
//
//   - SQLiteStore: modernc.org/sqlite, WAL mode, schema created on open
//   - MongoStore: go.mongodb.org/mongo-driver, one collection per record kind
//   - MockStore: in-memory, with per-operation failure injection for tests
//
// # Ordering
//
// ListAssistants returns records in insertion order. SQLite uses an
// AUTOINCREMENT sequence column; Mongo stores a monotonically increasing seq.
// ListLogs returns newest entries first.
//
// # Errors
//
// ErrNotFound and ErrDuplicate are the only sentinel errors. Any other error
// means the backend could not serve the request and callers treat it as
// storage being unavailable.
package store
