// Package assistant tracks the fleet of managed assistant sessions.
//
// # Overview
//
// A Registry owns the live Session handles. Durable records (handle,
// sealed credentials, health, who added the assistant) live in the
// store.DocumentStore. The two are kept consistent without a shared
// transaction:
//
//   - AddAssistant connects first, then persists, then registers. A failed
//     connect or persist leaves nothing behind.
//   - RemoveAssistant detaches the live entry before deleting the record
//     and restores it if the delete fails.
//   - SetHealth only updates records of live, not-removed assistants.
//
// # Results
//
// Every remote call returns a Result: OK, RateLimited(wait) or
// Failed(err). Callers branch on Result.Outcome instead of inspecting
// transport errors.
//
// # Concurrency
//
// The registry map is guarded by an RWMutex; each entry has its own mutex
// so a health update and a removal of the same assistant never interleave.
package assistant
