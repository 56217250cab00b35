// Package manager wires the assistant-manager process together.
//
// # Startup
//
//  1. Open the DocumentStore (SQLite or MongoDB)
//  2. Build the credential Box, audit log and sinks
//  3. Build access control, the registry, the health supervisor, the
//     bulk executor, the conversation engine and the console
//  4. Run: reconnect persisted assistants, then start the HTTP API, the
//     health loop and the Matrix bot
//
// # Shutdown
//
// Cancelling the Run context stops the servers, closes
// every live session, flushes audit sinks and closes the store. Shutdown
// is idempotent.
package manager
