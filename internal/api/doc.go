// Package api serves the read-only HTTP status endpoints.
//
//	GET /healthz         liveness
//	GET /readyz          storage reachability
//	GET /v1/assistants   persisted assistants with live flag
//	GET /v1/health       last completed health report
//	GET /v1/audit        newest audit records, ?limit=N (default 50)
//
// Nothing here mutates state; fleet changes go through the operator console.
package api
