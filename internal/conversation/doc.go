// Package conversation runs the multi-step operator flows.
//
// # Overview
//
// Each operator has at most one active Session. Begin starts a flow,
// Handle feeds it one line of input, Cancel drops it. Starting a new flow
// replaces whatever the operator had in progress.
//
// # Flows
//
//	add_assistant  api_id -> api_hash -> session
//	join, leave    link -> count -> delay
//	broadcast      link -> select -> message -> delay
//	add_admin      user_id
//	remove_admin   user_id
//
// Admin management flows are owner-only. Flows that act on the fleet
// refuse to start when no assistant is live.
//
// # Errors
//
// Invalid input returns a *ValidationError and ends the flow; the operator
// starts over from the menu. Authorization is checked at Begin and again
// on every Handle, so an admin removed mid-flow cannot finish.
package conversation
