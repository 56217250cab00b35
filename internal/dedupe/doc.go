// Package dedupe drops inbound chat events that a homeserver delivers more
// than once, by remembering event ids for a short window.
package dedupe
