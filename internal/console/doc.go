// Package console is the platform-neutral operator surface.
//
// Front ends translate chat events into Dispatch (a menu action) or Input
// (free text for the active flow) and render the returned Response. The
// console never talks to a chat network itself.
package console
