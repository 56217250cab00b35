// ABOUTME: Chat reference parsing for Matrix rooms
// ABOUTME: Accepts matrix.to links, #aliases and !room ids

package matrix

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidRef indicates a chat reference that is not a Matrix room.
var ErrInvalidRef = errors.New("invalid room reference")

const matrixToPrefix = "https://matrix.to/#/"

// Ref is a parsed room reference.
type Ref struct {
	// Alias is set for #alias:server references.
	Alias string
	// RoomID is set for !id:server references.
	RoomID string
}

// IsAlias reports whether the reference needs alias resolution.
func (r Ref) IsAlias() bool { return r.Alias != "" }

func (r Ref) String() string {
	if r.IsAlias() {
		return r.Alias
	}
	return r.RoomID
}

// ParseRef parses a room reference as typed by an operator.
func ParseRef(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, matrixToPrefix); ok {
		// Drop ?via= and event suffixes.
		if i := strings.IndexAny(rest, "?/"); i >= 0 {
			rest = rest[:i]
		}
		unescaped, err := url.PathUnescape(rest)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
		}
		s = unescaped
	}

	if len(s) < 2 || !strings.Contains(s[1:], ":") || strings.ContainsAny(s, " \t\n") {
		return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
	}

	switch s[0] {
	case '#':
		return Ref{Alias: s}, nil
	case '!':
		return Ref{RoomID: s}, nil
	}
	return Ref{}, fmt.Errorf("%w: %q", ErrInvalidRef, raw)
}
