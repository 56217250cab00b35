// ABOUTME: Maps internal errors to short operator-facing messages

package console

import (
	"errors"

	"github.com/2389/assistant-manager/internal/access"
	"github.com/2389/assistant-manager/internal/assistant"
	"github.com/2389/assistant-manager/internal/bulk"
	"github.com/2389/assistant-manager/internal/conversation"
)

// Describe returns a one-line, human-readable message for err.
func Describe(err error) string {
	var ve *conversation.ValidationError
	if errors.As(err, &ve) {
		return "❌ " + capitalize(ve.Error()) + ". Operation cancelled."
	}

	switch {
	case errors.Is(err, access.ErrUnauthorized):
		return "⛔ You are not authorized to use this bot."
	case errors.Is(err, access.ErrForbidden):
		return "⛔ Only the owner can do that."
	case errors.Is(err, access.ErrAlreadyAdmin):
		return "ℹ️ That user is already an admin."
	case errors.Is(err, access.ErrNotAdmin):
		return "ℹ️ That user is not an admin."
	case errors.Is(err, access.ErrOwnerImmutable):
		return "ℹ️ The owner cannot be added or removed as an admin."
	case errors.Is(err, assistant.ErrConnectFailed):
		return "❌ Could not connect the assistant. Check the credentials and try again."
	case errors.Is(err, assistant.ErrDuplicate):
		return "ℹ️ That assistant is already registered."
	case errors.Is(err, assistant.ErrNotFound):
		return "❌ Assistant not found."
	case errors.Is(err, assistant.ErrForbidden):
		return "⛔ Only the owner or the admin who added this assistant can remove it."
	case errors.Is(err, assistant.ErrStorageUnavailable):
		return "⚠️ Storage is unavailable right now. Nothing was changed."
	case errors.Is(err, bulk.ErrInvalidOperation):
		return "❌ " + capitalize(err.Error()) + "."
	case errors.Is(err, conversation.ErrUnknownFlow):
		return "❌ Unknown operation."
	case errors.Is(err, conversation.ErrNoActiveFlow):
		return "No operation in progress."
	}
	return "⚠️ Something went wrong. Check the logs."
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		return string(s[0]-'a'+'A') + s[1:]
	}
	return s
}
