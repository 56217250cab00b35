// ABOUTME: Audit sink that mirrors records into a Matrix log room

package matrix

import (
	"context"
	"fmt"
	"html"

	"github.com/2389/assistant-manager/internal/audit"
)

// LogRoomSink posts each audit record to a room.
type LogRoomSink struct {
	out    messenger
	roomID string
}

// LogRoomSink returns a sink posting to roomID through the bot's account.
func (b *Bot) LogRoomSink(roomID string) *LogRoomSink {
	return &LogRoomSink{out: b.out, roomID: roomID}
}

// Publish implements audit.Sink.
func (s *LogRoomSink) Publish(ctx context.Context, rec audit.Record) error {
	body := fmt.Sprintf("📝 [%s] %s (by %d)", rec.Kind, rec.Description, rec.ActorID)
	formatted := fmt.Sprintf("📝 <code>%s</code> %s (by <code>%d</code>)",
		html.EscapeString(string(rec.Kind)), html.EscapeString(rec.Description), rec.ActorID)
	if err := s.out.send(ctx, s.roomID, body, formatted); err != nil {
		return fmt.Errorf("posting to log room: %w", err)
	}
	return nil
}
