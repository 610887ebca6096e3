// ABOUTME: Contact message relay to staff channels
// ABOUTME: Matrix posts a notice to a configured room; Noop discards

package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/platform-engine/internal/store"
)

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 10 * time.Second

// maxMessageRunes caps the relayed message body.
const maxMessageRunes = 2000

// Notifier relays a stored contact message.
type Notifier interface {
	NotifyContact(ctx context.Context, msg *store.ContactMessage) error
}

// Noop discards notifications.
type Noop struct{}

// NotifyContact does nothing.
func (Noop) NotifyContact(context.Context, *store.ContactMessage) error { return nil }

// MatrixConfig identifies the bot account and target room.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	RoomID      string
}

// Matrix posts contact messages to a Matrix room.
type Matrix struct {
	client *mautrix.Client
	roomID id.RoomID
	logger *slog.Logger
}

// NewMatrix creates a Matrix notifier.
func NewMatrix(cfg MatrixConfig) (*Matrix, error) {
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("matrix room_id is required")
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Matrix{
		client: client,
		roomID: id.RoomID(cfg.RoomID),
		logger: slog.Default().With("component", "notify"),
	}, nil
}

// NotifyContact sends msg to the room as an m.notice.
func (m *Matrix) NotifyContact(ctx context.Context, msg *store.ContactMessage) error {
	ctx, cancel := context.WithTimeout(ctx, networkTimeout)
	defer cancel()

	content := &event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    FormatContact(msg),
	}
	resp, err := m.client.SendMessageEvent(ctx, m.roomID, event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("sending contact notice: %w", err)
	}
	m.logger.Debug("relayed contact message", "id", msg.ID, "event_id", resp.EventID.String())
	return nil
}

// FormatContact renders msg as plain text.
func FormatContact(msg *store.ContactMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New contact message from %s <%s>\n", msg.Name, msg.Email)
	if msg.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	}
	fmt.Fprintf(&b, "Language: %s\n\n", msg.Language)
	b.WriteString(truncate(msg.Message, maxMessageRunes))
	return b.String()
}

// truncate shortens a string to the given max rune count, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
