// Package notify delivers conflict notifications to session participants.
// Delivery is best-effort; callers log failures and move on.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Message is one notification addressed to one recipient.
type Message struct {
	ID        string         `json:"message_id"`
	Sender    string         `json:"sender"`
	Recipient string         `json:"recipient"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

func newMessage(sender, recipient, content string, metadata map[string]any, now time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		Metadata:  metadata,
		SentAt:    now.UTC(),
	}
}

// LogNotifier writes notifications to a logger. It is the default when
// no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, sender string, recipients []string, content string, metadata map[string]any) error {
	now := time.Now()
	for _, r := range recipients {
		msg := newMessage(sender, r, content, metadata, now)
		n.logger.InfoContext(ctx, "notify",
			"message_id", msg.ID, "sender", sender, "recipient", r,
			"content", content, "conflict_id", metadata["conflict_id"])
	}
	return nil
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, string, []string, string, map[string]any) error { return nil }
