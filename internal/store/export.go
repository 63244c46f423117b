package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const exportTimeLayout = "2006-01-02 15:04:05"

// Export is a serialized conversation ready to be downloaded.
type Export struct {
	Data     string `json:"data"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

type exportDocument struct {
	ConversationID int64     `json:"conversation_id"`
	ExportedAt     string    `json:"exported_at"`
	Messages       []Message `json:"messages"`
}

// ExportConversation renders every message of a conversation as "json" or
// "markdown". Any other format falls back to markdown.
func (s *SQLiteStore) ExportConversation(ctx context.Context, conversationID int64, format string) (*Export, error) {
	messages, err := s.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []Message{}
	}
	return RenderExport(conversationID, format, messages, s.now())
}

func RenderExport(conversationID int64, format string, messages []Message, at time.Time) (*Export, error) {
	stamp := at.Format(exportTimeLayout)
	base := fmt.Sprintf("conversation_%d", conversationID)

	if strings.EqualFold(format, "json") {
		raw, err := json.MarshalIndent(exportDocument{
			ConversationID: conversationID,
			ExportedAt:     stamp,
			Messages:       messages,
		}, "", "    ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode export: %w", err)
		}
		return &Export{Data: string(raw), Filename: base + ".json", MimeType: "application/json"}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Conversazione %d\n\n", conversationID)
	fmt.Fprintf(&b, "Esportata il: %s\n\n", stamp)
	for _, m := range messages {
		role := "Assistente"
		if m.Role == RoleUser {
			role = "Utente"
		}
		b.WriteString("## " + role + "\n\n")
		b.WriteString(m.Content + "\n\n")
		b.WriteString("---\n\n")
	}
	return &Export{Data: b.String(), Filename: base + ".md", MimeType: "text/markdown"}, nil
}
