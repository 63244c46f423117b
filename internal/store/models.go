package store

import (
	"encoding/json"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Role           string      `json:"role"` // "user" or "assistant"
	Content        string      `json:"content"`
	Attachments    Attachments `json:"attachments"`
	Provider       string      `json:"provider,omitempty"`
	Model          string      `json:"model,omitempty"` // empty when the turn had no model
	CreatedAt      time.Time   `json:"created_at"`
}

// WebSource is one cited web page shown under an assistant message.
type WebSource struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
}

// Attachments is the structured side channel of an assistant message.
type Attachments struct {
	WebSources []WebSource `json:"web_sources"`
	Images     []string    `json:"images"`
}

// MarshalJSON always emits both lists, empty rather than null.
func (a Attachments) MarshalJSON() ([]byte, error) {
	type plain Attachments
	p := plain(a)
	if p.WebSources == nil {
		p.WebSources = []WebSource{}
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	return json.Marshal(p)
}

func (a Attachments) IsEmpty() bool {
	return len(a.WebSources) == 0 && len(a.Images) == 0
}

// Turn is one user message and the assistant answer to persist together.
type Turn struct {
	ConversationID int64 // 0 starts a new conversation
	UserID         string
	UserMessage    string
	Reply          string
	Attachments    Attachments
	Provider       string
	Model          string
}

type SearchRecord struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Query     string          `json:"query"`
	Results   json.RawMessage `json:"results"`
	Source    string          `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
}

type VideoJob struct {
	ID          string     `json:"job_id"`
	UserID      string     `json:"user_id"`
	Prompt      string     `json:"prompt"`
	Provider    string     `json:"provider"`
	Duration    int        `json:"duration"`
	Resolution  string     `json:"resolution"`
	Status      string     `json:"status"`
	VideoURL    string     `json:"result_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Stats struct {
	Conversations int64 `json:"conversations"`
	Messages      int64 `json:"messages"`
	Searches      int64 `json:"searches"`
	Videos        int64 `json:"videos"`
}

// CleanupResult counts the rows removed by Cleanup.
type CleanupResult struct {
	Searches int64 `json:"searches"`
	Videos   int64 `json:"videos"`
	Messages int64 `json:"messages"`
}
