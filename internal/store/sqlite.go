package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const titleLength = 50

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS conversations (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL DEFAULT '',
        title TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at);

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        conversation_id INTEGER NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system')),
        content TEXT NOT NULL,
        files TEXT NOT NULL DEFAULT '{}', -- attachments JSON
        provider TEXT,
        model TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);

    CREATE TABLE IF NOT EXISTS searches (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL DEFAULT '',
        query TEXT NOT NULL,
        results TEXT,
        source TEXT NOT NULL DEFAULT 'web',
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS videos (
        id TEXT PRIMARY KEY, -- job id
        user_id TEXT NOT NULL DEFAULT '',
        prompt TEXT NOT NULL,
        provider TEXT NOT NULL,
        duration INTEGER NOT NULL DEFAULT 0,
        resolution TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL CHECK (status IN ('pending', 'queued', 'processing', 'completed', 'failed')),
        video_url TEXT,
        error_message TEXT,
        created_at DATETIME NOT NULL,
        completed_at DATETIME
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// ConversationTitle is the first fifty characters of the opening message.
func ConversationTitle(message string) string {
	t := strings.TrimSpace(message)
	if utf8.RuneCountInString(t) <= titleLength {
		return t
	}
	return string([]rune(t)[:titleLength])
}

// Conversation methods
func (s *SQLiteStore) CreateConversation(ctx context.Context, userID, title string) (*Conversation, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, title, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation id: %w", err)
	}
	return &Conversation{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var c Conversation
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?", id).
		Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC, id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation row: %w", err)
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

// Message methods

// SaveMessage stores msg and bumps the conversation's updated_at. A model of
// "none" is stored as NULL.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *Message) error {
	return s.saveMessage(ctx, s.db, msg)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) saveMessage(ctx context.Context, db execer, msg *Message) error {
	files, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}
	msg.CreatedAt = s.now()

	res, err := db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, files, provider, model, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.ConversationID, msg.Role, msg.Content, string(files), nullString(msg.Provider), nullModel(msg.Model), msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	if msg.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read message id: %w", err)
	}
	if _, err := db.ExecContext(ctx, "UPDATE conversations SET updated_at = ? WHERE id = ?", msg.CreatedAt, msg.ConversationID); err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullModel(model string) sql.NullString {
	if model == "none" {
		model = ""
	}
	return nullString(model)
}

// SaveTurn persists both sides of a turn in one transaction. The turn joins
// its conversation only when that conversation exists and belongs to the same
// user; otherwise a new conversation is created. It returns the conversation
// id the messages were stored under.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn Turn) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	convID := turn.ConversationID
	if convID > 0 {
		var owner string
		err := tx.QueryRowContext(ctx, "SELECT user_id FROM conversations WHERE id = ?", convID).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			convID = 0
		case err != nil:
			return 0, fmt.Errorf("failed to look up conversation: %w", err)
		case owner != turn.UserID:
			convID = 0
		}
	}
	if convID <= 0 {
		now := s.now()
		res, err := tx.ExecContext(ctx,
			"INSERT INTO conversations (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)",
			turn.UserID, ConversationTitle(turn.UserMessage), now, now)
		if err != nil {
			return 0, fmt.Errorf("failed to insert conversation: %w", err)
		}
		if convID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("failed to read conversation id: %w", err)
		}
	}

	user := Message{ConversationID: convID, Role: RoleUser, Content: turn.UserMessage}
	if err := s.saveMessage(ctx, tx, &user); err != nil {
		return 0, err
	}
	reply := Message{
		ConversationID: convID,
		Role:           RoleAssistant,
		Content:        turn.Reply,
		Attachments:    turn.Attachments,
		Provider:       turn.Provider,
		Model:          turn.Model,
	}
	if err := s.saveMessage(ctx, tx, &reply); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	return convID, nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, conversation_id, role, content, files, provider, model, created_at FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC",
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg             Message
			files           string
			provider, model sql.NullString
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &files, &provider, &model, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		if files != "" {
			// Older rows may carry a bare list; those decode to no attachments.
			_ = json.Unmarshal([]byte(files), &msg.Attachments)
		}
		msg.Provider, msg.Model = provider.String, model.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Search history

func (s *SQLiteStore) SaveSearch(ctx context.Context, userID, query string, results any, source string) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode search results: %w", err)
	}
	if source == "" {
		source = "web"
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO searches (user_id, query, results, source, created_at) VALUES (?, ?, ?, ?, ?)",
		userID, query, string(raw), source, s.now())
	if err != nil {
		return fmt.Errorf("failed to insert search: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSearches(ctx context.Context, userID string, limit int) ([]SearchRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, query, results, source, created_at FROM searches WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query searches: %w", err)
	}
	defer rows.Close()

	var out []SearchRecord
	for rows.Next() {
		var (
			r       SearchRecord
			results sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.UserID, &r.Query, &results, &r.Source, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		if results.Valid && json.Valid([]byte(results.String)) {
			r.Results = json.RawMessage(results.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Video jobs

func (s *SQLiteStore) CreateVideoJob(ctx context.Context, job *VideoJob) error {
	job.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO videos (id, user_id, prompt, provider, duration, resolution, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		job.ID, job.UserID, job.Prompt, job.Provider, job.Duration, job.Resolution, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert video job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetVideoJob(ctx context.Context, id string) (*VideoJob, error) {
	var (
		job               VideoJob
		videoURL, errText sql.NullString
		completedAt       sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, prompt, provider, duration, resolution, status, video_url, error_message, created_at, completed_at FROM videos WHERE id = ?", id).
		Scan(&job.ID, &job.UserID, &job.Prompt, &job.Provider, &job.Duration, &job.Resolution, &job.Status, &videoURL, &errText, &job.CreatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get video job: %w", err)
	}
	job.VideoURL, job.Error = videoURL.String, errText.String
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

// UpdateVideoJob records a status change. Terminal statuses stamp completed_at.
func (s *SQLiteStore) UpdateVideoJob(ctx context.Context, id, status, videoURL, errText string) error {
	var completed any
	if status == "completed" || status == "failed" {
		completed = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE videos SET status = ?, video_url = COALESCE(?, video_url), error_message = COALESCE(?, error_message), completed_at = COALESCE(?, completed_at) WHERE id = ?",
		status, nullString(videoURL), nullString(errText), completed, id)
	if err != nil {
		return fmt.Errorf("failed to update video job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Lifecycle

// Cleanup removes search history and completed video jobs older than days,
// and messages whose conversation no longer exists.
func (s *SQLiteStore) Cleanup(ctx context.Context, days int) (CleanupResult, error) {
	var out CleanupResult
	if days <= 0 {
		days = 30
	}
	threshold := s.now().AddDate(0, 0, -days)

	res, err := s.db.ExecContext(ctx, "DELETE FROM searches WHERE created_at < ?", threshold)
	if err != nil {
		return out, fmt.Errorf("failed to clean searches: %w", err)
	}
	out.Searches, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx, "DELETE FROM videos WHERE status = 'completed' AND completed_at < ?", threshold)
	if err != nil {
		return out, fmt.Errorf("failed to clean videos: %w", err)
	}
	out.Videos, _ = res.RowsAffected()

	res, err = s.db.ExecContext(ctx,
		"DELETE FROM messages WHERE NOT EXISTS (SELECT 1 FROM conversations c WHERE c.id = messages.conversation_id)")
	if err != nil {
		return out, fmt.Errorf("failed to clean orphaned messages: %w", err)
	}
	out.Messages, _ = res.RowsAffected()
	return out, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int64
	}{
		{"conversations", &st.Conversations},
		{"messages", &st.Messages},
		{"searches", &st.Searches},
		{"videos", &st.Videos},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return st, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return st, nil
}
