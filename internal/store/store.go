// Package store persists users, conversations, and messages in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JeremySu0818/GeminiAPIChat/internal/model"
	"github.com/JeremySu0818/GeminiAPIChat/pkg/metrics"
)

// TimeFormat is fixed-width so stored timestamps compare correctly both
// as strings (the pagination cursor is a string comparison in SQL) and
// as times. It is also the wire format for the `before` pagination cursor.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	title TEXT NOT NULL,
	created_at TEXT NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id INTEGER NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	FOREIGN KEY(conversation_id) REFERENCES conversations(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts
	ON messages(conversation_id, timestamp);
`

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database liveness.
func (s *Store) Ping() error {
	return s.db.Ping()
}

// GetOrCreateUser returns the user's id, creating the row on first login.
func (s *Store) GetOrCreateUser(username string) (int64, error) {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup user: %w", err)
	}

	res, err := s.db.Exec(`INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get user id: %w", err)
	}
	return id, nil
}

// CreateConversation creates a conversation for the user and returns its
// id.
func (s *Store) CreateConversation(userID int64, title string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO conversations (user_id, title, created_at) VALUES (?, ?, ?)`,
		userID, title, now(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert conversation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get conversation id: %w", err)
	}
	metrics.ConversationsTotal.Inc()
	return id, nil
}

// ListConversations returns the user's conversations newest first.
func (s *Store) ListConversations(userID int64, offset, limit int) ([]model.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, title, created_at
		 FROM conversations WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, *conv)
	}
	return convs, rows.Err()
}

// GetConversation returns a conversation by id, or nil when absent.
func (s *Store) GetConversation(id int64) (*model.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, title, created_at FROM conversations WHERE id = ?`, id,
	)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return conv, err
}

// UpdateConversationTitle replaces a conversation's title.
func (s *Store) UpdateConversationTitle(id int64, title string) error {
	if _, err := s.db.Exec(`UPDATE conversations SET title = ? WHERE id = ?`, title, id); err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return tx.Commit()
}

// SaveMessage appends a message to a conversation.
func (s *Store) SaveMessage(conversationID int64, role model.Role, text string) (*model.Message, error) {
	ts := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO messages (conversation_id, role, text, timestamp) VALUES (?, ?, ?, ?)`,
		conversationID, string(role), text, ts.Format(TimeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get message id: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(role)).Inc()

	return &model.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		Timestamp:      ts,
	}, nil
}

// LoadMessages returns up to limit messages of a conversation in
// ascending timestamp order. A non-zero before acts as a reverse
// pagination cursor: only messages strictly older than it are returned.
func (s *Store) LoadMessages(conversationID int64, before time.Time, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if before.IsZero() {
		rows, err = s.db.Query(
			`SELECT id, conversation_id, role, text, timestamp
			 FROM messages WHERE conversation_id = ?
			 ORDER BY timestamp DESC, id DESC
			 LIMIT ?`,
			conversationID, limit,
		)
	} else {
		rows, err = s.db.Query(
			`SELECT id, conversation_id, role, text, timestamp
			 FROM messages WHERE conversation_id = ? AND timestamp < ?
			 ORDER BY timestamp DESC, id DESC
			 LIMIT ?`,
			conversationID, before.UTC().Format(TimeFormat), limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			m  model.Message
			ts string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp, err = time.Parse(TimeFormat, ts)
		if err != nil {
			return nil, fmt.Errorf("parse message timestamp: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-limit rows were selected descending; flip to replay order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteUserMessages removes all of a user's conversations and their
// messages. Backs the reset endpoint.
func (s *Store) DeleteUserMessages(userID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM messages WHERE conversation_id IN
		 (SELECT id FROM conversations WHERE user_id = ?)`, userID,
	); err != nil {
		return fmt.Errorf("delete user messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete user conversations: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*model.Conversation, error) {
	var (
		conv model.Conversation
		ts   string
	)
	if err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &ts); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	created, err := time.Parse(TimeFormat, ts)
	if err != nil {
		return nil, fmt.Errorf("parse conversation timestamp: %w", err)
	}
	conv.CreatedAt = created
	return &conv, nil
}

func now() string {
	return time.Now().UTC().Format(TimeFormat)
}
