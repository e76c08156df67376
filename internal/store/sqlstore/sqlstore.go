// Package sqlstore implements store.Store and store.BlobStore on database/sql
// for SQLite (modernc.org/sqlite) and PostgreSQL (pgx stdlib driver).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/WhyNeet/t3-chat-clone/internal/chat"
	"github.com/WhyNeet/t3-chat-clone/internal/store"
)

// Dialect selects the SQL flavour.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

var (
	_ store.Store     = (*Store)(nil)
	_ store.BlobStore = (*Store)(nil)
)

// Store is a database/sql backed store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(path string) (*Store, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlstore: create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases coherent across calls.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: enable WAL: %w", err)
	}
	return newStore(db, SQLite)
}

// OpenPostgres connects to PostgreSQL using a pgx DSN.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping postgres: %w", err)
	}
	return newStore(db, Postgres)
}

func newStore(db *sql.DB, dialect Dialect) (*Store, error) {
	s := &Store{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	blob := "BLOB"
	if s.dialect == Postgres {
		blob = "BYTEA"
	}
	schema := `
CREATE TABLE IF NOT EXISTS chats (
	id TEXT PRIMARY KEY,
	name TEXT,
	user_id TEXT NOT NULL,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	chat_id TEXT NOT NULL,
	content TEXT NOT NULL,
	role TEXT NOT NULL,
	reasoning TEXT,
	model TEXT,
	updated_memory TEXT,
	created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS uploads (
	id TEXT PRIMARY KEY,
	chat_id TEXT,
	user_id TEXT NOT NULL,
	content_type TEXT NOT NULL,
	is_sent BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id TEXT PRIMARY KEY,
	provider TEXT NOT NULL,
	sealed_key TEXT NOT NULL,
	user_id TEXT NOT NULL,
	UNIQUE (user_id, provider)
);

CREATE TABLE IF NOT EXISTS attachments (
	id TEXT PRIMARY KEY,
	data ` + blob + ` NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
CREATE INDEX IF NOT EXISTS idx_uploads_user ON uploads(user_id, is_sent);
CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id);
`
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlstore: apply schema: %w", err)
		}
	}
	return nil
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlstore: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: %s: %w", op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func (s *Store) CreateChat(ctx context.Context, c chat.Chat) error {
	_, err := s.exec(ctx, `INSERT INTO chats(id, name, user_id, created_at) VALUES(?, ?, ?, ?)`,
		c.ID, nullString(c.Name), c.UserID, c.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlstore: insert chat: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, chatID, userID string) (*chat.Chat, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, name, user_id, created_at FROM chats WHERE id = ? AND user_id = ?`), chatID, userID)
	var (
		c    chat.Chat
		name sql.NullString
		ts   int64
	)
	if err := row.Scan(&c.ID, &name, &c.UserID, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get chat: %w", err)
	}
	c.Name = stringPtr(name)
	c.Timestamp = time.Unix(0, ts).UTC()
	return &c, nil
}

func (s *Store) UpdateChatName(ctx context.Context, chatID, name string) error {
	return s.execOne(ctx, "update chat name", `UPDATE chats SET name = ? WHERE id = ?`, name, chatID)
}

func (s *Store) CreateMessage(ctx context.Context, m chat.Message) error {
	content, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("sqlstore: encode content: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO messages(id, chat_id, content, role, reasoning, model, updated_memory, created_at) VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, string(content), string(m.Role), nullString(m.Reasoning), nullString(m.Model), nullString(m.UpdatedMemory), m.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlstore: insert message: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, chat_id, content, role, reasoning, model, updated_memory, created_at FROM messages WHERE chat_id = ? ORDER BY created_at ASC`), chatID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list messages: %w", err)
	}
	defer rows.Close()
	out := make([]chat.Message, 0)
	for rows.Next() {
		var (
			m                        chat.Message
			content, role            string
			reasoning, model, memory sql.NullString
			ts                       int64
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &content, &role, &reasoning, &model, &memory, &ts); err != nil {
			return nil, fmt.Errorf("sqlstore: scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(content), &m.Content); err != nil {
			return nil, fmt.Errorf("sqlstore: decode content of %s: %w", m.ID, err)
		}
		m.Role = chat.Role(role)
		m.Reasoning = stringPtr(reasoning)
		m.Model = stringPtr(model)
		m.UpdatedMemory = stringPtr(memory)
		m.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMessageContent(ctx context.Context, messageID string, content []chat.Segment, reasoning *string) error {
	encoded, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("sqlstore: encode content: %w", err)
	}
	return s.execOne(ctx, "update message content", `UPDATE messages SET content = ?, reasoning = ? WHERE id = ?`,
		string(encoded), nullString(reasoning), messageID)
}

func (s *Store) SetMessageMemory(ctx context.Context, messageID, memory string) error {
	return s.execOne(ctx, "set message memory", `UPDATE messages SET updated_memory = ? WHERE id = ?`, memory, messageID)
}

func (s *Store) CreateUpload(ctx context.Context, u chat.Upload) error {
	_, err := s.exec(ctx, `INSERT INTO uploads(id, chat_id, user_id, content_type, is_sent) VALUES(?, ?, ?, ?, ?)`,
		u.ID, nullString(u.ChatID), u.UserID, u.ContentType, u.IsSent)
	if err != nil {
		return fmt.Errorf("sqlstore: insert upload: %w", err)
	}
	return nil
}

func (s *Store) ListUnattachedUploads(ctx context.Context, userID string, chatID *string) ([]chat.Upload, error) {
	query := `SELECT id, chat_id, user_id, content_type, is_sent FROM uploads WHERE user_id = ? AND is_sent = ? AND chat_id IS NULL ORDER BY id`
	args := []any{userID, false}
	if chatID != nil {
		query = `SELECT id, chat_id, user_id, content_type, is_sent FROM uploads WHERE user_id = ? AND is_sent = ? AND chat_id = ? ORDER BY id`
		args = append(args, *chatID)
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list uploads: %w", err)
	}
	defer rows.Close()
	out := make([]chat.Upload, 0)
	for rows.Next() {
		var (
			u      chat.Upload
			chatID sql.NullString
		)
		if err := rows.Scan(&u.ID, &chatID, &u.UserID, &u.ContentType, &u.IsSent); err != nil {
			return nil, fmt.Errorf("sqlstore: scan upload: %w", err)
		}
		u.ChatID = stringPtr(chatID)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) AttachUpload(ctx context.Context, uploadID, chatID string) error {
	return s.execOne(ctx, "attach upload", `UPDATE uploads SET chat_id = ?, is_sent = ? WHERE id = ?`, chatID, true, uploadID)
}

func (s *Store) CreateMemory(ctx context.Context, m chat.Memory) error {
	if _, err := s.exec(ctx, `INSERT INTO memories(id, user_id, content) VALUES(?, ?, ?)`, m.ID, m.UserID, m.Content); err != nil {
		return fmt.Errorf("sqlstore: insert memory: %w", err)
	}
	return nil
}

func (s *Store) ListMemories(ctx context.Context, userID string) ([]chat.Memory, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, user_id, content FROM memories WHERE user_id = ? ORDER BY id`), userID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list memories: %w", err)
	}
	defer rows.Close()
	out := make([]chat.Memory, 0)
	for rows.Next() {
		var m chat.Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content); err != nil {
			return nil, fmt.Errorf("sqlstore: scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) PutAPIKey(ctx context.Context, k chat.APIKey) error {
	_, err := s.exec(ctx, `INSERT INTO api_keys(id, provider, sealed_key, user_id) VALUES(?, ?, ?, ?)
ON CONFLICT(user_id, provider) DO UPDATE SET sealed_key = excluded.sealed_key`, k.ID, k.Provider, k.Key, k.UserID)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert key: %w", err)
	}
	return nil
}

func (s *Store) GetAPIKey(ctx context.Context, userID, provider string) (*chat.APIKey, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT id, provider, sealed_key, user_id FROM api_keys WHERE user_id = ? AND provider = ?`), userID, provider)
	var k chat.APIKey
	if err := row.Scan(&k.ID, &k.Provider, &k.Key, &k.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get key: %w", err)
	}
	return &k, nil
}

func (s *Store) PutBlob(ctx context.Context, id string, data []byte) error {
	if _, err := s.exec(ctx, `INSERT INTO attachments(id, data) VALUES(?, ?)`, id, data); err != nil {
		return fmt.Errorf("sqlstore: insert attachment: %w", err)
	}
	return nil
}

func (s *Store) ReadBlob(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM attachments WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: read attachment: %w", err)
	}
	return data, nil
}
