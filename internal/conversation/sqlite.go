package conversation

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SQLiteStore persists conversations in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

// NewSQLiteStore opens dsn, which may carry a sqlite:// prefix.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimPrefix(strings.TrimSpace(dsn), "sqlite://")
	if dsn == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: open")
	}
	// Serialise writers; SQLite locks the whole file anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
		  id TEXT PRIMARY KEY,
		  created_at_ms INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER) * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS conversation_messages (
		  seq INTEGER PRIMARY KEY AUTOINCREMENT,
		  conversation_id TEXT NOT NULL,
		  role TEXT NOT NULL,
		  content TEXT NOT NULL,
		  ts_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS conversation_messages_by_conv
		  ON conversation_messages(conversation_id, seq);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "sqlite conversation store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, conversationID string, msg Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO conversations (id) VALUES (?)`, conversationID); err != nil {
		return errors.Wrap(err, "sqlite conversation store: upsert conversation")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (conversation_id, role, content, ts_ms) VALUES (?, ?, ?, ?)`,
		conversationID, string(msg.Role), msg.Content, msg.Timestamp,
	); err != nil {
		return errors.Wrap(err, "sqlite conversation store: insert message")
	}
	return errors.Wrap(tx.Commit(), "sqlite conversation store: commit")
}

func (s *SQLiteStore) Get(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, ts_ms FROM conversation_messages WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: query")
	}
	defer rows.Close()

	out := []Message{}
	for rows.Next() {
		var (
			m    Message
			role string
		)
		if err := rows.Scan(&role, &m.Content, &m.Timestamp); err != nil {
			return nil, errors.Wrap(err, "sqlite conversation store: scan")
		}
		m.Role = Role(role)
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "sqlite conversation store: iterate")
}

func (s *SQLiteStore) Create(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO conversations (id) VALUES (?)`, conversationID)
	return errors.Wrap(err, "sqlite conversation store: create")
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM conversations`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "sqlite conversation store: count")
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
