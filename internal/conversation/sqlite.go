package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/maestro-agents/maestro/pkg/models"
)

// SQLiteStore implements Store on the shared sqlite database.
type SQLiteStore struct {
	db *sql.DB

	// Prepared statements for the hot paths.
	stmtUpsert      *sql.Stmt
	stmtGet         *sql.Stmt
	stmtDelete      *sql.Stmt
	stmtListActive  *sql.Stmt
	stmtDelMessages *sql.Stmt
	stmtInsMessage  *sql.Stmt
	stmtGetMessages *sql.Stmt
}

// NewSQLiteStore creates a conversation store over an opened database,
// migrating its schema first.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	if err := s.prepareStatements(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1,
			max_messages INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_activity TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			tool_calls TEXT,
			tool_call_id TEXT,
			name TEXT,
			metadata TEXT,
			timestamp TIMESTAMP NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_active ON conversations (active, last_activity)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure conversation schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtUpsert, err = s.db.Prepare(`
		INSERT INTO conversations (id, title, description, active, max_messages, metadata, created_at, updated_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			active = excluded.active,
			max_messages = excluded.max_messages,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			last_activity = excluded.last_activity
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert conversation: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, title, description, active, max_messages, metadata, created_at, updated_at, last_activity
		FROM conversations WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get conversation: %w", err)
	}

	s.stmtDelete, err = s.db.Prepare(`DELETE FROM conversations WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete conversation: %w", err)
	}

	s.stmtListActive, err = s.db.Prepare(`
		SELECT id, title, description, active, max_messages, metadata, created_at, updated_at, last_activity
		FROM conversations WHERE active = 1 ORDER BY last_activity DESC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list active: %w", err)
	}

	s.stmtDelMessages, err = s.db.Prepare(`DELETE FROM messages WHERE conversation_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete messages: %w", err)
	}

	s.stmtInsMessage, err = s.db.Prepare(`
		INSERT INTO messages (id, conversation_id, seq, role, content, tool_calls, tool_call_id, name, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert message: %w", err)
	}

	s.stmtGetMessages, err = s.db.Prepare(`
		SELECT id, role, content, tool_calls, tool_call_id, name, metadata, timestamp
		FROM messages WHERE conversation_id = ? ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get messages: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = models.NewID()
	}
	return s.Save(ctx, conv)
}

func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var metadata sql.NullString
	var active int

	row := s.stmtGet.QueryRowContext(ctx, id)
	err := row.Scan(&conv.ID, &conv.Title, &conv.Description, &active, &conv.MaxMessages,
		&metadata, &conv.CreatedAt, &conv.UpdatedAt, &conv.LastActivity)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.Active = active == 1
	if err := unmarshalJSON(metadata, &conv.Metadata); err != nil {
		return nil, err
	}

	msgs, err := s.loadMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	conv.Messages = msgs
	return conv, nil
}

func (s *SQLiteStore) Save(ctx context.Context, conv *models.Conversation) error {
	metadata, err := marshalJSON(conv.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	active := 0
	if conv.Active {
		active = 1
	}
	if _, err := tx.StmtContext(ctx, s.stmtUpsert).ExecContext(ctx,
		conv.ID, conv.Title, conv.Description, active, conv.MaxMessages, metadata,
		conv.CreatedAt, conv.UpdatedAt, conv.LastActivity); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	// The message sequence is replaced wholesale so restores and tool-message
	// pruning stay consistent with the in-memory aggregate.
	if _, err := tx.StmtContext(ctx, s.stmtDelMessages).ExecContext(ctx, conv.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}
	for i, msg := range conv.Messages {
		toolCalls, err := marshalJSON(msg.ToolCalls)
		if err != nil {
			return err
		}
		msgMeta, err := marshalJSON(msg.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.StmtContext(ctx, s.stmtInsMessage).ExecContext(ctx,
			msg.ID, conv.ID, i, string(msg.Role), msg.Content, toolCalls,
			nullable(msg.ToolCallID), nullable(msg.Name), msgMeta, msg.Timestamp); err != nil {
			return fmt.Errorf("failed to save message %s: %w", msg.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListActive(ctx context.Context) ([]*models.Conversation, error) {
	rows, err := s.stmtListActive.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		var metadata sql.NullString
		var active int
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Description, &active, &conv.MaxMessages,
			&metadata, &conv.CreatedAt, &conv.UpdatedAt, &conv.LastActivity); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.Active = active == 1
		if err := unmarshalJSON(metadata, &conv.Metadata); err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Deactivate(ctx context.Context, id, reason string) error {
	return s.mutate(ctx, id, func(conv *models.Conversation) error {
		conv.Deactivate(reason)
		return nil
	})
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, id string, msg models.Message) error {
	return s.mutate(ctx, id, func(conv *models.Conversation) error {
		return conv.Append(msg)
	})
}

func (s *SQLiteStore) ClearToolMessages(ctx context.Context, id string, fromAgent, toAgent models.AgentType) (models.ClearResult, error) {
	var result models.ClearResult
	err := s.mutate(ctx, id, func(conv *models.Conversation) error {
		result = conv.ClearToolMessages(fromAgent, toAgent)
		return nil
	})
	return result, err
}

func (s *SQLiteStore) CreateSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	conv, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv.NewSnapshot(), nil
}

func (s *SQLiteStore) RestoreFromSnapshot(ctx context.Context, id string, snap *models.Snapshot) error {
	return s.mutate(ctx, id, func(conv *models.Conversation) error {
		conv.Restore(snap)
		return nil
	})
}

func (s *SQLiteStore) GetLastAssistantMessage(ctx context.Context, id string) (*models.Message, error) {
	conv, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return conv.LastAssistantMessage(), nil
}

func (s *SQLiteStore) mutate(ctx context.Context, id string, fn func(*models.Conversation) error) error {
	conv, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(conv); err != nil {
		return err
	}
	return s.Save(ctx, conv)
}

func (s *SQLiteStore) loadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	rows, err := s.stmtGetMessages.QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var msg models.Message
		var toolCalls, toolCallID, name, metadata sql.NullString
		var role string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &toolCallID, &name, &metadata, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.ConversationID = conversationID
		msg.Role = models.Role(role)
		msg.ToolCallID = toolCallID.String
		msg.Name = name.String
		if err := unmarshalJSON(toolCalls, &msg.ToolCalls); err != nil {
			return nil, err
		}
		if err := unmarshalJSON(metadata, &msg.Metadata); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json column: %w", err)
	}
	if string(raw) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
