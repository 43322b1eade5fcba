package agents

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// SQLiteStore implements Store over the shared sqlite database, with the
// switch history in a companion table.
type SQLiteStore struct {
	db *sql.DB

	stmtUpsert      *sql.Stmt
	stmtGet         *sql.Stmt
	stmtDelSwitches *sql.Stmt
	stmtInsSwitch   *sql.Stmt
	stmtGetSwitches *sql.Stmt
}

// NewSQLiteStore creates an agent store over an opened database, migrating
// its schema first.
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
		`CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL UNIQUE,
			current_type TEXT NOT NULL,
			switch_count INTEGER NOT NULL DEFAULT 0,
			max_switches INTEGER NOT NULL DEFAULT 0,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_switch_at TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS agent_switches (
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			from_type TEXT NOT NULL,
			to_type TEXT NOT NULL,
			reason TEXT,
			confidence TEXT,
			timestamp TIMESTAMP NOT NULL,
			PRIMARY KEY (agent_id, seq)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure agent schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtUpsert, err = s.db.Prepare(`
		INSERT INTO agents (id, conversation_id, current_type, switch_count, max_switches, metadata, created_at, updated_at, last_switch_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			current_type = excluded.current_type,
			switch_count = excluded.switch_count,
			max_switches = excluded.max_switches,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			last_switch_at = excluded.last_switch_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert agent: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, conversation_id, current_type, switch_count, max_switches, metadata, created_at, updated_at, last_switch_at
		FROM agents WHERE conversation_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get agent: %w", err)
	}

	s.stmtDelSwitches, err = s.db.Prepare(`DELETE FROM agent_switches WHERE agent_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete switches: %w", err)
	}

	s.stmtInsSwitch, err = s.db.Prepare(`
		INSERT INTO agent_switches (agent_id, seq, from_type, to_type, reason, confidence, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert switch: %w", err)
	}

	s.stmtGetSwitches, err = s.db.Prepare(`
		SELECT from_type, to_type, reason, confidence, timestamp
		FROM agent_switches WHERE agent_id = ? ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get switches: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, state *models.AgentState) error {
	if state.ID == "" {
		state.ID = models.NewID()
	}
	return s.Save(ctx, state)
}

func (s *SQLiteStore) GetByConversation(ctx context.Context, conversationID string) (*models.AgentState, error) {
	state := &models.AgentState{}
	var metadata sql.NullString
	var currentType string
	var lastSwitch sql.NullTime

	row := s.stmtGet.QueryRowContext(ctx, conversationID)
	err := row.Scan(&state.ID, &state.ConversationID, &currentType, &state.SwitchCount,
		&state.MaxSwitches, &metadata, &state.CreatedAt, &state.UpdatedAt, &lastSwitch)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent state: %w", err)
	}
	state.CurrentType = models.AgentType(currentType)
	if lastSwitch.Valid {
		t := lastSwitch.Time
		state.LastSwitchAt = &t
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &state.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode agent metadata: %w", err)
		}
	}

	switches, err := s.loadSwitches(ctx, state.ID)
	if err != nil {
		return nil, err
	}
	state.Switches = switches
	return state, nil
}

func (s *SQLiteStore) Save(ctx context.Context, state *models.AgentState) error {
	var metadata sql.NullString
	if state.Metadata != nil {
		raw, err := json.Marshal(state.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode agent metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	var lastSwitch sql.NullTime
	if state.LastSwitchAt != nil {
		lastSwitch = sql.NullTime{Time: *state.LastSwitchAt, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.stmtUpsert).ExecContext(ctx,
		state.ID, state.ConversationID, string(state.CurrentType), state.SwitchCount,
		state.MaxSwitches, metadata, state.CreatedAt, state.UpdatedAt, lastSwitch); err != nil {
		return fmt.Errorf("failed to save agent state: %w", err)
	}

	if _, err := tx.StmtContext(ctx, s.stmtDelSwitches).ExecContext(ctx, state.ID); err != nil {
		return fmt.Errorf("failed to clear switch history: %w", err)
	}
	for i, sw := range state.Switches {
		if _, err := tx.StmtContext(ctx, s.stmtInsSwitch).ExecContext(ctx,
			state.ID, i, string(sw.From), string(sw.To), sw.Reason, sw.Confidence, sw.Timestamp); err != nil {
			return fmt.Errorf("failed to save switch %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) loadSwitches(ctx context.Context, agentID string) ([]models.AgentSwitch, error) {
	rows, err := s.stmtGetSwitches.QueryContext(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load switch history: %w", err)
	}
	defer rows.Close()

	var switches []models.AgentSwitch
	for rows.Next() {
		var sw models.AgentSwitch
		var from, to string
		var reason, confidence sql.NullString
		var ts time.Time
		if err := rows.Scan(&from, &to, &reason, &confidence, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan switch: %w", err)
		}
		sw.From = models.AgentType(from)
		sw.To = models.AgentType(to)
		sw.Reason = reason.String
		sw.Confidence = confidence.String
		sw.Timestamp = ts
		switches = append(switches, sw)
	}
	return switches, rows.Err()
}
