package plan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// SQLiteStore implements Store on the shared sqlite database.
type SQLiteStore struct {
	db *sql.DB

	stmtUpsert        *sql.Stmt
	stmtGet           *sql.Stmt
	stmtFindActive    *sql.Stmt
	stmtDelSubtasks   *sql.Stmt
	stmtInsSubtask    *sql.Stmt
	stmtGetSubtasks   *sql.Stmt
	stmtUpsertResume  *sql.Stmt
	stmtGetResume     *sql.Stmt
	stmtDeleteResume  *sql.Stmt
}

// NewSQLiteStore creates a plan store over an opened database, migrating
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
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			goal TEXT NOT NULL,
			status TEXT NOT NULL,
			current_subtask_id TEXT,
			metadata TEXT,
			approved_at TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			id TEXT NOT NULL,
			plan_id TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			description TEXT NOT NULL,
			agent TEXT NOT NULL,
			status TEXT NOT NULL,
			dependencies TEXT,
			estimated_time TEXT,
			result TEXT,
			error TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (plan_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS plan_resumptions (
			plan_id TEXT PRIMARY KEY REFERENCES plans(id) ON DELETE CASCADE,
			subtask_id TEXT NOT NULL,
			snapshot TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plans_conversation ON plans (conversation_id, status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure plan schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtUpsert, err = s.db.Prepare(`
		INSERT INTO plans (id, conversation_id, goal, status, current_subtask_id, metadata, approved_at, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_subtask_id = excluded.current_subtask_id,
			metadata = excluded.metadata,
			approved_at = excluded.approved_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert plan: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, conversation_id, goal, status, current_subtask_id, metadata, approved_at, started_at, completed_at, created_at, updated_at
		FROM plans WHERE id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get plan: %w", err)
	}

	s.stmtFindActive, err = s.db.Prepare(`
		SELECT id, conversation_id, goal, status, current_subtask_id, metadata, approved_at, started_at, completed_at, created_at, updated_at
		FROM plans
		WHERE conversation_id = ? AND status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at DESC LIMIT 1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare find active plan: %w", err)
	}

	s.stmtDelSubtasks, err = s.db.Prepare(`DELETE FROM subtasks WHERE plan_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete subtasks: %w", err)
	}

	s.stmtInsSubtask, err = s.db.Prepare(`
		INSERT INTO subtasks (id, plan_id, seq, description, agent, status, dependencies, estimated_time, result, error, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert subtask: %w", err)
	}

	s.stmtGetSubtasks, err = s.db.Prepare(`
		SELECT id, description, agent, status, dependencies, estimated_time, result, error, started_at, completed_at, created_at, updated_at
		FROM subtasks WHERE plan_id = ? ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get subtasks: %w", err)
	}

	s.stmtUpsertResume, err = s.db.Prepare(`
		INSERT INTO plan_resumptions (plan_id, subtask_id, snapshot, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(plan_id) DO UPDATE SET
			subtask_id = excluded.subtask_id,
			snapshot = excluded.snapshot,
			created_at = excluded.created_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert resumption: %w", err)
	}

	s.stmtGetResume, err = s.db.Prepare(`
		SELECT plan_id, subtask_id, snapshot, created_at FROM plan_resumptions WHERE plan_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get resumption: %w", err)
	}

	s.stmtDeleteResume, err = s.db.Prepare(`DELETE FROM plan_resumptions WHERE plan_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete resumption: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, p *models.Plan) error {
	if p.ID == "" {
		p.ID = models.NewID()
	}
	return s.Save(ctx, p)
}

func (s *SQLiteStore) Get(ctx context.Context, planID string) (*models.Plan, error) {
	p, err := scanPlan(s.stmtGet.QueryRowContext(ctx, planID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}
	if p.Subtasks, err = s.loadSubtasks(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) Save(ctx context.Context, p *models.Plan) error {
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.StmtContext(ctx, s.stmtUpsert).ExecContext(ctx,
		p.ID, p.ConversationID, p.Goal, string(p.Status), nullable(p.CurrentSubtaskID),
		metadata, nullTime(p.ApprovedAt), nullTime(p.StartedAt), nullTime(p.CompletedAt),
		p.CreatedAt, p.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}

	// Subtask rows are replaced wholesale so retries and status flips stay
	// consistent with the in-memory aggregate.
	if _, err := tx.StmtContext(ctx, s.stmtDelSubtasks).ExecContext(ctx, p.ID); err != nil {
		return fmt.Errorf("failed to clear subtasks: %w", err)
	}
	for i, st := range p.Subtasks {
		deps, err := marshalJSON(st.Dependencies)
		if err != nil {
			return err
		}
		if _, err := tx.StmtContext(ctx, s.stmtInsSubtask).ExecContext(ctx,
			st.ID, p.ID, i, st.Description, string(st.Agent), string(st.Status),
			deps, nullable(st.EstimatedTime), nullable(st.Result), nullable(st.Error),
			nullTime(st.StartedAt), nullTime(st.CompletedAt), st.CreatedAt, st.UpdatedAt); err != nil {
			return fmt.Errorf("failed to save subtask %s: %w", st.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) FindActiveByConversation(ctx context.Context, conversationID string) (*models.Plan, error) {
	p, err := scanPlan(s.stmtFindActive.QueryRowContext(ctx, conversationID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active plan: %w", err)
	}
	if p.Subtasks, err = s.loadSubtasks(ctx, p.ID); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *SQLiteStore) SaveResumption(ctx context.Context, r *Resumption) error {
	snapshot, err := json.Marshal(r.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if _, err := s.stmtUpsertResume.ExecContext(ctx, r.PlanID, r.SubtaskID, string(snapshot), r.CreatedAt); err != nil {
		return fmt.Errorf("failed to save resumption: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResumption(ctx context.Context, planID string) (*Resumption, error) {
	r := &Resumption{}
	var snapshot string
	err := s.stmtGetResume.QueryRowContext(ctx, planID).Scan(&r.PlanID, &r.SubtaskID, &snapshot, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load resumption: %w", err)
	}
	if err := json.Unmarshal([]byte(snapshot), &r.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) DeleteResumption(ctx context.Context, planID string) error {
	if _, err := s.stmtDeleteResume.ExecContext(ctx, planID); err != nil {
		return fmt.Errorf("failed to delete resumption: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (*models.Plan, error) {
	p := &models.Plan{}
	var status string
	var currentSubtask, metadata sql.NullString
	var approvedAt, startedAt, completedAt sql.NullTime

	err := row.Scan(&p.ID, &p.ConversationID, &p.Goal, &status, &currentSubtask,
		&metadata, &approvedAt, &startedAt, &completedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = models.PlanStatus(status)
	p.CurrentSubtaskID = currentSubtask.String
	if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
		return nil, err
	}
	p.ApprovedAt = timePtr(approvedAt)
	p.StartedAt = timePtr(startedAt)
	p.CompletedAt = timePtr(completedAt)
	return p, nil
}

func (s *SQLiteStore) loadSubtasks(ctx context.Context, planID string) ([]*models.Subtask, error) {
	rows, err := s.stmtGetSubtasks.QueryContext(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load subtasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Subtask
	for rows.Next() {
		st := &models.Subtask{PlanID: planID}
		var agent, status string
		var deps, estimated, result, errText sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&st.ID, &st.Description, &agent, &status, &deps, &estimated,
			&result, &errText, &startedAt, &completedAt, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		st.Agent = models.AgentType(agent)
		st.Status = models.SubtaskStatus(status)
		st.EstimatedTime = estimated.String
		st.Result = result.String
		st.Error = errText.String
		st.StartedAt = timePtr(startedAt)
		st.CompletedAt = timePtr(completedAt)
		if err := unmarshalJSON(deps, &st.Dependencies); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
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

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}
