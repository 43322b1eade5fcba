package hitl

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/maestro-agents/maestro/pkg/models"
)

// SQLiteStore implements Store over the shared sqlite database.
type SQLiteStore struct {
	db *sql.DB

	stmtInsert       *sql.Stmt
	stmtGet          *sql.Stmt
	stmtUpdate       *sql.Stmt
	stmtListPending  *sql.Stmt
	stmtCountPending *sql.Stmt
}

// NewSQLiteStore creates an approval store over an opened database,
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
		`CREATE TABLE IF NOT EXISTS pending_approvals (
			request_id TEXT PRIMARY KEY,
			request_type TEXT NOT NULL,
			subject TEXT NOT NULL,
			session_id TEXT NOT NULL,
			details TEXT,
			reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			decision_reason TEXT,
			modified_arguments TEXT,
			created_at TIMESTAMP NOT NULL,
			decided_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_approvals_session ON pending_approvals (session_id, status)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure approval schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtInsert, err = s.db.Prepare(`
		INSERT INTO pending_approvals (request_id, request_type, subject, session_id, details, reason, status, decision_reason, modified_arguments, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert approval: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT request_id, request_type, subject, session_id, details, reason, status, decision_reason, modified_arguments, created_at, decided_at
		FROM pending_approvals WHERE request_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get approval: %w", err)
	}

	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE pending_approvals
		SET status = ?, decision_reason = ?, modified_arguments = ?, decided_at = ?
		WHERE request_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update approval: %w", err)
	}

	s.stmtListPending, err = s.db.Prepare(`
		SELECT request_id, request_type, subject, session_id, details, reason, status, decision_reason, modified_arguments, created_at, decided_at
		FROM pending_approvals
		WHERE session_id = ? AND status = 'pending' AND (? = '' OR request_type = ?)
		ORDER BY created_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list pending: %w", err)
	}

	s.stmtCountPending, err = s.db.Prepare(`
		SELECT COUNT(*) FROM pending_approvals WHERE session_id = ? AND status = 'pending'
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare count pending: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, req *models.ApprovalRequest) error {
	details, err := encodeJSON(req.Details)
	if err != nil {
		return err
	}
	modified, err := encodeJSON(req.ModifiedArguments)
	if err != nil {
		return err
	}
	var decidedAt sql.NullTime
	if req.DecidedAt != nil {
		decidedAt = sql.NullTime{Time: *req.DecidedAt, Valid: true}
	}

	_, err = s.stmtInsert.ExecContext(ctx,
		req.RequestID, string(req.RequestType), req.Subject, req.SessionID,
		details, req.Reason, string(req.Status), req.DecisionReason, modified,
		req.CreatedAt, decidedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, requestID string) (*models.ApprovalRequest, error) {
	req, err := scanApproval(s.stmtGet.QueryRowContext(ctx, requestID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval: %w", err)
	}
	return req, nil
}

func (s *SQLiteStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	modified, err := encodeJSON(req.ModifiedArguments)
	if err != nil {
		return err
	}
	var decidedAt sql.NullTime
	if req.DecidedAt != nil {
		decidedAt = sql.NullTime{Time: *req.DecidedAt, Valid: true}
	}

	res, err := s.stmtUpdate.ExecContext(ctx,
		string(req.Status), req.DecisionReason, modified, decidedAt, req.RequestID)
	if err != nil {
		return fmt.Errorf("failed to update approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context, sessionID string, requestType models.RequestType) ([]*models.ApprovalRequest, error) {
	rows, err := s.stmtListPending.QueryContext(ctx, sessionID, string(requestType), string(requestType))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CountPending(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := s.stmtCountPending.QueryRowContext(ctx, sessionID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pending approvals: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) DeleteExpiredPending(ctx context.Context, sessionID string, cutoff time.Time) (int, error) {
	query := `DELETE FROM pending_approvals WHERE status = 'pending' AND created_at < ?`
	args := []any{cutoff}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired approvals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApproval(row rowScanner) (*models.ApprovalRequest, error) {
	req := &models.ApprovalRequest{}
	var requestType, status string
	var details, decisionReason, modified sql.NullString
	var decidedAt sql.NullTime

	err := row.Scan(&req.RequestID, &requestType, &req.Subject, &req.SessionID,
		&details, &req.Reason, &status, &decisionReason, &modified,
		&req.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}
	req.RequestType = models.RequestType(requestType)
	req.Status = models.ApprovalStatus(status)
	req.DecisionReason = decisionReason.String
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if err := decodeJSON(details, &req.Details); err != nil {
		return nil, err
	}
	if err := decodeJSON(modified, &req.ModifiedArguments); err != nil {
		return nil, err
	}
	return req, nil
}

func encodeJSON(v map[string]any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode json column: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeJSON(col sql.NullString, dst *map[string]any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), dst); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
