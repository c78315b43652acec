// ABOUTME: SQLite persistence for escalation help requests
// ABOUTME: Resolution is a compare-and-swap on the pending status

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const helpRequestColumns = `
	id, question, context, caller_json, status, supervisor_response, resolved_by, created_at, resolved_at`

// CreateHelpRequest records a new help request.
func (s *SQLiteStore) CreateHelpRequest(ctx context.Context, req *HelpRequest) error {
	if req.Status == "" {
		req.Status = HelpRequestPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	callerJSON, err := json.Marshal(req.Caller)
	if err != nil {
		return fmt.Errorf("encoding caller context: %w", err)
	}

	var resolvedAt any
	if req.ResolvedAt != nil {
		resolvedAt = formatTime(*req.ResolvedAt)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO help_requests (`+helpRequestColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID,
		req.Question,
		req.Context,
		string(callerJSON),
		string(req.Status),
		nullString(req.SupervisorResponse),
		nullString(req.ResolvedBy),
		formatTime(req.CreatedAt),
		resolvedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting help request: %w", err)
	}

	s.logger.Debug("created help request", "id", req.ID)
	return nil
}

// GetHelpRequest retrieves a help request by ID.
// Returns ErrNotFound if the request doesn't exist.
func (s *SQLiteStore) GetHelpRequest(ctx context.Context, id string) (*HelpRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+helpRequestColumns+` FROM help_requests WHERE id = ?`, id)
	return scanHelpRequest(row)
}

// ListHelpRequests returns help requests newest first, optionally filtered by status.
func (s *SQLiteStore) ListHelpRequests(ctx context.Context, status HelpRequestStatus) ([]*HelpRequest, error) {
	q := `SELECT ` + helpRequestColumns + ` FROM help_requests`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying help requests: %w", err)
	}
	defer rows.Close()

	requests := make([]*HelpRequest, 0)
	for rows.Next() {
		req, err := scanHelpRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating help requests: %w", err)
	}

	return requests, nil
}

// ResolveHelpRequest marks a pending request resolved and returns the updated record.
func (s *SQLiteStore) ResolveHelpRequest(ctx context.Context, id, response, resolvedBy string, at time.Time) (*HelpRequest, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE help_requests
		SET status = ?, supervisor_response = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND status = ?
	`, string(HelpRequestResolved), response, nullString(resolvedBy), formatTime(at), id, string(HelpRequestPending))
	if err != nil {
		return nil, fmt.Errorf("resolving help request: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}

	if rows == 0 {
		// Lost the swap: either the id is unknown or someone resolved it first.
		if _, err := s.GetHelpRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyResolved
	}

	s.logger.Info("resolved help request", "id", id, "resolved_by", resolvedBy)
	return s.GetHelpRequest(ctx, id)
}

// CountHelpRequests counts requests, optionally filtered by status.
func (s *SQLiteStore) CountHelpRequests(ctx context.Context, status HelpRequestStatus) (int, error) {
	q := `SELECT COUNT(*) FROM help_requests`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}

	var count int
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting help requests: %w", err)
	}
	return count, nil
}

func scanHelpRequest(row rowScanner) (*HelpRequest, error) {
	var req HelpRequest
	var status, callerJSON, createdAt string
	var response, resolvedBy, resolvedAt sql.NullString

	err := row.Scan(
		&req.ID,
		&req.Question,
		&req.Context,
		&callerJSON,
		&status,
		&response,
		&resolvedBy,
		&createdAt,
		&resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning help request: %w", err)
	}

	req.Status = HelpRequestStatus(status)
	req.SupervisorResponse = response.String
	req.ResolvedBy = resolvedBy.String

	if err := json.Unmarshal([]byte(callerJSON), &req.Caller); err != nil {
		return nil, fmt.Errorf("decoding caller context: %w", err)
	}

	if req.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}
		req.ResolvedAt = &t
	}

	return &req, nil
}
