// ABOUTME: SQLite persistence for the predefined and learned knowledge tiers
// ABOUTME: Enforces per-tier question uniqueness and partial usage updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const knowledgeColumns = `
	id, tier, question, question_norm, answer, confidence, verified,
	times_used, success_rate, source_request_id, supervisor_id, created_at, updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// CreateKnowledgeEntry inserts an entry into its tier.
// QuestionNorm, CreatedAt and UpdatedAt are filled in when empty.
func (s *SQLiteStore) CreateKnowledgeEntry(ctx context.Context, entry *KnowledgeEntry) error {
	if entry.QuestionNorm == "" {
		entry.QuestionNorm = NormalizeQuestion(entry.Question)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_entries (`+knowledgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		string(entry.Tier),
		entry.Question,
		entry.QuestionNorm,
		entry.Answer,
		entry.Confidence,
		entry.Verified,
		entry.TimesUsed,
		entry.SuccessRate,
		nullString(entry.SourceRequestID),
		nullString(entry.SupervisorID),
		formatTime(entry.CreatedAt),
		formatTime(entry.UpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("inserting knowledge entry: %w", err)
	}

	s.logger.Debug("created knowledge entry", "id", entry.ID, "tier", entry.Tier)
	return nil
}

// GetKnowledgeEntry retrieves an entry by tier and ID.
// Returns ErrNotFound if the entry doesn't exist.
func (s *SQLiteStore) GetKnowledgeEntry(ctx context.Context, tier Tier, id string) (*KnowledgeEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+knowledgeColumns+`
		FROM knowledge_entries
		WHERE tier = ? AND id = ?
	`, string(tier), id)
	return scanKnowledgeEntry(row)
}

// FindKnowledgeEntry retrieves an entry by its normalized question.
// Returns ErrNotFound if the tier has no such question.
func (s *SQLiteStore) FindKnowledgeEntry(ctx context.Context, tier Tier, questionNorm string) (*KnowledgeEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+knowledgeColumns+`
		FROM knowledge_entries
		WHERE tier = ? AND question_norm = ?
	`, string(tier), questionNorm)
	return scanKnowledgeEntry(row)
}

// ListKnowledgeEntries returns entries ordered by most recently updated.
func (s *SQLiteStore) ListKnowledgeEntries(ctx context.Context, tier Tier, query string) ([]*KnowledgeEntry, error) {
	q := `SELECT ` + knowledgeColumns + ` FROM knowledge_entries WHERE tier = ?`
	args := []any{string(tier)}

	if query = strings.TrimSpace(query); query != "" {
		q += ` AND instr(question_norm, ?) > 0`
		args = append(args, NormalizeQuestion(query))
	}
	q += ` ORDER BY updated_at DESC, id`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying knowledge entries: %w", err)
	}
	defer rows.Close()

	entries := make([]*KnowledgeEntry, 0)
	for rows.Next() {
		entry, err := scanKnowledgeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating knowledge entries: %w", err)
	}

	return entries, nil
}

// UpdateKnowledgeContent replaces question, answer and confidence.
func (s *SQLiteStore) UpdateKnowledgeContent(ctx context.Context, tier Tier, id string, update ContentUpdate) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_entries
		SET question = ?, question_norm = ?, answer = ?, confidence = ?, updated_at = ?
		WHERE tier = ? AND id = ?
	`,
		update.Question,
		NormalizeQuestion(update.Question),
		update.Answer,
		update.Confidence,
		formatTime(time.Now()),
		string(tier),
		id,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("updating knowledge entry: %w", err)
	}
	return requireAffected(result)
}

// UpdateKnowledgeUsage applies the non-nil fields of update and bumps updated_at.
// An empty update changes nothing but still requires the entry to exist.
func (s *SQLiteStore) UpdateKnowledgeUsage(ctx context.Context, tier Tier, id string, update UsageUpdate) error {
	if update.IsEmpty() {
		_, err := s.GetKnowledgeEntry(ctx, tier, id)
		return err
	}

	sets := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if update.TimesUsed != nil {
		sets = append(sets, "times_used = ?")
		args = append(args, *update.TimesUsed)
	}
	if update.SuccessRate != nil {
		sets = append(sets, "success_rate = ?")
		args = append(args, *update.SuccessRate)
	}
	if update.Confidence != nil {
		sets = append(sets, "confidence = ?")
		args = append(args, *update.Confidence)
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(time.Now()), string(tier), id)

	result, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_entries SET `+strings.Join(sets, ", ")+` WHERE tier = ? AND id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("updating knowledge usage: %w", err)
	}
	return requireAffected(result)
}

// IncrementTimesUsed adds one to times_used.
func (s *SQLiteStore) IncrementTimesUsed(ctx context.Context, tier Tier, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_entries SET times_used = times_used + 1
		WHERE tier = ? AND id = ?
	`, string(tier), id)
	if err != nil {
		return fmt.Errorf("incrementing times_used: %w", err)
	}
	return requireAffected(result)
}

// SetKnowledgeVerified toggles the verified flag.
func (s *SQLiteStore) SetKnowledgeVerified(ctx context.Context, tier Tier, id string, verified bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE knowledge_entries SET verified = ?, updated_at = ?
		WHERE tier = ? AND id = ?
	`, verified, formatTime(time.Now()), string(tier), id)
	if err != nil {
		return fmt.Errorf("setting verified: %w", err)
	}
	return requireAffected(result)
}

// DeleteKnowledgeEntry removes an entry.
func (s *SQLiteStore) DeleteKnowledgeEntry(ctx context.Context, tier Tier, id string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM knowledge_entries WHERE tier = ? AND id = ?`, string(tier), id)
	if err != nil {
		return fmt.Errorf("deleting knowledge entry: %w", err)
	}
	return requireAffected(result)
}

// requireAffected maps a zero-row write to ErrNotFound.
func requireAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanKnowledgeEntry(row rowScanner) (*KnowledgeEntry, error) {
	var entry KnowledgeEntry
	var tier, createdAt, updatedAt string
	var sourceRequestID, supervisorID sql.NullString

	err := row.Scan(
		&entry.ID,
		&tier,
		&entry.Question,
		&entry.QuestionNorm,
		&entry.Answer,
		&entry.Confidence,
		&entry.Verified,
		&entry.TimesUsed,
		&entry.SuccessRate,
		&sourceRequestID,
		&supervisorID,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning knowledge entry: %w", err)
	}

	entry.Tier = Tier(tier)
	entry.SourceRequestID = sourceRequestID.String
	entry.SupervisorID = supervisorID.String

	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &entry, nil
}
