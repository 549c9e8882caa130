package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ostiary-ai/ostiary/internal/domain/actionlog"
	"github.com/ostiary-ai/ostiary/internal/domain/authority"
)

// LogStore implements actionlog.Store on SQLite. State transitions run
// inside an immediate transaction with a status recheck on UPDATE, so a
// racing transition loses with ErrInvalidTransition instead of
// overwriting the winner.
type LogStore struct {
	db *DB
}

// NewLogStore creates a LogStore backed by the given database.
func NewLogStore(db *DB) *LogStore {
	return &LogStore{db: db}
}

const logColumns = `id, user_id, action_type_id, action_type_name, authority_level,
	status, target_type, target_id, description, payload, confidence_score,
	user_feedback, metadata, created_at, approved_at, rejected_at, executed_at`

// Create inserts a new action log.
func (s *LogStore) Create(ctx context.Context, log *actionlog.ActionLog) error {
	payload, metadata, err := encodeBlobs(log)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO action_logs (`+logColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.UserID,
		log.ActionTypeID,
		log.ActionTypeName,
		string(log.AuthorityLevel),
		string(log.Status),
		string(log.TargetType),
		log.TargetID,
		log.Description,
		payload,
		nullFloat(log.ConfidenceScore),
		nullString(string(log.UserFeedback)),
		metadata,
		log.CreatedAt.UTC().Format(time.RFC3339Nano),
		nullTime(log.ApprovedAt),
		nullTime(log.RejectedAt),
		nullTime(log.ExecutedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting action log: %w", err)
	}
	return nil
}

// ByID returns a log by ID, or actionlog.ErrNotFound.
func (s *LogStore) ByID(ctx context.Context, id string) (*actionlog.ActionLog, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM action_logs WHERE id = ?`, id)
	log, err := scanLogFrom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, actionlog.ErrNotFound
	}
	return log, err
}

// Transition applies the mutation while the row is in an expected state.
func (s *LogStore) Transition(ctx context.Context, id string, from []actionlog.Status, apply func(*actionlog.ActionLog)) (*actionlog.ActionLog, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+logColumns+` FROM action_logs WHERE id = ?`, id)
	log, err := scanLogFrom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, actionlog.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(from) > 0 && !statusIn(log.Status, from) {
		return nil, fmt.Errorf("action %s is %s, expected one of %v: %w",
			id, log.Status, from, actionlog.ErrInvalidTransition)
	}
	currentStatus := log.Status

	apply(log)

	payload, metadata, err := encodeBlobs(log)
	if err != nil {
		return nil, err
	}

	// Recheck the source status on UPDATE: if a concurrent transition
	// got in between, zero rows change and this transition loses.
	res, err := tx.ExecContext(ctx, `
		UPDATE action_logs SET
			status = ?, authority_level = ?, payload = ?, confidence_score = ?,
			user_feedback = ?, metadata = ?, approved_at = ?, rejected_at = ?,
			executed_at = ?
		WHERE id = ? AND status = ?`,
		string(log.Status),
		string(log.AuthorityLevel),
		payload,
		nullFloat(log.ConfidenceScore),
		nullString(string(log.UserFeedback)),
		metadata,
		nullTime(log.ApprovedAt),
		nullTime(log.RejectedAt),
		nullTime(log.ExecutedAt),
		id,
		string(currentStatus),
	)
	if err != nil {
		return nil, fmt.Errorf("updating action log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("action %s changed state concurrently: %w",
			id, actionlog.ErrInvalidTransition)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transition: %w", err)
	}
	return log, nil
}

// List returns logs matching the filter, oldest first.
func (s *LogStore) List(ctx context.Context, f actionlog.Filter) ([]actionlog.ActionLog, error) {
	where, args := buildWhere(f)
	query := `SELECT ` + logColumns + ` FROM action_logs` + where + ` ORDER BY created_at ASC`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying action logs: %w", err)
	}
	defer rows.Close()

	var result []actionlog.ActionLog
	for rows.Next() {
		log, err := scanLogFrom(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *log)
	}
	return result, rows.Err()
}

// Count returns the number of logs matching the filter.
func (s *LogStore) Count(ctx context.Context, f actionlog.Filter) (int, error) {
	where, args := buildWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM action_logs`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting action logs: %w", err)
	}
	return n, nil
}

// Stats aggregates the user's logs created at or after since.
func (s *LogStore) Stats(ctx context.Context, userID string, since time.Time) (*actionlog.Stats, error) {
	args := []any{userID}
	sinceClause := ""
	if !since.IsZero() {
		sinceClause = ` AND created_at >= ?`
		args = append(args, since.UTC().Format(time.RFC3339Nano))
	}

	stats := &actionlog.Stats{
		ByStatus: make(map[actionlog.Status]int64),
		ByType:   make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, action_type_name, COUNT(*)
		FROM action_logs
		WHERE user_id = ?`+sinceClause+`
		GROUP BY status, action_type_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying action log stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, typeName string
		var count int64
		if err := rows.Scan(&status, &typeName, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		stats.ByStatus[actionlog.Status(status)] += count
		stats.ByType[typeName] += count
	}
	return stats, rows.Err()
}

func buildWhere(f actionlog.Filter) (string, []any) {
	var clauses []string
	var args []any
	if f.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, f.UserID)
	}
	if len(f.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(f.Statuses))
		clauses = append(clauses, "status IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func encodeBlobs(log *actionlog.ActionLog) (payload sql.NullString, metadata string, err error) {
	if log.Payload != nil {
		encoded, err := json.Marshal(log.Payload)
		if err != nil {
			return payload, "", fmt.Errorf("marshalling payload: %w", err)
		}
		payload = sql.NullString{String: string(encoded), Valid: true}
	}
	encoded, err := json.Marshal(log.Metadata)
	if err != nil {
		return payload, "", fmt.Errorf("marshalling metadata: %w", err)
	}
	return payload, string(encoded), nil
}

func scanLogFrom(scan func(...any) error) (*actionlog.ActionLog, error) {
	var log actionlog.ActionLog
	var level, status, targetType, createdAt string
	var payload, feedback, approvedAt, rejectedAt, executedAt sql.NullString
	var metadata string
	var confidence sql.NullFloat64

	if err := scan(&log.ID, &log.UserID, &log.ActionTypeID, &log.ActionTypeName,
		&level, &status, &targetType, &log.TargetID, &log.Description,
		&payload, &confidence, &feedback, &metadata, &createdAt,
		&approvedAt, &rejectedAt, &executedAt); err != nil {
		return nil, err
	}

	log.AuthorityLevel = authority.Level(level)
	log.Status = actionlog.Status(status)
	log.TargetType = actionlog.TargetType(targetType)
	if feedback.Valid {
		log.UserFeedback = actionlog.Feedback(feedback.String)
	}
	if confidence.Valid {
		score := confidence.Float64
		log.ConfidenceScore = &score
	}
	if payload.Valid {
		if err := json.Unmarshal([]byte(payload.String), &log.Payload); err != nil {
			return nil, fmt.Errorf("unmarshalling payload: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(metadata), &log.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshalling metadata: %w", err)
	}

	var err error
	if log.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if log.ApprovedAt, err = parseNullTime(approvedAt); err != nil {
		return nil, err
	}
	if log.RejectedAt, err = parseNullTime(rejectedAt); err != nil {
		return nil, err
	}
	if log.ExecutedAt, err = parseNullTime(executedAt); err != nil {
		return nil, err
	}
	return &log, nil
}

func statusIn(s actionlog.Status, set []actionlog.Status) bool {
	for _, candidate := range set {
		if s == candidate {
			return true
		}
	}
	return false
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}

// Compile-time interface verification.
var _ actionlog.Store = (*LogStore)(nil)
