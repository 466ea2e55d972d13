package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
)

type responseStore struct {
	db *sql.DB
}

// Responses returns the durable Response ledger.
func (s *SQLiteDB) Responses() ResponseRepository {
	return &responseStore{db: s.db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertResponse(ctx context.Context, ex execer, r *models.Response) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = ex.ExecContext(ctx, `
		INSERT INTO responses (
			id, trigger_id, responder_id, status, notified_at, accepted_at,
			actual_arrival, completed_at, response_time, arrival_time,
			estimated_arrival, actions, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TriggerID, r.ResponderID, r.Status,
		nullTime(r.NotifiedAt), nullTime(r.AcceptedAt),
		nullTime(r.ActualArrival), nullTime(r.CompletedAt),
		nullInt64(r.ResponseTime), nullInt64(r.ArrivalTime), nullInt(r.EstimatedArrival),
		string(actions), r.Notes, r.CreatedAt, r.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (s *responseStore) Create(ctx context.Context, r *models.Response) error {
	if err := insertResponse(ctx, s.db, r); err != nil {
		if err == ErrDuplicate {
			return err
		}
		return fmt.Errorf("insert response: %w", err)
	}
	return nil
}

const responseColumns = `id, trigger_id, responder_id, status, notified_at,
	accepted_at, actual_arrival, completed_at, response_time, arrival_time,
	estimated_arrival, actions, notes, created_at, updated_at`

func (s *responseStore) GetByID(ctx context.Context, id string) (*models.Response, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+responseColumns+" FROM responses WHERE id = ?", id)
	r, err := scanResponse(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	return r, nil
}

func (s *responseStore) GetByTriggerAndResponder(ctx context.Context, triggerID, responderID string) (*models.Response, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+responseColumns+" FROM responses WHERE trigger_id = ? AND responder_id = ?",
		triggerID, responderID)
	r, err := scanResponse(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get response by trigger and responder: %w", err)
	}
	return r, nil
}

func (s *responseStore) Update(ctx context.Context, r *models.Response) error {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	// Timestamps and derived timings are computed once; COALESCE makes them
	// first-write-wins even when two instances race past the in-process lock.
	res, err := s.db.ExecContext(ctx, `
		UPDATE responses SET
			status = ?,
			notified_at = COALESCE(notified_at, ?),
			accepted_at = COALESCE(accepted_at, ?),
			actual_arrival = COALESCE(actual_arrival, ?),
			completed_at = COALESCE(completed_at, ?),
			response_time = COALESCE(response_time, ?),
			arrival_time = COALESCE(arrival_time, ?),
			estimated_arrival = ?, actions = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		r.Status, nullTime(r.NotifiedAt), nullTime(r.AcceptedAt),
		nullTime(r.ActualArrival), nullTime(r.CompletedAt),
		nullInt64(r.ResponseTime), nullInt64(r.ArrivalTime), nullInt(r.EstimatedArrival),
		string(actions), r.Notes, r.UpdatedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update response: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update response rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *responseStore) List(ctx context.Context, f ResponseFilter) ([]models.Response, error) {
	query := "SELECT " + responseColumns + " FROM responses WHERE 1=1"
	var args []any

	if f.TriggerID != "" {
		query += " AND trigger_id = ?"
		args = append(args, f.TriggerID)
	}
	if f.ResponderID != "" {
		query += " AND responder_id = ?"
		args = append(args, f.ResponderID)
	}
	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		responses = append(responses, *r)
	}
	return responses, rows.Err()
}

func (s *responseStore) Stats(ctx context.Context) (*models.ResponseStats, error) {
	stats := &models.ResponseStats{}
	var avg sql.NullFloat64
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status IN ('accepted', 'en_route', 'arrived', 'completed')), 0),
			COALESCE(SUM(status = 'completed'), 0),
			COALESCE(SUM(status = 'declined'), 0),
			AVG(response_time)
		FROM responses`)
	if err := row.Scan(&stats.Total, &stats.Accepted, &stats.Completed, &stats.Declined, &avg); err != nil {
		return nil, fmt.Errorf("response stats: %w", err)
	}
	if avg.Valid {
		stats.AverageResponseTime = int64(avg.Float64 + 0.5)
	}
	return stats, nil
}

func scanResponse(row rowScanner) (*models.Response, error) {
	var r models.Response
	var notifiedAt, acceptedAt, actualArrival, completedAt sql.NullTime
	var responseTime, arrivalTime sql.NullInt64
	var estimatedArrival sql.NullInt64
	var actions string
	var notes sql.NullString

	err := row.Scan(
		&r.ID, &r.TriggerID, &r.ResponderID, &r.Status,
		&notifiedAt, &acceptedAt, &actualArrival, &completedAt,
		&responseTime, &arrivalTime, &estimatedArrival,
		&actions, &notes, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.NotifiedAt = timePtr(notifiedAt)
	r.AcceptedAt = timePtr(acceptedAt)
	r.ActualArrival = timePtr(actualArrival)
	r.CompletedAt = timePtr(completedAt)
	r.ResponseTime = int64Ptr(responseTime)
	r.ArrivalTime = int64Ptr(arrivalTime)
	if estimatedArrival.Valid {
		eta := int(estimatedArrival.Int64)
		r.EstimatedArrival = &eta
	}
	r.Notes = notes.String

	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	return &r, nil
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
	v := t.Time
	return &v
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
