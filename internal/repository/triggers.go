package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
)

type triggerStore struct {
	db *sql.DB
}

// Triggers returns the durable Trigger store.
func (s *SQLiteDB) Triggers() TriggerRepository {
	return &triggerStore{db: s.db}
}

func (s *triggerStore) CreateWithResponses(ctx context.Context, t *models.Trigger, responses []*models.Response) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fan-out tx: %w", err)
	}
	defer tx.Rollback()

	notified, err := json.Marshal(t.NotifiedResponders)
	if err != nil {
		return fmt.Errorf("marshal notified responders: %w", err)
	}
	active, err := json.Marshal(t.ActiveResponders)
	if err != nil {
		return fmt.Errorf("marshal active responders: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO triggers (
			id, raised_by, device_id, longitude, latitude, address, description,
			priority, status, trigger_type, notified_responders, active_responders,
			resolved_by, resolved_at, resolution_notes, battery_level, version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.RaisedBy, t.DeviceID, t.Location.Longitude, t.Location.Latitude,
		t.Location.Address, t.Description, t.Priority, t.Status, t.Type,
		string(notified), string(active), t.ResolvedBy, nullTime(t.ResolvedAt),
		t.ResolutionNotes, t.BatteryLevel, t.Version, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}

	for _, r := range responses {
		if err := insertResponse(ctx, tx, r); err != nil {
			return fmt.Errorf("insert fan-out response for %s: %w", r.ResponderID, err)
		}
	}

	return tx.Commit()
}

func (s *triggerStore) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, raised_by, device_id, longitude, latitude, address, description,
			priority, status, trigger_type, notified_responders, active_responders,
			resolved_by, resolved_at, resolution_notes, battery_level, version,
			created_at, updated_at
		FROM triggers WHERE id = ?`, id)

	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	return t, nil
}

func (s *triggerStore) UpdateVersioned(ctx context.Context, t *models.Trigger) error {
	notified, err := json.Marshal(t.NotifiedResponders)
	if err != nil {
		return fmt.Errorf("marshal notified responders: %w", err)
	}
	active, err := json.Marshal(t.ActiveResponders)
	if err != nil {
		return fmt.Errorf("marshal active responders: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE triggers SET
			status = ?, notified_responders = ?, active_responders = ?,
			resolved_by = ?, resolved_at = ?, resolution_notes = ?,
			version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		t.Status, string(notified), string(active),
		t.ResolvedBy, nullTime(t.ResolvedAt), t.ResolutionNotes,
		t.UpdatedAt, t.ID, t.Version,
	)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update trigger rows affected: %w", err)
	}
	if n == 0 {
		// Either the row is gone or someone else won the version race.
		if _, getErr := s.GetByID(ctx, t.ID); getErr == ErrNotFound {
			return ErrNotFound
		}
		return ErrVersionMismatch
	}
	t.Version++
	return nil
}

func (s *triggerStore) List(ctx context.Context, f TriggerFilter) ([]models.Trigger, error) {
	query := `
		SELECT id, raised_by, device_id, longitude, latitude, address, description,
			priority, status, trigger_type, notified_responders, active_responders,
			resolved_by, resolved_at, resolution_notes, battery_level, version,
			created_at, updated_at
		FROM triggers WHERE 1=1`
	var args []any

	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.Priority != nil {
		query += " AND priority = ?"
		args = append(args, *f.Priority)
	}
	if f.RaisedBy != "" {
		query += " AND raised_by = ?"
		args = append(args, f.RaisedBy)
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, *f.Since)
	}
	if f.Until != nil {
		query += " AND created_at <= ?"
		args = append(args, *f.Until)
	}

	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var triggers []models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		triggers = append(triggers, *t)
	}
	return triggers, rows.Err()
}

func (s *triggerStore) Stats(ctx context.Context) (*models.TriggerStats, error) {
	stats := &models.TriggerStats{}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'active'), 0),
			COALESCE(SUM(status = 'responded'), 0),
			COALESCE(SUM(status = 'resolved'), 0),
			COALESCE(SUM(status = 'false_alarm'), 0),
			COALESCE(SUM(status = 'cancelled'), 0),
			COALESCE(SUM(priority = 'critical' AND status IN ('active', 'responded')), 0),
			COALESCE(SUM(priority = 'high' AND status IN ('active', 'responded')), 0)
		FROM triggers`)
	if err := row.Scan(
		&stats.Total, &stats.Active, &stats.Responded, &stats.Resolved,
		&stats.FalseAlarms, &stats.Cancelled, &stats.CriticalOpen, &stats.HighOpen,
	); err != nil {
		return nil, fmt.Errorf("trigger stats: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (*models.Trigger, error) {
	var t models.Trigger
	var notified, active string
	var address, description, resolvedBy, resolutionNotes sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.RaisedBy, &t.DeviceID, &t.Location.Longitude, &t.Location.Latitude,
		&address, &description, &t.Priority, &t.Status, &t.Type,
		&notified, &active, &resolvedBy, &resolvedAt, &resolutionNotes,
		&t.BatteryLevel, &t.Version, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Location.Address = address.String
	t.Description = description.String
	t.ResolvedBy = resolvedBy.String
	t.ResolutionNotes = resolutionNotes.String
	if resolvedAt.Valid {
		at := resolvedAt.Time
		t.ResolvedAt = &at
	}

	if err := json.Unmarshal([]byte(notified), &t.NotifiedResponders); err != nil {
		return nil, fmt.Errorf("decode notified responders: %w", err)
	}
	if err := json.Unmarshal([]byte(active), &t.ActiveResponders); err != nil {
		return nil, fmt.Errorf("decode active responders: %w", err)
	}
	return &t, nil
}
