package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
)

type deviceStore struct {
	db *sql.DB
}

// Devices returns the device registry store.
func (s *SQLiteDB) Devices() DeviceRepository {
	return &deviceStore{db: s.db}
}

const deviceColumns = `id, name, type, serial_number, token_hash, assigned_to,
	status, battery_level, last_ping, firmware, notes, created_by, created_at, updated_at`

func (s *deviceStore) Create(ctx context.Context, d *models.Device) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Type, nullString(d.SerialNumber), d.TokenHash, d.AssignedTo,
		d.Status, d.BatteryLevel, d.LastPing, d.Firmware, d.Notes, d.CreatedBy,
		d.CreatedAt, d.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// nullString maps "" to NULL so the unique serial constraint ignores devices
// registered without one.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s *deviceStore) GetByID(ctx context.Context, id string) (*models.Device, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, nil
}

func (s *deviceStore) Update(ctx context.Context, d *models.Device) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, type = ?, serial_number = ?, token_hash = ?, assigned_to = ?,
			status = ?, battery_level = ?, last_ping = ?, firmware = ?, notes = ?,
			updated_at = ?
		WHERE id = ?`,
		d.Name, d.Type, nullString(d.SerialNumber), d.TokenHash, d.AssignedTo,
		d.Status, d.BatteryLevel, d.LastPing, d.Firmware, d.Notes,
		d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update device rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *deviceStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete device rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *deviceStore) List(ctx context.Context, f DeviceFilter) ([]models.Device, error) {
	query := "SELECT " + deviceColumns + " FROM devices WHERE 1=1"
	var args []any

	if f.Status != nil {
		query += " AND status = ?"
		args = append(args, *f.Status)
	}
	if f.Type != nil {
		query += " AND type = ?"
		args = append(args, *f.Type)
	}
	if f.AssignedTo != "" {
		query += " AND assigned_to = ?"
		args = append(args, f.AssignedTo)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	return devices, rows.Err()
}

func (s *deviceStore) Stats(ctx context.Context) (*models.DeviceStats, error) {
	stats := &models.DeviceStats{}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'active'), 0),
			COALESCE(SUM(status = 'unassigned'), 0),
			COALESCE(SUM(status = 'maintenance'), 0),
			COALESCE(SUM(status = 'inactive'), 0)
		FROM devices`)
	if err := row.Scan(&stats.Total, &stats.Active, &stats.Unassigned, &stats.Maintenance, &stats.Inactive); err != nil {
		return nil, fmt.Errorf("device stats: %w", err)
	}
	return stats, nil
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var d models.Device
	var serial, assignedTo, firmware, notes sql.NullString

	err := row.Scan(
		&d.ID, &d.Name, &d.Type, &serial, &d.TokenHash, &assignedTo,
		&d.Status, &d.BatteryLevel, &d.LastPing, &firmware, &notes, &d.CreatedBy,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.SerialNumber = serial.String
	d.AssignedTo = assignedTo.String
	d.Firmware = firmware.String
	d.Notes = notes.String
	return &d, nil
}
