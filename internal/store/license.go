package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keygate/keygate/internal/model"
)

// ---------------------------------------------------------------------------
// License CRUD
// ---------------------------------------------------------------------------

// CreateLicense inserts a new license. The ID, CreatedAt, and UpdatedAt
// fields on lic are populated after a successful insert. A unique-constraint
// error on license_key is returned as-is so the caller can regenerate the key
// and retry.
func (s *Store) CreateLicense(ctx context.Context, lic *model.License) error {
	now := time.Now().UTC()
	lic.CreatedAt = now
	lic.UpdatedAt = now
	if lic.Status == "" {
		lic.Status = model.LicenseActive
	}

	const q = `INSERT INTO licenses
		(license_key, status, max_devices, is_lifetime, expire_at, allowed_package_name, created_at, updated_at)
		VALUES
		(:license_key, :status, :max_devices, :is_lifetime, :expire_at, :allowed_package_name, :created_at, :updated_at)`

	id, err := s.namedInsert(ctx, q, lic)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert license: %w", err)
	}
	lic.ID = id
	return nil
}

// GetLicense returns a license by ID.
func (s *Store) GetLicense(ctx context.Context, id int64) (*model.License, error) {
	var lic model.License
	if err := s.db.GetContext(ctx, &lic, s.rebind("SELECT * FROM licenses WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return &lic, nil
}

// GetLicenseByKey returns a license by its unique key.
func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*model.License, error) {
	var lic model.License
	if err := s.db.GetContext(ctx, &lic, s.rebind("SELECT * FROM licenses WHERE license_key = ?"), key); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license by key: %w", err)
	}
	return &lic, nil
}

// ListLicenses returns all licenses, newest first.
func (s *Store) ListLicenses(ctx context.Context) ([]model.License, error) {
	var licenses []model.License
	if err := s.db.SelectContext(ctx, &licenses, "SELECT * FROM licenses ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	return licenses, nil
}

// UpdateLicense updates a license's mutable policy fields. The license key
// itself is immutable. The UpdatedAt field is refreshed automatically.
func (s *Store) UpdateLicense(ctx context.Context, lic *model.License) error {
	lic.UpdatedAt = time.Now().UTC()

	const q = `UPDATE licenses SET
		status = :status, max_devices = :max_devices, is_lifetime = :is_lifetime,
		expire_at = :expire_at, allowed_package_name = :allowed_package_name,
		updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, lic)
	if err != nil {
		return fmt.Errorf("update license: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update license rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLicense removes a license by ID. Device bindings are cascade deleted
// by the foreign key constraint.
func (s *Store) DeleteLicense(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM licenses WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete license rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Device bindings
// ---------------------------------------------------------------------------

// ListDevices returns all device bindings for a license.
func (s *Store) ListDevices(ctx context.Context, licenseID int64) ([]model.Device, error) {
	var devices []model.Device
	if err := s.db.SelectContext(ctx, &devices,
		s.rebind("SELECT * FROM devices WHERE license_id = ? ORDER BY id"), licenseID); err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return devices, nil
}

// ListAllDevices returns every device binding joined with its license key,
// most recently seen first.
func (s *Store) ListAllDevices(ctx context.Context) ([]model.DeviceWithLicense, error) {
	const q = `SELECT d.*, l.license_key
		FROM devices d
		JOIN licenses l ON d.license_id = l.id
		ORDER BY d.last_seen_at DESC`

	var devices []model.DeviceWithLicense
	if err := s.db.SelectContext(ctx, &devices, q); err != nil {
		return nil, fmt.Errorf("list all devices: %w", err)
	}
	return devices, nil
}

// GetDeviceByFingerprint returns the binding for (licenseID, fingerprint).
func (s *Store) GetDeviceByFingerprint(ctx context.Context, licenseID int64, fingerprint string) (*model.Device, error) {
	var dev model.Device
	if err := s.db.GetContext(ctx, &dev,
		s.rebind("SELECT * FROM devices WHERE license_id = ? AND device_fingerprint = ?"),
		licenseID, fingerprint); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &dev, nil
}

// TouchDevice sets last_seen_at for an already-bound device.
func (s *Store) TouchDevice(ctx context.Context, id int64, now time.Time) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE devices SET last_seen_at = ? WHERE id = ?"), now.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch device rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDevice removes a device binding by ID.
func (s *Store) DeleteDevice(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM devices WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete device rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLicenseDevice removes a device binding scoped to a license, so an
// operator cannot detach a device through the wrong license's URL.
func (s *Store) DeleteLicenseDevice(ctx context.Context, licenseID, deviceID int64) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM devices WHERE id = ? AND license_id = ?"), deviceID, licenseID)
	if err != nil {
		return fmt.Errorf("delete license device: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete license device rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// BindDeviceIfUnderQuota atomically binds a new device fingerprint to a
// license if the license's device count is below max_devices. It returns the
// binding and whether it was newly created; (nil, false, nil) means the quota
// is exhausted.
//
// The count check and insert run in one transaction with the license row
// locked (SELECT ... FOR UPDATE on MySQL/Postgres; SQLite's single-writer
// connection serializes writes), so concurrent first-time binds can never
// overshoot the quota. A concurrent duplicate of the same fingerprint is
// absorbed via the (license_id, device_fingerprint) unique constraint and
// returned as the existing binding.
func (s *Store) BindDeviceIfUnderQuota(ctx context.Context, licenseID int64, fingerprint string) (*model.Device, bool, error) {
	dev, created, err := s.bindDevice(ctx, licenseID, fingerprint)
	if err != nil && isRetryable(err) {
		// One retry on transient lock/serialization failure.
		dev, created, err = s.bindDevice(ctx, licenseID, fingerprint)
	}
	return dev, created, err
}

func (s *Store) bindDevice(ctx context.Context, licenseID int64, fingerprint string) (*model.Device, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	lockQ := "SELECT max_devices FROM licenses WHERE id = ?"
	if s.driver != DriverSQLite {
		lockQ += " FOR UPDATE"
	}

	var maxDevices int
	if err := tx.GetContext(ctx, &maxDevices, tx.Rebind(lockQ), licenseID); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, ErrNotFound
		}
		return nil, false, fmt.Errorf("lock license: %w", err)
	}

	var count int
	if err := tx.GetContext(ctx, &count,
		tx.Rebind("SELECT COUNT(*) FROM devices WHERE license_id = ?"), licenseID); err != nil {
		return nil, false, fmt.Errorf("count devices: %w", err)
	}

	if count >= maxDevices {
		return nil, false, nil
	}

	now := time.Now().UTC()
	dev := &model.Device{
		LicenseID:         licenseID,
		DeviceFingerprint: fingerprint,
		CreatedAt:         now,
		LastSeenAt:        now,
	}

	const insertQ = `INSERT INTO devices (license_id, device_fingerprint, created_at, last_seen_at)
		VALUES (:license_id, :device_fingerprint, :created_at, :last_seen_at)`

	if s.driver == DriverPostgres {
		rows, err := sqlx.NamedQueryContext(ctx, tx, insertQ+" RETURNING id", dev)
		if err != nil {
			if IsUniqueViolation(err) {
				return s.existingDevice(ctx, licenseID, fingerprint)
			}
			return nil, false, fmt.Errorf("insert device: %w", err)
		}
		if rows.Next() {
			if err := rows.Scan(&dev.ID); err != nil {
				rows.Close()
				return nil, false, fmt.Errorf("scan device id: %w", err)
			}
		}
		rows.Close()
	} else {
		result, err := tx.NamedExecContext(ctx, insertQ, dev)
		if err != nil {
			if IsUniqueViolation(err) {
				return s.existingDevice(ctx, licenseID, fingerprint)
			}
			return nil, false, fmt.Errorf("insert device: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return nil, false, fmt.Errorf("get device id: %w", err)
		}
		dev.ID = id
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit device bind: %w", err)
	}
	return dev, true, nil
}

// existingDevice resolves the duplicate-binding race: another request bound
// the same fingerprint first, which is equivalent to a re-validation.
func (s *Store) existingDevice(ctx context.Context, licenseID int64, fingerprint string) (*model.Device, bool, error) {
	dev, err := s.GetDeviceByFingerprint(ctx, licenseID, fingerprint)
	if err != nil {
		return nil, false, fmt.Errorf("resolve duplicate binding: %w", err)
	}
	return dev, false, nil
}
