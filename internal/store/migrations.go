package store

import "fmt"

// migrate creates the schema for the active driver. Statements are idempotent
// (IF NOT EXISTS) so migrate can run on every startup.
func (s *Store) migrate() error {
	var migrations []string
	switch s.driver {
	case DriverMySQL:
		migrations = mysqlMigrations
	case DriverPostgres:
		migrations = postgresMigrations
	default:
		migrations = sqliteMigrations
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		license_key TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		max_devices INTEGER NOT NULL DEFAULT 1,
		is_lifetime INTEGER NOT NULL DEFAULT 0,
		expire_at DATETIME,
		allowed_package_name TEXT,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		license_id INTEGER NOT NULL REFERENCES licenses(id) ON DELETE CASCADE,
		device_fingerprint TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(license_id, device_fingerprint)
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin',
		status TEXT NOT NULL DEFAULT 'enabled',
		last_login_at DATETIME,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		target_id INTEGER NOT NULL DEFAULT 0,
		details TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_licenses_key ON licenses(license_key)`,
	`CREATE INDEX IF NOT EXISTS idx_devices_license_id ON devices(license_id)`,
}

var mysqlMigrations = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		license_key VARCHAR(64) UNIQUE NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		max_devices INT NOT NULL DEFAULT 1,
		is_lifetime TINYINT(1) NOT NULL DEFAULT 0,
		expire_at DATETIME NULL,
		allowed_package_name VARCHAR(255) NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		license_id BIGINT NOT NULL,
		device_fingerprint VARCHAR(255) NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uniq_license_fingerprint (license_id, device_fingerprint),
		CONSTRAINT fk_devices_license FOREIGN KEY (license_id)
			REFERENCES licenses(id) ON DELETE CASCADE
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		username VARCHAR(64) UNIQUE NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL DEFAULT 'admin',
		status VARCHAR(16) NOT NULL DEFAULT 'enabled',
		last_login_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		action VARCHAR(64) NOT NULL,
		target_id BIGINT NOT NULL DEFAULT 0,
		details TEXT NOT NULL,
		ip_address VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS licenses (
		id BIGSERIAL PRIMARY KEY,
		license_key TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		max_devices INT NOT NULL DEFAULT 1,
		is_lifetime BOOLEAN NOT NULL DEFAULT FALSE,
		expire_at TIMESTAMPTZ,
		allowed_package_name TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS devices (
		id BIGSERIAL PRIMARY KEY,
		license_id BIGINT NOT NULL REFERENCES licenses(id) ON DELETE CASCADE,
		device_fingerprint TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(license_id, device_fingerprint)
	)`,

	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'admin',
		status TEXT NOT NULL DEFAULT 'enabled',
		last_login_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS audit_logs (
		id BIGSERIAL PRIMARY KEY,
		action TEXT NOT NULL,
		target_id BIGINT NOT NULL DEFAULT 0,
		details TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_devices_license_id ON devices(license_id)`,
}
