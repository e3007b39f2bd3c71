package model

import "time"

// Device is a persisted binding between a license and a client-supplied
// device fingerprint. Bindings are unique per (license_id, fingerprint) and
// their count per license never exceeds the license's max_devices.
type Device struct {
	ID                int64     `json:"id" db:"id"`
	LicenseID         int64     `json:"license_id" db:"license_id"`
	DeviceFingerprint string    `json:"device_fingerprint" db:"device_fingerprint"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	LastSeenAt        time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// DeviceWithLicense is a Device joined with its owning license's key, used by
// the admin device list view.
type DeviceWithLicense struct {
	Device
	LicenseKey string `json:"license_key" db:"license_key"`
}
