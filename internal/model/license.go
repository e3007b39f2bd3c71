package model

import "time"

// License status values. A blocked license fails every check regardless of
// device state or expiry.
const (
	LicenseActive  = "active"
	LicenseBlocked = "blocked"
)

// License is a credential permitting a bounded number of devices to activate
// the product. The key is immutable after creation; quota and expiry policy
// can be changed by operators at any time and take effect on the next check.
type License struct {
	ID                 int64      `json:"id" db:"id"`
	LicenseKey         string     `json:"license_key" db:"license_key"`
	Status             string     `json:"status" db:"status"`
	MaxDevices         int        `json:"max_devices" db:"max_devices"`
	IsLifetime         bool       `json:"is_lifetime" db:"is_lifetime"`
	ExpireAt           *time.Time `json:"expire_at,omitempty" db:"expire_at"`
	AllowedPackageName *string    `json:"allowed_package_name,omitempty" db:"allowed_package_name"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the license is past its expiry at the given instant.
// Lifetime licenses never expire; expire_at is ignored for them.
func (l *License) Expired(now time.Time) bool {
	if l.IsLifetime || l.ExpireAt == nil {
		return false
	}
	return l.ExpireAt.Before(now)
}
