package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
)

// Reason classifies a check verdict. Policy failures are ordinary values,
// never Go errors; only store faults surface as errors.
type Reason string

const (
	ReasonValid           Reason = "valid"
	ReasonNotFound        Reason = "not_found"
	ReasonBlocked         Reason = "blocked"
	ReasonPackageMismatch Reason = "package_mismatch"
	ReasonExpired         Reason = "expired"
	ReasonDeviceLimit     Reason = "device_limit_reached"
)

// CheckRequest carries one license check from a client device.
type CheckRequest struct {
	LicenseKey        string
	DeviceFingerprint string
	PackageName       string
	Version           string
	SourceIP          string
}

// Verdict is the outcome of a license check.
type Verdict struct {
	Valid      bool
	Reason     Reason
	Message    string
	ExpireAt   *time.Time
	IsLifetime bool
}

// Payload returns the verdict in its signable wire form.
func (v *Verdict) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"valid":   v.Valid,
		"message": v.Message,
	}
	if v.Valid {
		p["is_lifetime"] = v.IsLifetime
		if v.ExpireAt != nil {
			p["expire_at"] = v.ExpireAt.UTC().Format(time.RFC3339)
		} else {
			p["expire_at"] = nil
		}
	}
	return p
}

// LicenseStore is the persistence contract the binding engine consumes. The
// engine holds no global handle and caches nothing across calls, so tests can
// inject any store and concurrent administrative updates are always observed.
type LicenseStore interface {
	GetLicenseByKey(ctx context.Context, key string) (*model.License, error)
	ListDevices(ctx context.Context, licenseID int64) ([]model.Device, error)
	TouchDevice(ctx context.Context, id int64, now time.Time) error
	BindDeviceIfUnderQuota(ctx context.Context, licenseID int64, fingerprint string) (*model.Device, bool, error)
}

// LicenseService is the device-binding decision engine. Check applies the
// policy gates in fixed order and performs the binding side effect.
type LicenseService struct {
	store  LicenseStore
	audit  *audit.Recorder
	logger *slog.Logger
	now    func() time.Time
}

// NewLicenseService creates the binding engine.
func NewLicenseService(st LicenseStore, rec *audit.Recorder, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		store:  st,
		audit:  rec,
		logger: logger,
		now:    time.Now,
	}
}

// Check evaluates a license check request. Gates short-circuit in order:
// lookup, blocked status, package pin, expiry, re-validation, new-device
// admission. Every policy outcome is a Verdict; a non-nil error means a store
// fault and must be reported to the client as a generic server fault.
func (s *LicenseService) Check(ctx context.Context, req CheckRequest) (*Verdict, error) {
	lic, err := s.store.GetLicenseByKey(ctx, req.LicenseKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return invalidVerdict(ReasonNotFound, "License not found"), nil
		}
		return nil, fmt.Errorf("load license: %w", err)
	}

	if lic.Status == model.LicenseBlocked {
		return invalidVerdict(ReasonBlocked, "License is blocked"), nil
	}

	if pin := lic.AllowedPackageName; pin != nil && *pin != "" && *pin != req.PackageName {
		s.audit.Record(model.ActionSuspiciousAccess, lic.ID,
			fmt.Sprintf("Package mismatch: %s (expected: %s)", req.PackageName, *pin), req.SourceIP)
		return invalidVerdict(ReasonPackageMismatch, "Invalid Application Package"), nil
	}

	now := s.now()
	if lic.Expired(now) {
		// Expiry is computed on every check rather than written back, so no
		// background sweeper is needed and the gate stays a pure read.
		return invalidVerdict(ReasonExpired, "License expired"), nil
	}

	devices, err := s.store.ListDevices(ctx, lic.ID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	for i := range devices {
		if devices[i].DeviceFingerprint == req.DeviceFingerprint {
			// Re-validation: already-bound devices are always re-affirmed and
			// never count against the quota again.
			if err := s.store.TouchDevice(ctx, devices[i].ID, now); err != nil {
				return nil, fmt.Errorf("touch device: %w", err)
			}
			return validVerdict(lic, "License active"), nil
		}
	}

	dev, created, err := s.store.BindDeviceIfUnderQuota(ctx, lic.ID, req.DeviceFingerprint)
	if err != nil {
		return nil, fmt.Errorf("bind device: %w", err)
	}
	if dev == nil {
		return invalidVerdict(ReasonDeviceLimit, "Device limit reached"), nil
	}
	if !created {
		// Lost a race against a concurrent check from the same device; treat
		// it as a re-validation.
		if err := s.store.TouchDevice(ctx, dev.ID, now); err != nil {
			return nil, fmt.Errorf("touch device: %w", err)
		}
		return validVerdict(lic, "License active"), nil
	}

	return validVerdict(lic, "Device registered and license active"), nil
}

func invalidVerdict(reason Reason, message string) *Verdict {
	return &Verdict{Valid: false, Reason: reason, Message: message}
}

func validVerdict(lic *model.License, message string) *Verdict {
	return &Verdict{
		Valid:      true,
		Reason:     ReasonValid,
		Message:    message,
		ExpireAt:   lic.ExpireAt,
		IsLifetime: lic.IsLifetime,
	}
}
