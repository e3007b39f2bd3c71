package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
)

func newTestEngine(t *testing.T) (*LicenseService, *store.Store, *audit.Recorder) {
	t.Helper()
	st, err := store.Open(store.DriverSQLite, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := audit.NewRecorder(st, logger)
	t.Cleanup(rec.Close)

	return NewLicenseService(st, rec, logger), st, rec
}

func mustCreateLicense(t *testing.T, st *store.Store, lic *model.License) *model.License {
	t.Helper()
	if lic.LicenseKey == "" {
		key, err := GenerateLicenseKey()
		if err != nil {
			t.Fatalf("GenerateLicenseKey: %v", err)
		}
		lic.LicenseKey = key
	}
	if lic.Status == "" {
		lic.Status = model.LicenseActive
	}
	if err := st.CreateLicense(context.Background(), lic); err != nil {
		t.Fatalf("CreateLicense: %v", err)
	}
	return lic
}

func TestCheckLicenseNotFound(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	v, err := engine.Check(context.Background(), CheckRequest{
		LicenseKey:        "AAAA-BBBB-CCCC-DDDD",
		DeviceFingerprint: "dev-1",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Valid {
		t.Fatal("expected invalid verdict")
	}
	if v.Reason != ReasonNotFound {
		t.Errorf("reason: got %q, want %q", v.Reason, ReasonNotFound)
	}
	if v.Message != "License not found" {
		t.Errorf("message: got %q", v.Message)
	}
}

func TestCheckLicenseBlocked(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	lic := mustCreateLicense(t, st, &model.License{Status: model.LicenseBlocked, MaxDevices: 3})

	v, err := engine.Check(context.Background(), CheckRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "dev-1",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Valid || v.Reason != ReasonBlocked {
		t.Fatalf("got verdict %+v, want blocked", v)
	}
	if v.Message != "License is blocked" {
		t.Errorf("message: got %q", v.Message)
	}
}

func TestCheckPackageMismatch(t *testing.T) {
	engine, st, rec := newTestEngine(t)
	pin := "com.example.app"
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 3, AllowedPackageName: &pin})

	v, err := engine.Check(context.Background(), CheckRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "dev-1",
		PackageName:       "com.evil.clone",
		SourceIP:          "203.0.113.9",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Valid || v.Reason != ReasonPackageMismatch {
		t.Fatalf("got verdict %+v, want package mismatch", v)
	}
	if v.Message != "Invalid Application Package" {
		t.Errorf("message: got %q", v.Message)
	}

	// Drain the recorder so the suspicious-access event is visible.
	rec.Close()
	count, err := st.CountAuditEvents(context.Background(), model.ActionSuspiciousAccess)
	if err != nil {
		t.Fatalf("CountAuditEvents: %v", err)
	}
	if count != 1 {
		t.Errorf("suspicious access events: got %d, want 1", count)
	}
}

func TestCheckPackageMatchAllowed(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	pin := "com.example.app"
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 3, AllowedPackageName: &pin})

	v, err := engine.Check(context.Background(), CheckRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "dev-1",
		PackageName:       "com.example.app",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Valid {
		t.Fatalf("got verdict %+v, want valid", v)
	}
	if v.Message != "Device registered and license active" {
		t.Errorf("message: got %q", v.Message)
	}
}

func TestCheckUnpinnedLicenseIgnoresPackage(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 3})

	v, err := engine.Check(context.Background(), CheckRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "dev-1",
		PackageName:       "com.anything.at.all",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Valid {
		t.Fatalf("got verdict %+v, want valid", v)
	}
}

func TestCheckLicenseExpired(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	past := time.Now().Add(-24 * time.Hour).UTC()
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 3, ExpireAt: &past})

	v, err := engine.Check(context.Background(), CheckRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "dev-1",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if v.Valid || v.Reason != ReasonExpired {
		t.Fatalf("got verdict %+v, want expired", v)
	}
	if v.Message != "License expired" {
		t.Errorf("message: got %q", v.Message)
	}
}

func TestCheckLifetimeIgnoresExpiry(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	past := time.Now().Add(-24 * time.Hour).UTC()
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 3, IsLifetime: true, ExpireAt: &past})

	v, err := engine.Check(context.Background(), CheckRequest{
		LicenseKey:        lic.LicenseKey,
		DeviceFingerprint: "dev-1",
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !v.Valid {
		t.Fatalf("got verdict %+v, want valid for lifetime license", v)
	}
	if !v.IsLifetime {
		t.Error("verdict should carry is_lifetime")
	}
}

func TestCheckRevalidationDoesNotConsumeQuota(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 1})
	ctx := context.Background()

	// First device takes the only slot.
	v, err := engine.Check(ctx, CheckRequest{LicenseKey: lic.LicenseKey, DeviceFingerprint: "dev-a"})
	if err != nil {
		t.Fatalf("Check dev-a: %v", err)
	}
	if !v.Valid || v.Message != "Device registered and license active" {
		t.Fatalf("got verdict %+v, want new registration", v)
	}

	// Second device must be refused.
	v, err = engine.Check(ctx, CheckRequest{LicenseKey: lic.LicenseKey, DeviceFingerprint: "dev-b"})
	if err != nil {
		t.Fatalf("Check dev-b: %v", err)
	}
	if v.Valid || v.Reason != ReasonDeviceLimit {
		t.Fatalf("got verdict %+v, want device limit", v)
	}
	if v.Message != "Device limit reached" {
		t.Errorf("message: got %q", v.Message)
	}

	// First device re-validates even though the license is full.
	v, err = engine.Check(ctx, CheckRequest{LicenseKey: lic.LicenseKey, DeviceFingerprint: "dev-a"})
	if err != nil {
		t.Fatalf("Check dev-a again: %v", err)
	}
	if !v.Valid || v.Message != "License active" {
		t.Fatalf("got verdict %+v, want re-validation", v)
	}

	devices, err := st.ListDevices(ctx, lic.ID)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("bound devices: got %d, want 1", len(devices))
	}
}

func TestCheckRevalidationTouchesLastSeen(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 2})
	ctx := context.Background()

	if _, err := engine.Check(ctx, CheckRequest{LicenseKey: lic.LicenseKey, DeviceFingerprint: "dev-a"}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	before, _ := st.ListDevices(ctx, lic.ID)

	engine.now = func() time.Time { return time.Now().Add(1 * time.Hour).UTC() }
	if _, err := engine.Check(ctx, CheckRequest{LicenseKey: lic.LicenseKey, DeviceFingerprint: "dev-a"}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	after, _ := st.ListDevices(ctx, lic.ID)

	if !after[0].LastSeenAt.After(before[0].LastSeenAt) {
		t.Errorf("last_seen_at not advanced: before %v, after %v", before[0].LastSeenAt, after[0].LastSeenAt)
	}
}

func TestCheckConcurrentBindingRespectsQuota(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 3})
	ctx := context.Background()

	const attempts = 10
	var wg sync.WaitGroup
	verdicts := make([]*Verdict, attempts)
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i], errs[i] = engine.Check(ctx, CheckRequest{
				LicenseKey:        lic.LicenseKey,
				DeviceFingerprint: fmt.Sprintf("dev-%d", i),
			})
		}(i)
	}
	wg.Wait()

	registered, refused := 0, 0
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("Check %d: %v", i, errs[i])
		}
		switch {
		case verdicts[i].Valid:
			registered++
		case verdicts[i].Reason == ReasonDeviceLimit:
			refused++
		default:
			t.Errorf("unexpected verdict %d: %+v", i, verdicts[i])
		}
	}

	if registered != 3 {
		t.Errorf("registered: got %d, want 3", registered)
	}
	if refused != 7 {
		t.Errorf("refused: got %d, want 7", refused)
	}

	devices, err := st.ListDevices(ctx, lic.ID)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 3 {
		t.Errorf("bound devices: got %d, want 3", len(devices))
	}
}

func TestCheckConcurrentSameDeviceBindsOnce(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	lic := mustCreateLicense(t, st, &model.License{MaxDevices: 5})
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := engine.Check(ctx, CheckRequest{
				LicenseKey:        lic.LicenseKey,
				DeviceFingerprint: "same-device",
			})
			if err == nil && !v.Valid {
				err = fmt.Errorf("unexpected invalid verdict: %+v", v)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
	}

	devices, err := st.ListDevices(ctx, lic.ID)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 {
		t.Errorf("bound devices: got %d, want 1", len(devices))
	}
}

func TestVerdictPayloadShape(t *testing.T) {
	expire := time.Date(2027, 1, 15, 0, 0, 0, 0, time.UTC)
	v := &Verdict{Valid: true, Reason: ReasonValid, Message: "License active", ExpireAt: &expire}

	p := v.Payload()
	if p["valid"] != true {
		t.Errorf("valid: got %v", p["valid"])
	}
	if p["expire_at"] != "2027-01-15T00:00:00Z" {
		t.Errorf("expire_at: got %v", p["expire_at"])
	}

	invalid := &Verdict{Valid: false, Reason: ReasonBlocked, Message: "License is blocked"}
	p = invalid.Payload()
	if _, ok := p["expire_at"]; ok {
		t.Error("invalid verdicts should not carry expire_at")
	}
}
