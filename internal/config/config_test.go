package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("KEYGATE_TEST_SECRET", "from-env")

	path := filepath.Join(t.TempDir(), "keygate.yaml")
	content := []byte("signing:\n  secret: ${KEYGATE_TEST_SECRET}\ndatabase:\n  driver: mysql\n  dsn: user:pass@tcp(db:3306)/keygate\n")
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signing.Secret != "from-env" {
		t.Errorf("secret: got %q", cfg.Signing.Secret)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("driver: got %q", cfg.Database.Driver)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keygate.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signing.Secret != "" {
		t.Error("default config must not ship a secret")
	}

	// The annotated template must parse back into the same values Default()
	// returns.
	def := Default()
	if cfg.Server.Port != def.Server.Port {
		t.Errorf("port: got %d, want %d", cfg.Server.Port, def.Server.Port)
	}
	if cfg.Database.Driver != def.Database.Driver {
		t.Errorf("driver: got %q, want %q", cfg.Database.Driver, def.Database.Driver)
	}
	if cfg.Auth.SessionTTL != def.Auth.SessionTTL {
		t.Errorf("session_ttl: got %q, want %q", cfg.Auth.SessionTTL, def.Auth.SessionTTL)
	}
	if cfg.Server.CheckRateLimit != def.Server.CheckRateLimit {
		t.Errorf("check_rate_limit: got %d, want %d", cfg.Server.CheckRateLimit, def.Server.CheckRateLimit)
	}

	// Never clobber an existing config.
	if err := WriteDefault(path); err == nil {
		t.Fatal("expected error when file exists")
	}
}
