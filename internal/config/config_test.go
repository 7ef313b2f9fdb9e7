package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Database.Path != "skillbet.db" {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
	if cfg.Backend.WarIndex != 1 {
		t.Fatalf("war index should default to 1, got %d", cfg.Backend.WarIndex)
	}
	if cfg.Settlement.Interval != 5*time.Minute {
		t.Fatalf("unexpected settlement interval %s", cfg.Settlement.Interval)
	}
	if cfg.Settlement.AutoClaim {
		t.Fatal("auto claim must be opt-in")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "skillbet.yaml")
	body := []byte("backend:\n  base_url: http://proofs.internal\n  war_index: 0\nsettlement:\n  interval: 30s\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SKILLBET_SETTLEMENT_AUTO_CLAIM", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://proofs.internal" || cfg.Backend.WarIndex != 0 {
		t.Fatalf("file values not applied: %+v", cfg.Backend)
	}
	if cfg.Settlement.Interval != 30*time.Second {
		t.Fatalf("duration not decoded: %s", cfg.Settlement.Interval)
	}
	if !cfg.Settlement.AutoClaim {
		t.Fatal("env override not applied")
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Database:   DatabaseConfig{Driver: "sqlite", Path: "x.db"},
			Settlement: SettlementConfig{Interval: time.Minute},
			Export:     ExportConfig{MaxDataPoints: 10},
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	cfg = base()
	cfg.Database = DatabaseConfig{Driver: "postgres"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("postgres without dsn should fail")
	}

	cfg = base()
	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown driver should fail")
	}

	cfg = base()
	cfg.Notify.Telegram.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("telegram without token should fail")
	}

	cfg = base()
	cfg.Settlement.ExpireAfter = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative expiry should fail")
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := Config{Export: ExportConfig{MaxDataPoints: 50}}
	if cfg.ResolveMaxPoints(0) != 50 || cfg.ResolveMaxPoints(7) != 7 {
		t.Fatal("override resolution incorrect")
	}
}
