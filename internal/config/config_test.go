package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Import.Delimiter != "," {
		t.Fatalf("expected delimiter ',', got %q", cfg.Import.Delimiter)
	}
	if cfg.Import.Mode != "create_update" {
		t.Fatalf("expected mode create_update, got %q", cfg.Import.Mode)
	}
	if cfg.Import.MaxRows != 10000 {
		t.Fatalf("expected max_rows 10000, got %d", cfg.Import.MaxRows)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.yaml")
	content := `
server:
  port: 9090
database:
  driver: sqlite
  name: imports
  path: /tmp/rocket
import:
  delimiter: "|"
  max_rows: 50
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Database.IsSQLite() {
		t.Fatalf("expected sqlite driver, got %s", cfg.Database.Driver)
	}
	if got := cfg.Database.DSN(); got != "/tmp/rocket/imports.db" {
		t.Fatalf("unexpected DSN %q", got)
	}
	if cfg.Import.Delimiter != "|" || cfg.Import.MaxRows != 50 {
		t.Fatalf("unexpected import config: %+v", cfg.Import)
	}
	// Unset keys keep their defaults.
	if cfg.Import.Mode != "create_update" {
		t.Fatalf("expected default mode, got %q", cfg.Import.Mode)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("ROCKET_SERVER_PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected port from env, got %d", cfg.Server.Port)
	}
}

func TestDatabaseConfig_PostgresDSN(t *testing.T) {
	d := DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "rocket"}
	want := "postgres://u:p@db:5432/rocket?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore dir: %v", err)
		}
	})
}
