package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nishad/uniload/internal/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "uniload.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Schema != "uniprot_public" {
		t.Errorf("default schema = %q", cfg.Database.Schema)
	}
	if cfg.Load.Profile != "standard" || cfg.Load.Dataset != "swissprot" {
		t.Errorf("default load config = %+v", cfg.Load)
	}
	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %q", cfg.API.ListenAddr)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Schema != "uniprot_public" {
		t.Errorf("schema = %q", cfg.Database.Schema)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_directory: /var/lib/uniload
database:
  url: postgres://app@db:5432/uniprot
  schema: uniprot
load:
  workers: 8
  profile: full
  dataset: all
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://app@db:5432/uniprot" || cfg.Database.Schema != "uniprot" {
		t.Errorf("database config = %+v", cfg.Database)
	}
	if cfg.Load.Workers != 8 || cfg.Load.Profile != "full" || cfg.Load.Dataset != "all" {
		t.Errorf("load config = %+v", cfg.Load)
	}
	if cfg.DataDirectory != "/var/lib/uniload" {
		t.Errorf("data dir = %q", cfg.DataDirectory)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "database:\n  url: postgres://file@db/uniprot\n")
	t.Setenv(EnvDatabaseURL, "postgres://env@db/uniprot")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.URL != "postgres://env@db/uniprot" {
		t.Errorf("URL = %q, env must win", cfg.Database.URL)
	}
}

func TestLoadRejectsBadProfile(t *testing.T) {
	path := writeConfig(t, "load:\n  profile: medium\n")
	if _, err := Load(path); !errors.Is(errors.KindConfig, err) {
		t.Errorf("Load with bad profile = %v, want KindConfig", err)
	}
}

func TestLoadRejectsBadDataset(t *testing.T) {
	path := writeConfig(t, "load:\n  dataset: proteomes\n")
	if _, err := Load(path); !errors.Is(errors.KindConfig, err) {
		t.Errorf("Load with bad dataset = %v, want KindConfig", err)
	}
}

func TestPathHonorsEnv(t *testing.T) {
	t.Setenv(EnvConfig, "/etc/uniload/config.yaml")
	if got := Path(); got != "/etc/uniload/config.yaml" {
		t.Errorf("Path() = %q", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.DataDirectory = filepath.Join(base, "data")
	cfg.SpoolDirectory = filepath.Join(base, "data", "spool")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if _, err := os.Stat(cfg.SpoolDirectory); err != nil {
		t.Errorf("spool directory missing: %v", err)
	}
}
