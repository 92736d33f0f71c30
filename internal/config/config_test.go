package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const errExpectedValErr = "expected validation error"

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Storage.DataDir != "~/.keyval" {
		t.Errorf("DataDir: got %q, want ~/.keyval", cfg.Storage.DataDir)
	}
	if cfg.Storage.Database != "keyval-store" {
		t.Errorf("Database: got %q, want keyval-store", cfg.Storage.Database)
	}
	if cfg.Storage.ObjectStore != "keyval" {
		t.Errorf("ObjectStore: got %q, want keyval", cfg.Storage.ObjectStore)
	}
	if cfg.Storage.Codec != "gob" {
		t.Errorf("Codec: got %q, want gob", cfg.Storage.Codec)
	}
	if cfg.Storage.LockTimeout != time.Second {
		t.Errorf("LockTimeout: got %s, want 1s", cfg.Storage.LockTimeout)
	}
	if cfg.SSH.Listen != "127.0.0.1:2222" {
		t.Errorf("SSH.Listen: got %q", cfg.SSH.Listen)
	}
	if cfg.SSH.AuthorizedKeys != "~/.keyval/authorized_keys" {
		t.Errorf("SSH.AuthorizedKeys: got %q", cfg.SSH.AuthorizedKeys)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Database != "keyval-store" {
		t.Errorf("Database: got %q, want keyval-store", cfg.Storage.Database)
	}
}

func TestLoadDefaultLocation(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".keyval"), 0700); err != nil {
		t.Fatal(err)
	}
	data := "[storage]\ndatabase = \"from-home\"\n"
	if err := os.WriteFile(filepath.Join(home, ".keyval", "config.toml"), []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Database != "from-home" {
		t.Errorf("Database: got %q, want from-home", cfg.Storage.Database)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[storage]
data_dir = "/tmp/keyval-test"
database = "app"
object_store = "settings"
codec = "json"
lock_timeout = "250ms"

[ssh]
listen = "0.0.0.0:2022"
authorized_keys = "/etc/keyval/authorized_keys"
host_key_dir = "/etc/keyval/ssh"

[logging]
level = "debug"
format = "json"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/keyval-test" {
		t.Errorf("DataDir: got %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.Database != "app" || cfg.Storage.ObjectStore != "settings" {
		t.Errorf("names: got %q/%q", cfg.Storage.Database, cfg.Storage.ObjectStore)
	}
	if cfg.Storage.Codec != "json" {
		t.Errorf("Codec: got %q", cfg.Storage.Codec)
	}
	if cfg.Storage.LockTimeout != 250*time.Millisecond {
		t.Errorf("LockTimeout: got %s", cfg.Storage.LockTimeout)
	}
	if cfg.SSH.Listen != "0.0.0.0:2022" || cfg.SSH.HostKeyDir != "/etc/keyval/ssh" {
		t.Errorf("SSH: got %+v", cfg.SSH)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging: got %+v", cfg.Logging)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[storage]\ncodec = \"proto\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Storage.Codec != "proto" {
		t.Errorf("Codec: got %q", cfg.Storage.Codec)
	}
	if cfg.Storage.ObjectStore != "keyval" {
		t.Errorf("ObjectStore should keep its default, got %q", cfg.Storage.ObjectStore)
	}
}

func TestLoadBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("{{invalid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.toml")
	if err := os.WriteFile(path, []byte("[storage]\ndatabse = \"x\"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "databse") {
		t.Fatalf("expected unknown key error naming databse, got %v", err)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("an explicit path that does not exist should fail")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty data dir", func(c *Config) { c.Storage.DataDir = " " }, "storage.data_dir"},
		{"empty database", func(c *Config) { c.Storage.Database = "" }, "storage.database"},
		{"database with slash", func(c *Config) { c.Storage.Database = "a/b" }, "storage.database"},
		{"database dot dot", func(c *Config) { c.Storage.Database = ".." }, "storage.database"},
		{"empty object store", func(c *Config) { c.Storage.ObjectStore = "" }, "storage.object_store"},
		{"reserved object store", func(c *Config) { c.Storage.ObjectStore = "__keyval_meta__" }, "storage.object_store"},
		{"unknown codec", func(c *Config) { c.Storage.Codec = "xml" }, "storage.codec"},
		{"negative timeout", func(c *Config) { c.Storage.LockTimeout = -time.Second }, "storage.lock_timeout"},
		{"bad ssh listen", func(c *Config) { c.SSH.Listen = "no-port" }, "ssh.listen"},
		{"negative conn rate", func(c *Config) { c.SSH.ConnRate = -1 }, "ssh.conn_rate"},
		{"unknown level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"unknown format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal(errExpectedValErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q: %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigValidateEmptyOptionalFields(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = ""
	cfg.Logging.Format = ""
	cfg.Storage.LockTimeout = 0
	cfg.SSH.Listen = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("config with empty optional fields should be valid: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}

	got := ExpandHome("~/foo/bar")
	want := filepath.Join(home, "foo/bar")
	if got != want {
		t.Errorf("ExpandHome: got %q, want %q", got, want)
	}

	if got := ExpandHome("/absolute/path"); got != "/absolute/path" {
		t.Errorf("ExpandHome: got %q, want /absolute/path", got)
	}
}
