package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"keyval/internal/logging"
	"keyval/internal/store"
)

// Codecs lists the value codec names the storage section accepts.
var Codecs = []string{"gob", "json", "proto"}

type Config struct {
	Storage StorageConfig `toml:"storage"`
	SSH     SSHConfig     `toml:"ssh"`
	Logging LoggingConfig `toml:"logging"`
}

type StorageConfig struct {
	DataDir     string        `toml:"data_dir"`
	Database    string        `toml:"database"`
	ObjectStore string        `toml:"object_store"`
	Codec       string        `toml:"codec"`
	LockTimeout time.Duration `toml:"lock_timeout"`
}

// SSHConfig configures the shell server started by "keyval serve".
// An empty HostKeyDir means <data_dir>/ssh.
type SSHConfig struct {
	Listen         string  `toml:"listen"`
	AuthorizedKeys string  `toml:"authorized_keys"`
	HostKeyDir     string  `toml:"host_key_dir"`
	ConnRate       float64 `toml:"conn_rate"` // new connections per second per host; 0 disables
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:     "~/.keyval",
			Database:    "keyval-store",
			ObjectStore: "keyval",
			Codec:       "gob",
			LockTimeout: time.Second,
		},
		SSH: SSHConfig{
			Listen:         "127.0.0.1:2222",
			AuthorizedKeys: "~/.keyval/authorized_keys",
			ConnRate:       2,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Load reads a TOML config file over the defaults. If path is empty,
// ~/.keyval/config.toml is used when it exists.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome("~/.keyval/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config: unknown key %q", undecoded[0].String())
	}

	return cfg, nil
}

// Validate checks the config for values the storage layer would reject.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return fmt.Errorf("storage.data_dir: must not be empty")
	}
	if err := store.ValidateDatabaseName(c.Storage.Database); err != nil {
		return fmt.Errorf("storage.database: %w", err)
	}
	if err := store.ValidateObjectStoreName(c.Storage.ObjectStore); err != nil {
		return fmt.Errorf("storage.object_store: %w", err)
	}
	if !slices.Contains(Codecs, c.Storage.Codec) {
		return fmt.Errorf("storage.codec: %q is not one of %s", c.Storage.Codec, strings.Join(Codecs, ", "))
	}
	if c.Storage.LockTimeout < 0 {
		return fmt.Errorf("storage.lock_timeout: must not be negative, got %s", c.Storage.LockTimeout)
	}
	if c.SSH.Listen != "" {
		if _, _, err := net.SplitHostPort(c.SSH.Listen); err != nil {
			return fmt.Errorf("ssh.listen: %w", err)
		}
	}
	if c.SSH.ConnRate < 0 {
		return fmt.Errorf("ssh.conn_rate: must not be negative, got %g", c.SSH.ConnRate)
	}
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format: %q is not text or json", c.Logging.Format)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
