package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"keyval/internal/config"
	"keyval/internal/logging"
	"keyval/internal/store/bolt"
	"keyval/pkg/keyval"
)

// app carries what PersistentPreRunE sets up for the subcommands.
type app struct {
	cfg     *config.Config
	factory *bolt.Factory
	store   *keyval.Store
}

// rootCmd builds the command tree. The caller closes a after Execute.
func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "keyval",
		Short: "Inspect and edit a keyval store",
		Long: `keyval reads and writes the key-value pairs of one object store inside
an embedded bbolt database, the same files the keyval Go package uses.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "path to config file (default ~/.keyval/config.toml)")
	flags.String("data-dir", "", "data directory (overrides config)")
	flags.String("database", "", "database name (overrides config)")
	flags.String("store", "", "object store name (overrides config)")
	flags.String("codec", "", "value codec: gob, json or proto (overrides config)")
	flags.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	flags.String("log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		a.getCmd(),
		a.setCmd(),
		a.delCmd(),
		a.clearCmd(),
		a.keysCmd(),
		a.shellCmd(),
		a.serveCmd(),
	)
	return root
}

// setup loads the config, applies flag overrides and builds the store.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	overrides := []struct {
		flag string
		dst  *string
	}{
		{"data-dir", &cfg.Storage.DataDir},
		{"database", &cfg.Storage.Database},
		{"store", &cfg.Storage.ObjectStore},
		{"codec", &cfg.Storage.Codec},
		{"log-level", &cfg.Logging.Level},
		{"log-format", &cfg.Logging.Format},
	}
	for _, o := range overrides {
		if flags.Changed(o.flag) {
			*o.dst, _ = flags.GetString(o.flag)
		}
	}
	cfg.Storage.DataDir = config.ExpandHome(cfg.Storage.DataDir)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	codec, err := keyval.CodecByName(cfg.Storage.Codec)
	if err != nil {
		return err
	}
	var bopts []bolt.Option
	if cfg.Storage.LockTimeout > 0 {
		bopts = append(bopts, bolt.WithLockTimeout(cfg.Storage.LockTimeout))
	}
	a.cfg = cfg
	a.factory = bolt.NewFactory(cfg.Storage.DataDir, bopts...)
	a.store = keyval.NewStore(cfg.Storage.Database, cfg.Storage.ObjectStore,
		keyval.WithFactory(a.factory),
		keyval.WithCodec(codec),
	)
	return nil
}

func (a *app) close() error {
	if a.factory == nil {
		return nil
	}
	err := a.factory.Close()
	a.factory = nil
	if err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}
