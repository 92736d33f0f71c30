package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"keyval/internal/config"
	"keyval/internal/hostkey"
	"keyval/internal/logging"
	"keyval/internal/ssh"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the shell over SSH",
		Long: `Serve the keyval shell to SSH clients whose public key is listed in the
authorized_keys file. The host key is generated on first start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen, _ := cmd.Flags().GetString("ssh-listen"); cmd.Flags().Changed("ssh-listen") {
				a.cfg.SSH.Listen = listen
			}
			if a.cfg.SSH.Listen == "" {
				return fmt.Errorf("ssh.listen is empty")
			}

			keyDir := a.cfg.SSH.HostKeyDir
			if keyDir == "" {
				keyDir = filepath.Join(a.cfg.Storage.DataDir, "ssh")
			}
			hk, err := hostkey.Load(config.ExpandHome(keyDir))
			if err != nil {
				return err
			}

			srv, err := ssh.NewServer(a.cfg.SSH.Listen, hk, a.store,
				config.ExpandHome(a.cfg.SSH.AuthorizedKeys), ssh.WithConnRate(a.cfg.SSH.ConnRate))
			if err != nil {
				return err
			}
			if err := srv.Listen(); err != nil {
				return err
			}
			defer srv.Stop()

			logging.For("main").Info("serving shell over ssh", "addr", srv.Addr(), "host_key", hk.Fingerprint)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "listening on %s (host key %s)\n", srv.Addr(), hk.Fingerprint)
			return srv.Serve(cmd.Context())
		},
	}
	cmd.Flags().String("ssh-listen", "", "SSH listen address (overrides config)")
	return cmd
}
