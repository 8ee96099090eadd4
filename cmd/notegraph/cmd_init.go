package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"notegraph/internal/config"
)

var forceInit bool

// initCmd writes a default config file
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configPath); err == nil && !forceInit {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configPath)
		}

		cfg := config.DefaultConfig()
		if vaultFlag != "" {
			abs, err := filepath.Abs(vaultFlag)
			if err != nil {
				return err
			}
			cfg.Vault.Path = abs
		}
		if addrFlag != "" {
			cfg.Control.ListenAddr = addrFlag
		}
		if err := cfg.Save(configPath); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
		if cfg.Vault.Path == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "set vault.path before running notegraph start")
		}
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite an existing config file")
}
