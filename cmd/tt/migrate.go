package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/tramtram/internal/config"
	"github.com/zulandar/tramtram/internal/store"
)

func newMigrateCmd(flags *rootFlags) *cobra.Command {
	var legacyConfig string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Prepare the store and import a single-user install",
		Long: `Prepares the configured store and imports data from a single-user install.

Steps performed:
  1. Create the data directory, or the database table for sqlite/mysql
  2. If the legacy config has telegram.chat_id, save its trips and state
     as that chat's record and rewrite the config with global keys only

Safe to run multiple times (idempotent).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if legacyConfig == "" {
				legacyConfig = flags.configPath
			}
			return runMigrate(cmd.OutOrStdout(), flags, legacyConfig)
		},
	}

	cmd.Flags().StringVar(&legacyConfig, "legacy-config", "", "single-user config.json to import (default: --config)")
	return cmd
}

func runMigrate(out io.Writer, flags *rootFlags, legacyConfig string) error {
	env, err := loadEnv(flags, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Preparing %s store...\n", cfg.Store.Driver)
	st, err := openStore(cfg.Store, env, cfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	chatID, err := store.MigrateLegacy(legacyPaths(legacyConfig), st)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if chatID == "" {
		fmt.Fprintln(out, "No single-user data to import.")
	} else {
		fmt.Fprintf(out, "Imported chat %s from %s.\n", chatID, legacyConfig)
	}
	fmt.Fprintln(out, "Migration complete.")
	return nil
}
