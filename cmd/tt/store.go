package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/zulandar/tramtram/internal/config"
	"github.com/zulandar/tramtram/internal/store"
)

func newStoreCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the chat data store",
	}
	cmd.AddCommand(newStoreCopyCmd(flags))
	return cmd
}

func newStoreCopyCmd(flags *rootFlags) *cobra.Command {
	var to config.StoreConfig

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy every chat from the configured store to another one",
		Long: `Copies every chat from the store in the config file to a target store,
for example when moving from JSON files to sqlite or mysql.

Example:
  tt store copy --driver sqlite --path data/tramtram.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStoreCopy(cmd.OutOrStdout(), flags, to)
		},
	}

	cmd.Flags().StringVar(&to.Driver, "driver", "", "target driver: file, sqlite or mysql")
	cmd.Flags().StringVar(&to.Path, "path", "", "target data dir (file) or database file (sqlite)")
	cmd.Flags().StringVar(&to.DSN, "dsn", "", "target mysql DSN")
	_ = cmd.MarkFlagRequired("driver")
	return cmd
}

func runStoreCopy(out io.Writer, flags *rootFlags, to config.StoreConfig) error {
	env, err := loadEnv(flags, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if to.Driver == cfg.Store.Driver && to.Path == cfg.Store.Path && to.DSN == cfg.Store.DSN {
		return fmt.Errorf("store copy: target is the configured store")
	}
	if to.Driver != "mysql" && to.Path == "" {
		return fmt.Errorf("store copy: --path is required for %s", to.Driver)
	}
	if to.Driver == "mysql" && to.DSN == "" {
		return fmt.Errorf("store copy: --dsn is required for mysql")
	}

	src, err := openStore(cfg.Store, env, cfg)
	if err != nil {
		return fmt.Errorf("store copy: source: %w", err)
	}
	dst, err := openStore(to, env, cfg)
	if err != nil {
		return fmt.Errorf("store copy: target: %w", err)
	}
	n, err := store.Copy(src, dst)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Copied %d chats from %s to %s.\n", n, cfg.Store.Driver, to.Driver)
	return nil
}
