package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/tramtram/internal/config"
	"github.com/zulandar/tramtram/internal/models"
)

func newUsersCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "List the chats in the store",
		Long:  "Prints every chat with its trip count and the messages TramTram is tracking for it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUsers(cmd.OutOrStdout(), flags)
		},
	}
}

func runUsers(out io.Writer, flags *rootFlags) error {
	env, err := loadEnv(flags, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	st, err := openStore(cfg.Store, env, cfg)
	if err != nil {
		return err
	}
	all, err := st.LoadAll()
	if err != nil {
		return err
	}
	printUsers(out, all)
	return nil
}

func printUsers(out io.Writer, all map[string]*models.UserData) {
	if len(all) == 0 {
		fmt.Fprintln(out, "No chats found.")
		return
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHAT\tTRIPS\tDASHBOARD\tLIVE STOPS")
	for _, id := range ids {
		u := all[id]
		dashboard := 0
		for _, slot := range u.State.DashboardMsgs {
			if slot != nil {
				dashboard++
			}
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", id, len(u.Trips), dashboard, len(u.State.StopMsgs))
	}
	w.Flush()
}
