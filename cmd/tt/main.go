package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/tramtram/internal/config"
	"golang.org/x/term"

	// Embedded zone database so Europe/Rome resolves on minimal images.
	_ "time/tzdata"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootFlags are the flags shared by every subcommand.
type rootFlags struct {
	configPath string
	envFile    string
	debug      bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "tt",
		Short:         "TramTram keeps live transit arrivals in your chat",
		Long:          "TramTram keeps a dashboard of upcoming tram and bus arrivals up to date in Telegram, Discord or Slack.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "path to TramTram config file")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with bot tokens")
	cmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "enable debug logging")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newMigrateCmd(flags))
	cmd.AddCommand(newUsersCmd(flags))
	cmd.AddCommand(newStoreCmd(flags))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tt %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

// loadEnv reads credentials and configures logging from them.
func loadEnv(flags *rootFlags, errOut io.Writer) (*config.Env, error) {
	env, err := config.LoadEnv(flags.envFile)
	if err != nil {
		return nil, err
	}
	setupLogging(errOut, env.LogFormat, flags.debug || env.Debug)
	return env, nil
}

// setupLogging points the global logger at out: JSON when format says so
// or out is not a terminal, a console writer otherwise.
func setupLogging(out io.Writer, format string, debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if strings.EqualFold(format, "json") || !isTerminal(out) {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "2006-01-02 15:04:05",
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
