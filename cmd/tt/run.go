package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/tramtram/internal/config"
	"github.com/zulandar/tramtram/internal/otp"
	"github.com/zulandar/tramtram/internal/render"
	"github.com/zulandar/tramtram/internal/status"
	"github.com/zulandar/tramtram/internal/store"
	"github.com/zulandar/tramtram/internal/telegraph"
	discordadapter "github.com/zulandar/tramtram/internal/telegraph/discord"
	slackadapter "github.com/zulandar/tramtram/internal/telegraph/slack"
	telegramadapter "github.com/zulandar/tramtram/internal/telegraph/telegram"
)

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the TramTram bot",
		Long:  "Connects to the configured chat platform, keeps every chat's dashboard up to date and answers commands until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runBot(ctx, flags)
		},
	}
}

func runBot(ctx context.Context, flags *rootFlags) error {
	env, err := loadEnv(flags, os.Stderr)
	if err != nil {
		return err
	}
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	if err := env.RequireCredentials(cfg.Platform); err != nil {
		return err
	}

	st, err := openStore(cfg.Store, env, cfg)
	if err != nil {
		return err
	}
	if _, err := store.MigrateLegacy(legacyPaths(flags.configPath), st); err != nil {
		return err
	}

	fetcher, err := otp.NewClient(otp.ClientOpts{
		BaseURL:      cfg.OTPBaseURL,
		Namespace:    cfg.OTPNamespace,
		NameCacheTTL: cfg.NameCacheTTL(),
	})
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg.Platform, env)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	daemon, err := telegraph.NewDaemon(telegraph.DaemonOpts{
		Adapter:       adapter,
		Store:         st,
		Fetcher:       fetcher,
		Renderer:      render.New(render.ForPlatform(cfg.Platform), cfg.Location()),
		Interval:      cfg.PollInterval(),
		QuietHours:    quietHours(cfg.NightPause),
		Location:      cfg.Location(),
		StopTTL:       cfg.StopTTL(),
		MaxConcurrent: cfg.MaxConcurrentUsers,
		FlushCron:     cfg.FlushCron,
		Metrics:       telegraph.NewMetrics(reg),
	})
	if err != nil {
		return err
	}

	if cfg.Status.Enabled {
		go func() {
			err := status.Start(ctx, status.StartOpts{
				Scheduler: daemon.Scheduler(),
				Sessions:  daemon.Registry(),
				Gatherer:  reg,
				Port:      cfg.Status.Port,
				Version:   Version,
				Platform:  cfg.Platform,
			})
			if err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
	}

	log.Info().Str("platform", cfg.Platform).Str("store", cfg.Store.Driver).
		Dur("interval", cfg.PollInterval()).Str("version", Version).Msg("starting TramTram")
	return daemon.Run(ctx)
}

// createAdapter builds the chat adapter for platform.
func createAdapter(platform string, env *config.Env) (telegraph.Adapter, error) {
	switch platform {
	case "telegram":
		return telegramadapter.New(telegramadapter.AdapterOpts{Token: env.BotToken})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{BotToken: env.DiscordBotToken})
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: env.SlackAppToken,
			BotToken: env.SlackBotToken,
		})
	default:
		return nil, fmt.Errorf("unsupported platform %q", platform)
	}
}

func quietHours(np *config.NightPause) *telegraph.QuietHours {
	if np == nil {
		return nil
	}
	return &telegraph.QuietHours{StartHour: np.StartHour, EndHour: np.EndHour}
}

// legacyPaths places state.json next to the config file.
func legacyPaths(configPath string) store.LegacyPaths {
	return store.LegacyPaths{
		Config: configPath,
		State:  filepath.Join(filepath.Dir(configPath), "state.json"),
	}
}
