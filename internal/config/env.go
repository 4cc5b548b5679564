package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Env holds credentials and process settings read from the environment,
// after an optional .env file has been loaded.
type Env struct {
	BotToken        string `envconfig:"BOT_TOKEN"`
	DiscordBotToken string `envconfig:"DISCORD_BOT_TOKEN"`
	SlackBotToken   string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken   string `envconfig:"SLACK_APP_TOKEN"`
	MySQLDSN        string `envconfig:"TRAMTRAM_MYSQL_DSN"`
	LogFormat       string `envconfig:"TRAMTRAM_LOG_FORMAT"`
	Debug           bool   `envconfig:"TRAMTRAM_DEBUG"`
}

// LoadEnv loads envFile into the process environment when it exists
// (variables already set win), then reads Env.
func LoadEnv(envFile string) (*Env, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}
	return &env, nil
}

// RequireCredentials checks that the tokens for platform are present.
func (e *Env) RequireCredentials(platform string) error {
	var missing []string
	switch platform {
	case "telegram":
		if e.BotToken == "" {
			missing = append(missing, "BOT_TOKEN")
		}
	case "discord":
		if e.DiscordBotToken == "" {
			missing = append(missing, "DISCORD_BOT_TOKEN")
		}
	case "slack":
		if e.SlackBotToken == "" {
			missing = append(missing, "SLACK_BOT_TOKEN")
		}
		if e.SlackAppToken == "" {
			missing = append(missing, "SLACK_APP_TOKEN")
		}
	default:
		return fmt.Errorf("config: unsupported platform %q", platform)
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: %s not set; create a .env file or export it", joinAnd(missing))
	}
	return nil
}

func joinAnd(items []string) string {
	switch len(items) {
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return fmt.Sprint(items)
}
