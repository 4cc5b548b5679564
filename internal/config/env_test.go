package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"BOT_TOKEN", "DISCORD_BOT_TOKEN", "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN",
		"TRAMTRAM_MYSQL_DSN", "TRAMTRAM_LOG_FORMAT", "TRAMTRAM_DEBUG",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadEnv_FromProcess(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("TRAMTRAM_LOG_FORMAT", "JSON")
	t.Setenv("TRAMTRAM_DEBUG", "true")

	env, err := LoadEnv("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.BotToken != "123:abc" {
		t.Errorf("BotToken = %q", env.BotToken)
	}
	if env.LogFormat != "JSON" {
		t.Errorf("LogFormat = %q", env.LogFormat)
	}
	if !env.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestLoadEnv_DotEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SLACK_BOT_TOKEN=xoxb-1\nSLACK_APP_TOKEN=xapp-1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv sets these directly; register cleanup through t.Setenv.
	t.Setenv("SLACK_BOT_TOKEN", "")
	t.Setenv("SLACK_APP_TOKEN", "")
	os.Unsetenv("SLACK_BOT_TOKEN")
	os.Unsetenv("SLACK_APP_TOKEN")

	env, err := LoadEnv(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.SlackBotToken != "xoxb-1" || env.SlackAppToken != "xapp-1" {
		t.Errorf("slack tokens = %q/%q", env.SlackBotToken, env.SlackAppToken)
	}
}

func TestLoadEnv_ProcessWinsOverFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	os.WriteFile(path, []byte("BOT_TOKEN=from-file\n"), 0o644)
	t.Setenv("BOT_TOKEN", "from-env")

	env, err := LoadEnv(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.BotToken != "from-env" {
		t.Errorf("BotToken = %q, want from-env", env.BotToken)
	}
}

func TestLoadEnv_MissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := LoadEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}

func TestLoadEnv_BadBool(t *testing.T) {
	clearEnv(t)
	t.Setenv("TRAMTRAM_DEBUG", "perhaps")
	if _, err := LoadEnv(""); err == nil {
		t.Fatal("expected error for unparsable TRAMTRAM_DEBUG")
	}
}

func TestRequireCredentials(t *testing.T) {
	tests := []struct {
		name     string
		env      Env
		platform string
		want     string
	}{
		{"telegram ok", Env{BotToken: "t"}, "telegram", ""},
		{"telegram missing", Env{}, "telegram", "BOT_TOKEN"},
		{"discord ok", Env{DiscordBotToken: "d"}, "discord", ""},
		{"discord missing", Env{BotToken: "t"}, "discord", "DISCORD_BOT_TOKEN"},
		{"slack ok", Env{SlackBotToken: "b", SlackAppToken: "a"}, "slack", ""},
		{"slack both missing", Env{}, "slack", "SLACK_BOT_TOKEN and SLACK_APP_TOKEN"},
		{"slack app missing", Env{SlackBotToken: "b"}, "slack", "SLACK_APP_TOKEN"},
		{"unknown", Env{}, "irc", "unsupported platform"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.RequireCredentials(tt.platform)
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
