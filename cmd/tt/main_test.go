package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/zulandar/tramtram/internal/config"
	"github.com/zulandar/tramtram/internal/models"
	"github.com/zulandar/tramtram/internal/store"
	slackadapter "github.com/zulandar/tramtram/internal/telegraph/slack"
	telegramadapter "github.com/zulandar/tramtram/internal/telegraph/telegram"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a config using a file store under dir.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	body := "store: {driver: file, path: '" + filepath.Join(dir, "data") + "'}\n" + extra
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func noEnvFile(dir string) string { return filepath.Join(dir, "missing.env") }

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "tt dev") || !strings.Contains(out, "commit: none") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	for _, want := range []string{"tt 1.0.0", "commit: abc123", "built: 2026-01-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got: %s", want, out)
		}
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"run", "migrate", "users", "store", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help should list %q: %s", sub, out)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(new(bytes.Buffer))
	errBuf := new(bytes.Buffer)
	cmd.SetErr(errBuf)
	cmd.SetArgs([]string{"no-such-command"})
	if code := execute(cmd); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(errBuf.String(), "Error:") {
		t.Errorf("error should be printed once: %q", errBuf.String())
	}

	ok := &cobra.Command{Use: "ok", Run: func(*cobra.Command, []string) {}}
	ok.SetArgs([]string{})
	if code := execute(ok); code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestSetupLogging_JSONWhenNotTerminal(t *testing.T) {
	defer func(l zerolog.Logger, lvl zerolog.Level) {
		log.Logger = l
		zerolog.SetGlobalLevel(lvl)
	}(log.Logger, zerolog.GlobalLevel())

	buf := new(bytes.Buffer)
	setupLogging(buf, "", true)
	log.Debug().Str("stop", "455").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if entry["message"] != "hello" || entry["stop"] != "455" || entry["level"] != "debug" {
		t.Errorf("entry = %v", entry)
	}

	buf.Reset()
	setupLogging(buf, "JSON", false)
	log.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug should be filtered at info level: %q", buf.String())
	}
}

func TestCreateAdapter(t *testing.T) {
	env := &config.Env{BotToken: "1:abc", DiscordBotToken: "d", SlackBotToken: "xoxb", SlackAppToken: "xapp"}

	a, err := createAdapter("telegram", env)
	if err != nil {
		t.Fatalf("telegram: %v", err)
	}
	if _, ok := a.(*telegramadapter.Adapter); !ok {
		t.Errorf("telegram adapter type = %T", a)
	}
	if a, err := createAdapter("slack", env); err != nil {
		t.Errorf("slack: %v", err)
	} else if _, ok := a.(*slackadapter.Adapter); !ok {
		t.Errorf("slack adapter type = %T", a)
	}
	if _, err := createAdapter("discord", env); err != nil {
		t.Errorf("discord: %v", err)
	}
	if _, err := createAdapter("irc", env); err == nil {
		t.Error("expected error for unsupported platform")
	}
	if _, err := createAdapter("slack", &config.Env{SlackBotToken: "xoxb"}); err == nil {
		t.Error("expected error for missing slack app token")
	}
}

func TestQuietHours(t *testing.T) {
	if quietHours(nil) != nil {
		t.Error("nil night pause should disable quiet hours")
	}
	q := quietHours(&config.NightPause{StartHour: 2, EndHour: 7})
	if q == nil || !q.Contains(3) || q.Contains(7) {
		t.Errorf("quiet hours = %+v", q)
	}
}

func TestStoreDSN(t *testing.T) {
	tests := []struct {
		name string
		sc   config.StoreConfig
		env  *config.Env
		want string
	}{
		{"sqlite path", config.StoreConfig{Driver: "sqlite", Path: "data/tt.db"}, nil, "data/tt.db"},
		{"explicit dsn", config.StoreConfig{Driver: "mysql", DSN: "u@tcp(db:3306)/tt?parseTime=true"}, &config.Env{MySQLDSN: "ignored"}, "u@tcp(db:3306)/tt?parseTime=true"},
		{"env dsn", config.StoreConfig{Driver: "mysql"}, &config.Env{MySQLDSN: "e@tcp(h:1)/x?parseTime=true"}, "e@tcp(h:1)/x?parseTime=true"},
		{"host fields", config.StoreConfig{Driver: "mysql", Host: "127.0.0.1", Port: 3306, Database: "tramtram"}, &config.Env{}, "root@tcp(127.0.0.1:3306)/tramtram?parseTime=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := storeDSN(tt.sc, tt.env); got != tt.want {
				t.Errorf("storeDSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenStore(t *testing.T) {
	cfg, err := config.Parse(nil)
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()

	fs, err := openStore(config.StoreConfig{Driver: "file", Path: filepath.Join(dir, "data")}, nil, cfg)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if _, ok := fs.(*store.FileStore); !ok {
		t.Errorf("file store type = %T", fs)
	}

	sq, err := openStore(config.StoreConfig{Driver: "sqlite", Path: ":memory:"}, nil, cfg)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	if _, ok := sq.(*store.DBStore); !ok {
		t.Errorf("sqlite store type = %T", sq)
	}

	if _, err := openStore(config.StoreConfig{Driver: "redis"}, nil, cfg); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func sampleUser() *models.UserData {
	u := models.NewUserData()
	u.Trips = []models.Trip{{
		Name: "Home → Work",
		Combos: []models.Combo{{
			Name: "Fast",
			Legs: []models.Leg{{Line: "4", BoardingStopID: "455", AlightingStopID: "470"}},
		}},
	}}
	u.TrackDashboard([]models.MessageID{"10"})
	u.TrackStop("11", "455", time.Now().Add(10*time.Minute))
	return u
}

func TestPrintUsers(t *testing.T) {
	buf := new(bytes.Buffer)
	printUsers(buf, nil)
	if !strings.Contains(buf.String(), "No chats found.") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	printUsers(buf, map[string]*models.UserData{"b": sampleUser(), "a": models.NewUserData()})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[1], "a ") || !strings.HasPrefix(lines[2], "b ") {
		t.Errorf("rows should be sorted by chat: %q", lines)
	}
	if fields := strings.Fields(lines[2]); len(fields) != 4 || fields[1] != "1" || fields[2] != "1" || fields[3] != "1" {
		t.Errorf("row = %q", lines[2])
	}
}

func TestUsersCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	fs, err := store.NewFileStore(filepath.Join(dir, "data"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.Save("42", sampleUser()); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "users", "--config", cfgPath, "--env-file", noEnvFile(dir))
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if !strings.Contains(out, "CHAT") || !strings.Contains(out, "42") {
		t.Errorf("output = %s", out)
	}
}

func TestMigrateCmd_ImportsLegacyConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	legacy := filepath.Join(dir, "config.json")
	legacyBody := `{
  "telegram": {"chat_id": 123456},
  "polling_interval_seconds": 20,
  "trips": [{"name": "Home", "combos": [{"name": "A", "legs": [{"line": "4", "stop_id_boarding": "455", "stop_id_alighting": "470"}]}]}]
}`
	if err := os.WriteFile(legacy, []byte(legacyBody), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "migrate", "--config", cfgPath, "--legacy-config", legacy, "--env-file", noEnvFile(dir))
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "Imported chat 123456") {
		t.Errorf("output = %s", out)
	}

	fs, _ := store.NewFileStore(filepath.Join(dir, "data"), 0)
	u, err := fs.Load("123456")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(u.Trips) != 1 || u.Trips[0].Name != "Home" {
		t.Errorf("trips = %+v", u.Trips)
	}

	// Second run finds nothing left to import.
	out, err = runCmd(t, "migrate", "--config", cfgPath, "--legacy-config", legacy, "--env-file", noEnvFile(dir))
	if err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if !strings.Contains(out, "No single-user data to import.") {
		t.Errorf("second output = %s", out)
	}
}

func TestStoreCopyCmd(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	fs, _ := store.NewFileStore(filepath.Join(dir, "data"), 0)
	fs.Save("1", sampleUser())
	fs.Save("2", models.NewUserData())

	target := filepath.Join(dir, "db", "tramtram.db")
	out, err := runCmd(t, "store", "copy", "--config", cfgPath, "--env-file", noEnvFile(dir), "--driver", "sqlite", "--path", target)
	if err != nil {
		t.Fatalf("store copy: %v", err)
	}
	if !strings.Contains(out, "Copied 2 chats from file to sqlite.") {
		t.Errorf("output = %s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("sqlite file not created: %v", err)
	}
}

func TestStoreCopyCmd_Validation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"same store", []string{"--driver", "file", "--path", filepath.Join(dir, "data")}, "target is the configured store"},
		{"missing path", []string{"--driver", "sqlite"}, "--path is required"},
		{"missing dsn", []string{"--driver", "mysql"}, "--dsn is required"},
		{"missing driver", nil, "driver"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"store", "copy", "--config", cfgPath, "--env-file", noEnvFile(dir)}, tt.args...)
			_, err := runCmd(t, args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRunCmd_MissingCredentials(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "platform: telegram\n")

	_, err := runCmd(t, "run", "--config", cfgPath, "--env-file", noEnvFile(dir))
	if err == nil || !strings.Contains(err.Error(), "BOT_TOKEN") {
		t.Errorf("error = %v, want missing BOT_TOKEN", err)
	}
}

func TestRunCmd_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "platform: irc\n")

	_, err := runCmd(t, "run", "--config", cfgPath, "--env-file", noEnvFile(dir))
	if err == nil || !strings.Contains(err.Error(), "platform") {
		t.Errorf("error = %v", err)
	}
}

func TestLegacyPaths(t *testing.T) {
	p := legacyPaths(filepath.Join("etc", "tt", "config.json"))
	if p.State != filepath.Join("etc", "tt", "state.json") {
		t.Errorf("state path = %q", p.State)
	}
}
