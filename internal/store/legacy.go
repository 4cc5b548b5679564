package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/models"
)

// Saver is the subset of a store MigrateLegacy writes to.
type Saver interface {
	Save(chatID string, data *models.UserData) error
}

// LegacyPaths locates the files of a single-user install.
type LegacyPaths struct {
	Config string // config.json holding telegram.chat_id and trips
	State  string // optional state.json with tracked message ids
}

// Global keys carried over into the rewritten config, with the values used
// when the old file did not set them.
var legacyGlobalDefaults = map[string]json.RawMessage{
	"otp_base_url":             json.RawMessage(`"https://plan.muoversiatorino.it/otp/routers/mato/index"`),
	"polling_interval_seconds": json.RawMessage(`15`),
	"night_pause":              json.RawMessage(`{"start_hour": 2, "end_hour": 7}`),
}

// MigrateLegacy moves a single-user install into dst. It only acts when
// the config file has a "telegram" object with a "chat_id": the trips and
// any saved state become that chat's record, the config file is rewritten
// with global keys only, and the state file is removed. It returns the
// migrated chat id, or "" when there was nothing to migrate.
func MigrateLegacy(paths LegacyPaths, dst Saver) (string, error) {
	raw, err := os.ReadFile(paths.Config)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: read legacy config: %w", err)
	}
	var old map[string]json.RawMessage
	if err := json.Unmarshal(raw, &old); err != nil {
		// Not JSON, so not a legacy config.
		return "", nil
	}
	var tg struct {
		ChatID json.RawMessage `json:"chat_id"`
	}
	if t, ok := old["telegram"]; !ok || json.Unmarshal(t, &tg) != nil || len(tg.ChatID) == 0 {
		return "", nil
	}
	chatID, err := legacyChatID(tg.ChatID)
	if err != nil {
		return "", err
	}

	blob := map[string]json.RawMessage{"trips": json.RawMessage(`[]`)}
	if trips, ok := old["trips"]; ok {
		blob["trips"] = trips
	}
	if paths.State != "" {
		if state, err := os.ReadFile(paths.State); err == nil {
			if json.Valid(state) {
				blob["state"] = state
			} else {
				log.Warn().Str("file", paths.State).Msg("store: ignoring corrupt legacy state")
			}
		}
	}
	combined, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("store: legacy migrate: %w", err)
	}
	u, err := models.DecodeUserData(combined, time.Now(), DefaultStopTTL)
	if err != nil {
		return "", fmt.Errorf("store: legacy migrate: %w", err)
	}
	if err := dst.Save(chatID, u); err != nil {
		return "", err
	}

	global := make(map[string]json.RawMessage, len(legacyGlobalDefaults))
	for k, def := range legacyGlobalDefaults {
		global[k] = def
		if v, ok := old[k]; ok {
			global[k] = v
		}
	}
	out, err := json.MarshalIndent(global, "", "  ")
	if err != nil {
		return "", fmt.Errorf("store: legacy migrate: %w", err)
	}
	if err := os.WriteFile(paths.Config, append(out, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("store: rewrite config: %w", err)
	}
	if paths.State != "" {
		if err := os.Remove(paths.State); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("file", paths.State).Msg("store: remove legacy state")
		}
	}
	log.Info().Str("chat", chatID).Msg("store: migrated legacy single-user data")
	return chatID, nil
}

func legacyChatID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && validateChatID(s) == nil {
		return s, nil
	}
	return "", fmt.Errorf("store: legacy config has unusable telegram.chat_id %s", raw)
}
