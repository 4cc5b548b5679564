package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/models"
)

// FileStore keeps each chat in <dir>/<chat_id>.json.
type FileStore struct {
	dir     string
	stopTTL time.Duration
	now     func() time.Time
}

// NewFileStore creates dir if needed and returns a FileStore over it.
func NewFileStore(dir string, stopTTL time.Duration) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("store: data dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	if stopTTL <= 0 {
		stopTTL = DefaultStopTTL
	}
	return &FileStore{dir: dir, stopTTL: stopTTL, now: time.Now}, nil
}

// Dir returns the directory the store writes to.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(chatID string) string {
	return filepath.Join(s.dir, chatID+".json")
}

// Load returns the chat's data. A missing or unreadable file yields an
// empty record so a damaged file never locks a chat out.
func (s *FileStore) Load(chatID string) (*models.UserData, error) {
	if err := validateChatID(chatID); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(s.path(chatID))
	if errors.Is(err, fs.ErrNotExist) {
		return models.NewUserData(), nil
	}
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("store: read user file, using defaults")
		return models.NewUserData(), nil
	}
	u, err := models.DecodeUserData(raw, s.now(), s.stopTTL)
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("store: corrupt user file, using defaults")
		return models.NewUserData(), nil
	}
	return u, nil
}

// Save writes the chat's data atomically.
func (s *FileStore) Save(chatID string, data *models.UserData) error {
	if err := validateChatID(chatID); err != nil {
		return err
	}
	raw, err := data.Encode()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+chatID+".*.tmp")
	if err != nil {
		return fmt.Errorf("store: save %s: %w", chatID, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("store: save %s: %w", chatID, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: save %s: %w", chatID, err)
	}
	if err := os.Rename(tmp.Name(), s.path(chatID)); err != nil {
		return fmt.Errorf("store: save %s: %w", chatID, err)
	}
	return nil
}

// LoadAll reads every chat file in the directory. Files whose name is not
// a chat id, or whose content does not decode, are skipped.
func (s *FileStore) LoadAll() (map[string]*models.UserData, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", s.dir, err)
	}
	out := make(map[string]*models.UserData)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		chatID := strings.TrimSuffix(name, ".json")
		if validateChatID(chatID) != nil {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("store: skip unreadable user file")
			continue
		}
		u, err := models.DecodeUserData(raw, s.now(), s.stopTTL)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("store: skip corrupt user file")
			continue
		}
		out[chatID] = u
	}
	return out, nil
}
