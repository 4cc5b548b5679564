// Package store persists per-chat UserData, one blob per chat, either as
// JSON files or as rows in a SQL table.
package store

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/zulandar/tramtram/internal/models"
)

// DefaultStopTTL is how long a live-stop view loaded without an expiry
// stays up.
const DefaultStopTTL = 15 * time.Minute

var chatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ErrInvalidChatID is returned for chat ids that cannot be used as a key.
var ErrInvalidChatID = errors.New("store: invalid chat id")

func validateChatID(chatID string) error {
	if !chatIDPattern.MatchString(chatID) {
		return fmt.Errorf("%w: %q", ErrInvalidChatID, chatID)
	}
	return nil
}

// Copier is the subset of a store Copy reads from and writes to.
type Copier interface {
	Save(chatID string, data *models.UserData) error
	LoadAll() (map[string]*models.UserData, error)
}

// Copy writes every chat in src to dst and returns how many were copied.
func Copy(src, dst Copier) (int, error) {
	all, err := src.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("store: copy: %w", err)
	}
	n := 0
	for chatID, data := range all {
		if err := dst.Save(chatID, data); err != nil {
			return n, fmt.Errorf("store: copy %s: %w", chatID, err)
		}
		n++
	}
	return n, nil
}
