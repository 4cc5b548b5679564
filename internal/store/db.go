package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/tramtram/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBStore keeps each chat as a models.UserRecord row.
type DBStore struct {
	db      *gorm.DB
	stopTTL time.Duration
	now     func() time.Time
}

// NewDBStore returns a DBStore. The user_records table must already exist
// (see db.AutoMigrate).
func NewDBStore(db *gorm.DB, stopTTL time.Duration) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	if stopTTL <= 0 {
		stopTTL = DefaultStopTTL
	}
	return &DBStore{db: db, stopTTL: stopTTL, now: time.Now}, nil
}

// Load returns the chat's data, or an empty record when there is no row.
func (s *DBStore) Load(chatID string) (*models.UserData, error) {
	if err := validateChatID(chatID); err != nil {
		return nil, err
	}
	var rec models.UserRecord
	err := s.db.Where("chat_id = ?", chatID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewUserData(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", chatID, err)
	}
	u, err := models.DecodeUserData([]byte(rec.Data), s.now(), s.stopTTL)
	if err != nil {
		log.Warn().Err(err).Str("chat", chatID).Msg("store: corrupt user row, using defaults")
		return models.NewUserData(), nil
	}
	return u, nil
}

// Save upserts the chat's row.
func (s *DBStore) Save(chatID string, data *models.UserData) error {
	if err := validateChatID(chatID); err != nil {
		return err
	}
	raw, err := data.Encode()
	if err != nil {
		return err
	}
	rec := models.UserRecord{ChatID: chatID, Data: string(raw), UpdatedAt: s.now()}
	result := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("store: save %s: %w", chatID, result.Error)
	}
	return nil
}

// LoadAll reads every row. Rows that do not decode are skipped.
func (s *DBStore) LoadAll() (map[string]*models.UserData, error) {
	var recs []models.UserRecord
	if err := s.db.Order("chat_id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("store: load all: %w", err)
	}
	out := make(map[string]*models.UserData, len(recs))
	for _, rec := range recs {
		u, err := models.DecodeUserData([]byte(rec.Data), s.now(), s.stopTTL)
		if err != nil {
			log.Warn().Err(err).Str("chat", rec.ChatID).Msg("store: skip corrupt user row")
			continue
		}
		out[rec.ChatID] = u
	}
	return out, nil
}
